package api

import (
	"net/http"

	"archaeo-rag/internal/api/middleware"
	"archaeo-rag/internal/artifact"
	"archaeo-rag/internal/extract"
	"archaeo-rag/internal/models"
	"archaeo-rag/internal/photo"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
)

const mimeMultipart = "multipart/form-data"

func RegisterRoutes(container *restful.Container, handler *Handler) {
	ws := new(restful.WebService)

	ws.
		Path("/api/v1").
		Consumes(restful.MIME_JSON).
		Produces(restful.MIME_JSON)

	sessionID := ws.PathParameter("id", "Session identifier").DataType("string")
	bodyless := []string{http.MethodPost, http.MethodDelete}

	// Health endpoint
	ws.
		Route(ws.GET("health").
			To(handler.Health).
			Doc("Health check").
			Metadata(restfulspec.KeyOpenAPITags, []string{"health"}).
			Writes(HealthResponse{}).
			Returns(200, "OK", HealthResponse{}))

	// Sessions
	ws.
		Route(ws.POST("/sessions").
			To(handler.CreateSession).
			AllowedMethodsWithoutContentType(bodyless).
			Doc("Open a chat session").
			Metadata(restfulspec.KeyOpenAPITags, []string{"sessions"}).
			Writes(SessionResponse{}).
			Returns(201, "Created", SessionResponse{}))

	ws.
		Route(ws.DELETE("/sessions/{id}").
			To(handler.CloseSession).
			AllowedMethodsWithoutContentType(bodyless).
			Doc("Close a session and drop its history").
			Metadata(restfulspec.KeyOpenAPITags, []string{"sessions"}).
			Param(sessionID).
			Returns(204, "No Content", nil).
			Returns(404, "Session Not Found", middleware.ErrorResponse{}))

	ws.
		Route(ws.GET("/sessions/{id}/history").
			To(handler.History).
			Doc("Conversation history of a session").
			Metadata(restfulspec.KeyOpenAPITags, []string{"sessions"}).
			Param(sessionID).
			Writes([]models.Turn{}).
			Returns(200, "OK", []models.Turn{}).
			Returns(404, "Session Not Found", middleware.ErrorResponse{}))

	ws.
		Route(ws.POST("/sessions/{id}/chat").
			To(handler.Chat).
			Doc("Ask a question about the indexed documents").
			Metadata(restfulspec.KeyOpenAPITags, []string{"chat"}).
			Param(sessionID).
			Reads(ChatRequest{}).
			Writes(AnswerResponse{}).
			Returns(200, "OK", AnswerResponse{}).
			Returns(400, "Bad Request", middleware.ErrorResponse{}).
			Returns(409, "Index Missing Or Incompatible", middleware.ErrorResponse{}).
			Returns(502, "Model Unavailable", middleware.ErrorResponse{}))

	ws.
		Route(ws.POST("/sessions/{id}/tools/{tool}").
			To(handler.RunTool).
			Doc("Run a research tool").
			Metadata(restfulspec.KeyOpenAPITags, []string{"chat"}).
			Param(sessionID).
			Param(ws.PathParameter("tool", "Tool name (permits, report, methodology, citation)").DataType("string")).
			Reads(ToolRequest{}).
			Writes(AnswerResponse{}).
			Returns(200, "OK", AnswerResponse{}).
			Returns(404, "Tool Not Found", middleware.ErrorResponse{}).
			Returns(409, "Index Missing Or Incompatible", middleware.ErrorResponse{}))

	// Index management
	ws.
		Route(ws.GET("/index").
			To(handler.IndexStatus).
			Doc("State of the shared vector index").
			Metadata(restfulspec.KeyOpenAPITags, []string{"index"}).
			Writes(IndexStatus{}).
			Returns(200, "OK", IndexStatus{}))

	ws.
		Route(ws.POST("/index/load").
			To(handler.LoadIndex).
			AllowedMethodsWithoutContentType(bodyless).
			Doc("Load the persisted vector index").
			Metadata(restfulspec.KeyOpenAPITags, []string{"index"}).
			Writes(IndexStatus{}).
			Returns(200, "OK", IndexStatus{}).
			Returns(409, "Index Missing Or Incompatible", middleware.ErrorResponse{}))

	ws.
		Route(ws.POST("/sessions/{id}/index").
			To(handler.BuildIndex).
			Consumes(mimeMultipart).
			Doc("Upload a PDF and rebuild the vector index from it").
			Metadata(restfulspec.KeyOpenAPITags, []string{"index"}).
			Param(sessionID).
			Param(ws.FormParameter("file", "PDF survey report").DataType("file")).
			Writes(IndexResponse{}).
			Returns(200, "OK", IndexResponse{}).
			Returns(400, "Missing File", middleware.ErrorResponse{}).
			Returns(422, "Unreadable Document", middleware.ErrorResponse{}).
			Returns(502, "Embedding Unavailable", middleware.ErrorResponse{}))

	ws.
		Route(ws.GET("/sessions/{id}/extractions").
			To(handler.Extractions).
			Doc("Coordinates, dates and sites found in the last uploaded document").
			Metadata(restfulspec.KeyOpenAPITags, []string{"index"}).
			Param(sessionID).
			Writes(extract.Result{}).
			Returns(200, "OK", extract.Result{}).
			Returns(404, "Nothing Extracted", middleware.ErrorResponse{}))

	ws.
		Route(ws.GET("/sessions/{id}/extractions/export").
			To(handler.ExportExtractions).
			Produces(mimeXLSX, restful.MIME_JSON).
			Doc("Download the extractions as a workbook").
			Metadata(restfulspec.KeyOpenAPITags, []string{"index"}).
			Param(sessionID).
			Returns(200, "OK", nil).
			Returns(404, "Nothing Extracted", middleware.ErrorResponse{}))

	// Reference data
	ws.
		Route(ws.GET("/modes").
			To(handler.Modes).
			Doc("Chat modes, tools and citation styles").
			Metadata(restfulspec.KeyOpenAPITags, []string{"reference"}).
			Writes(ModesResponse{}).
			Returns(200, "OK", ModesResponse{}))

	ws.
		Route(ws.GET("/glossary").
			To(handler.Glossary).
			Doc("Glossary of archaeological terms").
			Metadata(restfulspec.KeyOpenAPITags, []string{"reference"}).
			Writes([]GlossaryEntry{}).
			Returns(200, "OK", []GlossaryEntry{}))

	// Photos
	ws.
		Route(ws.POST("/photos/scan").
			To(handler.ScanPhotos).
			Doc("Scan a directory of field photos").
			Metadata(restfulspec.KeyOpenAPITags, []string{"photos"}).
			Reads(PhotoScanRequest{}).
			Writes(PhotoScanResponse{}).
			Returns(200, "OK", PhotoScanResponse{}).
			Returns(400, "Bad Request", middleware.ErrorResponse{}).
			Returns(404, "Directory Not Found", middleware.ErrorResponse{}))

	ws.
		Route(ws.POST("/photos/organize").
			To(handler.OrganizePhotos).
			Doc("Copy photos into one folder per group").
			Metadata(restfulspec.KeyOpenAPITags, []string{"photos"}).
			Reads(PhotoOrganizeRequest{}).
			Writes(photo.OrganizeResult{}).
			Returns(200, "OK", photo.OrganizeResult{}).
			Returns(400, "Bad Request", middleware.ErrorResponse{}).
			Returns(404, "Directory Not Found", middleware.ErrorResponse{}))

	// Artifacts
	ws.
		Route(ws.GET("/artifacts/questions").
			To(handler.ArtifactQuestions).
			Doc("Questionnaire for describing an artifact").
			Metadata(restfulspec.KeyOpenAPITags, []string{"artifacts"}).
			Writes(QuestionsResponse{}).
			Returns(200, "OK", QuestionsResponse{}))

	ws.
		Route(ws.POST("/sessions/{id}/artifacts/assess").
			To(handler.AssessArtifact).
			Doc("Assess an artifact from a written description").
			Metadata(restfulspec.KeyOpenAPITags, []string{"artifacts"}).
			Param(sessionID).
			Reads(artifact.Description{}).
			Writes(artifact.Assessment{}).
			Returns(200, "OK", artifact.Assessment{}).
			Returns(400, "Incomplete Description", middleware.ErrorResponse{}))

	ws.
		Route(ws.POST("/sessions/{id}/artifacts/assess-photo").
			To(handler.AssessArtifactPhoto).
			Consumes(mimeMultipart).
			Doc("Assess an artifact from a photo and optional description").
			Metadata(restfulspec.KeyOpenAPITags, []string{"artifacts"}).
			Param(sessionID).
			Param(ws.FormParameter("photo", "Artifact photo").DataType("file")).
			Param(ws.FormParameter("material", "Material").DataType("string").Required(false)).
			Param(ws.FormParameter("size", "Approximate size").DataType("string").Required(false)).
			Param(ws.FormParameter("location", "Find location").DataType("string").Required(false)).
			Param(ws.FormParameter("markings", "Markings or decoration").DataType("string").Required(false)).
			Param(ws.FormParameter("additional_notes", "Other observations").DataType("string").Required(false)).
			Writes(artifact.Assessment{}).
			Returns(200, "OK", artifact.Assessment{}).
			Returns(400, "Unreadable Image", middleware.ErrorResponse{}))

	container.Add(ws)
}
