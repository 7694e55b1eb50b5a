package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"archaeo-rag/internal/api/middleware"
	"archaeo-rag/internal/artifact"
	"archaeo-rag/internal/config"
	"archaeo-rag/internal/extract"
	"archaeo-rag/internal/index"
	"archaeo-rag/internal/models"
	"archaeo-rag/internal/parser"
	"archaeo-rag/internal/photo"
	"archaeo-rag/internal/rag"
	"archaeo-rag/internal/session"

	"github.com/emicklei/go-restful/v3"
	"github.com/rs/zerolog"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const (
	Version  = "1.0.0"
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type Handler struct {
	cfg      *config.Config
	parser   *parser.Parser
	manager  *index.Manager
	pipeline *rag.Pipeline
	sessions *session.Store
	markdown goldmark.Markdown
	logger   *zerolog.Logger
}

func NewHandler(cfg *config.Config, p *parser.Parser, manager *index.Manager, pipeline *rag.Pipeline, sessions *session.Store, logger *zerolog.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		parser:   p,
		manager:  manager,
		pipeline: pipeline,
		sessions: sessions,
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
		logger:   logger,
	}
}

// Health handler GET API /api/v1/health
func (h *Handler) Health(req *restful.Request, resp *restful.Response) {
	resp.WriteHeaderAndEntity(http.StatusOK, HealthResponse{
		Status:      "ok",
		Version:     Version,
		IndexLoaded: h.manager.Current() != nil,
	})
}

// POST /api/v1/sessions
func (h *Handler) CreateSession(req *restful.Request, resp *restful.Response) {
	s, err := h.sessions.Create()
	if err != nil {
		fail(resp, err)
		return
	}
	s.Lock()
	mode := s.Mode()
	s.Unlock()

	resp.WriteHeaderAndEntity(http.StatusCreated, SessionResponse{ID: s.ID, Mode: mode, CreatedAt: s.CreatedAt})
}

// DELETE /api/v1/sessions/{id}
func (h *Handler) CloseSession(req *restful.Request, resp *restful.Response) {
	if err := h.sessions.Close(req.PathParameter("id")); err != nil {
		fail(resp, err)
		return
	}
	resp.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/sessions/{id}/history
func (h *Handler) History(req *restful.Request, resp *restful.Response) {
	s, ok := h.session(req, resp)
	if !ok {
		return
	}
	s.Lock()
	history := s.History()
	s.Unlock()

	resp.WriteHeaderAndEntity(http.StatusOK, history)
}

// POST /api/v1/sessions/{id}/chat
func (h *Handler) Chat(req *restful.Request, resp *restful.Response) {
	s, ok := h.session(req, resp)
	if !ok {
		return
	}

	var chat ChatRequest
	if err := req.ReadEntity(&chat); err != nil {
		h.logger.Error().Err(err).Msg("Failed to parse request body")
		middleware.HandleError(resp, err, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(chat.Question) == "" {
		fail(resp, middleware.ErrEmptyQuestion)
		return
	}
	if chat.Mode != "" && !slices.Contains(models.Modes, chat.Mode) {
		fail(resp, fmt.Errorf("%w: %s", middleware.ErrInvalidMode, chat.Mode))
		return
	}

	s.Lock()
	defer s.Unlock()

	if chat.Mode != "" {
		s.SetMode(chat.Mode)
	}
	mode := s.Mode()

	ctx := req.Request.Context()
	idx, err := h.currentIndex(ctx)
	if err != nil {
		fail(resp, err)
		return
	}

	h.logger.Info().Str("session", s.ID).Str("mode", mode).Msg("Answering question")
	answer, err := h.pipeline.Ask(ctx, idx, chat.Question, mode)
	if err != nil {
		fail(resp, err)
		return
	}
	s.AddTurn(models.Turn{Question: answer.Question, Answer: answer.Content, Mode: mode, Sources: answer.Sources})

	resp.WriteHeaderAndEntity(http.StatusOK, h.answerResponse(answer, mode))
}

// POST /api/v1/sessions/{id}/tools/{tool}
func (h *Handler) RunTool(req *restful.Request, resp *restful.Response) {
	s, ok := h.session(req, resp)
	if !ok {
		return
	}

	var body ToolRequest
	if err := req.ReadEntity(&body); err != nil {
		middleware.HandleError(resp, err, http.StatusBadRequest)
		return
	}
	tool := req.PathParameter("tool")

	s.Lock()
	defer s.Unlock()

	ctx := req.Request.Context()
	idx, err := h.currentIndex(ctx)
	if err != nil {
		fail(resp, err)
		return
	}

	answer, err := h.pipeline.RunTool(ctx, idx, tool, body.Input, body.Style)
	if err != nil {
		fail(resp, err)
		return
	}
	s.AddTurn(models.Turn{Question: answer.Question, Answer: answer.Content, Mode: tool, Sources: answer.Sources})

	resp.WriteHeaderAndEntity(http.StatusOK, h.answerResponse(answer, tool))
}

// GET /api/v1/index
func (h *Handler) IndexStatus(req *restful.Request, resp *restful.Response) {
	resp.WriteHeaderAndEntity(http.StatusOK, h.indexStatus(req.Request.Context()))
}

// POST /api/v1/index/load
func (h *Handler) LoadIndex(req *restful.Request, resp *restful.Response) {
	ctx := req.Request.Context()
	if _, err := h.manager.Load(ctx); err != nil {
		fail(resp, err)
		return
	}
	resp.WriteHeaderAndEntity(http.StatusOK, h.indexStatus(ctx))
}

// POST /api/v1/sessions/{id}/index, multipart field "file"
func (h *Handler) BuildIndex(req *restful.Request, resp *restful.Response) {
	s, ok := h.session(req, resp)
	if !ok {
		return
	}

	data, filename, err := h.readUpload(req, resp, "file")
	if err != nil {
		fail(resp, err)
		return
	}
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		fail(resp, fmt.Errorf("%w: %s", parser.ErrUnsupportedFormat, filename))
		return
	}

	s.Lock()
	defer s.Unlock()

	ctx := req.Request.Context()
	doc, err := h.parser.Ingest(bytes.NewReader(data), filename)
	if err != nil {
		fail(resp, err)
		return
	}
	idx, err := h.manager.Build(ctx, doc.Chunks)
	if err != nil {
		fail(resp, err)
		return
	}

	extraction := extract.Extract(doc.Source, doc.Text)
	s.SetExtraction(extraction)

	resp.WriteHeaderAndEntity(http.StatusOK, IndexResponse{
		Source:      doc.Source,
		Strategy:    doc.Strategy,
		Pages:       len(doc.Pages),
		Chunks:      len(doc.Chunks),
		Manifest:    idx.Manifest(),
		Coordinates: len(extraction.Coordinates),
		Dates:       len(extraction.Dates),
		Sites:       len(extraction.Sites),
	})
}

// GET /api/v1/sessions/{id}/extractions
func (h *Handler) Extractions(req *restful.Request, resp *restful.Response) {
	ex, ok := h.extraction(req, resp)
	if !ok {
		return
	}
	resp.WriteHeaderAndEntity(http.StatusOK, ex)
}

// GET /api/v1/sessions/{id}/extractions/export
func (h *Handler) ExportExtractions(req *restful.Request, resp *restful.Response) {
	ex, ok := h.extraction(req, resp)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := ex.ExportXLSX(&buf); err != nil {
		fail(resp, err)
		return
	}
	name := strings.TrimSuffix(ex.Source, filepath.Ext(ex.Source)) + "-extractions.xlsx"
	resp.AddHeader("Content-Type", mimeXLSX)
	resp.AddHeader("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	resp.WriteHeader(http.StatusOK)
	if _, err := resp.Write(buf.Bytes()); err != nil {
		h.logger.Error().Err(err).Msg("Failed to write workbook")
	}
}

// GET /api/v1/modes
func (h *Handler) Modes(req *restful.Request, resp *restful.Response) {
	resp.WriteHeaderAndEntity(http.StatusOK, ModesResponse{
		Modes:          models.Modes,
		Tools:          []string{models.ToolPermits, models.ToolReport, models.ToolMethodology, models.ToolCitation},
		CitationStyles: models.CitationStyles,
		PhotoGroups:    photo.GroupKeys,
	})
}

// GET /api/v1/glossary
func (h *Handler) Glossary(req *restful.Request, resp *restful.Response) {
	entries := make([]GlossaryEntry, 0, len(models.Glossary))
	for term, def := range models.Glossary {
		entries = append(entries, GlossaryEntry{Term: term, Definition: def})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Term < entries[j].Term })
	resp.WriteHeaderAndEntity(http.StatusOK, entries)
}

// POST /api/v1/photos/scan
func (h *Handler) ScanPhotos(req *restful.Request, resp *restful.Response) {
	var body PhotoScanRequest
	if err := req.ReadEntity(&body); err != nil {
		middleware.HandleError(resp, err, http.StatusBadRequest)
		return
	}
	if body.GroupBy == "" {
		body.GroupBy = photo.GroupTrench
	}

	dir, err := photo.Within(h.cfg.Server.PhotoRoot, body.Directory)
	if err != nil {
		fail(resp, err)
		return
	}
	collection, err := photo.Scan(dir)
	if err != nil {
		fail(resp, err)
		return
	}
	groups, err := collection.GroupBy(body.GroupBy)
	if err != nil {
		fail(resp, err)
		return
	}

	out := PhotoScanResponse{
		Photos:  collection.Photos,
		Stats:   collection.Stats(),
		GroupBy: body.GroupBy,
		Groups:  make(map[string]int, len(groups)),
		Report:  collection.Report(time.Now()),
	}
	for g, photos := range groups {
		out.Groups[g] = len(photos)
	}
	for _, dup := range collection.Duplicates() {
		paths := make([]string, len(dup))
		for i, p := range dup {
			paths[i] = p.Path
		}
		out.Duplicates = append(out.Duplicates, DuplicateSet{Paths: paths})
	}
	out.ReportHTML = h.renderMarkdown(out.Report)

	resp.WriteHeaderAndEntity(http.StatusOK, out)
}

// POST /api/v1/photos/organize
func (h *Handler) OrganizePhotos(req *restful.Request, resp *restful.Response) {
	var body PhotoOrganizeRequest
	if err := req.ReadEntity(&body); err != nil {
		middleware.HandleError(resp, err, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Destination) == "" {
		middleware.HandleError(resp, fmt.Errorf("destination is required"), http.StatusBadRequest)
		return
	}
	if body.GroupBy == "" {
		body.GroupBy = photo.GroupTrench
	}

	dir, err := photo.Within(h.cfg.Server.PhotoRoot, body.Directory)
	if err != nil {
		fail(resp, err)
		return
	}
	dest, err := photo.Within(h.cfg.Server.PhotoRoot, body.Destination)
	if err != nil {
		fail(resp, err)
		return
	}

	collection, err := photo.Scan(dir)
	if err != nil {
		fail(resp, err)
		return
	}
	result, err := collection.Organize(dest, body.GroupBy)
	if err != nil {
		fail(resp, err)
		return
	}
	resp.WriteHeaderAndEntity(http.StatusOK, result)
}

// GET /api/v1/artifacts/questions
func (h *Handler) ArtifactQuestions(req *restful.Request, resp *restful.Response) {
	resp.WriteHeaderAndEntity(http.StatusOK, QuestionsResponse{Questions: artifact.Questionnaire()})
}

// POST /api/v1/sessions/{id}/artifacts/assess
func (h *Handler) AssessArtifact(req *restful.Request, resp *restful.Response) {
	s, ok := h.session(req, resp)
	if !ok {
		return
	}

	var d artifact.Description
	if err := req.ReadEntity(&d); err != nil {
		middleware.HandleError(resp, err, http.StatusBadRequest)
		return
	}

	s.Lock()
	defer s.Unlock()

	ctx := req.Request.Context()
	assessment, err := h.assessor(ctx).AssessText(ctx, d)
	if err != nil {
		fail(resp, err)
		return
	}
	resp.WriteHeaderAndEntity(http.StatusOK, assessment)
}

// POST /api/v1/sessions/{id}/artifacts/assess-photo, multipart field "photo" plus the
// questionnaire answers as form values.
func (h *Handler) AssessArtifactPhoto(req *restful.Request, resp *restful.Response) {
	s, ok := h.session(req, resp)
	if !ok {
		return
	}

	data, _, err := h.readUpload(req, resp, "photo")
	if err != nil {
		fail(resp, err)
		return
	}
	form := req.Request
	d := artifact.Description{
		Material:        form.FormValue("material"),
		Size:            form.FormValue("size"),
		Location:        form.FormValue("location"),
		Markings:        form.FormValue("markings"),
		AdditionalNotes: form.FormValue("additional_notes"),
	}

	s.Lock()
	defer s.Unlock()

	ctx := req.Request.Context()
	assessment, err := h.assessor(ctx).AssessPhoto(ctx, data, d)
	if err != nil {
		fail(resp, err)
		return
	}
	resp.WriteHeaderAndEntity(http.StatusOK, assessment)
}

func (h *Handler) session(req *restful.Request, resp *restful.Response) (*session.Session, bool) {
	s, err := h.sessions.Get(req.PathParameter("id"))
	if err != nil {
		fail(resp, err)
		return nil, false
	}
	return s, true
}

func (h *Handler) extraction(req *restful.Request, resp *restful.Response) (*extract.Result, bool) {
	s, ok := h.session(req, resp)
	if !ok {
		return nil, false
	}
	s.Lock()
	ex := s.Extraction()
	s.Unlock()

	if ex == nil {
		middleware.HandleError(resp, fmt.Errorf("no document has been indexed in this session"), http.StatusNotFound)
		return nil, false
	}
	return ex, true
}

// currentIndex returns the shared index, loading it from storage on first use.
func (h *Handler) currentIndex(ctx context.Context) (*index.Index, error) {
	if idx := h.manager.Current(); idx != nil {
		return idx, nil
	}
	return h.manager.Load(ctx)
}

func (h *Handler) indexStatus(ctx context.Context) IndexStatus {
	st := IndexStatus{
		Exists:   h.manager.Exists(ctx),
		Backend:  h.cfg.Index.Backend,
		ModelTag: h.manager.ModelTag(),
	}
	if idx := h.manager.Current(); idx != nil {
		m := idx.Manifest()
		st.Loaded = true
		st.Manifest = &m
	}
	return st
}

// assessor binds the artifact assistant to the current index; without one the assessment
// carries the canned narrative.
func (h *Handler) assessor(ctx context.Context) *artifact.Assessor {
	idx, err := h.currentIndex(ctx)
	if err != nil {
		h.logger.Debug().Err(err).Msg("No index for artifact narrative")
		return artifact.NewAssessor(nil)
	}
	return artifact.NewAssessor(h.pipeline.With(idx, models.ModeArtifact))
}

func (h *Handler) readUpload(req *restful.Request, resp *restful.Response, field string) ([]byte, string, error) {
	limit := h.cfg.Server.UploadLimitMB << 20
	r := req.Request
	r.Body = http.MaxBytesReader(resp.ResponseWriter, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", fmt.Errorf("%w: the limit is %d MB", middleware.ErrUploadTooLarge, h.cfg.Server.UploadLimitMB)
		}
		return nil, "", fmt.Errorf("%w: %s (%v)", middleware.ErrMissingFile, field, err)
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s", middleware.ErrMissingFile, field)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read upload %s: %w", header.Filename, err)
	}
	return data, filepath.Base(header.Filename), nil
}

func (h *Handler) answerResponse(a *models.Answer, mode string) AnswerResponse {
	return AnswerResponse{
		Question:   a.Question,
		Answer:     a.Content,
		AnswerHTML: h.renderMarkdown(a.Content),
		Mode:       mode,
		Sources:    a.Sources,
		Citations:  a.Citations,
	}
}

func (h *Handler) renderMarkdown(src string) string {
	var buf bytes.Buffer
	if err := h.markdown.Convert([]byte(src), &buf); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to render markdown")
		return ""
	}
	return buf.String()
}
