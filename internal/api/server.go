package api

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"time"

	"archaeo-rag/internal/api/middleware"
	"archaeo-rag/internal/config"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/go-openapi/spec"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

//go:embed static
var staticFiles embed.FS

func enrichSwaggerObject(swo *spec.Swagger) {
	swo.Info = &spec.Info{
		InfoProps: spec.InfoProps{
			Title:       "Archaeology Survey Assistant API",
			Description: "Question answering over survey reports, photo organisation and artifact assessment",
			Version:     Version,
		},
	}
	swo.Tags = []spec.Tag{
		{TagProps: spec.TagProps{Name: "health", Description: "Health checks"}},
		{TagProps: spec.TagProps{Name: "sessions", Description: "Chat sessions"}},
		{TagProps: spec.TagProps{Name: "chat", Description: "Questions and research tools"}},
		{TagProps: spec.TagProps{Name: "index", Description: "Vector index and document extractions"}},
		{TagProps: spec.TagProps{Name: "reference", Description: "Modes and glossary"}},
		{TagProps: spec.TagProps{Name: "photos", Description: "Field photo organiser"}},
		{TagProps: spec.TagProps{Name: "artifacts", Description: "Artifact assessment"}},
	}
}

// NewContainer registers the API, its OpenAPI document and the web UI.
func NewContainer(cfg *config.Config, handler *Handler) (*restful.Container, error) {
	container := restful.NewContainer()

	container.Filter(middleware.Logger)
	container.Filter(middleware.RecoverPanic)

	RegisterRoutes(container, handler)

	container.Add(restfulspec.NewOpenAPIService(restfulspec.Config{
		WebServices:                   container.RegisteredWebServices(),
		APIPath:                       "/api/v1/openapi.json",
		PostBuildSwaggerObjectHandler: enrichSwaggerObject,
	}))

	ui, err := uiFiles(cfg.Server.StaticDir)
	if err != nil {
		return nil, err
	}
	container.Handle("/", http.FileServer(http.FS(ui)))
	return container, nil
}

// uiFiles serves dir when set, otherwise the UI compiled into the binary.
func uiFiles(dir string) (fs.FS, error) {
	if dir != "" {
		log.Info().Str("dir", dir).Msg("Serving UI from disk")
		return os.DirFS(dir), nil
	}
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded UI: %w", err)
	}
	return sub, nil
}

// NewServer serves the container. Cross-origin requests are only allowed from the configured
// origins; answers and index builds wait on the model, so the write timeout is generous.
func NewServer(cfg *config.Config, container *restful.Container) *http.Server {
	var handler http.Handler = container
	if len(cfg.Server.AllowedOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
		}).Handler(container)
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}
