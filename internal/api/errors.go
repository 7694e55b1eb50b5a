package api

import (
	"errors"
	"net/http"

	"archaeo-rag/internal/api/middleware"
	"archaeo-rag/internal/artifact"
	"archaeo-rag/internal/index"
	"archaeo-rag/internal/parser"
	"archaeo-rag/internal/photo"
	"archaeo-rag/internal/rag"
	"archaeo-rag/internal/session"

	"github.com/emicklei/go-restful/v3"
	"github.com/rs/zerolog/log"
)

const (
	msgUnreadable = "could not read this PDF, try another document"
	msgRebuild    = "the document index is missing or incompatible, rebuild the index"
	msgRetry      = "the language or embedding service is unavailable, try again"
)

// classify maps domain errors to a status and a message the UI can show.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, parser.ErrUnreadableDocument), errors.Is(err, parser.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, msgUnreadable
	case errors.Is(err, index.ErrNoChunks):
		return http.StatusUnprocessableEntity, "the document contains no text to index"
	case errors.Is(err, index.ErrIndexNotFound), errors.Is(err, index.ErrIndexCorrupt), errors.Is(err, index.ErrModelMismatch):
		return http.StatusConflict, msgRebuild
	case errors.Is(err, index.ErrEmbeddingUnavailable), errors.Is(err, rag.ErrGeneration):
		return http.StatusBadGateway, msgRetry
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, "session not found or expired"
	case errors.Is(err, rag.ErrUnknownTool):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, photo.ErrDirectoryNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, photo.ErrOutsideRoot):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, middleware.ErrUploadTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, rag.ErrEmptyQuestion),
		errors.Is(err, middleware.ErrEmptyQuestion),
		errors.Is(err, middleware.ErrInvalidMode),
		errors.Is(err, middleware.ErrMissingFile),
		errors.Is(err, artifact.ErrIncompleteDescription),
		errors.Is(err, artifact.ErrUnreadableImage),
		errors.Is(err, photo.ErrUnknownGrouping):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func fail(resp *restful.Response, err error) {
	status, message := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("Request failed")
	} else {
		log.Warn().Err(err).Int("status", status).Msg("Request rejected")
	}
	middleware.WriteError(resp, status, message, err.Error())
}
