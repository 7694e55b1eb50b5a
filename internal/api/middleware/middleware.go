package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/emicklei/go-restful/v3"
	"github.com/rs/zerolog/log"
)

var (
	ErrEmptyQuestion  = errors.New("question must not be empty")
	ErrInvalidMode    = errors.New("unknown chat mode")
	ErrMissingFile    = errors.New("multipart field is missing")
	ErrUploadTooLarge = errors.New("upload is too large")
)

type ErrorResponse struct {
	Error   string `json:"error" description:"Error message"`
	Code    int    `json:"code" description:"HTTP status code"`
	Details string `json:"details,omitempty" description:"Additional error details"`
}

// HandleError writes err as an ErrorResponse with the given status.
func HandleError(resp *restful.Response, err error, status int) {
	WriteError(resp, status, err.Error(), "")
}

// WriteError writes a user-facing message with optional details.
func WriteError(resp *restful.Response, status int, message, details string) {
	if err := resp.WriteHeaderAndEntity(status, ErrorResponse{
		Error:   message,
		Code:    status,
		Details: details,
	}); err != nil {
		log.Error().Err(err).Msg("Failed to write error response")
	}
}

// Logger logs every request with its status and duration.
func Logger(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	start := time.Now()
	chain.ProcessFilter(req, resp)

	event := log.Info()
	if resp.StatusCode() >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.
		Str("method", req.Request.Method).
		Str("path", req.Request.URL.Path).
		Int("status", resp.StatusCode()).
		Dur("took", time.Since(start)).
		Msg("Request handled")
}

// RecoverPanic turns a panicking handler into a 500 response.
func RecoverPanic(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("path", req.Request.URL.Path).
				Str("stack", string(debug.Stack())).
				Msgf("Panic recovered: %v", rec)
			HandleError(resp, fmt.Errorf("internal error"), http.StatusInternalServerError)
		}
	}()
	chain.ProcessFilter(req, resp)
}
