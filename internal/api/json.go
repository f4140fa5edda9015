package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/semdex/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error   string `json:"error" validate:"required"`
	Rebuild bool   `json:"rebuild,omitempty"`
	Retry   bool   `json:"retry,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, apperr.ErrInvalidInput), errors.Is(err, apperr.ErrOutOfScope):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrBusy),
		errors.Is(err, apperr.ErrDisabled),
		apperr.NeedsRebuild(err):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrEmbeddingTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, apperr.ErrEmbedding), errors.Is(err, apperr.ErrDimensionMismatch):
		return http.StatusBadGateway
	case errors.Is(err, apperr.ErrCapabilityMissing):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. Unexpected errors are logged and hidden.
func writeError(w http.ResponseWriter, op string, err error) {
	status := statusOf(err)
	body := errResponse{
		Error:   err.Error(),
		Rebuild: apperr.NeedsRebuild(err),
		Retry:   apperr.Retryable(err),
	}
	if status == http.StatusInternalServerError {
		slog.Error(op+" failed", slog.String("error", err.Error()))
		body = errorBody("internal error")
	}
	writeJSON(w, status, body)
}
