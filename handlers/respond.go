package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"geekcatalog/services/catalog"
	"geekcatalog/services/jobs"
)

type errorResponse struct {
	Error       string `json:"error"`
	ExecutionID string `json:"executionId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Debug("write response", "component", "handlers", "error", err)
	}
}

// statusFor maps service errors onto a status and a message that is safe to
// show; provider and database details never reach the client.
func statusFor(err error) (int, string) {
	for _, known := range []struct {
		err    error
		status int
	}{
		{jobs.ErrUnknownJob, http.StatusNotFound},
		{jobs.ErrExecutionNotFound, http.StatusNotFound},
		{catalog.ErrNotFound, http.StatusNotFound},
		{catalog.ErrNoArtwork, http.StatusNotFound},
		{jobs.ErrNotRunning, http.StatusConflict},
		{jobs.ErrStillRunning, http.StatusConflict},
		{jobs.ErrAlreadyComplete, http.StatusConflict},
		{jobs.ErrNotRestartable, http.StatusConflict},
		{jobs.ErrShuttingDown, http.StatusServiceUnavailable},
	} {
		if errors.Is(err, known.err) {
			return known.status, known.err.Error()
		}
	}
	return http.StatusInternalServerError, "internal error"
}

func writeError(w http.ResponseWriter, r *http.Request, err error, executionID string) {
	status, msg := statusFor(err)
	log := slog.Default().With("component", "handlers", "method", r.Method, "path", r.URL.Path)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "error", err)
	} else {
		log.Debug("request rejected", "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: msg, ExecutionID: executionID})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}
