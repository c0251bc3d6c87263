package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/jobqueue/pkg/jobqueue"
	"github.com/dmitrymomot/jobqueue/pkg/logger"
)

// Response is the envelope of every JSON body.
type Response struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := classify(err)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.Int("status", status),
		logger.Error(err))

	writeJSON(w, status, Response{Error: detail})
}

// classify maps queue errors to HTTP status codes.
func classify(err error) (int, *ErrorDetail) {
	var ve *jobqueue.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, &ErrorDetail{Code: "validation_error", Message: ve.Error(), Field: ve.Field}
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, &ErrorDetail{Code: "bad_request", Message: err.Error()}
	case errors.Is(err, jobqueue.ErrDuplicateID):
		return http.StatusConflict, &ErrorDetail{Code: "duplicate_id", Message: err.Error()}
	case errors.Is(err, jobqueue.ErrStoreCorrupt):
		return http.StatusServiceUnavailable, &ErrorDetail{Code: "store_unavailable", Message: err.Error()}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, &ErrorDetail{Code: "cancelled", Message: err.Error()}
	default:
		return http.StatusInternalServerError, &ErrorDetail{Code: "internal_error", Message: err.Error()}
	}
}
