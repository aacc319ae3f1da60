package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"document-qa/internal/models"
	"document-qa/internal/rag"
)

type queryRequest struct {
	Question  string `json:"question"`
	Mode      string `json:"mode"`
	SessionID string `json:"sessionId,omitempty"`
}

type queryResponse struct {
	Answer    string      `json:"answer"`
	Mode      models.Mode `json:"mode"`
	SessionID string      `json:"sessionId,omitempty"`
}

type deleteRequest struct {
	FileName string `json:"fileName"`
}

type deleteResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Removed int    `json:"removed"`
}

type uploadResponse struct {
	Status  string           `json:"status"`
	Message string           `json:"message"`
	Files   []rag.FileResult `json:"files"`
}

type healthResponse struct {
	Status  string   `json:"status"`
	Chunks  int      `json:"chunks"`
	Sources []string `json:"sources"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	level := zerolog.WarnLevel
	if status >= http.StatusInternalServerError {
		level = zerolog.ErrorLevel
	}
	hlog.FromRequest(r).WithLevel(level).Err(err).Int("status", status).Msg(message)

	h.respondJSON(w, status, errorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		h.respondError(w, r, http.StatusGatewayTimeout, "request timed out", err)
	case errors.Is(err, models.ErrEmptyQuestion), errors.Is(err, models.ErrInvalidMode), errors.Is(err, rag.ErrNoFiles):
		h.respondError(w, r, http.StatusBadRequest, err.Error(), err)
	case errors.Is(err, models.ErrCompletionFailure):
		h.respondError(w, r, http.StatusBadGateway, "completion service failed", err)
	case errors.Is(err, models.ErrEmbeddingFailure), errors.Is(err, models.ErrDimensionMismatch):
		h.respondError(w, r, http.StatusBadGateway, "embedding service failed", err)
	default:
		h.respondError(w, r, http.StatusInternalServerError, "internal server error", err)
	}
}
