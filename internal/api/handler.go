package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/hlog"

	"document-qa/internal/helper"
	"document-qa/internal/models"
	"document-qa/internal/rag"
)

const SessionHeader = "X-Session-ID"

type Answerer interface {
	Answer(ctx context.Context, sessionID, question string, mode models.Mode) (string, error)
}

type Ingester interface {
	Ingest(ctx context.Context, files []rag.File) (*rag.Report, error)
	Delete(ctx context.Context, name string) (int, error)
}

type StoreStats interface {
	Count() int
	Sources() []string
}

type Options struct {
	MaxUploadSize int64
	// ScopedSessions makes the handler mint a session id for queries that carry none.
	ScopedSessions bool
}

type Handler struct {
	answerer Answerer
	ingester Ingester
	stats    StoreStats
	opts     Options
}

func NewHandler(answerer Answerer, ingester Ingester, stats StoreStats, opts Options) *Handler {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = 32 << 20
	}
	return &Handler{
		answerer: answerer,
		ingester: ingester,
		stats:    stats,
		opts:     opts,
	}
}

// Upload handles POST /api/upload. The multipart field "files" replaces the
// indexed document set.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := hlog.FromRequest(r)

	if err := r.ParseMultipartForm(h.opts.MaxUploadSize); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid form data or size too large", err)
		return
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		h.respondError(w, r, http.StatusBadRequest, "at least one file is required", rag.ErrNoFiles)
		return
	}

	files := make([]rag.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			h.respondError(w, r, http.StatusBadRequest, "failed to open uploaded file", err)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			h.respondError(w, r, http.StatusBadRequest, "failed to read uploaded file", err)
			return
		}
		files = append(files, rag.File{Name: fh.Filename, Data: data})
	}

	logger.Info().Int("files", len(files)).Msg("Ingesting uploaded files")
	report, err := h.ingester.Ingest(ctx, files)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.respondJSON(w, uploadStatus(report), uploadResponse{
		Status:  report.Status,
		Message: uploadMessage(report),
		Files:   report.Files,
	})
}

// DeleteFile handles DELETE /api/upload with a {"fileName": ...} body.
func (h *Handler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.FileName == "" {
		h.respondError(w, r, http.StatusBadRequest, "fileName is required", nil)
		return
	}

	removed, err := h.ingester.Delete(r.Context(), req.FileName)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, deleteResponse{
		Status:  rag.StatusSuccess,
		Message: fmt.Sprintf("%s deleted from vector store", req.FileName),
		Removed: removed,
	})
}

// Query handles POST /api/query.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}

	mode := models.ModeDocument
	if req.Mode != "" {
		var err error
		if mode, err = models.ParseMode(req.Mode); err != nil {
			h.handleError(w, r, err)
			return
		}
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = r.Header.Get(SessionHeader)
	}
	if sessionID == "" && h.opts.ScopedSessions {
		id, err := helper.GenerateUUID()
		if err != nil {
			h.respondError(w, r, http.StatusInternalServerError, "internal server error", err)
			return
		}
		sessionID = id
	}

	hlog.FromRequest(r).Debug().Str("mode", string(mode)).Str("session_id", sessionID).Msg("Answering question")

	answer, err := h.answerer.Answer(r.Context(), sessionID, req.Question, mode)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	if sessionID != "" {
		w.Header().Set(SessionHeader, sessionID)
	}
	h.respondJSON(w, http.StatusOK, queryResponse{Answer: answer, Mode: mode, SessionID: sessionID})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, healthResponse{
		Status:  "healthy",
		Chunks:  h.stats.Count(),
		Sources: h.stats.Sources(),
	})
}

func uploadStatus(report *rag.Report) int {
	if report.Status != rag.StatusFailed {
		return http.StatusOK
	}
	unsupported := true
	for _, fe := range report.Errors {
		if errors.Is(fe, models.ErrEmbeddingFailure) {
			return http.StatusBadGateway
		}
		if !errors.Is(fe, models.ErrUnsupportedFormat) {
			unsupported = false
		}
	}
	if unsupported {
		return http.StatusBadRequest
	}
	return http.StatusUnprocessableEntity
}

func uploadMessage(report *rag.Report) string {
	switch report.Status {
	case rag.StatusSuccess:
		return "Files processed"
	case rag.StatusPartial:
		failed := make([]string, 0, len(report.Errors))
		for _, fe := range report.Errors {
			failed = append(failed, fe.Name)
		}
		return "Files processed, skipped: " + strings.Join(failed, ", ")
	default:
		return "No file could be processed"
	}
}
