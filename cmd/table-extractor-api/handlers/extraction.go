// Package handlers provides HTTP handlers for the table extractor API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/spherical/table-extractor/internal/domain"
	"github.com/spherical/table-extractor/internal/observability"
)

// Plain-text bodies returned by POST /upload-pdf on failure.
const (
	msgDocumentNotFound = "PDF file not found."
	msgProcessingFailed = "Error processing PDF."
)

// ExtractionHandler runs the pipeline on the server-side document.
type ExtractionHandler struct {
	logger       *observability.Logger
	pipeline     domain.Pipeline
	documentPath string
	timeout      time.Duration
}

// NewExtractionHandler creates a new extraction handler.
func NewExtractionHandler(logger *observability.Logger, pipeline domain.Pipeline, documentPath string) *ExtractionHandler {
	return &ExtractionHandler{
		logger:       logger,
		pipeline:     pipeline,
		documentPath: documentPath,
	}
}

// WithTimeout bounds each extraction run. Zero means no limit.
func (h *ExtractionHandler) WithTimeout(d time.Duration) *ExtractionHandler {
	h.timeout = d
	return h
}

// UploadPDF handles POST /upload-pdf. The body is ignored; the document is
// always the configured one. The response is the flat row array, or the full
// report when ?report=full is given.
func (h *ExtractionHandler) UploadPDF(w http.ResponseWriter, r *http.Request) {
	h.logger.Info().Str("document", h.documentPath).Msg("Extraction requested")

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	result, err := h.pipeline.Process(ctx, h.documentPath, nil)
	if err != nil {
		if errors.Is(err, domain.ErrDocumentNotFound) {
			h.logger.Error().Str("document", h.documentPath).Msg("PDF not found")
			writeText(w, http.StatusBadRequest, msgDocumentNotFound)
			return
		}
		h.logger.Error().Err(err).Msg("Extraction failed")
		writeText(w, http.StatusInternalServerError, msgProcessingFailed)
		return
	}

	w.Header().Set("X-Run-ID", result.RunID)
	w.Header().Set("X-Pages-Total", strconv.Itoa(result.Stats.PagesProcessed))
	w.Header().Set("X-Pages-Failed", strconv.Itoa(result.Stats.FailedPages))

	if r.URL.Query().Get("report") == "full" {
		writeJSON(w, http.StatusOK, result)
		return
	}
	writeJSON(w, http.StatusOK, result.Rows)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{
		"error":   message,
		"message": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	writeJSON(w, status, resp)
}
