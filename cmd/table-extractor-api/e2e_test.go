package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/table-extractor/cmd/table-extractor-api/handlers"
	"github.com/spherical/table-extractor/internal/app"
	"github.com/spherical/table-extractor/internal/config"
	"github.com/spherical/table-extractor/internal/observability"
	"github.com/spherical/table-extractor/internal/pdf/pdftest"
)

// newPipelineServer runs the real rasterizer and service against a fake
// Gemini endpoint.
func newPipelineServer(t *testing.T, docPages int, modelReply string) (http.Handler, *int32) {
	t.Helper()
	dir := t.TempDir()

	var calls int32
	gemini := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		reply, _ := json.Marshal(map[string]interface{}{
			"candidates": []interface{}{map[string]interface{}{
				"content": map[string]interface{}{
					"parts": []interface{}{map[string]string{"text": modelReply}},
				},
			}},
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(reply)
	}))
	t.Cleanup(gemini.Close)

	cfg := config.DefaultConfig()
	cfg.Server.DocumentPath = filepath.Join(dir, "test_pdf.pdf")
	cfg.Workspace.Dir = filepath.Join(dir, "images")
	cfg.Inference.APIKey = "test-key"
	cfg.Inference.BaseURL = gemini.URL
	cfg.Rasterizer.DPI = 36
	cfg.Store.Driver = "sqlite"
	cfg.Store.SQLite.Path = filepath.Join(dir, "runs.db")
	require.NoError(t, cfg.Validate())

	if docPages > 0 {
		pdftest.WriteTestPDF(t, cfg.Server.DocumentPath, docPages)
	}

	a, err := app.New(context.Background(), cfg, observability.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	var runs handlers.RunStore = a.Runs
	return NewRouter(observability.Nop(), RouterConfig{DocumentPath: cfg.Server.DocumentPath}, a.Service, runs), &calls
}

func TestEndToEnd_UploadPDF(t *testing.T) {
	router, calls := newPipelineServer(t, 3, "```json\n[{\"Item\":\"Bolt\",\"Qty\":4}]\n```")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/upload-pdf", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"Item":"Bolt","Qty":4},{"Item":"Bolt","Qty":4},{"Item":"Bolt","Qty":4}]`, rec.Body.String())
	assert.Equal(t, "3", rec.Header().Get("X-Pages-Total"))
	assert.Equal(t, "0", rec.Header().Get("X-Pages-Failed"))
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))

	runID := rec.Header().Get("X-Run-ID")
	require.NotEmpty(t, runID)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/"+runID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"row_count":3`)
}

func TestEndToEnd_UnparseableReplies(t *testing.T) {
	router, _ := newPipelineServer(t, 2, "I could not find any table.")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/upload-pdf?report=full", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-Pages-Failed"))

	var body struct {
		Rows  []json.RawMessage `json:"rows"`
		Pages []struct {
			Status string `json:"status"`
		} `json:"pages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotNil(t, body.Rows)
	assert.Empty(t, body.Rows)
	require.Len(t, body.Pages, 2)
	assert.Equal(t, "parse_failed", body.Pages[0].Status)
}

func TestEndToEnd_MissingDocument(t *testing.T) {
	router, calls := newPipelineServer(t, 0, "[]")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/upload-pdf", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "PDF file not found.", rec.Body.String())
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}
