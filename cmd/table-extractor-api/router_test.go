package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/table-extractor/internal/domain"
	"github.com/spherical/table-extractor/internal/observability"
)

type stubPipeline struct{}

func (stubPipeline) Process(context.Context, string, chan<- domain.StreamEvent) (*domain.ExtractionResult, error) {
	return &domain.ExtractionResult{RunID: "r1", Rows: []domain.Row{{"a": "1"}}}, nil
}

func newTestRouter(t *testing.T, cors []string) http.Handler {
	t.Helper()
	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<h1>upload</h1>"), 0o644))

	return NewRouter(observability.Nop(), RouterConfig{
		DocumentPath: "test_pdf.pdf",
		StaticDir:    static,
		CORSOrigins:  cors,
	}, stubPipeline{}, nil)
}

func TestRouter_Routes(t *testing.T) {
	router := newTestRouter(t, nil)

	tests := []struct {
		name     string
		method   string
		path     string
		wantCode int
		contains string
	}{
		{"health", http.MethodGet, "/health", http.StatusOK, "healthy"},
		{"upload", http.MethodPost, "/upload-pdf", http.StatusOK, `"a":"1"`},
		{"upload via GET falls through to static", http.MethodGet, "/upload-pdf", http.StatusNotFound, ""},
		{"runs disabled", http.MethodGet, "/runs", http.StatusNotFound, "disabled"},
		{"static index", http.MethodGet, "/", http.StatusOK, "upload"},
		{"static missing", http.MethodGet, "/nope.js", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.contains != "" {
				assert.Contains(t, rec.Body.String(), tt.contains)
			}
		})
	}
}

func TestRouter_CORS(t *testing.T) {
	router := newTestRouter(t, []string{"http://localhost:5173"})

	req := httptest.NewRequest(http.MethodOptions, "/upload-pdf", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "X-Run-ID")
}

func TestRouter_CORSPreflightFromUnknownOrigin(t *testing.T) {
	router := newTestRouter(t, []string{"http://localhost:5173"})

	req := httptest.NewRequest(http.MethodOptions, "/upload-pdf", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.NotEqual(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
