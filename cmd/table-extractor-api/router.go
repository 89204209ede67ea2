package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical/table-extractor/cmd/table-extractor-api/handlers"
	"github.com/spherical/table-extractor/cmd/table-extractor-api/middleware"
	"github.com/spherical/table-extractor/internal/domain"
	"github.com/spherical/table-extractor/internal/observability"
)

// RouterConfig holds what the router needs besides its collaborators.
type RouterConfig struct {
	DocumentPath   string
	StaticDir      string
	RequestTimeout time.Duration
	CORSOrigins    []string
}

// NewRouter creates the API router with all routes configured. runs may be
// nil when run history is disabled.
func NewRouter(logger *observability.Logger, cfg RouterConfig, pipeline domain.Pipeline, runs handlers.RunStore) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger.WithOperation("http")))
	r.Use(chimiddleware.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(middleware.CORS(cfg.CORSOrigins))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"table-extractor"}`))
	})

	extractionHandler := handlers.NewExtractionHandler(logger, pipeline, cfg.DocumentPath).WithTimeout(cfg.RequestTimeout)
	runsHandler := handlers.NewRunsHandler(logger, runs)

	r.Post("/upload-pdf", extractionHandler.UploadPDF)

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", runsHandler.List)
		r.Get("/{id}", runsHandler.Get)
	})

	if cfg.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(cfg.StaticDir)))
	}

	return r
}
