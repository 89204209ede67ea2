// Package app wires configuration into a ready extraction service. The API
// server and the CLI share it.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spherical/table-extractor/internal/cache"
	"github.com/spherical/table-extractor/internal/config"
	"github.com/spherical/table-extractor/internal/domain"
	"github.com/spherical/table-extractor/internal/extract"
	"github.com/spherical/table-extractor/internal/llm"
	"github.com/spherical/table-extractor/internal/observability"
	"github.com/spherical/table-extractor/internal/pdf"
	"github.com/spherical/table-extractor/internal/store"
	"github.com/spherical/table-extractor/internal/workspace"
)

// App holds the long-lived components built from one Config.
type App struct {
	Config  *config.Config
	Logger  *observability.Logger
	Service *extract.Service
	Runs    *store.RunRepository // nil when run history is disabled

	closers []func() error
}

// New builds every component. Close releases connections opened here.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	rasterizer, err := NewRasterizer(cfg.Rasterizer)
	if err != nil {
		return nil, err
	}

	inferencer, err := a.newInferencer(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	ws := workspace.NewManager(cfg.Workspace.Dir, workspace.Mode(cfg.Workspace.Mode), cfg.Workspace.Keep)
	a.Service = extract.NewService(ws, rasterizer, inferencer, extract.Options{
		Concurrency: cfg.Inference.Concurrency,
		Format:      cfg.Rasterizer.Format,
		Prefix:      cfg.Rasterizer.Prefix,
		DPI:         cfg.Rasterizer.DPI,
	}, logger)

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	logger.Info().
		Str("provider", cfg.Inference.Provider).
		Str("rasterizer", cfg.Rasterizer.Backend).
		Str("workspace_mode", cfg.Workspace.Mode).
		Str("cache", cfg.Cache.Driver).
		Str("store", cfg.Store.Driver).
		Int("concurrency", cfg.Inference.Concurrency).
		Bool("structured_output", cfg.Inference.StructuredOutput).
		Msg("Extraction pipeline ready")

	return a, nil
}

// Close releases cache and database connections.
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}

// NewRasterizer returns the configured rendering backend.
func NewRasterizer(cfg config.RasterizerConfig) (domain.Rasterizer, error) {
	switch cfg.Backend {
	case "fitz", "":
		return pdf.NewFitzRasterizer(), nil
	case "poppler":
		return pdf.NewPopplerRasterizer(cfg.PdftoppmPath), nil
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unknown rasterizer backend %q", cfg.Backend), nil)
	}
}

func (a *App) newInferencer(ctx context.Context) (domain.Inferencer, error) {
	cfg := a.Config.Inference
	opts := llm.Options{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		Retry: llm.RetryConfig{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
		},
		StructuredOutput: cfg.StructuredOutput,
		Logger:           a.Logger.WithOperation("inference"),
	}

	var inferencer domain.Inferencer
	switch cfg.Provider {
	case "gemini":
		inferencer = llm.NewGeminiClient(opts)
	case "openrouter":
		inferencer = llm.NewOpenRouterClient(opts)
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unknown inference provider %q", cfg.Provider), nil)
	}

	replyCache, err := a.newCache(ctx)
	if err != nil {
		return nil, err
	}
	if replyCache == nil {
		return inferencer, nil
	}
	return llm.NewCachedInferencer(inferencer, replyCache, a.Config.Cache.TTL, a.Logger.WithOperation("inference_cache")), nil
}

func (a *App) newCache(ctx context.Context) (cache.Client, error) {
	cfg := a.Config.Cache
	switch cfg.Driver {
	case "none", "":
		return nil, nil
	case "memory":
		return cache.NewMemoryClient(cfg.MaxEntries), nil
	case "redis":
		client, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, domain.ConfigError("connect to redis cache", err)
		}
		a.closers = append(a.closers, client.Close)
		return client, nil
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unknown cache driver %q", cfg.Driver), nil)
	}
}

func (a *App) openStore(ctx context.Context) error {
	runs, db, err := OpenRunStore(ctx, a.Config.Store)
	if err != nil || runs == nil {
		return err
	}
	a.closers = append(a.closers, db.Close)

	a.Runs = runs
	a.Service.SetRunRecorder(runs)
	return nil
}

// OpenRunStore opens the configured run history. Both results are nil when
// the driver is "none".
func OpenRunStore(ctx context.Context, cfg config.StoreConfig) (*store.RunRepository, *sql.DB, error) {
	var dsn string
	var maxOpen int
	switch cfg.Driver {
	case "none", "":
		return nil, nil, nil
	case store.DriverSQLite:
		dsn = cfg.SQLite.Path
	case store.DriverPostgres:
		dsn = cfg.Postgres.DSN
		maxOpen = cfg.Postgres.MaxOpenConns
	default:
		return nil, nil, domain.ConfigError(fmt.Sprintf("unknown store driver %q", cfg.Driver), nil)
	}

	db, err := store.Open(ctx, cfg.Driver, dsn, maxOpen)
	if err != nil {
		return nil, nil, domain.ConfigError("open run store", err)
	}
	return store.NewRunRepository(db), db, nil
}
