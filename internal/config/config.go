// Package config provides configuration loading for the table extractor.
// Supports YAML files, environment variables and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spherical/table-extractor/internal/domain"
)

// Config holds all configuration for the table extractor.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Workspace     WorkspaceConfig     `yaml:"workspace"`
	Rasterizer    RasterizerConfig    `yaml:"rasterizer"`
	Inference     InferenceConfig     `yaml:"inference"`
	Cache         CacheConfig         `yaml:"cache"`
	Store         StoreConfig         `yaml:"store"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	DocumentPath     string        `yaml:"document_path"`
	StaticDir        string        `yaml:"static_dir"`
	CORSOrigins      []string      `yaml:"cors_origins"`
}

// WorkspaceConfig holds scratch directory settings.
type WorkspaceConfig struct {
	Dir  string `yaml:"dir"`
	Mode string `yaml:"mode"` // isolated or shared
	Keep bool   `yaml:"keep"`
}

// RasterizerConfig holds PDF rendering settings.
type RasterizerConfig struct {
	Backend      string  `yaml:"backend"` // fitz or poppler
	Format       string  `yaml:"format"`
	Prefix       string  `yaml:"prefix"`
	DPI          float64 `yaml:"dpi"`
	PdftoppmPath string  `yaml:"pdftoppm_path"`
}

// InferenceConfig holds settings for the hosted vision model.
type InferenceConfig struct {
	Provider         string        `yaml:"provider"` // gemini or openrouter
	Model            string        `yaml:"model"`
	APIKey           string        `yaml:"api_key"`
	BaseURL          string        `yaml:"base_url"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	InitialBackoff   time.Duration `yaml:"initial_backoff"`
	MaxBackoff       time.Duration `yaml:"max_backoff"`
	StructuredOutput bool          `yaml:"structured_output"`
	Concurrency      int           `yaml:"concurrency"`
}

// CacheConfig holds inference reply cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // none, memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// StoreConfig holds run history settings.
type StoreConfig struct {
	Driver   string         `yaml:"driver"` // none, sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file, applies environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := LoadUnvalidated(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadUnvalidated is Load without Validate, for tools that only need part of
// the configuration (such as reading run history without a model key).
func LoadUnvalidated(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, domain.ConfigError("read config file", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, domain.ConfigError("parse config file", err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             3000,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     15 * time.Minute,
			IdleTimeout:      120 * time.Second,
			RequestTimeout:   15 * time.Minute,
			GracefulShutdown: 10 * time.Second,
			DocumentPath:     "test_pdf.pdf",
			StaticDir:        "public",
		},
		Workspace: WorkspaceConfig{
			Dir:  "images",
			Mode: "isolated",
		},
		Rasterizer: RasterizerConfig{
			Backend:      "fitz",
			Format:       "png",
			Prefix:       "page",
			DPI:          150,
			PdftoppmPath: "pdftoppm",
		},
		Inference: InferenceConfig{
			Provider:         "gemini",
			Timeout:          2 * time.Minute,
			MaxRetries:       0,
			InitialBackoff:   1 * time.Second,
			MaxBackoff:       30 * time.Second,
			StructuredOutput: true,
			Concurrency:      4,
		},
		Cache: CacheConfig{
			Driver:     "none",
			TTL:        24 * time.Hour,
			MaxEntries: 1000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
			},
		},
		Store: StoreConfig{
			Driver: "none",
			SQLite: SQLiteConfig{
				Path: "table-extractor.db",
			},
			Postgres: PostgresConfig{
				MaxOpenConns: 10,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "table-extractor",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return domain.ConfigError(fmt.Sprintf("invalid server port: %d", c.Server.Port), nil)
	}

	if c.Server.DocumentPath == "" {
		return domain.ConfigError("server.document_path is required", nil)
	}

	if c.Workspace.Dir == "" {
		return domain.ConfigError("workspace.dir is required", nil)
	}

	if c.Workspace.Mode != "isolated" && c.Workspace.Mode != "shared" {
		return domain.ConfigError(fmt.Sprintf("invalid workspace mode: %s", c.Workspace.Mode), nil)
	}

	if c.Rasterizer.Backend != "fitz" && c.Rasterizer.Backend != "poppler" {
		return domain.ConfigError(fmt.Sprintf("invalid rasterizer backend: %s", c.Rasterizer.Backend), nil)
	}

	if c.Rasterizer.Format != "png" && c.Rasterizer.Format != "jpg" {
		return domain.ConfigError(fmt.Sprintf("invalid rasterizer format: %s", c.Rasterizer.Format), nil)
	}

	if c.Rasterizer.DPI <= 0 {
		return domain.ConfigError("rasterizer.dpi must be positive", nil)
	}

	if c.Inference.Provider != "gemini" && c.Inference.Provider != "openrouter" {
		return domain.ConfigError(fmt.Sprintf("invalid inference provider: %s", c.Inference.Provider), nil)
	}

	if c.Inference.APIKey == "" {
		return domain.ConfigError("inference API key not set (GEMINI_API_KEY, OPENROUTER_API_KEY or INFERENCE_API_KEY)", nil)
	}

	if c.Inference.Concurrency < 1 || c.Inference.Concurrency > 32 {
		return domain.ConfigError("inference.concurrency must be between 1 and 32", nil)
	}

	if c.Inference.MaxRetries < 0 {
		return domain.ConfigError("inference.max_retries cannot be negative", nil)
	}

	switch c.Cache.Driver {
	case "none", "memory", "redis":
	default:
		return domain.ConfigError(fmt.Sprintf("invalid cache driver: %s", c.Cache.Driver), nil)
	}

	switch c.Store.Driver {
	case "none", "sqlite":
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return domain.ConfigError("store.postgres.dsn is required for the postgres driver", nil)
		}
	default:
		return domain.ConfigError(fmt.Sprintf("invalid store driver: %s", c.Store.Driver), nil)
	}

	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("DOCUMENT_PATH"); v != "" {
		cfg.Server.DocumentPath = v
	}

	if v := os.Getenv("STATIC_DIR"); v != "" {
		cfg.Server.StaticDir = v
	}

	if v := os.Getenv("WORKSPACE_DIR"); v != "" {
		cfg.Workspace.Dir = v
	}

	if v := os.Getenv("WORKSPACE_MODE"); v != "" {
		cfg.Workspace.Mode = v
	}

	if v := os.Getenv("RASTERIZER_BACKEND"); v != "" {
		cfg.Rasterizer.Backend = v
	}

	if v := os.Getenv("INFERENCE_PROVIDER"); v != "" {
		cfg.Inference.Provider = v
	}

	// Provider specific keys win over the generic one.
	if v := os.Getenv("INFERENCE_API_KEY"); v != "" {
		cfg.Inference.APIKey = v
	}
	switch cfg.Inference.Provider {
	case "gemini":
		if v := os.Getenv("GEMINI_API_KEY"); v != "" {
			cfg.Inference.APIKey = v
		}
	case "openrouter":
		if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
			cfg.Inference.APIKey = v
		}
	}

	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.Inference.Model = v
	}

	if v := os.Getenv("EXTRACT_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Inference.Concurrency = n
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Store.Driver = "sqlite"
			cfg.Store.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Store.Driver = "postgres"
			cfg.Store.Postgres.DSN = v
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
