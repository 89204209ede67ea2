package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{
		Level:       "debug",
		Format:      "json",
		Output:      &buf,
		ServiceName: "table-extractor",
	})

	logger.WithRun("run-1").WithOperation("extract").Warn().
		Str("image", "page-0001.png").
		Int("page", 1).
		Int64("duration_ms", 1500).
		Bool("structured_output", true).
		Err(errors.New("boom")).
		Msg("Failed to extract table")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "table-extractor", entry["service"])
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, "extract", entry["operation"])
	assert.Equal(t, "page-0001.png", entry["image"])
	assert.Equal(t, float64(1), entry["page"])
	assert.Equal(t, float64(1500), entry["duration_ms"])
	assert.Equal(t, true, entry["structured_output"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "Failed to extract table", entry["message"])
}

func TestNewLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Output: &buf})

	logger.Info().Msg("hidden")
	assert.Empty(t, buf.String())

	logger.Error().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"info":    zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}

	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}
