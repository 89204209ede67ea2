// Package store persists the history of extraction runs.
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/table-extractor/internal/domain"
)

// RunStatus represents the outcome of a run.
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one pipeline execution.
type Run struct {
	ID             uuid.UUID       `json:"id"`
	DocumentPath   string          `json:"document_path"`
	Model          string          `json:"model,omitempty"`
	Status         RunStatus       `json:"status"`
	PagesTotal     int             `json:"pages_total"`
	PagesFailed    int             `json:"pages_failed"`
	RowCount       int             `json:"row_count"`
	DurationMillis int64           `json:"duration_ms"`
	Rows           json.RawMessage `json:"rows,omitempty"`
	Pages          json.RawMessage `json:"pages,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// RunFromResult builds a completed run record from a pipeline result.
func RunFromResult(result *domain.ExtractionResult, model string) (*Run, error) {
	id, err := uuid.Parse(result.RunID)
	if err != nil {
		return nil, err
	}

	rows, err := json.Marshal(result.Rows)
	if err != nil {
		return nil, err
	}
	pages, err := json.Marshal(result.Pages)
	if err != nil {
		return nil, err
	}

	return &Run{
		ID:             id,
		DocumentPath:   result.Document,
		Model:          model,
		Status:         RunStatusCompleted,
		PagesTotal:     result.Stats.PagesProcessed,
		PagesFailed:    result.Stats.FailedPages,
		RowCount:       result.Stats.RowCount,
		DurationMillis: result.Stats.TotalTime.Milliseconds(),
		Rows:           rows,
		Pages:          pages,
	}, nil
}
