package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("record not found")

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// RunRepository handles extraction run persistence.
type RunRepository struct {
	db DB
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a run.
func (r *RunRepository) Create(ctx context.Context, run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Rows == nil {
		run.Rows = []byte("[]")
	}
	if run.Pages == nil {
		run.Pages = []byte("[]")
	}

	query := `
		INSERT INTO extraction_runs (id, document_path, model, status, pages_total, pages_failed,
			row_count, duration_ms, rows_json, pages_json, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.ExecContext(ctx, query,
		run.ID.String(), run.DocumentPath, run.Model, string(run.Status), run.PagesTotal, run.PagesFailed,
		run.RowCount, run.DurationMillis, string(run.Rows), string(run.Pages), run.Error, run.CreatedAt,
	)
	return err
}

// GetByID retrieves a run with its rows and page report.
func (r *RunRepository) GetByID(ctx context.Context, id uuid.UUID) (*Run, error) {
	query := `
		SELECT id, document_path, model, status, pages_total, pages_failed,
			row_count, duration_ms, rows_json, pages_json, error, created_at
		FROM extraction_runs WHERE id = $1
	`
	run := &Run{}
	var rawID, rows, pages string
	err := r.db.QueryRowContext(ctx, query, id.String()).Scan(
		&rawID, &run.DocumentPath, &run.Model, &run.Status, &run.PagesTotal, &run.PagesFailed,
		&run.RowCount, &run.DurationMillis, &rows, &pages, &run.Error, &run.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if run.ID, err = uuid.Parse(rawID); err != nil {
		return nil, err
	}
	run.Rows = []byte(rows)
	run.Pages = []byte(pages)
	return run, nil
}

// List returns the most recent runs without their rows.
func (r *RunRepository) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, document_path, model, status, pages_total, pages_failed,
			row_count, duration_ms, error, created_at
		FROM extraction_runs
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run := &Run{}
		var rawID string
		if err := rows.Scan(
			&rawID, &run.DocumentPath, &run.Model, &run.Status, &run.PagesTotal, &run.PagesFailed,
			&run.RowCount, &run.DurationMillis, &run.Error, &run.CreatedAt,
		); err != nil {
			return nil, err
		}
		if run.ID, err = uuid.Parse(rawID); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
