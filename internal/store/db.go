package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the run store and creates its schema.
func Open(ctx context.Context, driver, dsn string, maxOpenConns int) (*sql.DB, error) {
	var sqlDriver string
	switch driver {
	case DriverSQLite:
		sqlDriver = "sqlite3"
	case DriverPostgres:
		sqlDriver = "postgres"
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// One writer; also keeps ":memory:" databases on a single connection.
		db.SetMaxOpenConns(1)
	} else if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	if err := Migrate(ctx, db, driver); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// Migrate creates the runs table if it does not exist.
func Migrate(ctx context.Context, db DB, driver string) error {
	idType, tsType := "TEXT", "TIMESTAMP"
	if driver == DriverPostgres {
		idType, tsType = "UUID", "TIMESTAMPTZ"
	}

	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS extraction_runs (
				id %s PRIMARY KEY,
				document_path TEXT NOT NULL,
				model TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				pages_total INTEGER NOT NULL DEFAULT 0,
				pages_failed INTEGER NOT NULL DEFAULT 0,
				row_count INTEGER NOT NULL DEFAULT 0,
				duration_ms BIGINT NOT NULL DEFAULT 0,
				rows_json TEXT NOT NULL DEFAULT '[]',
				pages_json TEXT NOT NULL DEFAULT '[]',
				error TEXT NOT NULL DEFAULT '',
				created_at %s NOT NULL
			)`, idType, tsType),
		`CREATE INDEX IF NOT EXISTS idx_extraction_runs_created_at ON extraction_runs (created_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
