// Package pgstore provides a Postgres-backed RunStore. Run records are
// stored whole as JSONB with a few promoted columns for listing, so the
// record shape can evolve without schema migrations.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/lib/pq"

	"github.com/deepnoodle-ai/conveyor"
)

const schema = `
CREATE TABLE IF NOT EXISTS workflow_runs (
	id          TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	status      TEXT NOT NULL,
	start_time  TIMESTAMPTZ,
	end_time    TIMESTAMPTZ,
	error       TEXT NOT NULL DEFAULT '',
	record      JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS workflow_runs_by_workflow
	ON workflow_runs (workflow_id, start_time DESC);
`

// Store is a RunStore backed by Postgres.
type Store struct {
	db *sql.DB
}

// New opens a connection pool for the given DSN and ensures the schema
// exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	store := &Store{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewWithDB wraps an existing connection pool. The caller keeps ownership
// of the pool.
func NewWithDB(ctx context.Context, db *sql.DB) (*Store, error) {
	store := &Store{db: db}
	if err := store.migrate(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun inserts or replaces a run record.
func (s *Store) SaveRun(ctx context.Context, run *conveyor.WorkflowRun) error {
	record, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to serialize run %q: %w", run.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_runs (id, workflow_id, status, start_time, end_time, error, record)
		VALUES ($1, $2, $3, NULLIF($4, '0001-01-01T00:00:00Z'::timestamptz), NULLIF($5, '0001-01-01T00:00:00Z'::timestamptz), $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			error = EXCLUDED.error,
			record = EXCLUDED.record`,
		run.ID, run.WorkflowID, string(run.Status),
		run.StartTime.UTC(), run.EndTime.UTC(), run.Error, record)
	if err != nil {
		return fmt.Errorf("failed to save run %q: %w", run.ID, err)
	}
	return nil
}

// GetRun loads a run record by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (*conveyor.WorkflowRun, error) {
	var record []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM workflow_runs WHERE id = $1`, runID).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, conveyor.NewValidationError("run %q not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %q: %w", runID, err)
	}
	var run conveyor.WorkflowRun
	if err := json.Unmarshal(record, &run); err != nil {
		return nil, fmt.Errorf("failed to deserialize run %q: %w", runID, err)
	}
	return &run, nil
}

// ListRuns returns summaries for stored runs, newest first. An empty
// workflowID lists runs across all workflows.
func (s *Store) ListRuns(ctx context.Context, workflowID string) ([]*conveyor.RunSummary, error) {
	query := `
		SELECT id, workflow_id, status, start_time, end_time, error
		FROM workflow_runs`
	args := []any{}
	if workflowID != "" {
		query += ` WHERE workflow_id = $1`
		args = append(args, workflowID)
	}
	query += ` ORDER BY start_time DESC NULLS LAST`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var summaries []*conveyor.RunSummary
	for rows.Next() {
		var summary conveyor.RunSummary
		var startTime, endTime sql.NullTime
		if err := rows.Scan(&summary.RunID, &summary.WorkflowID, &summary.Status,
			&startTime, &endTime, &summary.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		if startTime.Valid {
			summary.StartTime = startTime.Time
		}
		if endTime.Valid {
			summary.EndTime = endTime.Time
			summary.Duration = summary.EndTime.Sub(summary.StartTime)
		}
		summaries = append(summaries, &summary)
	}
	return summaries, rows.Err()
}

// DeleteRun removes a run record. Deleting an unknown run is not an error.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM workflow_runs WHERE id = $1`, runID)
	if err != nil {
		return fmt.Errorf("failed to delete run %q: %w", runID, err)
	}
	return nil
}

// PruneBefore deletes finished runs that ended before the cutoff. Returns
// the number of runs removed.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM workflow_runs
		WHERE end_time IS NOT NULL AND end_time < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return result.RowsAffected()
}
