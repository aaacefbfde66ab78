// Package history archives completed dispatch runs in Postgres. The archive
// is append-only and write-after-the-fact: the dispatcher never reads it,
// so dispatch state itself stays entirely in-memory.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/a8cteam51/team51-cli-new/internal/dispatch"
	"github.com/a8cteam51/team51-cli-new/pkg/tasks"
)

const schema = `
CREATE TABLE IF NOT EXISTS dispatch_runs (
	id          TEXT PRIMARY KEY,
	command     TEXT NOT NULL,
	total       INTEGER NOT NULL,
	succeeded   INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS dispatch_results (
	run_id     TEXT NOT NULL REFERENCES dispatch_runs(id) ON DELETE CASCADE,
	task_id    TEXT NOT NULL,
	error_kind TEXT,
	detail     TEXT,
	payload    JSONB,
	PRIMARY KEY (run_id, task_id)
);

CREATE INDEX IF NOT EXISTS idx_dispatch_runs_started ON dispatch_runs (started_at DESC);
`

// Store persists run reports.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the archive tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create history schema: %w", err)
	}
	return nil
}

// RecordRun writes one completed run and all of its per-task outcomes in a
// single transaction.
func (s *Store) RecordRun(ctx context.Context, runID, command string, report *dispatch.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin history tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO dispatch_runs (id, command, total, succeeded, failed, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, runID, command, report.Total(), len(report.Successes), len(report.Failures),
		report.Started, report.Finished)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for taskID, payload := range report.Successes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO dispatch_results (run_id, task_id, payload)
			VALUES ($1, $2, $3)
		`, runID, taskID, []byte(payload)); err != nil {
			return fmt.Errorf("failed to insert result for %s: %w", taskID, err)
		}
	}

	for taskID, failure := range report.Failures {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO dispatch_results (run_id, task_id, error_kind, detail)
			VALUES ($1, $2, $3, $4)
		`, runID, taskID, string(failure.Kind), failure.Detail); err != nil {
			return fmt.Errorf("failed to insert failure for %s: %w", taskID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history tx: %w", err)
	}

	slog.Info("run archived", "run_id", runID, "tasks", report.Total())
	return nil
}

// RunSummary is one row of the run index.
type RunSummary struct {
	ID         string    `json:"id"`
	Command    string    `json:"command"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// RecentRuns returns the most recent runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, command, total, succeeded, failed, started_at, finished_at
		FROM dispatch_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.Command, &r.Total, &r.Succeeded, &r.Failed,
			&r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// TaskRecord is one archived per-task outcome.
type TaskRecord struct {
	TaskID  string          `json:"task_id"`
	Kind    tasks.ErrorKind `json:"error,omitempty"`
	Detail  string          `json:"detail,omitempty"`
	Payload []byte          `json:"payload,omitempty"`
}

// RunResults returns the archived outcomes of one run.
func (s *Store) RunResults(ctx context.Context, runID string) ([]TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, error_kind, detail, payload
		FROM dispatch_results
		WHERE run_id = $1
		ORDER BY task_id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var records []TaskRecord
	for rows.Next() {
		var rec TaskRecord
		var kind, detail sql.NullString
		var payload []byte
		if err := rows.Scan(&rec.TaskID, &kind, &detail, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if kind.Valid {
			rec.Kind = tasks.ErrorKind(kind.String)
		}
		if detail.Valid {
			rec.Detail = detail.String
		}
		rec.Payload = payload
		records = append(records, rec)
	}
	return records, rows.Err()
}
