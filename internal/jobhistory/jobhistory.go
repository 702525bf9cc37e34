// Package jobhistory persists a row per cron firing (job_runs, profile
// standard) for operational visibility into what ran, when, and how it
// ended. Schema-init idiom adapted from the teacher's
// internal/modules/cash_flows/schema.go InitSchema pattern; run ids use
// google/uuid, matching the teacher's use of uuid for externally-visible
// identifiers elsewhere in the stack.
package jobhistory

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Schema creates job_runs if it does not already exist.
const Schema = `
CREATE TABLE IF NOT EXISTS job_runs (
    id TEXT PRIMARY KEY,
    fingerprint TEXT NOT NULL,
    route TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    finished_at INTEGER,
    outcome TEXT
);

CREATE INDEX IF NOT EXISTS idx_job_runs_fingerprint ON job_runs(fingerprint);
CREATE INDEX IF NOT EXISTS idx_job_runs_started_at ON job_runs(started_at);
`

// InitSchema ensures job_runs exists in the database passed in.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Outcome values recorded in job_runs.outcome.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Repository is the job_runs store.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps a database connection already bearing the job_runs
// table (see InitSchema).
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// RecordStart inserts a new job_runs row with started_at = now and no
// finished_at, returning the generated run id.
func (r *Repository) RecordStart(fingerprint, route string) (string, error) {
	id := uuid.NewString()
	_, err := r.db.Exec(
		`INSERT INTO job_runs (id, fingerprint, route, started_at) VALUES (?, ?, ?, ?)`,
		id, fingerprint, route, time.Now().Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("jobhistory: failed to record start: %w", err)
	}
	return id, nil
}

// RecordFinish sets finished_at and outcome on the run identified by id.
func (r *Repository) RecordFinish(id, outcome string) error {
	_, err := r.db.Exec(
		`UPDATE job_runs SET finished_at = ?, outcome = ? WHERE id = ?`,
		time.Now().Unix(), outcome, id,
	)
	if err != nil {
		return fmt.Errorf("jobhistory: failed to record finish: %w", err)
	}
	return nil
}

// Recent returns the most recently started runs, newest first, for
// operational inspection endpoints.
func (r *Repository) Recent(limit int) ([]Run, error) {
	rows, err := r.db.Query(
		`SELECT id, fingerprint, route, started_at, finished_at, outcome
		 FROM job_runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("jobhistory: failed to query recent runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var finishedAt sql.NullInt64
		var outcome sql.NullString
		if err := rows.Scan(&run.ID, &run.Fingerprint, &run.Route, &run.StartedAt, &finishedAt, &outcome); err != nil {
			return nil, fmt.Errorf("jobhistory: failed to scan run: %w", err)
		}
		run.FinishedAt = finishedAt.Int64
		run.Outcome = outcome.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Run is one job_runs row.
type Run struct {
	ID          string
	Fingerprint string
	Route       string
	StartedAt   int64
	FinishedAt  int64
	Outcome     string
}
