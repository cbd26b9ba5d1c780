// Package state records run and per-table history in a local SQLite
// database. It backs the status and history commands; the pipeline itself
// never reads it back during a run.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	RunStatusRunning             = "running"
	RunStatusCompleted           = "completed"
	RunStatusCompletedWithErrors = "completed_with_errors"
	RunStatusFailed              = "failed"
)

// Table result phases and statuses.
const (
	PhaseExtract = "extract"
	PhaseLoad    = "load"

	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// ErrNoRuns is returned when history is requested before any run exists.
var ErrNoRuns = errors.New("no runs recorded")

// Run is one pipeline invocation.
type Run struct {
	ID            string
	StartedAt     time.Time
	CompletedAt   *time.Time
	Status        string
	TablesTotal   int
	TablesSuccess int
	TablesFailed  int
	Error         string
}

// TableResult is one table's outcome in one phase of one run.
type TableResult struct {
	RunID       string
	Table       string
	Phase       string
	Status      string
	Mode        string
	Strategy    string
	Rows        int64
	ArtifactKey string
	Watermark   string
	Error       string
	Duration    time.Duration
}

// Store is the history database handle.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	started_at      TIMESTAMP NOT NULL,
	completed_at    TIMESTAMP,
	status          TEXT NOT NULL,
	tables_total    INTEGER NOT NULL DEFAULT 0,
	tables_success  INTEGER NOT NULL DEFAULT 0,
	tables_failed   INTEGER NOT NULL DEFAULT 0,
	error           TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS table_results (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL REFERENCES runs(id),
	table_name    TEXT NOT NULL,
	phase         TEXT NOT NULL,
	status        TEXT NOT NULL,
	mode          TEXT NOT NULL DEFAULT '',
	strategy      TEXT NOT NULL DEFAULT '',
	rows          INTEGER NOT NULL DEFAULT 0,
	artifact_key  TEXT NOT NULL DEFAULT '',
	watermark     TEXT NOT NULL DEFAULT '',
	error         TEXT NOT NULL DEFAULT '',
	duration_ms   INTEGER NOT NULL DEFAULT 0,
	recorded_at   TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_table_results_run ON table_results(run_id);
`

// Open creates or opens the history database and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}
	// SQLite allows one writer; the worker pools funnel through here.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run in running state.
func (s *Store) CreateRun(id string, startedAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, started_at, status) VALUES (?, ?, ?)`,
		id, startedAt.UTC(), RunStatusRunning)
	if err != nil {
		return fmt.Errorf("creating run %s: %w", id, err)
	}
	return nil
}

// CompleteRun finalizes a run with its status and table counts.
func (s *Store) CompleteRun(id, status string, total, success, failed int, errMsg string) error {
	_, err := s.db.Exec(
		`UPDATE runs SET completed_at = ?, status = ?, tables_total = ?,
		 tables_success = ?, tables_failed = ?, error = ? WHERE id = ?`,
		time.Now().UTC(), status, total, success, failed, errMsg, id)
	if err != nil {
		return fmt.Errorf("completing run %s: %w", id, err)
	}
	return nil
}

// RecordTableResult appends one table outcome.
func (s *Store) RecordTableResult(r TableResult) error {
	_, err := s.db.Exec(
		`INSERT INTO table_results
		 (run_id, table_name, phase, status, mode, strategy, rows, artifact_key, watermark, error, duration_ms, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Table, r.Phase, r.Status, r.Mode, r.Strategy, r.Rows,
		r.ArtifactKey, r.Watermark, r.Error, r.Duration.Milliseconds(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording result for %s: %w", r.Table, err)
	}
	return nil
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun() (*Run, error) {
	row := s.db.QueryRow(
		`SELECT id, started_at, completed_at, status, tables_total, tables_success, tables_failed, error
		 FROM runs ORDER BY started_at DESC LIMIT 1`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRuns
	}
	return run, err
}

// GetRun returns one run by ID.
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(
		`SELECT id, started_at, completed_at, status, tables_total, tables_success, tables_failed, error
		 FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s not found", id)
	}
	return run, err
}

// GetAllRuns returns runs newest first, up to limit (0 means all).
func (s *Store) GetAllRuns(limit int) ([]Run, error) {
	query := `SELECT id, started_at, completed_at, status, tables_total, tables_success, tables_failed, error
	 FROM runs ORDER BY started_at DESC`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.Query(query+` LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetTableResults returns a run's per-table outcomes in recorded order.
func (s *Store) GetTableResults(runID string) ([]TableResult, error) {
	rows, err := s.db.Query(
		`SELECT run_id, table_name, phase, status, mode, strategy, rows, artifact_key, watermark, error, duration_ms
		 FROM table_results WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing results for run %s: %w", runID, err)
	}
	defer rows.Close()

	var results []TableResult
	for rows.Next() {
		var r TableResult
		var durationMS int64
		if err := rows.Scan(&r.RunID, &r.Table, &r.Phase, &r.Status, &r.Mode, &r.Strategy,
			&r.Rows, &r.ArtifactKey, &r.Watermark, &r.Error, &durationMS); err != nil {
			return nil, fmt.Errorf("scanning table result: %w", err)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		results = append(results, r)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var completed sql.NullTime
	if err := row.Scan(&r.ID, &r.StartedAt, &completed, &r.Status,
		&r.TablesTotal, &r.TablesSuccess, &r.TablesFailed, &r.Error); err != nil {
		return nil, err
	}
	if completed.Valid {
		t := completed.Time
		r.CompletedAt = &t
	}
	return &r, nil
}
