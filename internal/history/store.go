// Package history records audit runs in a local SQLite database so operators
// can review past runs and their outcomes without digging through logs.
package history

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/lmwafulirwa/emr-dqa/internal/logging"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Run is one recorded audit run.
type Run struct {
	ID             string
	Kind           string
	Status         string
	StartedAt      time.Time
	FinishedAt     *time.Time
	SchemasFound   int
	SchemasSkipped int
	RowsCollected  int
	Error          string
}

// Store persists run history.
type Store struct {
	db *sql.DB
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	kind            TEXT NOT NULL,
	status          TEXT NOT NULL,
	started_at      TEXT NOT NULL,
	finished_at     TEXT,
	schemas_found   INTEGER NOT NULL DEFAULT 0,
	schemas_skipped INTEGER NOT NULL DEFAULT 0,
	rows_collected  INTEGER NOT NULL DEFAULT 0,
	error           TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Open opens (or creates) the history database under dataDir.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "emr-dqa.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	// modernc.org/sqlite serializes writes itself; a single connection avoids
	// SQLITE_BUSY under concurrent access.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}

	logging.Debug("History database opened: %s", path)
	return &Store{db: db}, nil
}

// Close closes the history database.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun records the beginning of a run and returns its id.
func (s *Store) StartRun(kind string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.Exec(
		"INSERT INTO runs (id, kind, status, started_at) VALUES (?, ?, ?, ?)",
		id, kind, StatusRunning, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("recording run start: %w", err)
	}
	return id, nil
}

// FinishRun records the outcome of a run. runErr may be nil.
func (s *Store) FinishRun(id, status string, found, skipped, rows int, runErr error) error {
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	_, err := s.db.Exec(
		`UPDATE runs SET status = ?, finished_at = ?, schemas_found = ?,
		 schemas_skipped = ?, rows_collected = ?, error = ? WHERE id = ?`,
		status, time.Now().UTC().Format(time.RFC3339Nano), found, skipped, rows, errMsg, id)
	if err != nil {
		return fmt.Errorf("recording run finish: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	result, err := s.db.Query(
		`SELECT id, kind, status, started_at, finished_at,
		 schemas_found, schemas_skipped, rows_collected, error
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer result.Close()

	var runs []Run
	for result.Next() {
		var r Run
		var started string
		var finished sql.NullString
		if err := result.Scan(&r.ID, &r.Kind, &r.Status, &started, &finished,
			&r.SchemasFound, &r.SchemasSkipped, &r.RowsCollected, &r.Error); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parsing run start time: %w", err)
		}
		if finished.Valid {
			t, err := time.Parse(time.RFC3339Nano, finished.String)
			if err != nil {
				return nil, fmt.Errorf("parsing run finish time: %w", err)
			}
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, result.Err()
}
