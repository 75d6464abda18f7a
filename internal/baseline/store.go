// Package baseline persists accepted findings and scan history in SQLite so
// that known warnings can be suppressed on later runs.
package baseline

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cscan/internal/logging"
	"cscan/internal/scanner"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Run is one recorded scan.
type Run struct {
	ID         string
	Root       string
	StartedAt  time.Time
	FinishedAt time.Time
	Total      int
}

// Store is a baseline database.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	root TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	total INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS baseline (
	fingerprint TEXT PRIMARY KEY,
	file TEXT NOT NULL,
	severity TEXT NOT NULL,
	cwe TEXT,
	message TEXT NOT NULL,
	line TEXT NOT NULL,
	run_id TEXT NOT NULL REFERENCES runs(id)
);
CREATE INDEX IF NOT EXISTS idx_baseline_file ON baseline(file);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// Open creates or opens the database at path.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "baseline.Open")
	defer timer.Stop()

	if path == "" {
		return nil, fmt.Errorf("database path required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify database connection: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		logging.StoreError("failed to initialize baseline schema: %v", err)
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Store("baseline store opened at %s", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// RecordRun stores a scan of root that produced warnings and returns its id.
// started is when the scan began; the finish time is now.
func (s *Store) RecordRun(ctx context.Context, root string, started time.Time, warnings []scanner.Warning) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, root, started_at, finished_at, total) VALUES (?, ?, ?, ?, ?)`,
		id, root, started.UnixMilli(), time.Now().UnixMilli(), len(warnings))
	if err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}
	logging.StoreDebug("recorded run %s (%d warnings)", id, len(warnings))
	return id, nil
}

// BaseDir returns the directory that findings under the scan root are keyed
// against: root itself, or its parent when root is a file.
func BaseDir(root string) string {
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		return filepath.Dir(root)
	}
	return root
}

// relativeTo rewrites w.File as a slash-separated path relative to base, so
// a baseline matches however the scan root was spelled. Files outside base
// and an empty base leave w unchanged.
func relativeTo(base string, w scanner.Warning) scanner.Warning {
	if base == "" {
		return w
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return w
	}
	absFile, err := filepath.Abs(w.File)
	if err != nil {
		return w
	}
	rel, err := filepath.Rel(absBase, absFile)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return w
	}
	w.File = filepath.ToSlash(rel)
	return w
}

// Accept adds warnings to the baseline under runID, keyed by their path
// relative to base. Existing fingerprints are updated to point at the new run.
func (s *Store) Accept(ctx context.Context, runID, base string, warnings []scanner.Warning) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO baseline (fingerprint, file, severity, cwe, message, line, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET run_id = excluded.run_id`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, w := range warnings {
		w = relativeTo(base, w)
		if _, err := stmt.ExecContext(ctx, w.Fingerprint(), w.File, string(w.Severity), w.CWE, w.Message, w.Line, runID); err != nil {
			return 0, fmt.Errorf("failed to accept %s:%d: %w", w.File, w.LineNo, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit baseline: %w", err)
	}
	logging.Store("accepted %d findings into baseline (run %s)", len(warnings), runID)
	return len(warnings), nil
}

// Filter drops warnings whose fingerprint, taken relative to base, is in the
// baseline and returns the rest unchanged with the number suppressed. Order
// is preserved.
func (s *Store) Filter(ctx context.Context, base string, warnings []scanner.Warning) ([]scanner.Warning, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := make(map[string]struct{})
	rows, err := s.db.QueryContext(ctx, `SELECT fingerprint FROM baseline`)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query baseline: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, 0, fmt.Errorf("failed to scan baseline row: %w", err)
		}
		known[fp] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read baseline: %w", err)
	}

	var kept []scanner.Warning
	suppressed := 0
	for _, w := range warnings {
		if _, ok := known[relativeTo(base, w).Fingerprint()]; ok {
			suppressed++
			continue
		}
		kept = append(kept, w)
	}
	logging.StoreDebug("baseline filter: %d kept, %d suppressed", len(kept), suppressed)
	return kept, suppressed, nil
}

// Size returns the number of accepted findings.
func (s *Store) Size(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM baseline`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count baseline: %w", err)
	}
	return n, nil
}

// Runs returns the most recent runs, newest first. limit <= 0 means all.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, root, started_at, finished_at, total FROM runs ORDER BY started_at DESC, rowid DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.Root, &started, &finished, &r.Total); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		r.FinishedAt = time.UnixMilli(finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
