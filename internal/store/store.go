// Package store keeps a history of generation requests in SQLite so
// past prompts and outcomes survive process restarts.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"appforge/internal/logging"
)

// ErrNotFound is returned when no history row exists for an ID.
var ErrNotFound = errors.New("history entry not found")

// Entry is one recorded generation request.
type Entry struct {
	ID         string
	Prompt     string
	Phase      string
	Attempts   int
	Error      string
	ResultPath string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// History is a SQLite-backed request log.
type History struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS generations (
	id          TEXT PRIMARY KEY,
	prompt      TEXT NOT NULL,
	phase       TEXT NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	result_path TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_generations_updated ON generations(updated_at DESC);
`

// Open creates or opens the history database at path.
func Open(path string) (*History, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	// modernc's driver serializes writes itself; a single connection
	// avoids SQLITE_BUSY under concurrent updates.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}

	logging.Store("history opened at %s", path)
	return &History{db: db}, nil
}

// Close releases the database.
func (h *History) Close() error {
	return h.db.Close()
}

// Begin records a new request in its starting phase.
func (h *History) Begin(ctx context.Context, id, prompt, phase string) error {
	now := time.Now().Unix()
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO generations (id, prompt, phase, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, prompt, phase, now, now)
	if err != nil {
		return fmt.Errorf("recording request %s: %w", id, err)
	}
	return nil
}

// Finish records the terminal outcome of a request.
func (h *History) Finish(ctx context.Context, id, phase string, attempts int, cause error, resultPath string) error {
	errText := ""
	if cause != nil {
		errText = cause.Error()
	}
	res, err := h.db.ExecContext(ctx,
		`UPDATE generations SET phase = ?, attempts = ?, error = ?, result_path = ?, updated_at = ? WHERE id = ?`,
		phase, attempts, errText, resultPath, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("finishing request %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	logging.Store("request %s finished phase=%s attempts=%d", id, phase, attempts)
	return nil
}

// Get returns one entry.
func (h *History) Get(ctx context.Context, id string) (*Entry, error) {
	row := h.db.QueryRowContext(ctx,
		`SELECT id, prompt, phase, attempts, error, result_path, created_at, updated_at
		 FROM generations WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return entry, err
}

// Recent returns up to limit entries, most recently updated first.
func (h *History) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, prompt, phase, attempts, error, result_path, created_at, updated_at
		 FROM generations ORDER BY updated_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Prune deletes entries last updated before the cutoff.
func (h *History) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	res, err := h.db.ExecContext(ctx, `DELETE FROM generations WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning history: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Store("pruned %d history entries", n)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var created, updated int64
	if err := row.Scan(&e.ID, &e.Prompt, &e.Phase, &e.Attempts, &e.Error, &e.ResultPath, &created, &updated); err != nil {
		return nil, err
	}
	e.CreatedAt = time.Unix(created, 0)
	e.UpdatedAt = time.Unix(updated, 0)
	return &e, nil
}
