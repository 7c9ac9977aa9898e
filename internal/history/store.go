// Package history persists an audit trail of finalized portal requests in
// sqlite. The store is optional: a nil *Store disables recording without
// branching at every call site.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/portty/portty/internal/model"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

// Record is one finalized request row.
type Record struct {
	SessionID   string
	Portal      string
	Operation   string
	Title       string
	Outcome     model.SessionState
	Trigger     model.Trigger
	Entries     []string
	CreatedAt   time.Time
	FinalizedAt time.Time
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts one finalized request. Nil store is a no-op.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if s == nil || s.db == nil {
		return nil
	}
	if rec.FinalizedAt.IsZero() {
		rec.FinalizedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO requests(session_id, portal, operation, title, outcome, trigger_kind, entries, created_at, finalized_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, rec.SessionID, rec.Portal, rec.Operation, rec.Title, string(rec.Outcome), string(rec.Trigger),
		strings.Join(rec.Entries, "\n"), ts(rec.CreatedAt), ts(rec.FinalizedAt))
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

// Recent returns up to limit finalized requests, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, portal, operation, title, outcome, trigger_kind, entries, created_at, finalized_at
FROM requests ORDER BY finalized_at DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var outcome, trigger, entries, created, finalized string
		if err := rows.Scan(&rec.SessionID, &rec.Portal, &rec.Operation, &rec.Title,
			&outcome, &trigger, &entries, &created, &finalized); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		rec.Outcome = model.SessionState(outcome)
		rec.Trigger = model.Trigger(trigger)
		if entries != "" {
			rec.Entries = strings.Split(entries, "\n")
		}
		rec.CreatedAt = parseTS(created)
		rec.FinalizedAt = parseTS(finalized)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Get returns the most recent record for a session id.
func (s *Store) Get(ctx context.Context, sessionID string) (Record, error) {
	if s == nil || s.db == nil {
		return Record{}, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
SELECT session_id, portal, operation, title, outcome, trigger_kind, entries, created_at, finalized_at
FROM requests WHERE session_id = ? ORDER BY finalized_at DESC LIMIT 1
`, sessionID)
	var rec Record
	var outcome, trigger, entries, created, finalized string
	err := row.Scan(&rec.SessionID, &rec.Portal, &rec.Operation, &rec.Title,
		&outcome, &trigger, &entries, &created, &finalized)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("scan request: %w", err)
	}
	rec.Outcome = model.SessionState(outcome)
	rec.Trigger = model.Trigger(trigger)
	if entries != "" {
		rec.Entries = strings.Split(entries, "\n")
	}
	rec.CreatedAt = parseTS(created)
	rec.FinalizedAt = parseTS(finalized)
	return rec, nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
