// Package history is an optional, write-only audit trail of session
// lifecycle events backed by SQLite. Sessions themselves are purely
// in-memory; nothing here is ever read back to restore state.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Event kinds recorded per session.
const (
	EventCreated = "created"
	EventResized = "resized"
	EventExited  = "exited"
	EventClosed  = "closed"
)

// Event is one recorded lifecycle observation.
type Event struct {
	ID        int64
	SessionID string
	Kind      string
	Detail    string
	CreatedAt time.Time
}

// Store records session events in a SQLite file.
type Store struct {
	conn *sql.DB
}

// Open creates or opens the event log at path, running migrations as
// needed.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history: database path cannot be empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("history: create directory %q: %w", dir, err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database at %q: %w", path, err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("history: ping database: %w", err)
	}

	if _, err := conn.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS session_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_events_session ON session_events(session_id);
`); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("history: run migrations: %w", err)
	}

	return &Store{conn: conn}, nil
}

// Record appends one event for a session. Detail is free-form text, e.g.
// the spawned command or the new geometry.
func (s *Store) Record(ctx context.Context, sessionID, kind, detail string) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO session_events (session_id, kind, detail, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, kind, detail, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("history: record %s for %q: %w", kind, sessionID, err)
	}
	return nil
}

// Events returns every recorded event for a session in insertion order.
func (s *Store) Events(ctx context.Context, sessionID string) ([]Event, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, session_id, kind, detail, created_at FROM session_events WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("history: query events for %q: %w", sessionID, err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev Event
			ts string
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Kind, &ev.Detail, &ts); err != nil {
			return nil, fmt.Errorf("history: scan event: %w", err)
		}
		if t, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
			ev.CreatedAt = t
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
