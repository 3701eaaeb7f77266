// Package history keeps a local journal of finished calls in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Entry is one finished call.
type Entry struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at"`
	DurationSeconds  int       `json:"duration_seconds"`
	RemainingSeconds int       `json:"remaining_seconds"`
	EndReason        string    `json:"end_reason"`
}

// Journal is the call-history store.
type Journal struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS calls (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	started_at        TEXT NOT NULL,
	ended_at          TEXT NOT NULL,
	duration_seconds  INTEGER NOT NULL,
	remaining_seconds INTEGER NOT NULL,
	end_reason        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS calls_user_started ON calls (user_id, started_at DESC);
`

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record inserts a finished call. An empty ID gets a fresh one.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO calls (id, user_id, started_at, ended_at, duration_seconds, remaining_seconds, end_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.UserID,
		e.StartedAt.UTC().Format(time.RFC3339Nano),
		e.EndedAt.UTC().Format(time.RFC3339Nano),
		e.DurationSeconds,
		e.RemainingSeconds,
		e.EndReason,
	)
	if err != nil {
		return fmt.Errorf("record call: %w", err)
	}
	return nil
}

// List returns the user's most recent calls, newest first.
func (j *Journal) List(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, user_id, started_at, ended_at, duration_seconds, remaining_seconds, end_reason
		FROM calls WHERE user_id = ? ORDER BY started_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var started, ended string
		if err := rows.Scan(&e.ID, &e.UserID, &started, &ended, &e.DurationSeconds, &e.RemainingSeconds, &e.EndReason); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		e.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		e.EndedAt, _ = time.Parse(time.RFC3339Nano, ended)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
