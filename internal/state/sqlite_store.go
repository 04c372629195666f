package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const schemaVersion = 1

// threads holds one row per thread; messages is the JSON array of the
// whole conversation, rewritten on every checkpoint.
const schema = `
CREATE TABLE IF NOT EXISTS threads (
	thread_id     TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL DEFAULT '',
	message_count INTEGER NOT NULL,
	messages      TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_threads_updated ON threads(updated_at DESC);
`

// SQLiteStore keeps checkpoints in a SQLite file so threads survive
// restarts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	if version > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, schemaVersion)
	}
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
	return err
}

// Save writes the checkpoint. An existing row keeps its created_at.
func (s *SQLiteStore) Save(ctx context.Context, cp *Checkpoint) error {
	msgs, err := json.Marshal(cp.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threads (thread_id, user_id, message_count, messages, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			user_id = excluded.user_id,
			message_count = excluded.message_count,
			messages = excluded.messages,
			updated_at = excluded.updated_at`,
		cp.ThreadID, cp.UserID, len(cp.Messages), string(msgs), cp.CreatedAt.UTC(), cp.UpdatedAt.UTC())
	return err
}

// Load reads a thread back. Unparseable messages are an error, never an
// empty conversation.
func (s *SQLiteStore) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	cp := &Checkpoint{ThreadID: threadID}
	var msgs string
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, messages, created_at, updated_at FROM threads WHERE thread_id = ?", threadID).
		Scan(&cp.UserID, &msgs, &cp.CreatedAt, &cp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, threadNotFound(threadID)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(msgs), &cp.Messages); err != nil {
		return nil, fmt.Errorf("thread %s has corrupt messages: %w", threadID, err)
	}
	return cp, nil
}

// List returns up to limit threads, newest first. limit <= 0 means all.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]ThreadSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT thread_id, user_id, message_count, updated_at FROM threads ORDER BY updated_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ThreadSummary{}
	for rows.Next() {
		var ts ThreadSummary
		if err := rows.Scan(&ts.ThreadID, &ts.UserID, &ts.Messages, &ts.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// Delete removes a thread; deleting an unknown thread is NOT_FOUND.
func (s *SQLiteStore) Delete(ctx context.Context, threadID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM threads WHERE thread_id = ?", threadID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return threadNotFound(threadID)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
