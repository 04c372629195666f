package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cadre-oss/memchat/internal/embedding"
)

// SQLiteStore persists memories in a SQLite database and scores them by
// brute-force cosine similarity.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex
	seq     sequencer
}

// NewSQLiteStore opens (or creates) the SQLite database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate memory database: %w", err)
	}

	var maxSeq sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(seq) FROM memories`).Scan(&maxSeq); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read memory sequence: %w", err)
	}
	s.seq.observe(maxSeq.Int64)

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		namespace TEXT NOT NULL,
		user_id TEXT NOT NULL,
		key TEXT NOT NULL,
		content TEXT NOT NULL,
		context TEXT NOT NULL DEFAULT '',
		embedding BLOB NOT NULL,
		seq INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (namespace, user_id, key)
	);

	CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(namespace, user_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Put upserts the record, keeping created_at of a replaced row.
func (s *SQLiteStore) Put(ctx context.Context, rec Record) (Record, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	rec.CreatedAt = now
	var created time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT created_at FROM memories WHERE namespace = ? AND user_id = ? AND key = ?`,
		rec.Namespace.Kind, rec.Namespace.UserID, rec.Key,
	).Scan(&created)
	switch {
	case err == nil:
		rec.CreatedAt = created
	case !errors.Is(err, sql.ErrNoRows):
		return Record{}, err
	}
	rec.UpdatedAt = now
	rec.Seq = s.seq.next()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memories (namespace, user_id, key, content, context, embedding, seq, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(namespace, user_id, key) DO UPDATE SET
			content = excluded.content,
			context = excluded.context,
			embedding = excluded.embedding,
			seq = excluded.seq,
			updated_at = excluded.updated_at
	`, rec.Namespace.Kind, rec.Namespace.UserID, rec.Key, rec.Content, rec.Context,
		encodeVector(rec.Embedding), rec.Seq, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return Record{}, err
	}

	if err := tx.Commit(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Get returns the record under key.
func (s *SQLiteStore) Get(ctx context.Context, ns Namespace, key string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, content, context, embedding, seq, created_at, updated_at
		FROM memories
		WHERE namespace = ? AND user_id = ? AND key = ?
	`, ns.Kind, ns.UserID, key)

	rec, err := scanRecord(ns, row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, notFound(ns, key)
	}
	return rec, err
}

// Delete removes the record under key.
func (s *SQLiteStore) Delete(ctx context.Context, ns Namespace, key string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE namespace = ? AND user_id = ? AND key = ?`,
		ns.Kind, ns.UserID, key)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(ns, key)
	}
	return nil
}

// Query scores every record in the namespace against vec.
func (s *SQLiteStore) Query(ctx context.Context, ns Namespace, vec []float32) ([]Scored, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, content, context, embedding, seq, created_at, updated_at
		FROM memories
		WHERE namespace = ? AND user_id = ?
	`, ns.Kind, ns.UserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hits := []Scored{}
	for rows.Next() {
		rec, err := scanRecord(ns, rows)
		if err != nil {
			return nil, err
		}
		score, err := embedding.Cosine(vec, rec.Embedding)
		if err != nil {
			return nil, fmt.Errorf("memory %s: %w", rec.Key, err)
		}
		hits = append(hits, Scored{Record: rec, Score: score})
	}
	return hits, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(ns Namespace, row rowScanner) (Record, error) {
	rec := Record{Namespace: ns}
	var blob []byte
	if err := row.Scan(&rec.Key, &rec.Content, &rec.Context, &blob, &rec.Seq, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	vec, err := decodeVector(blob)
	if err != nil {
		return Record{}, fmt.Errorf("memory %s: %w", rec.Key, err)
	}
	rec.Embedding = vec
	return rec, nil
}

// encodeVector packs float32 components little-endian.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("corrupt embedding of %d bytes", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}

// Open builds the backend named by driver.
func Open(driver, path string) (Backend, error) {
	switch driver {
	case "", "chromem":
		s, err := NewChromemStore(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported memory driver: %s", driver)
	}
}
