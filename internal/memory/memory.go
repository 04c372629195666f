// Package memory is the namespaced long-term memory store. Records are
// embedded at write time and ranked by cosine similarity at query time.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	memErrors "github.com/cadre-oss/memchat/internal/errors"
)

// Kind is the first element of every memory namespace.
const Kind = "memories"

// Namespace scopes records to one user: ("memories", user_id).
type Namespace struct {
	Kind   string `json:"kind"`
	UserID string `json:"user_id"`
}

// UserNamespace builds the namespace for userID.
func UserNamespace(userID string) (Namespace, error) {
	ns := Namespace{Kind: Kind, UserID: userID}
	return ns, ns.Validate()
}

// Validate rejects namespaces that are not ("memories", non-empty user).
func (n Namespace) Validate() error {
	if n.Kind != Kind || strings.TrimSpace(n.UserID) == "" {
		return memErrors.Newf(memErrors.CodeNamespaceViolation, "invalid memory namespace %s", n)
	}
	return nil
}

func (n Namespace) String() string {
	return n.Kind + "/" + n.UserID
}

// Record is one stored memory.
type Record struct {
	Key       string    `json:"memory_id"`
	Namespace Namespace `json:"namespace"`
	Content   string    `json:"content"`
	Context   string    `json:"context"`
	Embedding []float32 `json:"-"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Scored is a search hit.
type Scored struct {
	Record
	Score float64 `json:"score"`
}

// Backend persists records. Put assigns Seq and UpdatedAt and keeps the
// CreatedAt of a record it replaces. Query returns every match in the
// namespace ranked by Rank; the Store applies the limit.
type Backend interface {
	Put(ctx context.Context, rec Record) (Record, error)
	Get(ctx context.Context, ns Namespace, key string) (Record, error)
	Delete(ctx context.Context, ns Namespace, key string) error
	Query(ctx context.Context, ns Namespace, vec []float32) ([]Scored, error)
	Close() error
}

// Rank orders hits by score descending, most recent write first on ties.
func Rank(hits []Scored) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Seq > hits[j].Seq
	})
}

// sequencer hands out strictly increasing insertion numbers. Seeded from
// the wall clock so numbers keep growing across restarts.
type sequencer struct {
	mu   sync.Mutex
	last int64
}

func (s *sequencer) observe(seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq > s.last {
		s.last = seq
	}
}

func (s *sequencer) next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixNano()
	if now <= s.last {
		now = s.last + 1
	}
	s.last = now
	return now
}

func notFound(ns Namespace, key string) error {
	return memErrors.Newf(memErrors.CodeNotFound, "memory %q not found in %s", key, ns)
}
