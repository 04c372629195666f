package state

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// MemoryStore keeps checkpoints in process memory. It stores and hands
// out copies, so callers never share a history slice with it.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*Checkpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string]*Checkpoint)}
}

func (s *MemoryStore) Save(ctx context.Context, cp *Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.threads[cp.ThreadID] = cp.Clone()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	cp, ok := s.threads[threadID]
	s.mu.RUnlock()
	if !ok {
		return nil, threadNotFound(threadID)
	}
	return cp.Clone(), nil
}

// List returns summaries newest first, ties broken by thread id.
func (s *MemoryStore) List(ctx context.Context, limit int) ([]ThreadSummary, error) {
	s.mu.RLock()
	out := make([]ThreadSummary, 0, len(s.threads))
	for _, cp := range s.threads {
		out = append(out, cp.Summary())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b ThreadSummary) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ThreadID, b.ThreadID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[threadID]; !ok {
		return threadNotFound(threadID)
	}
	delete(s.threads, threadID)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
