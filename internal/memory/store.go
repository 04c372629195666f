package memory

import (
	"context"
	"strings"

	"github.com/cadre-oss/memchat/internal/embedding"
	memErrors "github.com/cadre-oss/memchat/internal/errors"
	"github.com/cadre-oss/memchat/internal/telemetry"
)

// Store embeds content and delegates persistence to a Backend. It is safe
// for concurrent use; the backend serializes its own writes.
type Store struct {
	backend  Backend
	embedder embedding.Embedder
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
}

// NewStore wires a backend to the embedder used for both writes and queries.
func NewStore(backend Backend, embedder embedding.Embedder, logger *telemetry.Logger, metrics *telemetry.Metrics) *Store {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}
	return &Store{backend: backend, embedder: embedder, logger: logger, metrics: metrics}
}

// Put embeds content and upserts the record under key. Re-using a key
// replaces content, context and embedding and counts as a new insertion.
func (s *Store) Put(ctx context.Context, ns Namespace, key, content, memContext string) (Record, error) {
	if err := ns.Validate(); err != nil {
		return Record{}, err
	}
	if strings.TrimSpace(key) == "" {
		return Record{}, memErrors.New(memErrors.CodeUsage, "memory key is required")
	}

	vec, err := embedding.EmbedChecked(ctx, s.embedder, content)
	if err != nil {
		return Record{}, err
	}

	rec, err := s.backend.Put(ctx, Record{
		Key:       key,
		Namespace: ns,
		Content:   content,
		Context:   memContext,
		Embedding: vec,
	})
	if err != nil {
		return Record{}, storageErr("memory write failed", err)
	}

	s.metrics.IncMemoryWrites()
	s.logger.Debug("Memory stored", "namespace", ns.String(), "memory_id", key, "seq", rec.Seq)
	return rec, nil
}

// Get returns the record under key or a NOT_FOUND error.
func (s *Store) Get(ctx context.Context, ns Namespace, key string) (Record, error) {
	if err := ns.Validate(); err != nil {
		return Record{}, err
	}
	rec, err := s.backend.Get(ctx, ns, key)
	if err != nil {
		return Record{}, storageErr("memory read failed", err)
	}
	return rec, nil
}

// Delete removes the record under key or returns NOT_FOUND.
func (s *Store) Delete(ctx context.Context, ns Namespace, key string) error {
	if err := ns.Validate(); err != nil {
		return err
	}
	if err := s.backend.Delete(ctx, ns, key); err != nil {
		return storageErr("memory delete failed", err)
	}
	s.logger.Debug("Memory deleted", "namespace", ns.String(), "memory_id", key)
	return nil
}

// Search returns up to limit records of ns ranked by similarity to query.
// An empty namespace yields an empty result.
func (s *Store) Search(ctx context.Context, ns Namespace, query string, limit int) ([]Scored, error) {
	if err := ns.Validate(); err != nil {
		return nil, err
	}
	if limit < 1 {
		return nil, memErrors.Newf(memErrors.CodeUsage, "search limit must be at least 1, got %d", limit)
	}

	vec, err := embedding.EmbedChecked(ctx, s.embedder, query)
	if err != nil {
		return nil, err
	}

	hits, err := s.backend.Query(ctx, ns, vec)
	if err != nil {
		return nil, storageErr("memory search failed", err)
	}
	s.metrics.IncMemorySearches()

	Rank(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	if hits == nil {
		hits = []Scored{}
	}
	return hits, nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// storageErr passes coded errors through and wraps the rest as STORAGE.
func storageErr(msg string, err error) error {
	if memErrors.AsCode(err) != "" {
		return err
	}
	return memErrors.Wrap(memErrors.CodeStorage, msg, err)
}
