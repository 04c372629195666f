package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
)

const (
	metaContext   = "context"
	metaSeq       = "seq"
	metaCreatedAt = "created_at"
	metaUpdatedAt = "updated_at"
	metaUserID    = "user_id"
)

// ChromemStore keeps one chromem collection per namespace. Writers hold
// docMu exclusively and queries hold it shared, so a query never sees a
// document count that a concurrent delete has already invalidated.
type ChromemStore struct {
	db          *chromem.DB
	collections map[Namespace]*chromem.Collection
	mu          sync.RWMutex
	docMu       sync.RWMutex
	seq         sequencer
}

// NewChromemStore creates an in-memory chromem store. With a non-empty
// path the database is persisted to that directory instead.
func NewChromemStore(path string) (*ChromemStore, error) {
	db := chromem.NewDB()
	if path != "" {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem database: %w", err)
		}
	}

	return &ChromemStore{
		db:          db,
		collections: make(map[Namespace]*chromem.Collection),
	}, nil
}

// errNoEmbedding guards the collection embedding func: vectors always come
// from memory.Store, so chromem must never compute one itself.
func errNoEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("chromem store requires precomputed embeddings")
}

func collectionName(ns Namespace) string {
	return ns.Kind + "__" + ns.UserID
}

// collection returns the namespace collection, creating it on first use.
func (s *ChromemStore) collection(ns Namespace) (*chromem.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[ns]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if col, ok := s.collections[ns]; ok {
		return col, nil
	}

	col, err := s.db.GetOrCreateCollection(collectionName(ns), map[string]string{metaUserID: ns.UserID}, errNoEmbedding)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	s.collections[ns] = col
	return col, nil
}

// Put upserts the record. Writes are serialized so that the created_at
// carried over from a replaced record and the new seq stay consistent.
func (s *ChromemStore) Put(ctx context.Context, rec Record) (Record, error) {
	col, err := s.collection(rec.Namespace)
	if err != nil {
		return Record{}, err
	}

	s.docMu.Lock()
	defer s.docMu.Unlock()

	now := time.Now().UTC()
	rec.CreatedAt = now
	if existing, err := col.GetByID(ctx, rec.Key); err == nil {
		if prev, err := docToRecord(rec.Namespace, existing); err == nil {
			rec.CreatedAt = prev.CreatedAt
		}
	}
	rec.UpdatedAt = now
	rec.Seq = s.seq.next()

	doc := chromem.Document{
		ID:        rec.Key,
		Content:   rec.Content,
		Embedding: rec.Embedding,
		Metadata: map[string]string{
			metaContext:   rec.Context,
			metaSeq:       strconv.FormatInt(rec.Seq, 10),
			metaCreatedAt: rec.CreatedAt.Format(time.RFC3339Nano),
			metaUpdatedAt: rec.UpdatedAt.Format(time.RFC3339Nano),
			metaUserID:    rec.Namespace.UserID,
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return Record{}, fmt.Errorf("add document: %w", err)
	}
	return rec, nil
}

// Get returns the record under key.
func (s *ChromemStore) Get(ctx context.Context, ns Namespace, key string) (Record, error) {
	col, err := s.collection(ns)
	if err != nil {
		return Record{}, err
	}
	doc, err := col.GetByID(ctx, key)
	if err != nil {
		return Record{}, notFound(ns, key)
	}
	return docToRecord(ns, doc)
}

// Delete removes the record under key.
func (s *ChromemStore) Delete(ctx context.Context, ns Namespace, key string) error {
	col, err := s.collection(ns)
	if err != nil {
		return err
	}

	s.docMu.Lock()
	defer s.docMu.Unlock()

	if _, err := col.GetByID(ctx, key); err != nil {
		return notFound(ns, key)
	}
	if err := col.Delete(ctx, nil, nil, key); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Query scores every document of the namespace. chromem refuses nResults
// larger than the collection, so the count is read first under the same
// shared lock as the query.
func (s *ChromemStore) Query(ctx context.Context, ns Namespace, vec []float32) ([]Scored, error) {
	col, err := s.collection(ns)
	if err != nil {
		return nil, err
	}

	s.docMu.RLock()
	defer s.docMu.RUnlock()

	n := col.Count()
	if n == 0 {
		return []Scored{}, nil
	}

	results, err := col.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	hits := make([]Scored, 0, len(results))
	for _, r := range results {
		rec, err := docToRecord(ns, chromem.Document{
			ID:        r.ID,
			Content:   r.Content,
			Embedding: r.Embedding,
			Metadata:  r.Metadata,
		})
		if err != nil {
			return nil, err
		}
		hits = append(hits, Scored{Record: rec, Score: float64(r.Similarity)})
	}
	return hits, nil
}

// Close releases resources. chromem has nothing to close.
func (s *ChromemStore) Close() error {
	return nil
}

func docToRecord(ns Namespace, doc chromem.Document) (Record, error) {
	seq, err := strconv.ParseInt(doc.Metadata[metaSeq], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("document %s: bad seq: %w", doc.ID, err)
	}
	created, _ := time.Parse(time.RFC3339Nano, doc.Metadata[metaCreatedAt])
	updated, _ := time.Parse(time.RFC3339Nano, doc.Metadata[metaUpdatedAt])
	return Record{
		Key:       doc.ID,
		Namespace: ns,
		Content:   doc.Content,
		Context:   doc.Metadata[metaContext],
		Embedding: doc.Embedding,
		Seq:       seq,
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}
