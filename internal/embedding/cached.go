package embedding

import (
	"context"

	"github.com/dgraph-io/ristretto"
)

// Cached memoizes an Embedder by exact text. Priming queries repeat the
// recent conversation, so most turns hit the cache at least once.
type Cached struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCached wraps inner with a cache holding up to size vectors.
func NewCached(inner Embedder, size int) (*Cached, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        int64(size) * 10,
		MaxCost:            int64(size),
		BufferItems:        64,
		// Cost counts vectors, not bytes.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &Cached{inner: inner, cache: cache}, nil
}

// Embed returns the cached vector for text or computes and stores it.
// Failed or invalid embeddings are never cached.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		if vec, ok := v.([]float32); ok {
			return append([]float32(nil), vec...), nil
		}
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if Validate(vec) == nil {
		c.cache.Set(text, append([]float32(nil), vec...), 1)
		c.cache.Wait()
	}
	return vec, nil
}

// Close releases the cache.
func (c *Cached) Close() {
	c.cache.Close()
}
