// Package embedding turns text into vectors for memory writes and queries.
// The same Embedder instance must serve both so that scores are comparable.
package embedding

import (
	"context"
	"fmt"
	"math"

	memErrors "github.com/cadre-oss/memchat/internal/errors"
)

// Embedder computes a vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Func adapts a plain function to Embedder. Its signature matches
// chromem.EmbeddingFunc so either can be passed where the other is expected.
type Func func(ctx context.Context, text string) ([]float32, error)

func (f Func) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// Validate rejects vectors no similarity can be computed against.
func Validate(vec []float32) error {
	if len(vec) == 0 {
		return memErrors.New(memErrors.CodeEmbedding, "embedder returned an empty vector")
	}
	for _, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return memErrors.New(memErrors.CodeEmbedding, "embedder returned a non-finite component")
		}
	}
	if Norm(vec) == 0 {
		return memErrors.New(memErrors.CodeEmbedding, "embedder returned a zero vector")
	}
	return nil
}

// EmbedChecked calls e and validates the result, wrapping any failure in
// an EMBEDDING error.
func EmbedChecked(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vec, err := e.Embed(ctx, text)
	if err != nil {
		if memErrors.AsCode(err) == memErrors.CodeEmbedding {
			return nil, err
		}
		return nil, memErrors.Wrap(memErrors.CodeEmbedding, "embedding failed", err)
	}
	if err := Validate(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// Norm returns the L2 norm of vec.
func Norm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of vec. A zero vector is returned as is.
func Normalize(vec []float32) []float32 {
	n := Norm(vec)
	out := make([]float32, len(vec))
	if n == 0 {
		copy(out, vec)
		return out
	}
	for i, v := range vec {
		out[i] = float32(float64(v) / n)
	}
	return out
}

// Cosine returns the cosine similarity of a and b.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0, nil
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (na * nb), nil
}
