package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	memErrors "github.com/cadre-oss/memchat/internal/errors"
)

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	a, err := e.Embed(context.Background(), "User likes dark mode")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := e.Embed(context.Background(), "user LIKES dark-mode!")
	if len(a) != 64 {
		t.Fatalf("expected 64 dims, got %d", len(a))
	}
	sim, err := Cosine(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sim < 0.999 {
		t.Errorf("same tokens should embed identically, similarity %f", sim)
	}
}

func TestHashEmbedder_SharedWordsScoreHigher(t *testing.T) {
	e := NewHashEmbedder(256)
	ctx := context.Background()
	query, _ := e.Embed(ctx, "what tea does the user like")
	related, _ := e.Embed(ctx, "the user likes green tea")
	unrelated, _ := e.Embed(ctx, "meeting scheduled for monday morning")

	simRelated, _ := Cosine(query, related)
	simUnrelated, _ := Cosine(query, unrelated)
	if simRelated <= simUnrelated {
		t.Errorf("expected related %f > unrelated %f", simRelated, simUnrelated)
	}
}

func TestHashEmbedder_EmptyTextFailsValidation(t *testing.T) {
	_, err := EmbedChecked(context.Background(), NewHashEmbedder(32), "  ...  ")
	if memErrors.AsCode(err) != memErrors.CodeEmbedding {
		t.Fatalf("expected EMBEDDING error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(nil); err == nil {
		t.Error("expected error for empty vector")
	}
	if err := Validate([]float32{0, 0, 0}); err == nil {
		t.Error("expected error for zero vector")
	}
	if err := Validate([]float32{0, 1, 0}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEmbedChecked_WrapsFailures(t *testing.T) {
	failing := Func(func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("service unavailable")
	})
	_, err := EmbedChecked(context.Background(), failing, "x")
	if memErrors.AsCode(err) != memErrors.CodeEmbedding {
		t.Fatalf("expected EMBEDDING error, got %v", err)
	}
}

func TestCosine(t *testing.T) {
	sim, err := Cosine([]float32{1, 0}, []float32{1, 0})
	if err != nil || sim != 1 {
		t.Errorf("expected 1, got %f (%v)", sim, err)
	}
	sim, _ = Cosine([]float32{1, 0}, []float32{0, 1})
	if sim != 0 {
		t.Errorf("expected 0, got %f", sim)
	}
	if _, err := Cosine([]float32{1}, []float32{1, 0}); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestCached_HitsSkipInner(t *testing.T) {
	var calls int32
	inner := Func(func(ctx context.Context, text string) ([]float32, error) {
		atomic.AddInt32(&calls, 1)
		return []float32{1, 2, 3}, nil
	})
	cached, err := NewCached(inner, 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cached.Close()

	first, _ := cached.Embed(context.Background(), "hello")
	first[0] = 99 // callers must not be able to corrupt the cache
	second, _ := cached.Embed(context.Background(), "hello")

	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected 1 inner call, got %d", calls)
	}
	if second[0] != 1 {
		t.Errorf("cached vector was mutated: %v", second)
	}
}

func TestCached_DoesNotCacheZeroVectors(t *testing.T) {
	var calls int32
	inner := Func(func(ctx context.Context, text string) ([]float32, error) {
		atomic.AddInt32(&calls, 1)
		return []float32{0, 0}, nil
	})
	cached, err := NewCached(inner, 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cached.Close()

	cached.Embed(context.Background(), "x")
	cached.Embed(context.Background(), "x")
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("expected 2 inner calls, got %d", calls)
	}
}

func TestNew_SelectsProvider(t *testing.T) {
	e, err := New(Options{Provider: "hash", Dimensions: 16})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := e.(*HashEmbedder); !ok {
		t.Errorf("expected *HashEmbedder without cache, got %T", e)
	}

	e, err = New(Options{Provider: "hash", Dimensions: 16, CacheSize: 8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := e.(*Cached); !ok {
		t.Errorf("expected *Cached, got %T", e)
	}

	if _, err := New(Options{Provider: "openai"}); memErrors.AsCode(err) != memErrors.CodeAPIKeyMissing {
		t.Errorf("expected API_KEY_MISSING for openai without key, got %v", err)
	}
	if _, err := New(Options{Provider: "bert"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestOllama_UsesServer(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		// Answer both the legacy and the batch endpoint shapes.
		json.NewEncoder(w).Encode(map[string]interface{}{
			"embedding":  []float32{3, 4},
			"embeddings": [][]float32{{3, 4}},
		})
	}))
	defer server.Close()

	vec, err := EmbedChecked(context.Background(), NewOllama("nomic-embed-text", server.URL+"/api"), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("expected 1 request, got %d", hits)
	}
	if len(vec) != 2 {
		t.Fatalf("expected 2 dims, got %d", len(vec))
	}
	sim, _ := Cosine(vec, []float32{3, 4})
	if sim < 0.999 {
		t.Errorf("unexpected vector %v", vec)
	}
}
