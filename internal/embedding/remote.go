package embedding

import (
	"fmt"

	"github.com/philippgille/chromem-go"

	memErrors "github.com/cadre-oss/memchat/internal/errors"
)

// Options selects and configures an embedder.
type Options struct {
	Provider   string // hash, openai, ollama
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
	CacheSize  int
}

// New builds the embedder named by opts.Provider, wrapped in a cache when
// CacheSize is positive.
func New(opts Options) (Embedder, error) {
	var base Embedder
	switch opts.Provider {
	case "", "hash":
		base = NewHashEmbedder(opts.Dimensions)
	case "openai":
		e, err := NewOpenAI(opts.APIKey, opts.Model)
		if err != nil {
			return nil, err
		}
		base = e
	case "ollama":
		base = NewOllama(opts.Model, opts.BaseURL)
	default:
		return nil, memErrors.Newf(memErrors.CodeConfigInvalid, "unsupported embedding provider %q", opts.Provider)
	}

	if opts.CacheSize <= 0 {
		return base, nil
	}
	cached, err := NewCached(base, opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return cached, nil
}

// NewOpenAI returns an embedder backed by the OpenAI embeddings API.
func NewOpenAI(apiKey, model string) (Embedder, error) {
	if apiKey == "" {
		return nil, memErrors.New(memErrors.CodeAPIKeyMissing, "OPENAI_API_KEY not set").
			WithSuggestion("Set OPENAI_API_KEY or embedding.api_key, or use embedding.provider: hash")
	}
	if model == "" {
		model = string(chromem.EmbeddingModelOpenAI3Small)
	}
	return Func(chromem.NewEmbeddingFuncOpenAI(apiKey, chromem.EmbeddingModelOpenAI(model))), nil
}

// NewOllama returns an embedder backed by a local Ollama server. An empty
// baseURL uses Ollama's default address.
func NewOllama(model, baseURL string) Embedder {
	if model == "" {
		model = "nomic-embed-text"
	}
	return Func(chromem.NewEmbeddingFuncOllama(model, baseURL))
}
