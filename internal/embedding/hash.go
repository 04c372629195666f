package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// HashEmbedder is an offline bag-of-words embedder. Each lowercased token
// is hashed into one of Dimensions buckets with a hash-derived sign, so
// texts sharing words land close together. Deterministic; no network.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns a HashEmbedder producing vectors of the given size.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Dimensions returns the embedding size.
func (h *HashEmbedder) Dimensions() int {
	return h.dimensions
}

// Embed hashes the tokens of text. Text without tokens yields a zero
// vector, which Validate rejects.
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, h.dimensions)
	for _, tok := range Tokenize(text) {
		hasher := fnv.New64a()
		hasher.Write([]byte(tok))
		sum := hasher.Sum64()

		idx := int(sum % uint64(h.dimensions))
		if sum&(1<<63) != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}
	return Normalize(vec), nil
}

// Tokenize lowercases text and splits it on anything that is not a letter or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
