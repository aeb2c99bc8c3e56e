// Package mock provides a deterministic embedder for tests and examples.
package mock

import (
	"context"
	"hash/fnv"
	"math"
)

// Embedder generates deterministic embeddings from a text hash. The same
// text always maps to the same unit vector, which is what the dedup and
// ranking paths need in tests; the vectors carry no real semantics.
type Embedder struct {
	dimensions int
}

// New creates a mock embedder with the default 384 dimensions
// (matching all-MiniLM-L6-v2).
func New() *Embedder {
	return NewWithDimensions(384)
}

// NewWithDimensions creates a mock embedder with a custom vector size.
func NewWithDimensions(dimensions int) *Embedder {
	return &Embedder{dimensions: dimensions}
}

// Embed creates a deterministic embedding from text.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))

	// Hash seeds an LCG; the stream fills the vector.
	seed := h.Sum64()
	embedding := make([]float32, m.dimensions)
	for i := 0; i < m.dimensions; i++ {
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}

	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

// normalize converts the embedding to a unit vector.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = v / norm
	}
	return normalized
}
