package memory

import "context"

// Record is one stored memory: an embedded text with its metadata.
// Records are immutable once written; callers always receive copies,
// never references into index-internal storage.
type Record struct {
	// ID is the opaque unique identifier assigned at write time.
	ID string

	// Embedding is the vector representation, fixed dimension per collection.
	Embedding []float32

	// Content is the raw text payload.
	Content string

	// Metadata maps string keys to scalar values. Records written through
	// Store always carry a "content_hash" entry.
	Metadata map[string]any
}

// Match is a Record returned by a similarity query, annotated with its
// distance from the query vector. Distance is non-negative dissimilarity:
// 0 means an identical vector. Queries return matches in ascending
// distance order, ties broken by insertion order (first inserted first).
type Match struct {
	Record
	Distance float32
}

// AnalyzedText is the result of running text through an Embedder,
// optionally persisted (ID is empty when nothing was stored).
type AnalyzedText struct {
	Source    string    // source text
	Embedding []float32 // text categorized in vector space
	ID        string    // record id, when remembered
}

// Index is the vector index backend interface. Implementations wrap an
// underlying nearest-neighbor index and hide its client details.
// Implementations: chromem (embedded), qdrant (remote).
//
// Mutating calls are durable once they return nil; no partial writes are
// observable. All calls honor context cancellation: a cancelled call
// commits nothing.
type Index interface {
	// Add inserts one vector under an externally supplied id.
	// Returns ErrDimensionMismatch if the embedding length disagrees with
	// the collection's fixed dimension, ErrStoreUnavailable if the backing
	// index cannot be reached.
	Add(ctx context.Context, id string, embedding []float32, content string, metadata map[string]any) error

	// Get retrieves one record by id. A miss returns ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)

	// Query returns up to k records nearest to embedding, ascending by
	// distance. The optional where clause is an exact-match predicate over
	// metadata, applied before the similarity ranking.
	Query(ctx context.Context, embedding []float32, k int, where map[string]string) ([]Match, error)
}

// Embedder converts text to vector embeddings. It is a consumed capability:
// this package never computes embeddings itself.
// Implementations: mock (testing), or any external provider client.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	// Returns an error wrapping ErrEmbeddingUnavailable when the provider
	// cannot be reached.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}
