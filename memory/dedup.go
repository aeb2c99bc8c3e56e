package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
)

// HashKey is the metadata key carrying the content hash of every record
// written through Store.
const HashKey = "content_hash"

// probeLimit bounds the duplicate probe. The ceiling is deliberately high
// so the hash pre-filter catches all same-hash entries regardless of how
// far their embeddings drifted from the probe vector.
const probeLimit = 512

// StoreConfig holds Store configuration.
type StoreConfig struct {
	// CacheSize caps the read-through record cache in bytes.
	// Default: 32 MiB. Set negative to disable the cache.
	CacheSize int64
}

// Store is the deduplicating vector store: the write/read contract with an
// at-most-one-record-per-content guarantee, built on top of an Index.
//
// The guarantee is best effort under concurrency: the probe-then-insert
// sequence is not atomic per content hash, so concurrent identical writes
// may briefly create more than one record. Sequential re-submission always
// converges to the first canonical id.
type Store struct {
	index Index
	cache *ristretto.Cache
}

// NewStore creates a deduplicating store over the given index.
func NewStore(index Index, config *StoreConfig) (*Store, error) {
	cacheSize := int64(32 << 20)
	if config != nil && config.CacheSize != 0 {
		cacheSize = config.CacheSize
	}

	s := &Store{index: index}

	if cacheSize > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: 100_000,
			MaxCost:     cacheSize,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("create record cache: %w", err)
		}
		s.cache = cache
	}

	return s, nil
}

// Add writes content with its embedding and returns the record id.
//
// Identical content, submitted any number of times, resolves to one
// canonical id: Add probes the index for records sharing the content hash
// and returns the existing id when the stored text matches exactly. The
// write is then an invisible success, not an error.
//
// Probe failure policy: the probe is retried once; if it still fails, the
// content is treated as new and the failure is logged as a warning. This
// favors availability over strict dedup when the index misbehaves: a
// write is never blocked and never silently dropped. ErrDimensionMismatch
// is the exception and fails the write immediately, since an embedding of
// the wrong shape can neither be probed nor stored.
func (s *Store) Add(ctx context.Context, embedding []float32, content string, metadata map[string]any) (string, error) {
	hash := hashContent(content)

	existing, err := s.probeDuplicate(ctx, embedding, content, hash)
	switch {
	case errors.Is(err, ErrDimensionMismatch):
		// Permanent: the embedding cannot be stored either.
		return "", err
	case err != nil:
		log.Printf("[DEDUP] %v (hash=%s), treating content as new", err, hash)
	case existing != "":
		return existing, nil
	}

	id := uuid.New().String()

	md := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		md[k] = v
	}
	md[HashKey] = hash

	if err := s.index.Add(ctx, id, embedding, content, md); err != nil {
		return "", fmt.Errorf("add record (hash=%s): %w", hash, err)
	}

	if s.cache != nil {
		// Cache a copy: the caller keeps ownership of its embedding buffer.
		rec := cloneRecord(Record{ID: id, Embedding: embedding, Content: content, Metadata: md})
		s.cache.Set(id, rec, recordCost(embedding, content))
	}

	return id, nil
}

// probeDuplicate looks for an already-stored record with identical content.
// Returns the canonical id, or "" when the content is unseen.
func (s *Store) probeDuplicate(ctx context.Context, embedding []float32, content string, hash string) (string, error) {
	where := map[string]string{HashKey: hash}

	matches, err := s.index.Query(ctx, embedding, probeLimit, where)
	if err != nil && !errors.Is(err, ErrDimensionMismatch) {
		// One bounded retry before degrading.
		matches, err = s.index.Query(ctx, embedding, probeLimit, where)
	}
	if err != nil {
		if errors.Is(err, ErrDimensionMismatch) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrDuplicateProbeFailed, err)
	}

	for _, m := range matches {
		if m.Content == content {
			return m.ID, nil
		}
	}
	return "", nil
}

// Get retrieves one record by id. A miss returns ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(id); ok {
			if rec, ok := v.(Record); ok {
				return cloneRecord(rec), nil
			}
		}
	}

	rec, err := s.index.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}

	if s.cache != nil {
		s.cache.Set(id, cloneRecord(rec), recordCost(rec.Embedding, rec.Content))
	}
	return rec, nil
}

// Query returns up to k records nearest to embedding, ascending by
// distance, ties broken by insertion order. No hash filter is applied.
func (s *Store) Query(ctx context.Context, embedding []float32, k int) ([]Match, error) {
	return s.index.Query(ctx, embedding, k, nil)
}

// hashContent computes the stable content hash used for duplicate probing.
// xxhash is not collision-resistant in the cryptographic sense, which is
// fine: the hash is a pre-filter, the exact-content comparison decides.
func hashContent(content string) string {
	return strconv.FormatUint(xxhash.Sum64String(content), 16)
}

func recordCost(embedding []float32, content string) int64 {
	return int64(len(content) + 4*len(embedding) + 64)
}

// cloneRecord copies a record so cached entries are never aliased by
// callers.
func cloneRecord(rec Record) Record {
	out := rec
	out.Embedding = append([]float32(nil), rec.Embedding...)
	if rec.Metadata != nil {
		out.Metadata = make(map[string]any, len(rec.Metadata))
		for k, v := range rec.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
