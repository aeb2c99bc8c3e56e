// Package chromem adapts chromem-go, a pure Go embedded vector database,
// to the memory.Index interface.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/verdantlabs/recall/memory"
)

// DefaultCollection is used when Config.Collection is empty.
const DefaultCollection = "human_context"

// Config holds the flat set of options for the embedded index.
type Config struct {
	// Collection names the isolated namespace within the index.
	// Default: DefaultCollection.
	Collection string

	// Dimension fixes the embedding length for the collection. Zero means
	// the dimension is pinned by the first Add.
	Dimension int

	// PersistPath, when non-empty, stores the index on disk at that path
	// instead of keeping it purely in memory.
	PersistPath string

	// Compress gzips persisted index files. Ignored without PersistPath.
	Compress bool
}

type entry struct {
	seq int64
	rec memory.Record
}

// Index wraps one chromem-go collection.
//
// chromem-go exposes no get-by-id and no deterministic tie ordering, so the
// adapter mirrors records by id with insertion sequence numbers: Get is
// served from the mirror, and query results are re-ranked by
// (distance, insertion order).
type Index struct {
	name string
	col  *chromem.Collection

	mu      sync.RWMutex
	dim     int
	docs    map[string]entry
	nextSeq int64
}

// New creates an embedded index for one collection.
func New(config Config) (*Index, error) {
	name := config.Collection
	if name == "" {
		name = DefaultCollection
	}

	var db *chromem.DB
	var err error
	if config.PersistPath != "" {
		db, err = chromem.NewPersistentDB(config.PersistPath, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("open persistent index (collection=%s): %w", name, err)
		}
	} else {
		db = chromem.NewDB()
	}

	// We supply embeddings ourselves, so no embedding func; default cosine
	// distance.
	col, err := db.CreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", name, err)
	}

	return &Index{
		name: name,
		col:  col,
		dim:  config.Dimension,
		docs: make(map[string]entry),
	}, nil
}

// Add inserts one vector with an externally supplied id.
func (ix *Index) Add(ctx context.Context, id string, embedding []float32, content string, metadata map[string]any) error {
	if err := ix.checkDimension(embedding, true); err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        id,
		Content:   content,
		Embedding: embedding,
		Metadata:  encodeMetadata(metadata),
	}
	if err := ix.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document %s (collection=%s): %w", id, ix.name, err)
	}

	rec := memory.Record{
		ID:        id,
		Embedding: append([]float32(nil), embedding...),
		Content:   content,
	}
	if metadata != nil {
		rec.Metadata = make(map[string]any, len(metadata))
		for k, v := range metadata {
			rec.Metadata[k] = v
		}
	}

	ix.mu.Lock()
	ix.docs[id] = entry{seq: ix.nextSeq, rec: rec}
	ix.nextSeq++
	ix.mu.Unlock()

	return nil
}

// Get retrieves one record by id.
func (ix *Index) Get(ctx context.Context, id string) (memory.Record, error) {
	ix.mu.RLock()
	e, ok := ix.docs[id]
	ix.mu.RUnlock()

	if !ok {
		return memory.Record{}, fmt.Errorf("get %s (collection=%s): %w", id, ix.name, memory.ErrNotFound)
	}
	return cloneRecord(e.rec), nil
}

// Query returns up to k records nearest to embedding, ascending by
// distance (1 - cosine similarity), ties broken by insertion order.
func (ix *Index) Query(ctx context.Context, embedding []float32, k int, where map[string]string) ([]memory.Match, error) {
	if err := ix.checkDimension(embedding, false); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	// chromem rejects nResults above the collection size, and with a where
	// filter the effective ceiling can be smaller still. Clamp, then back
	// off on the specific error.
	if count := ix.col.Count(); count < k {
		if count == 0 {
			return nil, nil
		}
		k = count
	}

	var results []chromem.Result
	for n := k; ; n-- {
		var err error
		results, err = ix.col.QueryEmbedding(ctx, embedding, n, where, nil)
		if err == nil {
			break
		}
		if !isInsufficientDocsError(err) {
			return nil, fmt.Errorf("query (collection=%s): %w", ix.name, err)
		}
		if n == 1 {
			return nil, nil
		}
	}

	ix.mu.RLock()
	matches := make([]memory.Match, 0, len(results))
	seqs := make([]int64, 0, len(results))
	for _, r := range results {
		e, ok := ix.docs[r.ID]
		if !ok {
			// Not mirrored (e.g. written by an earlier process against a
			// persisted index); fall back to the raw result.
			e = entry{seq: int64(len(ix.docs)), rec: recordFromResult(r)}
		}
		matches = append(matches, memory.Match{
			Record:   cloneRecord(e.rec),
			Distance: 1 - r.Similarity,
		})
		seqs = append(seqs, e.seq)
	}
	ix.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return seqs[i] < seqs[j]
	})

	return matches, nil
}

// Count reports the number of records in the collection.
func (ix *Index) Count() int {
	return ix.col.Count()
}

// checkDimension enforces the fixed embedding length, pinning it on the
// first write when not configured.
func (ix *Index) checkDimension(embedding []float32, pin bool) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.dim == 0 {
		if !pin {
			return nil
		}
		ix.dim = len(embedding)
		return nil
	}
	if len(embedding) != ix.dim {
		return fmt.Errorf("embedding has %d dimensions, collection %s expects %d: %w",
			len(embedding), ix.name, ix.dim, memory.ErrDimensionMismatch)
	}
	return nil
}

// encodeMetadata flattens scalar metadata into the string map chromem
// stores and filters on.
func encodeMetadata(metadata map[string]any) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			out[k] = val
		case bool:
			out[k] = strconv.FormatBool(val)
		case int:
			out[k] = strconv.Itoa(val)
		case int64:
			out[k] = strconv.FormatInt(val, 10)
		case float64:
			out[k] = strconv.FormatFloat(val, 'g', -1, 64)
		case float32:
			out[k] = strconv.FormatFloat(float64(val), 'g', -1, 32)
		default:
			if b, err := json.Marshal(v); err == nil {
				out[k] = string(b)
			}
		}
	}
	return out
}

// isInsufficientDocsError matches chromem's complaint when nResults
// exceeds the (filtered) document count.
func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}

func recordFromResult(r chromem.Result) memory.Record {
	rec := memory.Record{
		ID:        r.ID,
		Embedding: r.Embedding,
		Content:   r.Content,
	}
	if len(r.Metadata) > 0 {
		rec.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			rec.Metadata[k] = v
		}
	}
	return rec
}

func cloneRecord(rec memory.Record) memory.Record {
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

var _ memory.Index = (*Index)(nil)
