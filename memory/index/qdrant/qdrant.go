// Package qdrant adapts a remote Qdrant endpoint to the memory.Index
// interface, speaking the Qdrant HTTP API directly.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/verdantlabs/recall/memory"
)

// Payload keys reserved by the adapter. Everything else in a point payload
// is record metadata.
const (
	payloadID      = "_id"
	payloadContent = "_content"
	payloadSeq     = "_seq"
)

// Config holds the flat set of options for the remote index.
type Config struct {
	// Host of the Qdrant endpoint. Default: "localhost".
	Host string

	// Port of the Qdrant endpoint. Default: 6333.
	Port int

	// HTTPS selects the API mode (http vs https).
	HTTPS bool

	// APIKey authenticates against Qdrant Cloud. Optional.
	APIKey string

	// Collection names the isolated namespace within the index.
	Collection string

	// Dimension fixes the embedding length for the collection. Zero means
	// the dimension is pinned by the first Add.
	Dimension int

	// Timeout bounds every HTTP call. Default: 30s. Context cancellation
	// is honored independently of the timeout.
	Timeout time.Duration

	// CreateCollection provisions the collection if absent. Idempotent.
	CreateCollection bool
}

// Index is a remote vector index backed by one Qdrant collection.
type Index struct {
	config  Config
	client  *http.Client
	baseURL string

	mu  sync.Mutex
	dim int
	seq atomic.Int64
}

// New configures a remote index. With CreateCollection set it verifies
// connectivity and provisions the collection schema once.
func New(config Config) (*Index, error) {
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.Port == 0 {
		config.Port = 6333
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Collection == "" {
		return nil, fmt.Errorf("qdrant: collection name is required")
	}

	scheme := "http"
	if config.HTTPS {
		scheme = "https"
	}

	ix := &Index{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		baseURL: fmt.Sprintf("%s://%s:%d", scheme, config.Host, config.Port),
		dim:     config.Dimension,
	}
	ix.seq.Store(time.Now().UnixNano())

	if config.CreateCollection {
		if err := ix.ensureCollection(context.Background()); err != nil {
			return nil, err
		}
	}

	return ix, nil
}

// ensureCollection provisions the collection if absent.
func (ix *Index) ensureCollection(ctx context.Context) error {
	if _, err := ix.doRequest(ctx, http.MethodGet, "/collections/"+ix.config.Collection, nil); err == nil {
		return nil
	}

	req := map[string]any{
		"vectors": map[string]any{
			"size":     ix.config.Dimension,
			"distance": "Cosine",
		},
	}
	if _, err := ix.doRequest(ctx, http.MethodPut, "/collections/"+ix.config.Collection, req); err != nil {
		return fmt.Errorf("create collection %s: %w", ix.config.Collection, err)
	}
	return nil
}

// Add upserts one vector under the given id.
func (ix *Index) Add(ctx context.Context, id string, embedding []float32, content string, metadata map[string]any) error {
	if err := ix.checkDimension(embedding, true); err != nil {
		return err
	}

	payload := map[string]any{
		payloadID:      id,
		payloadContent: content,
		payloadSeq:     ix.seq.Add(1),
	}
	for k, v := range metadata {
		payload[k] = v
	}

	req := map[string]any{
		"points": []map[string]any{{
			"id":      toPointID(id),
			"vector":  embedding,
			"payload": payload,
		}},
	}

	if _, err := ix.doRequest(ctx, http.MethodPut, "/collections/"+ix.config.Collection+"/points?wait=true", req); err != nil {
		return fmt.Errorf("add point %s (collection=%s): %w", id, ix.config.Collection, err)
	}
	return nil
}

// Get retrieves one record by id.
func (ix *Index) Get(ctx context.Context, id string) (memory.Record, error) {
	req := map[string]any{
		"ids":          []any{toPointID(id)},
		"with_payload": true,
		"with_vector":  true,
	}

	resp, err := ix.doRequest(ctx, http.MethodPost, "/collections/"+ix.config.Collection+"/points", req)
	if err != nil {
		return memory.Record{}, fmt.Errorf("get %s (collection=%s): %w", id, ix.config.Collection, err)
	}

	var parsed getResponse
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return memory.Record{}, fmt.Errorf("parse get response (collection=%s): %w", ix.config.Collection, err)
	}
	if len(parsed.Result) == 0 {
		return memory.Record{}, fmt.Errorf("get %s (collection=%s): %w", id, ix.config.Collection, memory.ErrNotFound)
	}

	rec, _ := recordFromPayload(parsed.Result[0].Payload, parsed.Result[0].Vector)
	return rec, nil
}

// Query returns up to k records nearest to embedding, ascending by
// distance (1 - cosine score), ties broken by insertion order.
func (ix *Index) Query(ctx context.Context, embedding []float32, k int, where map[string]string) ([]memory.Match, error) {
	if err := ix.checkDimension(embedding, false); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	req := map[string]any{
		"vector":       embedding,
		"limit":        k,
		"with_payload": true,
		"with_vector":  true,
	}
	if len(where) > 0 {
		conditions := make([]map[string]any, 0, len(where))
		for key, val := range where {
			conditions = append(conditions, map[string]any{
				"key":   key,
				"match": map[string]any{"value": val},
			})
		}
		req["filter"] = map[string]any{"must": conditions}
	}

	resp, err := ix.doRequest(ctx, http.MethodPost, "/collections/"+ix.config.Collection+"/points/search", req)
	if err != nil {
		return nil, fmt.Errorf("query (collection=%s): %w", ix.config.Collection, err)
	}

	var parsed searchResponse
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return nil, fmt.Errorf("parse search response (collection=%s): %w", ix.config.Collection, err)
	}

	matches := make([]memory.Match, 0, len(parsed.Result))
	seqs := make([]int64, 0, len(parsed.Result))
	for _, p := range parsed.Result {
		rec, seq := recordFromPayload(p.Payload, p.Vector)
		matches = append(matches, memory.Match{Record: rec, Distance: 1 - p.Score})
		seqs = append(seqs, seq)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return seqs[i] < seqs[j]
	})

	return matches, nil
}

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
			len(embedding), ix.config.Collection, ix.dim, memory.ErrDimensionMismatch)
	}
	return nil
}

// doRequest executes one HTTP call. Transport failures surface as
// memory.ErrStoreUnavailable so callers can apply retry logic.
func (ix *Index) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, ix.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ix.config.APIKey != "" {
		req.Header.Set("api-key", ix.config.APIKey)
	}

	resp, err := ix.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", memory.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// toPointID maps a record id to a Qdrant point id. Qdrant only accepts
// UUIDs or unsigned integers; other ids are hashed, with the original kept
// in the payload.
func toPointID(id string) any {
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		return n
	}
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	var hash uint64
	for i := 0; i < len(id); i++ {
		hash = hash*31 + uint64(id[i])
	}
	return hash
}

// recordFromPayload rebuilds a record from a point payload, splitting the
// adapter's reserved keys from caller metadata.
func recordFromPayload(payload map[string]any, vector []float32) (memory.Record, int64) {
	rec := memory.Record{Embedding: vector}
	var seq int64

	for k, v := range payload {
		switch k {
		case payloadID:
			rec.ID, _ = v.(string)
		case payloadContent:
			rec.Content, _ = v.(string)
		case payloadSeq:
			if f, ok := v.(float64); ok {
				seq = int64(f)
			}
		default:
			if rec.Metadata == nil {
				rec.Metadata = make(map[string]any)
			}
			rec.Metadata[k] = v
		}
	}
	return rec, seq
}

type searchResponse struct {
	Result []searchPoint `json:"result"`
}

type searchPoint struct {
	ID      any            `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload"`
	Vector  []float32      `json:"vector"`
}

type getResponse struct {
	Result []getPoint `json:"result"`
}

type getPoint struct {
	ID      any            `json:"id"`
	Payload map[string]any `json:"payload"`
	Vector  []float32      `json:"vector"`
}

var _ memory.Index = (*Index)(nil)
