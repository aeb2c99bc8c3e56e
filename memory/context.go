package memory

import (
	"context"
	"fmt"
	"strconv"
)

// Context is the context memory façade: it projects chronicle log rows into
// the vector space, keyed by their chronicle id, so time-logged facts can
// be found again by similarity of context.
//
// Unlike Episodic it writes directly to the index: the chronicle id is the
// record id, and the chronicle already guarantees one row per insert.
type Context struct {
	embedder Embedder
	index    Index
}

// NewContext composes an embedder with a vector index.
func NewContext(embedder Embedder, index Index) *Context {
	return &Context{embedder: embedder, index: index}
}

// Add embeds content and stores it under the given chronicle row id.
func (c *Context) Add(ctx context.Context, chronicleID int64, content string, metadata map[string]any) error {
	embedding, err := c.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed content: %w", err)
	}
	return c.index.Add(ctx, strconv.FormatInt(chronicleID, 10), embedding, content, metadata)
}

// Get retrieves the vector record stored for a chronicle row.
// A miss returns ErrNotFound.
func (c *Context) Get(ctx context.Context, chronicleID int64) (Record, error) {
	return c.index.Get(ctx, strconv.FormatInt(chronicleID, 10))
}

// SimilarTo returns up to n stored records similar to the given content
// sample, optionally narrowed by an exact-match metadata filter.
func (c *Context) SimilarTo(ctx context.Context, content string, n int, where map[string]string) ([]Match, error) {
	embedding, err := c.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	return c.index.Query(ctx, embedding, n, where)
}
