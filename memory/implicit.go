package memory

import (
	"context"
	"fmt"
)

// Implicit is the implicit memory façade: it analyzes text in vector space
// without persisting anything. Callers use it when the embedding itself is
// the product, e.g. for ad-hoc comparisons.
type Implicit struct {
	embedder Embedder
}

// NewImplicit wraps an embedder as implicit memory.
func NewImplicit(embedder Embedder) *Implicit {
	return &Implicit{embedder: embedder}
}

// Analyze categorizes text in vector space. Nothing is stored; the
// returned AnalyzedText carries no record id.
func (im *Implicit) Analyze(ctx context.Context, text string) (AnalyzedText, error) {
	embedding, err := im.embedder.Embed(ctx, text)
	if err != nil {
		return AnalyzedText{}, fmt.Errorf("embed text: %w", err)
	}
	return AnalyzedText{Source: text, Embedding: embedding}, nil
}
