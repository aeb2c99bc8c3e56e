package memory

import (
	"context"
	"fmt"
)

// Episodic is the episodic memory façade: it embeds text and persists it
// through the deduplicating store, so past episodes can be recalled by
// similarity of context.
type Episodic struct {
	embedder Embedder
	store    *Store
}

// NewEpisodic composes an embedder with a deduplicating store.
func NewEpisodic(embedder Embedder, store *Store) *Episodic {
	return &Episodic{embedder: embedder, store: store}
}

// Analyze categorizes text in vector space and returns its embedding.
func (e *Episodic) Analyze(ctx context.Context, text string) ([]float32, error) {
	embedding, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	return embedding, nil
}

// Remember embeds text and stores it for later similarity recall.
// Remembering the same text twice returns the same record id.
func (e *Episodic) Remember(ctx context.Context, text string) (AnalyzedText, error) {
	embedding, err := e.Analyze(ctx, text)
	if err != nil {
		return AnalyzedText{}, err
	}

	id, err := e.store.Add(ctx, embedding, text, nil)
	if err != nil {
		return AnalyzedText{}, err
	}

	return AnalyzedText{Source: text, Embedding: embedding, ID: id}, nil
}

// Recall returns up to k stored episodes nearest to text.
func (e *Episodic) Recall(ctx context.Context, text string, k int) ([]Match, error) {
	embedding, err := e.Analyze(ctx, text)
	if err != nil {
		return nil, err
	}
	return e.store.Query(ctx, embedding, k)
}
