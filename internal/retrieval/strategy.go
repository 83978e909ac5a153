// Package retrieval implements hybrid knowledge-base search: tag lookup,
// vector similarity, and full-text fallback merged into one ranked list.
package retrieval

import (
	"context"

	"github.com/ridgelineparts/triage/internal/model"
	"github.com/ridgelineparts/triage/internal/store"
)

// SearchContext carries what is known about the request being answered.
type SearchContext struct {
	Intent     string
	Query      string
	VehicleTag string
	ProductTag string
}

// ScoredMatch is one raw hit from a single strategy, scored in [0,1] before
// weighting.
type ScoredMatch struct {
	Document model.Document
	Chunk    *model.Chunk
	Score    float64
}

// Strategy is one independent retrieval pass. Strategies are individually
// fault-tolerant: an error excludes the pass from the merge, nothing more.
type Strategy interface {
	Name() string
	Search(ctx context.Context, sc SearchContext, limit int) ([]ScoredMatch, error)
}

// Embedder produces the query embedding for semantic search. Embedding
// generation itself lives outside this system.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// IntentStrategy matches documents by their intent-tag set. A tag match is a
// perfect hit before weighting.
type IntentStrategy struct {
	store store.Store
}

// NewIntentStrategy creates the intent-tag lookup pass.
func NewIntentStrategy(s store.Store) *IntentStrategy {
	return &IntentStrategy{store: s}
}

func (s *IntentStrategy) Name() string { return "intent" }

func (s *IntentStrategy) Search(ctx context.Context, sc SearchContext, limit int) ([]ScoredMatch, error) {
	if sc.Intent == "" || sc.Intent == model.IntentUnknown {
		return nil, nil
	}
	docs, err := s.store.ListDocumentsByIntent(ctx, sc.Intent)
	if err != nil {
		return nil, err
	}
	if len(docs) > limit {
		docs = docs[:limit]
	}
	out := make([]ScoredMatch, len(docs))
	for i, d := range docs {
		out[i] = ScoredMatch{Document: d, Score: 1.0}
	}
	return out, nil
}

// SemanticStrategy ranks chunks by embedding cosine similarity, filtered by
// optional vehicle/product tags.
type SemanticStrategy struct {
	store    store.Store
	embedder Embedder
}

// NewSemanticStrategy creates the vector similarity pass.
func NewSemanticStrategy(s store.Store, e Embedder) *SemanticStrategy {
	return &SemanticStrategy{store: s, embedder: e}
}

func (s *SemanticStrategy) Name() string { return "semantic" }

func (s *SemanticStrategy) Search(ctx context.Context, sc SearchContext, limit int) ([]ScoredMatch, error) {
	if s.embedder == nil || sc.Query == "" {
		return nil, nil
	}
	embedding, err := s.embedder.Embed(ctx, sc.Query)
	if err != nil {
		return nil, err
	}

	// Over-fetch so overlap with other passes still leaves enough results
	// after deduplication.
	chunks, docs, scores, err := s.store.SearchChunks(ctx, embedding, store.ChunkFilter{
		VehicleTag: sc.VehicleTag,
		ProductTag: sc.ProductTag,
	}, limit*2)
	if err != nil {
		return nil, err
	}

	out := make([]ScoredMatch, len(chunks))
	for i := range chunks {
		chunk := chunks[i]
		out[i] = ScoredMatch{Document: docs[i], Chunk: &chunk, Score: scores[i]}
	}
	return out, nil
}

// TextStrategy is the plain substring fallback, lowest confidence tier. It
// only runs when the merged set from the other passes comes up short.
type TextStrategy struct {
	store store.Store
}

// NewTextStrategy creates the full-text fallback pass.
func NewTextStrategy(s store.Store) *TextStrategy {
	return &TextStrategy{store: s}
}

func (s *TextStrategy) Name() string { return "text" }

func (s *TextStrategy) Search(ctx context.Context, sc SearchContext, limit int) ([]ScoredMatch, error) {
	if sc.Query == "" {
		return nil, nil
	}
	docs, err := s.store.SearchDocumentsByText(ctx, sc.Query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredMatch, len(docs))
	for i, d := range docs {
		out[i] = ScoredMatch{Document: d, Score: 1.0}
	}
	return out, nil
}
