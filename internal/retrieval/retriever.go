package retrieval

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ridgelineparts/triage/internal/model"
	"github.com/ridgelineparts/triage/internal/store"
	"github.com/ridgelineparts/triage/pkg/logger"
	"github.com/ridgelineparts/triage/pkg/metrics"
)

// Strategy weights. A document found by multiple passes accumulates their
// weighted scores; semantic and text contribute more when they surface a
// document no earlier pass found.
const (
	intentWeight       = 0.6
	semanticWeightNew  = 0.4
	semanticWeightSeen = 0.3
	textWeightNew      = 0.3
	textWeightSeen     = 0.1
)

// Options tunes one search call.
type Options struct {
	Limit    int
	MinScore float64
}

// Retriever merges the three retrieval passes into one deduplicated,
// normalized ranking.
type Retriever struct {
	intent   Strategy
	semantic Strategy
	text     Strategy
	timeout  time.Duration
	logger   *logger.Logger
}

// New creates a retriever over the store with the given embedder. A timeout
// of zero disables the search deadline.
func New(s store.Store, embedder Embedder, timeout time.Duration, log *logger.Logger) *Retriever {
	return &Retriever{
		intent:   NewIntentStrategy(s),
		semantic: NewSemanticStrategy(s, embedder),
		text:     NewTextStrategy(s),
		timeout:  timeout,
		logger:   log,
	}
}

// NewWithStrategies wires explicit strategies, for tests.
func NewWithStrategies(intent, semantic, text Strategy, timeout time.Duration, log *logger.Logger) *Retriever {
	return &Retriever{intent: intent, semantic: semantic, text: text, timeout: timeout, logger: log}
}

type mergedResult struct {
	doc     model.Document
	chunk   *model.Chunk
	score   float64
	sources []string
}

// Search runs the passes in order, merges per document id, filters by
// MinScore, and truncates to Limit. Every returned score is in [0,1] and no
// document id appears twice.
func (r *Retriever) Search(ctx context.Context, sc SearchContext, opts Options) []model.SearchResult {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 5
	}
	minScore := opts.MinScore
	if minScore <= 0 {
		minScore = 0.3
	}

	merged := make(map[string]*mergedResult)

	// Pass 1: intent tag lookup.
	for _, m := range r.run(ctx, r.intent, sc, limit) {
		merged[m.Document.ID] = &mergedResult{
			doc:     m.Document,
			chunk:   m.Chunk,
			score:   m.Score * intentWeight,
			sources: []string{r.intent.Name()},
		}
	}

	// Pass 2: semantic similarity. The pass can surface several chunks of the
	// same document; only the best one counts, and it is assumed the most
	// specific, so it replaces whatever an earlier pass attached.
	for _, m := range bestChunkPerDocument(r.run(ctx, r.semantic, sc, limit)) {
		if cur, ok := merged[m.Document.ID]; ok {
			cur.score += m.Score * semanticWeightSeen
			cur.chunk = m.Chunk
			cur.sources = append(cur.sources, r.semantic.Name())
		} else {
			merged[m.Document.ID] = &mergedResult{
				doc:     m.Document,
				chunk:   m.Chunk,
				score:   m.Score * semanticWeightNew,
				sources: []string{r.semantic.Name()},
			}
		}
	}

	// Pass 3: text fallback, only when passes 1–2 came up short.
	if len(merged) < limit {
		for _, m := range r.run(ctx, r.text, sc, limit) {
			if cur, ok := merged[m.Document.ID]; ok {
				cur.score += m.Score * textWeightSeen
				cur.sources = append(cur.sources, r.text.Name())
			} else {
				merged[m.Document.ID] = &mergedResult{
					doc:     m.Document,
					chunk:   m.Chunk,
					score:   m.Score * textWeightNew,
					sources: []string{r.text.Name()},
				}
			}
		}
	}

	results := make([]model.SearchResult, 0, len(merged))
	for _, m := range merged {
		if m.score < minScore {
			continue
		}
		results = append(results, model.SearchResult{
			Document: m.doc,
			Chunk:    m.chunk,
			Score:    m.score,
			Sources:  m.sources,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}

	// Renormalize so scores stay comparable across calls.
	if len(results) > 0 && results[0].Score > 1.0 {
		top := results[0].Score
		for i := range results {
			results[i].Score /= top
		}
	}

	for _, res := range results {
		for _, src := range res.Sources {
			metrics.RetrievalHits.WithLabelValues(src).Inc()
		}
	}
	return results
}

// bestChunkPerDocument collapses one pass's matches to a single
// highest-scoring chunk per document, preserving first-seen order.
func bestChunkPerDocument(matches []ScoredMatch) []ScoredMatch {
	best := make(map[string]int, len(matches))
	var out []ScoredMatch
	for _, m := range matches {
		if i, ok := best[m.Document.ID]; ok {
			if m.Score > out[i].Score {
				out[i] = m
			}
			continue
		}
		best[m.Document.ID] = len(out)
		out = append(out, m)
	}
	return out
}

// run executes one pass, logging and swallowing its failure so a broken
// strategy never takes the whole search down.
func (r *Retriever) run(ctx context.Context, s Strategy, sc SearchContext, limit int) []ScoredMatch {
	matches, err := s.Search(ctx, sc, limit)
	if err != nil {
		r.logger.Warn("retrieval pass failed",
			zap.String("strategy", s.Name()),
			zap.Error(err),
		)
		return nil
	}
	return matches
}
