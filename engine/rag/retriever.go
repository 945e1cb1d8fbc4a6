// Package rag orchestrates retrieval-augmented answers: it retrieves
// grounding documents from the vector index, composes a strict system
// directive, and calls the generative model with guardrail-aware
// error handling.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alphacar/aichat-engine/engine/semantic"
)

// Searcher abstracts vector-index similarity search.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]semantic.ScoredDocument, error)
}

// DefaultBreadth is how many documents a query pulls before the model
// does its own filtering. Broad on purpose: precision is the model's
// job, recall is ours.
const DefaultBreadth = 10

// Retriever selects grounding context for a query.
type Retriever struct {
	store   Searcher
	breadth int
	logger  *slog.Logger
}

// NewRetriever creates a Retriever. breadth <= 0 uses DefaultBreadth.
func NewRetriever(store Searcher, breadth int, logger *slog.Logger) *Retriever {
	if breadth <= 0 {
		breadth = DefaultBreadth
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{store: store, breadth: breadth, logger: logger}
}

// Retrieve runs a broad similarity search and applies the secondary
// ordering: shorter document text first. Base models tend to have
// shorter documents than their derived sub-variants, so length works as
// a cheap proxy for "prefer the canonical item" when near-duplicates
// match. This is a heuristic, not a relevance guarantee; it reorders
// the result set without changing it.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]semantic.Document, error) {
	results, err := r.store.Search(ctx, query, r.breadth)
	if err != nil {
		return nil, fmt.Errorf("rag: retrieve: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return len(results[i].Text) < len(results[j].Text)
	})

	docs := make([]semantic.Document, len(results))
	for i, res := range results {
		docs[i] = res.Document
	}
	r.logger.Info("rag: retrieved context", "count", len(docs))
	return docs, nil
}
