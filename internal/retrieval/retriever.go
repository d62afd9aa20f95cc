package retrieval

import (
	"context"
	"fmt"
	"strings"
)

// Retriever embeds a query and finds the most relevant stored chunks.
type Retriever struct {
	embedder *Embedder
	store    VectorStore
	minScore float32
}

// NewRetriever creates a retriever. Results scoring below minScore are
// dropped; a minScore of 0 keeps everything with non-negative similarity.
func NewRetriever(embedder *Embedder, store VectorStore, minScore float32) *Retriever {
	return &Retriever{embedder: embedder, store: store, minScore: minScore}
}

// Retrieve returns up to topK chunks relevant to the query, ranked by cosine
// similarity. An empty or whitespace-only query, and a store with no
// matching records, both yield an empty result rather than an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, filter Filter) ([]ScoredRecord, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}

	results, err := r.store.Search(vector, topK, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}

	filtered := results[:0]
	for _, res := range results {
		if res.Score >= r.minScore {
			filtered = append(filtered, res)
		}
	}
	return filtered, nil
}
