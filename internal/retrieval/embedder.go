package retrieval

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/ibarra/escucha/internal/engine"
)

// subBatchSize caps how many texts go out in one engine request.
const subBatchSize = 64

// Embedder wraps an Engine to generate unit-length text embeddings of a
// fixed dimension. Vectors are normalized so cosine similarity reduces to a
// dot product downstream.
type Embedder struct {
	engine    engine.Engine
	model     string
	dimension int
}

// NewEmbedder creates an Embedder using the given Engine, model name, and
// declared vector dimension.
func NewEmbedder(e engine.Engine, model string, dimension int) *Embedder {
	return &Embedder{engine: e, model: model, dimension: dimension}
}

// Dimension returns the declared embedding dimension.
func (e *Embedder) Dimension() int {
	return e.dimension
}

// Embed returns the normalized embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns normalized embedding vectors for the input texts,
// one-to-one and order-preserving. Sub-batches run concurrently; any
// failure fails the whole batch. Returns nil (not error) for empty input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the engine.

	for start := 0; start < len(texts); start += subBatchSize {
		end := min(start+subBatchSize, len(texts))
		g.Go(func() error {
			vecs, err := e.engine.EmbedBatch(gCtx, e.model, texts[start:end])
			if err != nil {
				return fmt.Errorf("%w: texts %d..%d: %w", ErrEmbedding, start, end-1, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("%w: texts %d..%d: engine returned %d vectors for %d texts",
					ErrEmbedding, start, end-1, len(vecs), end-start)
			}
			for i, vec := range vecs {
				if len(vec) != e.dimension {
					return fmt.Errorf("%w: text %d: got dimension %d, want %d",
						ErrDimensionMismatch, start+i, len(vec), e.dimension)
				}
				results[start+i] = normalize(vec)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// normalize scales v to unit length. Zero vectors pass through unchanged.
func normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	n := math.Sqrt(sum)
	if n == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / n)
	}
	return out
}
