package retrieval

import "errors"

var (
	// ErrEmbedding wraps embedding-service failures. A partial batch failure
	// fails the whole batch so chunk/vector alignment stays exact.
	ErrEmbedding = errors.New("embedding service failed")

	// ErrDimensionMismatch indicates a vector whose dimension differs from
	// the configured embedding dimension. Mixing dimensions invalidates
	// similarity comparisons and is always rejected.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrRetrieval wraps upstream failures during retrieval. A query that
	// matches zero records is an empty result, not this error.
	ErrRetrieval = errors.New("retrieval failed")
)
