package retrieval

import (
	"time"

	"github.com/ibarra/escucha/internal/lesson"
)

// VectorStore is the interface for vector storage and similarity search
// backends. The default implementation uses SQLite with brute-force cosine
// similarity; the record layout is backend-agnostic so an ANN-capable store
// can be swapped in behind the same contract.
type VectorStore interface {
	// Upsert adds records, overwriting any existing record with the same
	// chunk ID. Last writer wins, so re-inserting never duplicates.
	Upsert(records []Record) error

	// Search returns up to topK records nearest to vector by cosine
	// similarity, restricted by filter. Score ties (within a small epsilon)
	// break by ascending position index, then ascending chunk ID.
	Search(vector []float32, topK int, filter Filter) ([]ScoredRecord, error)

	// ReplaceVideo atomically removes all records for a video and inserts
	// the given ones. Re-ingestion is all-or-nothing: readers never observe
	// a half-applied state.
	ReplaceVideo(videoID string, records []Record) error

	// DeleteVideo removes all records for a source video.
	DeleteVideo(videoID string) error

	// Count returns the number of stored records for a video, or all
	// records when videoID is empty.
	Count(videoID string) (int, error)

	// Dimension returns the configured embedding dimension.
	Dimension() int
}

// Record is the persisted unit: one chunk with its embedding and metadata.
// Records are only inserted or deleted wholesale, never mutated in place.
type Record struct {
	ChunkID   string
	VideoID   string
	Section   lesson.SectionKind
	Position  int
	Language  string
	Text      string
	Embedding []float32
	CreatedAt time.Time
}

// ScoredRecord is a Record with its similarity score to a query.
type ScoredRecord struct {
	Record
	Score float32
}

// Filter restricts a search by metadata. Zero-valued fields match everything.
type Filter struct {
	VideoID string
	Section lesson.SectionKind
}
