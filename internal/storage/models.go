package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Transcript is a raw fetched transcript, kept verbatim so lessons can be
// re-structured without hitting the transcript service again.
type Transcript struct {
	VideoID   string
	Language  string
	RawText   string
	FetchedAt time.Time
}

// Lesson is a structured lesson persisted as JSON. Status tracks the
// ingestion lifecycle: "structured" after LLM structuring, "ingested" once
// chunks and embeddings are in the vector store.
type Lesson struct {
	VideoID    string
	Title      string
	Language   string
	LessonJSON string
	Status     string // "structured", "ingesting", "ingested", "failed"
	ChunkCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Job is a unit of background work processed by the ingest worker.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// Exchange is one question-answer or quiz-generation round, logged for
// later review.
type Exchange struct {
	ID        string
	CreatedAt time.Time
	VideoID   string
	Mode      string
	Query     string
	Prompt    string
	Response  string
	ChunkIDs  string // JSON array stored as text
	Blocked   bool
}
