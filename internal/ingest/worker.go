package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ibarra/escucha/internal/chunker"
	"github.com/ibarra/escucha/internal/lesson"
	"github.com/ibarra/escucha/internal/retrieval"
	"github.com/ibarra/escucha/internal/storage"
)

// JobType is the queue type for lesson ingestion jobs.
const JobType = "ingest_lesson"

// JobStore abstracts the job queue and lesson persistence operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetLesson(videoID string) (storage.Lesson, error)
	UpdateLessonStatus(videoID, status string, chunkCount int) error
}

// BatchEmbedder generates embeddings for chunk texts.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorReplacer atomically replaces a video's records in the vector store.
type VectorReplacer interface {
	ReplaceVideo(videoID string, records []retrieval.Record) error
}

// Worker processes ingest_lesson jobs from the SQLite job queue: load the
// structured lesson, chunk it, embed the chunks, and replace the video's
// vectors in one transaction. A failed job leaves the previous vectors in
// place; the queue retries it with backoff.
type Worker struct {
	store    JobStore
	embedder BatchEmbedder
	vectors  VectorReplacer
	policy   chunker.Policy
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, embedder BatchEmbedder, vectors VectorReplacer, policy chunker.Policy, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		embedder: embedder,
		vectors:  vectors,
		policy:   policy,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single ingest_lesson job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

// Payload is the JSON body of an ingest_lesson job.
type Payload struct {
	VideoID string `json:"video_id"`
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload Payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	row, err := w.store.GetLesson(payload.VideoID)
	if err != nil {
		return fmt.Errorf("loading lesson %s: %w", payload.VideoID, err)
	}

	var l lesson.Lesson
	if err := json.Unmarshal([]byte(row.LessonJSON), &l); err != nil {
		return fmt.Errorf("decoding lesson %s: %w", payload.VideoID, err)
	}

	chunks, err := chunker.Split(l, w.policy)
	if err != nil {
		return fmt.Errorf("chunking lesson %s: %w", payload.VideoID, err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding lesson %s: %w", payload.VideoID, err)
	}

	now := time.Now().UTC()
	records := make([]retrieval.Record, len(chunks))
	for i, c := range chunks {
		records[i] = retrieval.Record{
			ChunkID:   c.ID,
			VideoID:   c.VideoID,
			Section:   c.Section,
			Position:  c.Position,
			Language:  c.Language,
			Text:      c.Text,
			Embedding: vectors[i],
			CreatedAt: now,
		}
	}

	if err := w.vectors.ReplaceVideo(payload.VideoID, records); err != nil {
		return fmt.Errorf("storing vectors for %s: %w", payload.VideoID, err)
	}

	if err := w.store.UpdateLessonStatus(payload.VideoID, "ingested", len(records)); err != nil {
		return fmt.Errorf("updating lesson status for %s: %w", payload.VideoID, err)
	}

	w.logger.Info("lesson ingested", "video_id", payload.VideoID, "chunks", len(records))
	return nil
}
