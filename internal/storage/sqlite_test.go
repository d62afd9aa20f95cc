package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrations_CreateTables(t *testing.T) {
	s := openTestStore(t)

	for _, table := range []string{"transcripts", "lessons", "jobs", "exchanges", "chunk_vectors"} {
		var name string
		err := s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestMigrations_Indexes(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_jobs_pending", "idx_exchanges_created", "idx_chunk_vectors_video", "idx_chunk_vectors_section"} {
		var name string
		err := s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'index' AND name = ?`, idx).Scan(&name)
		if err != nil {
			t.Errorf("index %s missing: %v", idx, err)
		}
	}
}

func TestTranscript_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	want := Transcript{
		VideoID:   "V1",
		Language:  "es",
		RawText:   "Hola, ¿cómo estás?",
		FetchedAt: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := s.SaveTranscript(want); err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}

	got, err := s.GetTranscript("V1")
	if err != nil {
		t.Fatalf("GetTranscript: %v", err)
	}
	if got.RawText != want.RawText || got.Language != want.Language {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if !got.FetchedAt.Equal(want.FetchedAt) {
		t.Errorf("fetched_at = %v, want %v", got.FetchedAt, want.FetchedAt)
	}
}

func TestTranscript_RefetchReplaces(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveTranscript(Transcript{VideoID: "V1", Language: "es", RawText: "primera"}); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := s.SaveTranscript(Transcript{VideoID: "V1", Language: "es", RawText: "segunda"}); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := s.GetTranscript("V1")
	if err != nil {
		t.Fatalf("GetTranscript: %v", err)
	}
	if got.RawText != "segunda" {
		t.Errorf("raw text = %q, want the refetched version", got.RawText)
	}
}

func TestTranscript_NotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetTranscript("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestLesson_Lifecycle(t *testing.T) {
	s := openTestStore(t)

	l := Lesson{VideoID: "V1", Title: "Saludos", Language: "es", LessonJSON: `{"video_id":"V1"}`}
	if err := s.SaveLesson(l); err != nil {
		t.Fatalf("SaveLesson: %v", err)
	}

	got, err := s.GetLesson("V1")
	if err != nil {
		t.Fatalf("GetLesson: %v", err)
	}
	if got.Status != "structured" {
		t.Errorf("status = %q, want structured by default", got.Status)
	}

	if err := s.UpdateLessonStatus("V1", "ingested", 7); err != nil {
		t.Fatalf("UpdateLessonStatus: %v", err)
	}
	got, err = s.GetLesson("V1")
	if err != nil {
		t.Fatalf("GetLesson: %v", err)
	}
	if got.Status != "ingested" || got.ChunkCount != 7 {
		t.Errorf("got status %q chunks %d, want ingested/7", got.Status, got.ChunkCount)
	}

	if err := s.DeleteLesson("V1"); err != nil {
		t.Fatalf("DeleteLesson: %v", err)
	}
	if _, err := s.GetLesson("V1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v after delete, want ErrNotFound", err)
	}
}

func TestLesson_StatusUpdateOnMissingRow(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpdateLessonStatus("missing", "ingested", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if err := s.DeleteLesson("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestListLessons(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"V1", "V2", "V3"} {
		if err := s.SaveLesson(Lesson{VideoID: id, Language: "es", LessonJSON: "{}"}); err != nil {
			t.Fatalf("SaveLesson %s: %v", id, err)
		}
	}

	lessons, err := s.ListLessons(2)
	if err != nil {
		t.Fatalf("ListLessons: %v", err)
	}
	if len(lessons) != 2 {
		t.Errorf("got %d lessons, want 2", len(lessons))
	}
}

func TestExchange_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	e := Exchange{
		ID:       "ex-1",
		VideoID:  "V1",
		Mode:     "rag",
		Query:    "¿Qué significa 'hola'?",
		Response: "It means hello.",
		ChunkIDs: `["V1/conversation/0"]`,
	}
	if err := s.SaveExchange(e); err != nil {
		t.Fatalf("SaveExchange: %v", err)
	}

	got, err := s.GetRecentExchanges(10)
	if err != nil {
		t.Fatalf("GetRecentExchanges: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d exchanges, want 1", len(got))
	}
	if got[0].Mode != "rag" || got[0].ChunkIDs != `["V1/conversation/0"]` {
		t.Errorf("exchange = %+v", got[0])
	}
}

func TestJobs_ClaimOldestRunnable(t *testing.T) {
	s := openTestStore(t)

	// An explicit earlier run_after makes the claim order deterministic even
	// when both rows land within the same second.
	j1 := Job{ID: "j1", Type: "ingest_lesson", PayloadJSON: `{"video_id":"V1"}`, RunAfter: time.Now().UTC().Add(-time.Minute)}
	if err := s.EnqueueJob(j1); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := s.EnqueueJob(Job{ID: "j2", Type: "ingest_lesson", PayloadJSON: `{"video_id":"V2"}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	job, err := s.ClaimNextJob([]string{"ingest_lesson"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil || job.ID != "j1" {
		t.Fatalf("claimed %+v, want the oldest job j1", job)
	}
	if job.Status != "running" {
		t.Errorf("claimed job status = %q", job.Status)
	}

	// The running job stays claimed; the next claim gets j2.
	job, err = s.ClaimNextJob([]string{"ingest_lesson"})
	if err != nil {
		t.Fatalf("second ClaimNextJob: %v", err)
	}
	if job == nil || job.ID != "j2" {
		t.Fatalf("claimed %+v, want j2", job)
	}

	job, err = s.ClaimNextJob([]string{"ingest_lesson"})
	if err != nil {
		t.Fatalf("third ClaimNextJob: %v", err)
	}
	if job != nil {
		t.Errorf("claimed %+v from a drained queue", job)
	}
}

func TestJobs_ClaimFiltersByType(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j1", Type: "other_work", PayloadJSON: "{}"}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	job, err := s.ClaimNextJob([]string{"ingest_lesson"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job != nil {
		t.Errorf("claimed a job of an unrequested type: %+v", job)
	}
}

func TestJobs_Complete(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j1", Type: "ingest_lesson", PayloadJSON: "{}"}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	job, err := s.ClaimNextJob([]string{"ingest_lesson"})
	if err != nil || job == nil {
		t.Fatalf("ClaimNextJob: job=%v err=%v", job, err)
	}

	if err := s.CompleteJob(job.ID); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	got, err := s.GetJob(job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != "completed" {
		t.Errorf("status = %q, want completed", got.Status)
	}
}

func TestJobs_FailRetriesWithBackoff(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j1", Type: "ingest_lesson", PayloadJSON: "{}", MaxAttempts: 3}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"ingest_lesson"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	before := time.Now().UTC()
	if err := s.FailJob("j1", "embedding service down"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	got, err := s.GetJob("j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != "pending" {
		t.Errorf("status = %q, want pending for a retryable failure", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
	if got.LastError != "embedding service down" {
		t.Errorf("last error = %q", got.LastError)
	}
	if !got.RunAfter.After(before) {
		t.Errorf("run_after = %v, want a backoff in the future", got.RunAfter)
	}

	// A deferred job is not immediately claimable.
	job, err := s.ClaimNextJob([]string{"ingest_lesson"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job != nil {
		t.Errorf("claimed a backed-off job: %+v", job)
	}
}

func TestJobs_FailAtAttemptLimit(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j1", Type: "ingest_lesson", PayloadJSON: "{}", MaxAttempts: 1}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"ingest_lesson"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	if err := s.FailJob("j1", "terminal failure"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	got, err := s.GetJob("j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != "failed" {
		t.Errorf("status = %q, want failed at the attempt limit", got.Status)
	}
}

func TestJobs_NotFound(t *testing.T) {
	s := openTestStore(t)

	if err := s.CompleteJob("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("CompleteJob: got %v, want ErrNotFound", err)
	}
	if err := s.FailJob("missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FailJob: got %v, want ErrNotFound", err)
	}
	if _, err := s.GetJob("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetJob: got %v, want ErrNotFound", err)
	}
}
