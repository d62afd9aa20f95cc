package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ibarra/escucha/internal/assistant"
	"github.com/ibarra/escucha/internal/composer"
	"github.com/ibarra/escucha/internal/guard"
	"github.com/ibarra/escucha/internal/ingest"
	"github.com/ibarra/escucha/internal/lesson"
	"github.com/ibarra/escucha/internal/quiz"
	"github.com/ibarra/escucha/internal/retrieval"
	"github.com/ibarra/escucha/internal/storage"
	"github.com/ibarra/escucha/internal/transcript"
)

const maxBodySize = 1 << 20 // 1MB

// Structurer converts a raw transcript into a structured lesson.
type Structurer interface {
	Structure(ctx context.Context, t transcript.Transcript) (lesson.Lesson, error)
}

// VectorCleaner removes a video's records when its lesson is deleted.
type VectorCleaner interface {
	DeleteVideo(videoID string) error
}

type AppDeps struct {
	Store        *storage.Store
	Orchestrator *assistant.Orchestrator
	Source       transcript.Source
	Structurer   Structurer
	Vectors      VectorCleaner
	Languages    []string
	Token        string
}

// NewAppHandler builds the HTTP API. All routes except /health require the
// bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth())

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/lessons", handleCreateLesson(deps))
		r.Get("/lessons", handleListLessons(deps))
		r.Get("/lessons/{videoID}", handleGetLesson(deps))
		r.Delete("/lessons/{videoID}", handleDeleteLesson(deps))
		r.Post("/ask", handleAsk(deps))
		r.Post("/quiz", handleQuiz(deps))
		r.Post("/exercise", handleExercise(deps))
	})

	return r
}

func handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type createLessonRequest struct {
	URL       string   `json:"url"`
	VideoID   string   `json:"video_id"`
	Languages []string `json:"languages"`
}

func handleCreateLesson(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var req createLessonRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		videoID := req.VideoID
		if videoID == "" && req.URL != "" {
			id, err := transcript.ExtractVideoID(req.URL)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid video url: %v", err)
				return
			}
			videoID = id
		}
		if videoID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "one of video_id or url is required")
			return
		}

		languages := req.Languages
		if len(languages) == 0 {
			languages = deps.Languages
		}

		t, err := deps.Source.Fetch(r.Context(), videoID, languages)
		if err != nil {
			var unavailable *transcript.UnavailableError
			if errors.As(err, &unavailable) {
				httpError(w, http.StatusNotFound, "not_found", "no transcript in %v; available languages: %v",
					unavailable.Requested, unavailable.Available)
				return
			}
			httpError(w, http.StatusBadGateway, "api_error", "failed to fetch transcript: %v", err)
			return
		}

		if err := deps.Store.SaveTranscript(storage.Transcript{
			VideoID:  t.VideoID,
			Language: t.Language,
			RawText:  t.Text(),
		}); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save transcript: %v", err)
			return
		}

		l, err := deps.Structurer.Structure(r.Context(), t)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to structure transcript: %v", err)
			return
		}

		lessonJSON, err := json.Marshal(l)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to encode lesson: %v", err)
			return
		}
		if err := deps.Store.SaveLesson(storage.Lesson{
			VideoID:    l.VideoID,
			Language:   l.Language,
			LessonJSON: string(lessonJSON),
			Status:     "structured",
		}); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save lesson: %v", err)
			return
		}

		payload, err := json.Marshal(ingest.Payload{VideoID: l.VideoID})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create job payload: %v", err)
			return
		}
		job := storage.Job{
			ID:          uuid.New().String(),
			Type:        ingest.JobType,
			PayloadJSON: string(payload),
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"video_id": l.VideoID,
			"status":   "queued",
		})
	}
}

func handleListLessons(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 500)
		lessons, err := deps.Store.ListLessons(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list lessons: %v", err)
			return
		}

		type lessonSummary struct {
			VideoID    string    `json:"video_id"`
			Title      string    `json:"title,omitempty"`
			Language   string    `json:"language"`
			Status     string    `json:"status"`
			ChunkCount int       `json:"chunk_count"`
			CreatedAt  time.Time `json:"created_at"`
		}
		out := make([]lessonSummary, 0, len(lessons))
		for _, l := range lessons {
			out = append(out, lessonSummary{
				VideoID:    l.VideoID,
				Title:      l.Title,
				Language:   l.Language,
				Status:     l.Status,
				ChunkCount: l.ChunkCount,
				CreatedAt:  l.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"lessons": out})
	}
}

func handleGetLesson(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		videoID := chi.URLParam(r, "videoID")
		row, err := deps.Store.GetLesson(videoID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "lesson not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get lesson: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"video_id":    row.VideoID,
			"language":    row.Language,
			"status":      row.Status,
			"chunk_count": row.ChunkCount,
			"lesson":      json.RawMessage(row.LessonJSON),
		})
	}
}

func handleDeleteLesson(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		videoID := chi.URLParam(r, "videoID")
		if err := deps.Store.DeleteLesson(videoID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "lesson not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete lesson: %v", err)
			return
		}
		if deps.Vectors != nil {
			if err := deps.Vectors.DeleteVideo(videoID); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to delete vectors: %v", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

type askRequest struct {
	Mode    string `json:"mode"`
	VideoID string `json:"video_id"`
	Query   string `json:"query"`
}

func handleAsk(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}
		mode, err := composer.ParseMode(req.Mode)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		answer, err := deps.Orchestrator.Ask(r.Context(), mode, req.VideoID, req.Query)
		if err != nil {
			writeOrchestratorError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"mode":       string(answer.Mode),
			"answer":     answer.Text,
			"chunk_ids":  answer.GroundingChunkIDs,
			"ungrounded": answer.Ungrounded,
		})
	}
}

type quizRequest struct {
	Mode    string `json:"mode"`
	VideoID string `json:"video_id"`
	Topic   string `json:"topic"`
}

func handleQuiz(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var req quizRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Topic == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "topic is required")
			return
		}
		mode, err := composer.ParseMode(req.Mode)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		result, err := deps.Orchestrator.Quiz(r.Context(), mode, req.VideoID, req.Topic)
		if err != nil {
			writeOrchestratorError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"mode":       string(result.Mode),
			"question":   mcqJSON(result.Question),
			"ungrounded": result.Ungrounded,
		})
	}
}

type exerciseRequest struct {
	VideoID string `json:"video_id"`
	Topic   string `json:"topic"`
}

func handleExercise(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var req exerciseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.VideoID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "video_id is required")
			return
		}

		result, err := deps.Orchestrator.Exercise(r.Context(), req.VideoID, req.Topic)
		if err != nil {
			writeOrchestratorError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"conversation": result.Exercise.Conversation,
			"question":     mcqJSON(result.Exercise.Question),
			"chunk_ids":    result.ChunkIDs,
		})
	}
}

// mcqJSON renders an MCQ in wire shape without exposing internal field names.
func mcqJSON(m quiz.MCQ) map[string]any {
	options := make([]map[string]any, 0, len(m.Options))
	for _, o := range m.Options {
		options = append(options, map[string]any{
			"text_target":  o.Target,
			"text_english": o.English,
			"is_correct":   o.Correct,
		})
	}
	return map[string]any{
		"question_target":  m.Question,
		"question_english": m.QuestionEnglish,
		"options":          options,
		"source_chunk_ids": m.SourceChunkIDs,
	}
}

// writeOrchestratorError maps domain errors to HTTP statuses.
func writeOrchestratorError(w http.ResponseWriter, err error) {
	var precondition *assistant.PreconditionError
	switch {
	case errors.As(err, &precondition):
		httpError(w, http.StatusConflict, "precondition_failed", "%v", precondition)
	case errors.Is(err, composer.ErrNoContext):
		httpError(w, http.StatusConflict, "no_context", "%v", err)
	case errors.Is(err, guard.ErrBlocked):
		httpError(w, http.StatusUnprocessableEntity, "content_blocked", "%v", err)
	case errors.Is(err, quiz.ErrSchema), errors.Is(err, quiz.ErrUngrounded):
		httpError(w, http.StatusBadGateway, "invalid_generation", "%v", err)
	case errors.Is(err, assistant.ErrTimeout):
		httpError(w, http.StatusGatewayTimeout, "timeout", "%v", err)
	case errors.Is(err, retrieval.ErrRetrieval), errors.Is(err, retrieval.ErrEmbedding), errors.Is(err, assistant.ErrGeneration):
		httpError(w, http.StatusBadGateway, "api_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
