package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ibarra/escucha/internal/composer"
	"github.com/ibarra/escucha/internal/lesson"
	"github.com/ibarra/escucha/internal/quiz"
	"github.com/ibarra/escucha/internal/retrieval"
	"github.com/ibarra/escucha/internal/storage"
)

// PreconditionError reports that a mode was requested without the source
// material it depends on.
type PreconditionError struct {
	Mode    composer.Mode
	Missing string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("mode %s requires %s", e.Mode, e.Missing)
}

// Orchestrator routes requests through one of the five modes, validating
// that the material each mode depends on exists before any model call.
// Mode selection is explicit per request; the only automatic degradation
// is the assembler's RAG fallback, surfaced via Response.Ungrounded.
type Orchestrator struct {
	store     *storage.Store
	vectors   retrieval.VectorStore
	retriever *retrieval.Retriever
	assembler *composer.Assembler
	generator *Generator
	topK      int
}

// NewOrchestrator wires the orchestrator to its collaborators.
// topK controls how many chunks RAG and interactive requests retrieve
// (default 5 if <= 0).
func NewOrchestrator(
	store *storage.Store,
	vectors retrieval.VectorStore,
	retriever *retrieval.Retriever,
	assembler *composer.Assembler,
	generator *Generator,
	topK int,
) *Orchestrator {
	if topK <= 0 {
		topK = 5
	}
	return &Orchestrator{
		store:     store,
		vectors:   vectors,
		retriever: retriever,
		assembler: assembler,
		generator: generator,
		topK:      topK,
	}
}

// Answer is a generated answer plus the mode that produced it.
type Answer struct {
	Response
	Mode composer.Mode
}

// Ask answers a learner question under the given mode.
func (o *Orchestrator) Ask(ctx context.Context, mode composer.Mode, videoID, query string) (Answer, error) {
	if !mode.Valid() {
		return Answer{}, fmt.Errorf("unknown mode %q", mode)
	}
	if mode == composer.ModeInteractive {
		return Answer{}, fmt.Errorf("mode %s generates exercises, not answers", mode)
	}

	pctx, err := o.gatherContext(ctx, mode, videoID, query)
	if err != nil {
		return Answer{}, err
	}

	req, err := o.assembler.Assemble(mode, query, pctx)
	if err != nil {
		return Answer{}, err
	}

	resp, err := o.generator.Generate(ctx, req)
	if err != nil {
		return Answer{}, err
	}

	o.logExchange(videoID, mode, query, req, resp)
	return Answer{Response: resp, Mode: mode}, nil
}

// ExerciseResult is a generated practice exercise with its grounding.
type ExerciseResult struct {
	Exercise quiz.Exercise
	ChunkIDs []string
}

// Exercise generates a fresh practice conversation plus one validated MCQ
// from the video's ingested conversation chunks.
func (o *Orchestrator) Exercise(ctx context.Context, videoID, topic string) (ExerciseResult, error) {
	if err := o.requireIngested(composer.ModeInteractive, videoID); err != nil {
		return ExerciseResult{}, err
	}

	query := topic
	if query == "" {
		query = "conversation practice"
	}
	results, err := o.retriever.Retrieve(ctx, query, o.topK, retrieval.Filter{
		VideoID: videoID,
		Section: lesson.SectionConversation,
	})
	if err != nil {
		return ExerciseResult{}, err
	}

	req, err := o.assembler.AssembleExercise(composer.Context{Results: results})
	if err != nil {
		return ExerciseResult{}, err
	}

	resp, err := o.generator.Generate(ctx, req)
	if err != nil {
		return ExerciseResult{}, err
	}

	ex, err := quiz.ParseExercise(resp.Text)
	if err != nil {
		return ExerciseResult{}, err
	}
	ex.Question.SourceChunkIDs = resp.GroundingChunkIDs

	v := quiz.Validator{RequireGrounding: true}
	if err := v.Validate(ex.Question); err != nil {
		return ExerciseResult{}, err
	}

	o.logExchange(videoID, composer.ModeInteractive, query, req, resp)
	return ExerciseResult{Exercise: ex, ChunkIDs: resp.GroundingChunkIDs}, nil
}

// QuizResult is a validated MCQ plus generation metadata.
type QuizResult struct {
	Question   quiz.MCQ
	Mode       composer.Mode
	Ungrounded bool
}

// Quiz generates one validated MCQ about a topic. RAG mode grounds the
// question on the video's chunks; base mode quizzes from the model's own
// knowledge and is flagged ungrounded. Grounding is required under RAG
// unless the assembler's fallback degraded the request to base.
func (o *Orchestrator) Quiz(ctx context.Context, mode composer.Mode, videoID, topic string) (QuizResult, error) {
	if mode != composer.ModeBase && mode != composer.ModeRAG {
		return QuizResult{}, fmt.Errorf("quiz generation supports base and rag modes, got %q", mode)
	}

	var pctx composer.Context
	if mode == composer.ModeRAG {
		if err := o.requireIngested(mode, videoID); err != nil {
			return QuizResult{}, err
		}
		results, err := o.retriever.Retrieve(ctx, topic, o.topK, retrieval.Filter{VideoID: videoID})
		if err != nil {
			return QuizResult{}, err
		}
		pctx.Results = results
	}

	req, err := o.assembler.AssembleQuiz(mode, topic, pctx)
	if err != nil {
		return QuizResult{}, err
	}

	resp, err := o.generator.Generate(ctx, req)
	if err != nil {
		return QuizResult{}, err
	}

	ex, err := quiz.ParseExercise(resp.Text)
	if err != nil {
		return QuizResult{}, err
	}
	ex.Question.SourceChunkIDs = resp.GroundingChunkIDs

	v := quiz.Validator{RequireGrounding: mode == composer.ModeRAG && !resp.Ungrounded}
	if err := v.Validate(ex.Question); err != nil {
		return QuizResult{}, err
	}

	o.logExchange(videoID, mode, topic, req, resp)
	return QuizResult{Question: ex.Question, Mode: mode, Ungrounded: resp.Ungrounded}, nil
}

// gatherContext validates the mode's precondition and loads its material.
func (o *Orchestrator) gatherContext(ctx context.Context, mode composer.Mode, videoID, query string) (composer.Context, error) {
	switch mode {
	case composer.ModeBase:
		return composer.Context{}, nil

	case composer.ModeRawTranscript:
		t, err := o.store.GetTranscript(videoID)
		if errors.Is(err, storage.ErrNotFound) {
			return composer.Context{}, &PreconditionError{Mode: mode, Missing: "a fetched transcript"}
		}
		if err != nil {
			return composer.Context{}, fmt.Errorf("loading transcript %s: %w", videoID, err)
		}
		return composer.Context{Transcript: t.RawText}, nil

	case composer.ModeStructured:
		row, err := o.store.GetLesson(videoID)
		if errors.Is(err, storage.ErrNotFound) {
			return composer.Context{}, &PreconditionError{Mode: mode, Missing: "a structured lesson"}
		}
		if err != nil {
			return composer.Context{}, fmt.Errorf("loading lesson %s: %w", videoID, err)
		}
		var l lesson.Lesson
		if err := json.Unmarshal([]byte(row.LessonJSON), &l); err != nil {
			return composer.Context{}, fmt.Errorf("decoding lesson %s: %w", videoID, err)
		}
		return composer.Context{Lesson: &l}, nil

	case composer.ModeRAG:
		if err := o.requireIngested(mode, videoID); err != nil {
			return composer.Context{}, err
		}
		results, err := o.retriever.Retrieve(ctx, query, o.topK, retrieval.Filter{VideoID: videoID})
		if err != nil {
			return composer.Context{}, err
		}
		return composer.Context{Results: results}, nil
	}
	return composer.Context{}, fmt.Errorf("unknown mode %q", mode)
}

func (o *Orchestrator) requireIngested(mode composer.Mode, videoID string) error {
	count, err := o.vectors.Count(videoID)
	if err != nil {
		return fmt.Errorf("counting vectors for %s: %w", videoID, err)
	}
	if count == 0 {
		return &PreconditionError{Mode: mode, Missing: "ingested chunks in the vector store"}
	}
	return nil
}

// logExchange records the round in storage. Logging failures are reported
// but never fail the request.
func (o *Orchestrator) logExchange(videoID string, mode composer.Mode, query string, req composer.Request, resp Response) {
	if o.store == nil {
		return
	}
	chunkIDs, _ := json.Marshal(resp.GroundingChunkIDs)
	var prompt string
	if n := len(req.Messages); n > 0 {
		prompt = req.Messages[n-1].Content
	}
	err := o.store.SaveExchange(storage.Exchange{
		ID:       uuid.NewString(),
		VideoID:  videoID,
		Mode:     string(mode),
		Query:    query,
		Prompt:   prompt,
		Response: resp.Text,
		ChunkIDs: string(chunkIDs),
	})
	if err != nil {
		slog.Warn("failed to record exchange", "video_id", videoID, "mode", mode, "error", err)
	}
}
