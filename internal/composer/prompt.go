package composer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ibarra/escucha/internal/engine"
	"github.com/ibarra/escucha/internal/lesson"
	"github.com/ibarra/escucha/internal/retrieval"
)

// ErrNoContext is returned when a mode that requires source material is
// assembled without it and no fallback applies.
var ErrNoContext = errors.New("no context available for mode")

// Mode selects which source material a generation request is built from.
// It is chosen per request and never persisted.
type Mode string

const (
	// ModeBase asks the model directly, with no lesson material.
	ModeBase Mode = "base"
	// ModeRawTranscript grounds the request on the unprocessed transcript.
	ModeRawTranscript Mode = "raw_transcript"
	// ModeStructured grounds the request on the structured lesson sections.
	ModeStructured Mode = "structured"
	// ModeRAG grounds the request on retrieved chunks.
	ModeRAG Mode = "rag"
	// ModeInteractive generates a fresh practice exercise from a retrieved
	// conversation chunk.
	ModeInteractive Mode = "interactive"
)

// Valid reports whether m is one of the defined modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeBase, ModeRawTranscript, ModeStructured, ModeRAG, ModeInteractive:
		return true
	}
	return false
}

// ParseMode converts a wire string into a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown mode %q", s)
	}
	return m, nil
}

// Context carries the source material available for a request. Fields are
// optional; each mode checks for what it needs.
type Context struct {
	Transcript string
	Lesson     *lesson.Lesson
	Results    []retrieval.ScoredRecord
}

// Request is a fully assembled generation request, ready for the engine.
// ChunkIDs lists the chunks whose text was injected; Ungrounded marks
// requests built without any lesson material.
type Request struct {
	Mode       Mode
	Messages   []engine.Message
	Schema     *engine.Schema
	ChunkIDs   []string
	Ungrounded bool
}

const defaultMaxContextTokens = 4000

// Assembler builds generation requests from source material and the user
// query. FallbackToBase controls whether a RAG request with no retrieved
// chunks degrades to a base request (flagged ungrounded) instead of failing.
type Assembler struct {
	MaxContextTokens int
	FallbackToBase   bool
}

// New creates an Assembler with the given token budget for injected context.
// If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int, fallbackToBase bool) *Assembler {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Assembler{MaxContextTokens: maxContextTokens, FallbackToBase: fallbackToBase}
}

const answerSystemPrompt = `You are a patient Spanish language tutor for A1 beginners.
Answer the student's question clearly, in English, quoting Spanish phrases where helpful.`

const groundedInstruction = `Answer strictly from the provided context. If the context does not contain the answer, say so instead of guessing.`

// Assemble builds an answer request for the given mode.
func (a *Assembler) Assemble(mode Mode, query string, ctx Context) (Request, error) {
	switch mode {
	case ModeBase:
		return a.baseRequest(mode, query), nil

	case ModeRawTranscript:
		if strings.TrimSpace(ctx.Transcript) == "" {
			return Request{}, fmt.Errorf("%w: %s needs a transcript", ErrNoContext, mode)
		}
		block := a.truncate("[Transcript]\n" + ctx.Transcript)
		return Request{
			Mode:     mode,
			Messages: contextMessages(answerSystemPrompt+"\n\n"+groundedInstruction, block, query),
		}, nil

	case ModeStructured:
		if ctx.Lesson == nil {
			return Request{}, fmt.Errorf("%w: %s needs a structured lesson", ErrNoContext, mode)
		}
		block := a.truncate(formatLesson(ctx.Lesson))
		return Request{
			Mode:     mode,
			Messages: contextMessages(answerSystemPrompt+"\n\n"+groundedInstruction, block, query),
		}, nil

	case ModeRAG:
		if len(ctx.Results) == 0 {
			if a.FallbackToBase {
				req := a.baseRequest(mode, query)
				return req, nil
			}
			return Request{}, fmt.Errorf("%w: %s retrieved no chunks", ErrNoContext, mode)
		}
		block, ids := a.formatResults(ctx.Results)
		return Request{
			Mode:     mode,
			Messages: contextMessages(answerSystemPrompt+"\n\n"+groundedInstruction, block, query),
			ChunkIDs: ids,
		}, nil

	case ModeInteractive:
		return Request{}, fmt.Errorf("%w: %s only supports exercise generation", ErrNoContext, mode)
	}
	return Request{}, fmt.Errorf("unknown mode %q", mode)
}

const exerciseSystemPrompt = `You are a Spanish language exercise generator for A1 beginners.
Based on the provided conversation, create a NEW short conversation in the same style,
then one multiple choice comprehension question about it.
Respond with a JSON object of this exact shape:
{
  "conversation": "the new conversation text in Spanish",
  "question_target": "the question in Spanish",
  "question_english": "the question in English",
  "answers": [
    {"text_target": "option in Spanish", "text_english": "option in English", "is_correct": true}
  ]
}
Provide 3 or 4 answers with exactly one marked correct.`

// AssembleExercise builds an interactive practice-exercise request from
// retrieved conversation chunks.
func (a *Assembler) AssembleExercise(ctx Context) (Request, error) {
	if len(ctx.Results) == 0 {
		return Request{}, fmt.Errorf("%w: %s retrieved no conversation chunks", ErrNoContext, ModeInteractive)
	}
	block, ids := a.formatResults(ctx.Results)
	return Request{
		Mode: ModeInteractive,
		Messages: []engine.Message{
			{Role: "system", Content: exerciseSystemPrompt},
			{Role: "user", Content: block},
		},
		Schema:   exerciseSchema(),
		ChunkIDs: ids,
	}, nil
}

const quizSystemPrompt = `You are a Spanish language quiz generator for A1 beginners.
From the provided material, write multiple choice comprehension questions.
Respond with a JSON object of this exact shape:
{
  "conversation": "",
  "question_target": "the question in Spanish",
  "question_english": "the question in English",
  "answers": [
    {"text_target": "option in Spanish", "text_english": "option in English", "is_correct": true}
  ]
}
Provide 3 or 4 answers with exactly one marked correct. Every question must be
answerable from the material alone.`

// AssembleQuiz builds an MCQ-generation request for the given mode. RAG mode
// requires retrieved chunks; base mode generates from the model's own
// knowledge and is flagged ungrounded.
func (a *Assembler) AssembleQuiz(mode Mode, topic string, ctx Context) (Request, error) {
	switch mode {
	case ModeBase:
		user := "Write one question about: " + topic
		return Request{
			Mode:       mode,
			Messages:   []engine.Message{{Role: "system", Content: quizSystemPrompt}, {Role: "user", Content: user}},
			Schema:     exerciseSchema(),
			Ungrounded: true,
		}, nil

	case ModeRAG:
		if len(ctx.Results) == 0 {
			if a.FallbackToBase {
				return a.AssembleQuiz(ModeBase, topic, Context{})
			}
			return Request{}, fmt.Errorf("%w: %s retrieved no chunks", ErrNoContext, mode)
		}
		block, ids := a.formatResults(ctx.Results)
		user := block + "\n\nWrite one question about: " + topic
		return Request{
			Mode:     mode,
			Messages: []engine.Message{{Role: "system", Content: quizSystemPrompt}, {Role: "user", Content: user}},
			Schema:   exerciseSchema(),
			ChunkIDs: ids,
		}, nil
	}
	return Request{}, fmt.Errorf("%w: quiz generation supports base and rag modes, got %q", ErrNoContext, mode)
}

func (a *Assembler) baseRequest(mode Mode, query string) Request {
	return Request{
		Mode: mode,
		Messages: []engine.Message{
			{Role: "system", Content: answerSystemPrompt},
			{Role: "user", Content: query},
		},
		Ungrounded: true,
	}
}

func contextMessages(system, contextBlock, query string) []engine.Message {
	return []engine.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: contextBlock + "\n\n[Question]\n" + query},
	}
}

// formatResults renders retrieved chunks in ranked order, each tagged with
// its section and source video. Chunks that exceed the remaining token
// budget are dropped from the bottom of the ranking.
func (a *Assembler) formatResults(results []retrieval.ScoredRecord) (string, []string) {
	var sb strings.Builder
	sb.WriteString("[Retrieved Context]\n")
	remaining := a.MaxContextTokens - EstimateTokens(sb.String())

	var ids []string
	for _, r := range results {
		entry := fmt.Sprintf("(Score: %.2f, Section: %s, Video: %s)\n%s\n\n", r.Score, r.Section, r.VideoID, r.Text)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		sb.WriteString(entry)
		ids = append(ids, r.ChunkID)
		remaining -= tokens
	}
	return strings.TrimRight(sb.String(), "\n"), ids
}

// truncate trims a context block to the token budget on a rune boundary.
func (a *Assembler) truncate(block string) string {
	budget := a.MaxContextTokens * 4
	if len(block) <= budget {
		return block
	}
	runes := []rune(block)
	if len(runes) > budget {
		runes = runes[:budget]
	}
	return string(runes)
}

func formatLesson(l *lesson.Lesson) string {
	var sb strings.Builder
	if !l.Introduction.Empty() {
		sb.WriteString("[Introduction]\n")
		sb.WriteString(l.Introduction.Target)
		sb.WriteString("\n")
		sb.WriteString(l.Introduction.English)
		sb.WriteString("\n\n")
	}
	if len(l.Conversation) > 0 {
		sb.WriteString("[Conversation]\n")
		for _, u := range l.Conversation {
			fmt.Fprintf(&sb, "%s: %s\n(%s)\n", u.Speaker, u.Target, u.English)
		}
		sb.WriteString("\n")
	}
	if len(l.Questions) > 0 {
		sb.WriteString("[Questions]\n")
		for _, q := range l.Questions {
			sb.WriteString(q.Question)
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// exerciseSchema returns the JSON schema hint for MCQ generation.
func exerciseSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"conversation":     {Type: "string", Description: "Generated conversation text, empty for plain questions"},
			"question_target":  {Type: "string", Description: "Question in the lesson language"},
			"question_english": {Type: "string", Description: "Question in English"},
			"answers":          {Type: "array", Description: "Options with exactly one is_correct", Items: &engine.SchemaProperty{Type: "object"}},
		},
		Required: []string{"question_target", "question_english", "answers"},
	}
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
