package lesson

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ibarra/escucha/internal/engine"
	"github.com/ibarra/escucha/internal/quiz"
	"github.com/ibarra/escucha/internal/transcript"
)

const structuringTimeout = 120 * time.Second

// Chatter is the chat-completion surface the Structurer needs from an engine.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Structurer turns a raw transcript into a structured, bilingual Lesson by
// prompting a language model for a strict JSON rendition and validating the
// result.
type Structurer struct {
	client Chatter
	model  string
}

// NewStructurer creates a Structurer using the given engine and model name.
func NewStructurer(client Chatter, model string) *Structurer {
	return &Structurer{client: client, model: model}
}

const structuringPrompt = `You are an expert language teacher. The following is a transcript from a beginner-level (A1) listening comprehension video in %s.

Analyze the transcript and structure it as a JSON object with this exact shape:

{
  "introduction": {"target": "introduction in %s", "english": "English translation"},
  "conversation": [
    {"speaker": "speaker label if identifiable", "target": "utterance in %s", "english": "English translation"}
  ],
  "questions": [
    {
      "question": "comprehension question in %s",
      "question_english": "English translation",
      "options": [
        {"target": "answer in %s", "english": "English translation", "correct": true}
      ]
    }
  ]
}

Rules:
- Every question must have at least 2 options with exactly one marked correct.
- Omit a section (empty string or empty array) only if the transcript truly has no such content.
- Return only the JSON object with no additional text.

Transcript:

%s`

// structuredWire mirrors the JSON shape requested from the model.
type structuredWire struct {
	Introduction Introduction    `json:"introduction"`
	Conversation []UtterancePair `json:"conversation"`
	Questions    []quiz.MCQ      `json:"questions"`
}

// Structure sends the transcript to the model and returns the validated
// Lesson. Markdown fences around the JSON are tolerated; anything that fails
// Lesson validation is an error, never silently patched.
func (s *Structurer) Structure(ctx context.Context, t transcript.Transcript) (Lesson, error) {
	ctx, cancel := context.WithTimeout(ctx, structuringTimeout)
	defer cancel()

	prompt := fmt.Sprintf(structuringPrompt,
		t.Language, t.Language, t.Language, t.Language, t.Language, t.Text())

	raw, err := s.client.Chat(ctx, s.model, []engine.Message{
		{Role: "user", Content: prompt},
	}, structuringSchema())
	if err != nil {
		return Lesson{}, fmt.Errorf("structuring transcript %s: %w", t.VideoID, err)
	}

	payload := stripFences(raw)

	var wire structuredWire
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return Lesson{}, fmt.Errorf("decoding structured transcript %s: %w", t.VideoID, err)
	}

	return New(t.VideoID, t.Language, wire.Introduction, wire.Conversation, wire.Questions)
}

// structuringSchema returns the JSON schema hint for structured output.
func structuringSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"introduction": {Type: "object", Description: "Bilingual introduction text"},
			"conversation": {Type: "array", Description: "Ordered bilingual utterances", Items: &engine.SchemaProperty{Type: "object"}},
			"questions":    {Type: "array", Description: "Comprehension questions with options", Items: &engine.SchemaProperty{Type: "object"}},
		},
		Required: []string{"introduction", "conversation", "questions"},
	}
}

// stripFences removes a markdown code fence around a JSON payload, if present.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+len("```json"):]
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
		return strings.TrimSpace(s)
	}
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
		return strings.TrimSpace(s)
	}
	return s
}
