package quiz

import (
	"encoding/json"
	"fmt"
	"strings"
)

// exerciseWire mirrors the JSON shape the generation prompt asks the model
// to produce for an interactive exercise.
type exerciseWire struct {
	Conversation    string       `json:"conversation"`
	QuestionTarget  string       `json:"question_target"`
	QuestionEnglish string       `json:"question_english"`
	Answers         []answerWire `json:"answers"`
}

type answerWire struct {
	TextTarget  string `json:"text_target"`
	TextEnglish string `json:"text_english"`
	IsCorrect   bool   `json:"is_correct"`
}

// ParseExercise decodes a model response into an Exercise. Markdown code
// fences and surrounding prose are tolerated; a response with no decodable
// JSON object fails with ErrSchema.
func ParseExercise(raw string) (Exercise, error) {
	payload, err := extractJSON(raw)
	if err != nil {
		return Exercise{}, err
	}

	var wire exerciseWire
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return Exercise{}, fmt.Errorf("%w: %v", ErrSchema, err)
	}

	mcq := MCQ{
		Question:        wire.QuestionTarget,
		QuestionEnglish: wire.QuestionEnglish,
		Options:         make([]Option, len(wire.Answers)),
	}
	for i, a := range wire.Answers {
		mcq.Options[i] = Option{Target: a.TextTarget, English: a.TextEnglish, Correct: a.IsCorrect}
	}

	return Exercise{Conversation: wire.Conversation, Question: mcq}, nil
}

// extractJSON strips markdown code fences and surrounding prose, returning
// the first top-level JSON object in raw.
func extractJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)

	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+len("```json"):]
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("%w: no JSON object in response", ErrSchema)
	}
	return s[start : end+1], nil
}
