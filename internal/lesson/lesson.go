package lesson

import (
	"errors"
	"fmt"

	"github.com/ibarra/escucha/internal/quiz"
)

// SectionKind names one of the three semantically distinct lesson sections.
// Sections are never merged during chunking and remain separately retrievable.
type SectionKind string

const (
	SectionIntroduction SectionKind = "introduction"
	SectionConversation SectionKind = "conversation"
	SectionQuestions    SectionKind = "questions"
)

// Valid reports whether k is a known section kind.
func (k SectionKind) Valid() bool {
	switch k {
	case SectionIntroduction, SectionConversation, SectionQuestions:
		return true
	}
	return false
}

// Introduction is the lesson's opening passage in the target language with
// its English analysis. Source holds the raw transcript excerpt it was
// derived from, when available.
type Introduction struct {
	Source  string `json:"source,omitempty"`
	Target  string `json:"target"`
	English string `json:"english"`
}

// Empty reports whether the section is explicitly absent.
func (i Introduction) Empty() bool {
	return i.Target == "" && i.English == ""
}

// UtterancePair is a single conversational utterance together with its
// English translation.
type UtterancePair struct {
	Speaker string `json:"speaker,omitempty"`
	Target  string `json:"target"`
	English string `json:"english"`
}

// Lesson is the structured form of one video's transcript: bilingual
// introduction, conversation, and comprehension questions. Derived from a
// raw transcript by the Structurer; validated at construction rather than
// inferred from loosely-typed maps.
type Lesson struct {
	VideoID      string          `json:"video_id"`
	Language     string          `json:"language"`
	Introduction Introduction    `json:"introduction"`
	Conversation []UtterancePair `json:"conversation"`
	Questions    []quiz.MCQ      `json:"questions"`
}

// New validates and constructs a Lesson. Every non-empty section must have
// non-empty bilingual content; fully empty sections count as explicitly
// absent. A lesson with all three sections absent is rejected.
func New(videoID, language string, intro Introduction, conversation []UtterancePair, questions []quiz.MCQ) (Lesson, error) {
	if videoID == "" {
		return Lesson{}, errors.New("lesson: empty video ID")
	}
	if language == "" {
		return Lesson{}, errors.New("lesson: empty language tag")
	}

	if !intro.Empty() {
		if intro.Target == "" || intro.English == "" {
			return Lesson{}, fmt.Errorf("lesson %s: introduction must carry both target and English text", videoID)
		}
	}

	for i, u := range conversation {
		if u.Target == "" || u.English == "" {
			return Lesson{}, fmt.Errorf("lesson %s: utterance %d must carry both target and English text", videoID, i)
		}
	}

	for i, q := range questions {
		if err := (quiz.Validator{}).Validate(q); err != nil {
			return Lesson{}, fmt.Errorf("lesson %s: question %d: %w", videoID, i, err)
		}
	}

	if intro.Empty() && len(conversation) == 0 && len(questions) == 0 {
		return Lesson{}, fmt.Errorf("lesson %s: all sections absent", videoID)
	}

	return Lesson{
		VideoID:      videoID,
		Language:     language,
		Introduction: intro,
		Conversation: conversation,
		Questions:    questions,
	}, nil
}
