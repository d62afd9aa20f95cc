package quiz

import (
	"errors"
	"fmt"
)

var (
	// ErrSchema indicates a malformed question shape (missing text, too few
	// options, wrong number of correct answers). Malformed generator output
	// is reported, never repaired.
	ErrSchema = errors.New("question fails schema check")

	// ErrUngrounded indicates a question with no source chunk references in a
	// mode that requires grounding.
	ErrUngrounded = errors.New("question has no grounding sources")
)

// Validator checks generated questions against the required shape before they
// are surfaced. The language model is treated as an untrusted producer.
type Validator struct {
	// RequireGrounding rejects questions without SourceChunkIDs. Set for
	// retrieval-backed modes; unset for the base mode, where ungrounded
	// questions pass but remain flagged via MCQ.Ungrounded.
	RequireGrounding bool
}

// Validate returns nil if m satisfies the schema: non-empty question text,
// at least two options, exactly one marked correct, and (when grounding is
// required) at least one source chunk ID.
func (v Validator) Validate(m MCQ) error {
	if m.Question == "" {
		return fmt.Errorf("%w: empty question text", ErrSchema)
	}
	if len(m.Options) < 2 {
		return fmt.Errorf("%w: %d options, need at least 2", ErrSchema, len(m.Options))
	}
	for i, o := range m.Options {
		if o.Target == "" {
			return fmt.Errorf("%w: option %d has empty text", ErrSchema, i)
		}
	}
	if m.CorrectOption() < 0 {
		return fmt.Errorf("%w: exactly one option must be marked correct", ErrSchema)
	}
	if v.RequireGrounding && m.Ungrounded() {
		return fmt.Errorf("%w: source chunk IDs are required in grounded modes", ErrUngrounded)
	}
	return nil
}
