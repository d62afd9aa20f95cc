package quiz

// Option is one answer choice of a multiple-choice question, carrying both
// the target-language text and its English translation.
type Option struct {
	Target  string `json:"target"`
	English string `json:"english,omitempty"`
	Correct bool   `json:"correct"`
}

// MCQ is a multiple-choice question. Generated MCQs must be traceable to the
// chunks that grounded them via SourceChunkIDs.
type MCQ struct {
	Question        string   `json:"question"`
	QuestionEnglish string   `json:"question_english,omitempty"`
	Options         []Option `json:"options"`
	SourceChunkIDs  []string `json:"source_chunk_ids,omitempty"`
}

// Ungrounded reports whether the question carries no source chunk references.
func (m MCQ) Ungrounded() bool {
	return len(m.SourceChunkIDs) == 0
}

// CorrectOption returns the index of the option marked correct, or -1 if the
// count of correct options is not exactly one.
func (m MCQ) CorrectOption() int {
	idx := -1
	for i, o := range m.Options {
		if !o.Correct {
			continue
		}
		if idx >= 0 {
			return -1
		}
		idx = i
	}
	return idx
}

// Exercise is a generated practice unit: a fresh conversation plus one MCQ
// about it.
type Exercise struct {
	Conversation string `json:"conversation"`
	Question     MCQ    `json:"question"`
}
