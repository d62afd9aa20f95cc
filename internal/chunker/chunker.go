package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ibarra/escucha/internal/lesson"
)

var (
	// ErrInvalidPolicy indicates a malformed chunking policy, such as an
	// overlap at least as large as the chunk size.
	ErrInvalidPolicy = errors.New("invalid chunking policy")

	// ErrUnsegmentable indicates section text that cannot be segmented,
	// such as an unterminated encoding.
	ErrUnsegmentable = errors.New("section text cannot be segmented")
)

// Policy bounds chunk sizes. MaxChars is the greedy packing limit in runes;
// OverlapChars is repeated at the start of the next chunk when free text is
// split, preserving cross-boundary context.
type Policy struct {
	MaxChars     int
	OverlapChars int
}

// DefaultPolicy is sized for short A1 lesson passages.
var DefaultPolicy = Policy{MaxChars: 600, OverlapChars: 80}

func (p Policy) validate() error {
	if p.MaxChars <= 0 {
		return fmt.Errorf("%w: max chars must be positive, got %d", ErrInvalidPolicy, p.MaxChars)
	}
	if p.OverlapChars < 0 {
		return fmt.Errorf("%w: overlap must be non-negative, got %d", ErrInvalidPolicy, p.OverlapChars)
	}
	if p.MaxChars <= p.OverlapChars {
		return fmt.Errorf("%w: max chars (%d) must exceed overlap (%d)", ErrInvalidPolicy, p.MaxChars, p.OverlapChars)
	}
	return nil
}

// Chunk is a retrieval-sized passage of one lesson section. Chunks are
// immutable and uniquely identified by (video, section, position); the ID
// encodes that triple, which makes re-ingestion overwrite rather than
// duplicate.
type Chunk struct {
	ID       string
	VideoID  string
	Section  lesson.SectionKind
	Language string
	Text     string
	Position int
}

// ChunkID returns the deterministic ID for a chunk at the given coordinates.
func ChunkID(videoID string, section lesson.SectionKind, position int) string {
	return fmt.Sprintf("%s/%s/%d", videoID, section, position)
}

// Split cuts a lesson into chunks. Sections are split independently; text
// is never merged across section boundaries. Identical input and policy
// always yield an identical chunk sequence.
func Split(l lesson.Lesson, p Policy) ([]Chunk, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	var chunks []Chunk

	intro, err := splitIntroduction(l, p)
	if err != nil {
		return nil, err
	}
	chunks = append(chunks, intro...)

	convo, err := splitConversation(l, p)
	if err != nil {
		return nil, err
	}
	chunks = append(chunks, convo...)

	questions, err := splitQuestions(l, p)
	if err != nil {
		return nil, err
	}
	chunks = append(chunks, questions...)

	return chunks, nil
}

// splitIntroduction packs the target-language text greedily on sentence
// boundaries, then the English analysis text, positions continuing across
// the two language streams.
func splitIntroduction(l lesson.Lesson, p Policy) ([]Chunk, error) {
	if l.Introduction.Empty() {
		return nil, nil
	}

	var chunks []Chunk
	pos := 0

	streams := []struct {
		text     string
		language string
	}{
		{l.Introduction.Target, l.Language},
		{l.Introduction.English, "en"},
	}

	for _, stream := range streams {
		if stream.text == "" {
			continue
		}
		parts, err := packFreeText(stream.text, p)
		if err != nil {
			return nil, fmt.Errorf("%s section: %w", lesson.SectionIntroduction, err)
		}
		for _, text := range parts {
			chunks = append(chunks, Chunk{
				ID:       ChunkID(l.VideoID, lesson.SectionIntroduction, pos),
				VideoID:  l.VideoID,
				Section:  lesson.SectionIntroduction,
				Language: stream.language,
				Text:     text,
				Position: pos,
			})
			pos++
		}
	}

	return chunks, nil
}

// splitConversation packs consecutive utterance pairs into windows of up to
// MaxChars. Utterances stay whole: the window boundary is always between
// pairs, so no overlap is needed.
func splitConversation(l lesson.Lesson, p Policy) ([]Chunk, error) {
	if len(l.Conversation) == 0 {
		return nil, nil
	}

	lines := make([]string, len(l.Conversation))
	for i, u := range l.Conversation {
		if !utf8.ValidString(u.Target) || !utf8.ValidString(u.English) {
			return nil, fmt.Errorf("%s section: utterance %d: %w", lesson.SectionConversation, i, ErrUnsegmentable)
		}
		lines[i] = formatUtterance(u)
	}

	var chunks []Chunk
	pos := 0
	var window strings.Builder
	windowLen := 0

	flush := func() {
		if windowLen == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			ID:       ChunkID(l.VideoID, lesson.SectionConversation, pos),
			VideoID:  l.VideoID,
			Section:  lesson.SectionConversation,
			Language: l.Language,
			Text:     window.String(),
			Position: pos,
		})
		pos++
		window.Reset()
		windowLen = 0
	}

	for _, line := range lines {
		lineLen := utf8.RuneCountInString(line)
		if windowLen > 0 && windowLen+1+lineLen > p.MaxChars {
			flush()
		}
		if windowLen > 0 {
			window.WriteByte('\n')
			windowLen++
		}
		window.WriteString(line)
		windowLen += lineLen
	}
	flush()

	return chunks, nil
}

func formatUtterance(u lesson.UtterancePair) string {
	var sb strings.Builder
	if u.Speaker != "" {
		sb.WriteString(u.Speaker)
		sb.WriteString(": ")
	}
	sb.WriteString(u.Target)
	sb.WriteString("\n(")
	sb.WriteString(u.English)
	sb.WriteByte(')')
	return sb.String()
}

// splitQuestions emits one chunk per question: the bilingual question text
// followed by its options. Question boundaries are natural retrieval units.
func splitQuestions(l lesson.Lesson, p Policy) ([]Chunk, error) {
	var chunks []Chunk
	for i, q := range l.Questions {
		if !utf8.ValidString(q.Question) {
			return nil, fmt.Errorf("%s section: question %d: %w", lesson.SectionQuestions, i, ErrUnsegmentable)
		}

		var sb strings.Builder
		sb.WriteString(q.Question)
		if q.QuestionEnglish != "" {
			sb.WriteString("\n(")
			sb.WriteString(q.QuestionEnglish)
			sb.WriteByte(')')
		}
		for _, o := range q.Options {
			sb.WriteString("\n- ")
			sb.WriteString(o.Target)
			if o.English != "" {
				sb.WriteString(" (")
				sb.WriteString(o.English)
				sb.WriteByte(')')
			}
		}

		chunks = append(chunks, Chunk{
			ID:       ChunkID(l.VideoID, lesson.SectionQuestions, i),
			VideoID:  l.VideoID,
			Section:  lesson.SectionQuestions,
			Language: l.Language,
			Text:     sb.String(),
			Position: i,
		})
	}
	return chunks, nil
}

// packFreeText splits free text on sentence boundaries and packs sentences
// greedily up to MaxChars, carrying up to OverlapChars from the end of each
// chunk into the next. The carry counts against the next chunk's budget and
// is trimmed when the following sentence would not fit beside it, so no
// chunk exceeds MaxChars runes. Sentences longer than MaxChars are
// hard-split.
func packFreeText(text string, p Policy) ([]string, error) {
	if !utf8.ValidString(text) {
		return nil, ErrUnsegmentable
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	sentences := splitSentences(text)

	// Hard-split any sentence that alone exceeds the limit.
	var units []string
	for _, s := range sentences {
		units = append(units, hardSplit(s, p.MaxChars)...)
	}

	var parts []string
	var cur strings.Builder
	curLen := 0

	for _, u := range units {
		uLen := utf8.RuneCountInString(u)
		if curLen > 0 && curLen+1+uLen > p.MaxChars {
			parts = append(parts, cur.String())
			cur.Reset()
			curLen = 0
			if carrySize := min(p.OverlapChars, p.MaxChars-uLen-1); carrySize > 0 {
				carry := tailRunes(parts[len(parts)-1], carrySize)
				cur.WriteString(carry)
				curLen = utf8.RuneCountInString(carry)
			}
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(u)
		curLen += uLen
	}
	if curLen > 0 {
		parts = append(parts, cur.String())
	}

	return parts, nil
}

// splitSentences cuts text after terminal punctuation followed by a space.
// The terminator stays attached to its sentence; inverted Spanish punctuation
// opens the next sentence naturally.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		cur.WriteRune(r)
		if isTerminator(r) && (i+1 == len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n') {
			s := strings.TrimSpace(cur.String())
			if s != "" {
				sentences = append(sentences, s)
			}
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

// hardSplit cuts s into rune-bounded pieces of at most maxRunes.
func hardSplit(s string, maxRunes int) []string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return []string{s}
	}
	runes := []rune(s)
	var parts []string
	for len(runes) > 0 {
		n := min(maxRunes, len(runes))
		parts = append(parts, string(runes[:n]))
		runes = runes[n:]
	}
	return parts
}

// tailRunes returns the last n runes of s.
func tailRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
