package composer

import (
	"errors"
	"strings"
	"testing"

	"github.com/ibarra/escucha/internal/lesson"
	"github.com/ibarra/escucha/internal/retrieval"
)

func scored(chunkID, text string, score float32) retrieval.ScoredRecord {
	return retrieval.ScoredRecord{
		Record: retrieval.Record{
			ChunkID: chunkID,
			VideoID: "V1",
			Section: lesson.SectionConversation,
			Text:    text,
		},
		Score: score,
	}
}

func TestParseMode(t *testing.T) {
	cases := map[string]Mode{
		"rag":            ModeRAG,
		" RAG ":          ModeRAG,
		"base":           ModeBase,
		"Raw_Transcript": ModeRawTranscript,
		"structured":     ModeStructured,
		"interactive":    ModeInteractive,
	}
	for in, want := range cases {
		got, err := ParseMode(in)
		if err != nil {
			t.Errorf("ParseMode(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseMode(%q) = %s, want %s", in, got, want)
		}
	}

	if _, err := ParseMode("hybrid"); err == nil {
		t.Error("unknown mode accepted")
	}
}

func TestAssemble_Base(t *testing.T) {
	a := New(0, false)

	req, err := a.Assemble(ModeBase, "¿Qué significa 'hola'?", Context{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !req.Ungrounded {
		t.Error("base request not flagged ungrounded")
	}
	if len(req.ChunkIDs) != 0 {
		t.Errorf("base request carries chunk IDs: %v", req.ChunkIDs)
	}
	if len(req.Messages) != 2 || req.Messages[1].Content != "¿Qué significa 'hola'?" {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestAssemble_RawTranscriptRequiresTranscript(t *testing.T) {
	a := New(0, false)

	_, err := a.Assemble(ModeRawTranscript, "hola", Context{Transcript: "  "})
	if !errors.Is(err, ErrNoContext) {
		t.Fatalf("got %v, want ErrNoContext", err)
	}

	req, err := a.Assemble(ModeRawTranscript, "hola", Context{Transcript: "Hola, ¿cómo estás?"})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !strings.Contains(req.Messages[1].Content, "[Transcript]\nHola, ¿cómo estás?") {
		t.Errorf("user message = %q", req.Messages[1].Content)
	}
	if req.Ungrounded {
		t.Error("transcript-backed request flagged ungrounded")
	}
}

func TestAssemble_StructuredRequiresLesson(t *testing.T) {
	a := New(0, false)

	_, err := a.Assemble(ModeStructured, "hola", Context{})
	if !errors.Is(err, ErrNoContext) {
		t.Fatalf("got %v, want ErrNoContext", err)
	}

	l := &lesson.Lesson{
		VideoID:  "V1",
		Language: "es",
		Conversation: []lesson.UtterancePair{
			{Speaker: "Ana", Target: "Hola.", English: "Hello."},
		},
	}
	req, err := a.Assemble(ModeStructured, "hola", Context{Lesson: l})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !strings.Contains(req.Messages[1].Content, "[Conversation]\nAna: Hola.\n(Hello.)") {
		t.Errorf("user message = %q", req.Messages[1].Content)
	}
}

func TestAssemble_RAGInjectsChunksInRankedOrder(t *testing.T) {
	a := New(0, false)
	results := []retrieval.ScoredRecord{
		scored("V1/conversation/0", "primer fragmento", 0.9),
		scored("V1/conversation/1", "segundo fragmento", 0.5),
	}

	req, err := a.Assemble(ModeRAG, "hola", Context{Results: results})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	body := req.Messages[1].Content
	first := strings.Index(body, "primer fragmento")
	second := strings.Index(body, "segundo fragmento")
	if first < 0 || second < 0 || first > second {
		t.Errorf("chunks not injected in ranked order:\n%s", body)
	}
	if len(req.ChunkIDs) != 2 || req.ChunkIDs[0] != "V1/conversation/0" {
		t.Errorf("chunk IDs = %v", req.ChunkIDs)
	}
	if req.Ungrounded {
		t.Error("retrieval-backed request flagged ungrounded")
	}
	if !strings.Contains(req.Messages[0].Content, "strictly from the provided context") {
		t.Error("grounded instruction missing from system prompt")
	}
}

func TestAssemble_RAGEmptyResults(t *testing.T) {
	strict := New(0, false)
	_, err := strict.Assemble(ModeRAG, "hola", Context{})
	if !errors.Is(err, ErrNoContext) {
		t.Fatalf("got %v, want ErrNoContext without fallback", err)
	}

	lenient := New(0, true)
	req, err := lenient.Assemble(ModeRAG, "hola", Context{})
	if err != nil {
		t.Fatalf("Assemble with fallback: %v", err)
	}
	if !req.Ungrounded {
		t.Error("fallback request not flagged ungrounded")
	}
	if len(req.ChunkIDs) != 0 {
		t.Errorf("fallback request carries chunk IDs: %v", req.ChunkIDs)
	}
}

func TestAssemble_InteractiveRejected(t *testing.T) {
	a := New(0, false)
	_, err := a.Assemble(ModeInteractive, "hola", Context{})
	if !errors.Is(err, ErrNoContext) {
		t.Fatalf("got %v, want ErrNoContext", err)
	}
}

func TestAssemble_TokenBudgetDropsLowRankedChunks(t *testing.T) {
	// Budget fits the header plus roughly one chunk entry.
	a := New(60, false)
	big := strings.Repeat("palabra ", 15)
	results := []retrieval.ScoredRecord{
		scored("V1/conversation/0", big, 0.9),
		scored("V1/conversation/1", big, 0.5),
	}

	req, err := a.Assemble(ModeRAG, "hola", Context{Results: results})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(req.ChunkIDs) != 1 {
		t.Fatalf("got %d chunk IDs under a one-chunk budget, want 1", len(req.ChunkIDs))
	}
	if req.ChunkIDs[0] != "V1/conversation/0" {
		t.Errorf("kept %s, want the top-ranked chunk", req.ChunkIDs[0])
	}
}

func TestAssembleExercise(t *testing.T) {
	a := New(0, false)

	_, err := a.AssembleExercise(Context{})
	if !errors.Is(err, ErrNoContext) {
		t.Fatalf("got %v, want ErrNoContext with no chunks", err)
	}

	req, err := a.AssembleExercise(Context{Results: []retrieval.ScoredRecord{
		scored("V1/conversation/0", "Ana: Hola.", 0.8),
	}})
	if err != nil {
		t.Fatalf("AssembleExercise: %v", err)
	}
	if req.Mode != ModeInteractive {
		t.Errorf("mode = %s", req.Mode)
	}
	if req.Schema == nil {
		t.Error("exercise request has no schema hint")
	}
	if len(req.ChunkIDs) != 1 {
		t.Errorf("chunk IDs = %v", req.ChunkIDs)
	}
}

func TestAssembleQuiz(t *testing.T) {
	a := New(0, false)

	base, err := a.AssembleQuiz(ModeBase, "greetings", Context{})
	if err != nil {
		t.Fatalf("AssembleQuiz base: %v", err)
	}
	if !base.Ungrounded {
		t.Error("base quiz not flagged ungrounded")
	}
	if !strings.Contains(base.Messages[1].Content, "greetings") {
		t.Errorf("user message = %q", base.Messages[1].Content)
	}

	rag, err := a.AssembleQuiz(ModeRAG, "greetings", Context{Results: []retrieval.ScoredRecord{
		scored("V1/conversation/0", "Ana: Hola.", 0.8),
	}})
	if err != nil {
		t.Fatalf("AssembleQuiz rag: %v", err)
	}
	if rag.Ungrounded {
		t.Error("retrieval-backed quiz flagged ungrounded")
	}
	if len(rag.ChunkIDs) != 1 {
		t.Errorf("chunk IDs = %v", rag.ChunkIDs)
	}

	if _, err := a.AssembleQuiz(ModeStructured, "greetings", Context{}); err == nil {
		t.Error("quiz in structured mode accepted")
	}
}

func TestAssembleQuiz_RAGFallsBackToBase(t *testing.T) {
	a := New(0, true)

	req, err := a.AssembleQuiz(ModeRAG, "greetings", Context{})
	if err != nil {
		t.Fatalf("AssembleQuiz: %v", err)
	}
	if !req.Ungrounded {
		t.Error("fallback quiz not flagged ungrounded")
	}
}

func TestTruncate_RespectsRuneBoundaries(t *testing.T) {
	a := New(2, false)

	got := a.truncate(strings.Repeat("ñ", 20))
	if !strings.HasSuffix(got, "ñ") {
		t.Errorf("truncation cut a rune in half: %q", got)
	}
	if len([]rune(got)) > 8 {
		t.Errorf("got %d runes, want at most 8", len([]rune(got)))
	}
}
