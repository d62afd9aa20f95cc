package assistant

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ibarra/escucha/internal/composer"
	"github.com/ibarra/escucha/internal/engine"
	"github.com/ibarra/escucha/internal/guard"
)

// fakeEngine implements engine.Engine with function fields.
type fakeEngine struct {
	chatFn       func(ctx context.Context, model string, messages []engine.Message, schema *engine.Schema) (string, error)
	embedBatchFn func(ctx context.Context, model string, texts []string) ([][]float32, error)
}

func (f *fakeEngine) Chat(ctx context.Context, model string, messages []engine.Message, schema *engine.Schema) (string, error) {
	return f.chatFn(ctx, model, messages, schema)
}
func (f *fakeEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	vecs, err := f.embedBatchFn(ctx, model, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}
func (f *fakeEngine) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	return f.embedBatchFn(ctx, model, texts)
}
func (f *fakeEngine) IsRunning(_ context.Context) bool               { return true }
func (f *fakeEngine) ListModels(_ context.Context) ([]string, error) { return nil, nil }
func (f *fakeEngine) HasModel(_ context.Context, _ string) bool      { return true }
func (f *fakeEngine) PullModel(_ context.Context, _ string, _ func(engine.PullProgress)) error {
	return fmt.Errorf("not implemented")
}

// funcFilter adapts a function to guard.Filter.
type funcFilter func(ctx context.Context, text string) error

func (f funcFilter) Check(ctx context.Context, text string) error { return f(ctx, text) }

func answerRequest() composer.Request {
	return composer.Request{
		Mode: composer.ModeRAG,
		Messages: []engine.Message{
			{Role: "system", Content: "tutor"},
			{Role: "user", Content: "¿Qué significa 'hola'?"},
		},
		ChunkIDs: []string{"V1/conversation/0"},
	}
}

func TestGenerate(t *testing.T) {
	eng := &fakeEngine{chatFn: func(_ context.Context, _ string, _ []engine.Message, _ *engine.Schema) (string, error) {
		return "'Hola' means hello.", nil
	}}
	g := NewGenerator(eng, nil, "llama3.1", 0)

	resp, err := g.Generate(context.Background(), answerRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != "'Hola' means hello." {
		t.Errorf("text = %q", resp.Text)
	}
	if len(resp.GroundingChunkIDs) != 1 {
		t.Errorf("grounding = %v", resp.GroundingChunkIDs)
	}
	if resp.Ungrounded {
		t.Error("grounded response flagged ungrounded")
	}
}

func TestGenerate_Timeout(t *testing.T) {
	eng := &fakeEngine{chatFn: func(ctx context.Context, _ string, _ []engine.Message, _ *engine.Schema) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	g := NewGenerator(eng, nil, "llama3.1", 1) // 1ns, expires immediately

	_, err := g.Generate(context.Background(), answerRequest())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
}

func TestGenerate_ServiceError(t *testing.T) {
	eng := &fakeEngine{chatFn: func(_ context.Context, _ string, _ []engine.Message, _ *engine.Schema) (string, error) {
		return "", errors.New("model crashed")
	}}
	g := NewGenerator(eng, nil, "llama3.1", 0)

	_, err := g.Generate(context.Background(), answerRequest())
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("got %v, want ErrGeneration", err)
	}
}

func TestGenerate_BlockedContent(t *testing.T) {
	eng := &fakeEngine{chatFn: func(_ context.Context, _ string, _ []engine.Message, _ *engine.Schema) (string, error) {
		return "something inappropriate", nil
	}}
	filter := funcFilter(func(_ context.Context, _ string) error {
		return fmt.Errorf("%w: policy violation", guard.ErrBlocked)
	})
	g := NewGenerator(eng, filter, "llama3.1", 0)

	_, err := g.Generate(context.Background(), answerRequest())
	if !errors.Is(err, guard.ErrBlocked) {
		t.Fatalf("got %v, want guard.ErrBlocked", err)
	}
}

func TestGenerate_FilterFailureIsGenerationError(t *testing.T) {
	eng := &fakeEngine{chatFn: func(_ context.Context, _ string, _ []engine.Message, _ *engine.Schema) (string, error) {
		return "fine", nil
	}}
	filter := funcFilter(func(_ context.Context, _ string) error {
		return errors.New("moderation service unreachable")
	})
	g := NewGenerator(eng, filter, "llama3.1", 0)

	_, err := g.Generate(context.Background(), answerRequest())
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("got %v, want ErrGeneration", err)
	}
	if errors.Is(err, guard.ErrBlocked) {
		t.Error("filter outage misreported as blocked content")
	}
}

func TestGenerate_PassesUngroundedThrough(t *testing.T) {
	eng := &fakeEngine{chatFn: func(_ context.Context, _ string, _ []engine.Message, _ *engine.Schema) (string, error) {
		return "an answer", nil
	}}
	g := NewGenerator(eng, nil, "llama3.1", 0)

	req := answerRequest()
	req.ChunkIDs = nil
	req.Ungrounded = true

	resp, err := g.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !resp.Ungrounded {
		t.Error("ungrounded request produced a grounded response")
	}
}
