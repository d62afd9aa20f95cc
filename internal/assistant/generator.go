package assistant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ibarra/escucha/internal/composer"
	"github.com/ibarra/escucha/internal/engine"
	"github.com/ibarra/escucha/internal/guard"
)

var (
	// ErrGeneration is returned when the language-model service fails.
	ErrGeneration = errors.New("generation failed")

	// ErrTimeout is returned when a generation or retrieval call exceeds
	// its deadline.
	ErrTimeout = errors.New("operation timed out")
)

const defaultGenerateTimeout = 120 * time.Second

// Response is the result of one generation call. GroundingChunkIDs lists
// the chunks whose text was in the prompt; Ungrounded marks responses
// produced without lesson material.
type Response struct {
	Text              string
	GroundingChunkIDs []string
	Ungrounded        bool
}

// Generator sends assembled requests to the inference engine and screens
// the output through the content filter before returning it.
type Generator struct {
	engine  engine.Engine
	filter  guard.Filter
	model   string
	timeout time.Duration
}

// NewGenerator creates a Generator. A nil filter disables content screening.
func NewGenerator(e engine.Engine, filter guard.Filter, model string, timeout time.Duration) *Generator {
	if filter == nil {
		filter = guard.Noop{}
	}
	if timeout <= 0 {
		timeout = defaultGenerateTimeout
	}
	return &Generator{engine: e, filter: filter, model: model, timeout: timeout}
}

// Generate runs the request against the engine. Deadline overruns surface
// as ErrTimeout, service failures as ErrGeneration, and filter rejections
// as guard.ErrBlocked. None of these are retried here.
func (g *Generator) Generate(ctx context.Context, req composer.Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	text, err := g.engine.Chat(ctx, g.model, req.Messages, req.Schema)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Response{}, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return Response{}, fmt.Errorf("%w (mode %s): %w", ErrGeneration, req.Mode, err)
	}

	if err := g.filter.Check(ctx, text); err != nil {
		if errors.Is(err, guard.ErrBlocked) {
			return Response{}, err
		}
		return Response{}, fmt.Errorf("%w: content filter: %w", ErrGeneration, err)
	}

	return Response{
		Text:              text,
		GroundingChunkIDs: req.ChunkIDs,
		Ungrounded:        req.Ungrounded,
	}, nil
}
