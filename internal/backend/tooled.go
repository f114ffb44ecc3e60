package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// DefaultMaxTurns bounds the agentic tool-calling loop.
const DefaultMaxTurns = 5

// Tooled generates with tool access: the model may issue tool calls,
// which genkit resolves in an agentic loop bounded by maxTurns. Tool
// refs are acquired per generation and released when it finishes, so a
// source backed by a remote process can scope its connection to the
// request.
type Tooled struct {
	g            *genkit.Genkit
	defaultModel string
	system       string
	temperature  float32
	maxTurns     int
	sources      []ToolSource
	logger       *slog.Logger
}

// NewTooled creates a generator that draws tools from the given
// sources. maxTurns zero or negative uses DefaultMaxTurns.
func NewTooled(g *genkit.Genkit, defaultModel, system string, temperature float32, maxTurns int, logger *slog.Logger, sources ...ToolSource) *Tooled {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tooled{
		g:            g,
		defaultModel: defaultModel,
		system:       system,
		temperature:  temperature,
		maxTurns:     maxTurns,
		sources:      sources,
		logger:       logger,
	}
}

func (t *Tooled) Generate(ctx context.Context, req Request, stream StreamFunc) (string, error) {
	if req.Input == "" {
		return "", ErrEmptyInput
	}

	var refs []ai.ToolRef
	for _, src := range t.sources {
		srcRefs, release, err := src.Acquire(ctx)
		if err != nil {
			return "", fmt.Errorf("acquire tools: %w", err)
		}
		defer release()
		refs = append(refs, srcRefs...)
	}

	opts := generateOptions(t.defaultModel, t.system, t.temperature, req, stream)
	if len(refs) > 0 {
		opts = append(opts, ai.WithTools(refs...), ai.WithMaxTurns(t.maxTurns))
	}

	resp, err := genkit.Generate(ctx, t.g, opts...)
	if err != nil {
		return "", fmt.Errorf("tooled generate: %w", err)
	}
	t.logger.Debug("tooled generation completed",
		"model", modelName(t.defaultModel, req),
		"tools", len(refs),
		"tool_requests", len(resp.ToolRequests()))
	return resp.Text(), nil
}
