package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"google.golang.org/genai"
)

// Plain is the tool-free generator: one model call over system prompt,
// history, and input. It is also the fallback path when the tooled
// generator fails.
type Plain struct {
	g            *genkit.Genkit
	defaultModel string
	system       string
	temperature  float32
	logger       *slog.Logger
}

// NewPlain creates a generator without tool access. defaultModel is the
// full genkit model name, e.g. "googleai/gemini-2.5-flash".
func NewPlain(g *genkit.Genkit, defaultModel, system string, temperature float32, logger *slog.Logger) *Plain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Plain{g: g, defaultModel: defaultModel, system: system, temperature: temperature, logger: logger}
}

func (p *Plain) Generate(ctx context.Context, req Request, stream StreamFunc) (string, error) {
	if req.Input == "" {
		return "", ErrEmptyInput
	}

	opts := generateOptions(p.defaultModel, p.system, p.temperature, req, stream)

	resp, err := genkit.Generate(ctx, p.g, opts...)
	if err != nil {
		return "", fmt.Errorf("plain generate: %w", err)
	}
	p.logger.Debug("plain generation completed",
		"model", modelName(p.defaultModel, req),
		"history_turns", len(req.History))
	return resp.Text(), nil
}

// generateOptions builds the option set shared by both generators. A
// per-request temperature overrides the configured default.
func generateOptions(defaultModel, system string, temperature float32, req Request, stream StreamFunc) []ai.GenerateOption {
	opts := []ai.GenerateOption{
		ai.WithModelName(modelName(defaultModel, req)),
		ai.WithMessages(messages(req)...),
	}
	if system != "" {
		opts = append(opts, ai.WithSystem(system))
	}
	temp := temperature
	if req.Temperature != nil {
		temp = *req.Temperature
	}
	opts = append(opts, ai.WithConfig(&genai.GenerateContentConfig{
		Temperature: genai.Ptr(temp),
	}))
	if stream != nil {
		opts = append(opts, ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			return stream(ctx, chunk.Text())
		}))
	}
	return opts
}

func modelName(defaultModel string, req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return defaultModel
}
