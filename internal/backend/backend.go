// Package backend adapts model generation behind a small contract the
// orchestrator can drive. Two implementations exist: Plain generates
// from history alone, Tooled additionally exposes tools and runs the
// agentic loop.
package backend

import (
	"context"
	"errors"

	"github.com/firebase/genkit/go/ai"

	"github.com/parleyhq/parley/internal/session"
)

// Request carries everything one generation needs. History holds prior
// committed turns in order; Input is the new user message. Model and
// Temperature are optional per-request overrides.
type Request struct {
	History     []session.Turn
	Input       string
	Model       string
	Temperature *float32
}

// StreamFunc receives raw model output fragments as they arrive.
// Returning an error aborts the generation.
type StreamFunc func(ctx context.Context, fragment string) error

// Generator produces one model reply. When stream is non-nil it is
// called for each fragment before the final text is returned; the
// returned text is always the complete raw reply.
type Generator interface {
	Generate(ctx context.Context, req Request, stream StreamFunc) (string, error)
}

// ToolSource hands out tool references for one generation. Acquire
// returns the refs plus a release function the caller must invoke when
// the generation finishes, successful or not.
type ToolSource interface {
	Acquire(ctx context.Context) ([]ai.ToolRef, func(), error)
}

// ErrEmptyInput indicates a request with no user input.
var ErrEmptyInput = errors.New("empty input")

// messages converts committed history plus the new input into the
// model's message sequence.
func messages(req Request) []*ai.Message {
	msgs := make([]*ai.Message, 0, len(req.History)+1)
	for _, t := range req.History {
		switch t.Role {
		case session.RoleUser:
			msgs = append(msgs, ai.NewUserMessage(ai.NewTextPart(t.Content)))
		case session.RoleAssistant:
			msgs = append(msgs, ai.NewModelMessage(ai.NewTextPart(t.Content)))
		}
	}
	return append(msgs, ai.NewUserMessage(ai.NewTextPart(req.Input)))
}
