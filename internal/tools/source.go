package tools

import (
	"context"

	"github.com/firebase/genkit/go/ai"
)

// Source exposes locally registered tools through the tool source
// contract used by the tooled generator. Refs are cached at
// construction; local tools never disconnect.
type Source struct {
	refs []ai.ToolRef
}

// NewSource wraps already-registered tools.
func NewSource(tools []ai.Tool) *Source {
	refs := make([]ai.ToolRef, len(tools))
	for i, t := range tools {
		refs[i] = t
	}
	return &Source{refs: refs}
}

// Acquire returns the cached refs. The release function is a no-op.
func (s *Source) Acquire(context.Context) ([]ai.ToolRef, func(), error) {
	return s.refs, func() {}, nil
}
