// Package knowledge stores documents with vector embeddings in
// PostgreSQL and serves cosine-similarity search over them. It backs
// the document tools exposed to the model and the ingest command.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
)

// Search bounds. TopK outside the range is clamped, not rejected.
const (
	DefaultTopK = 5
	MaxTopK     = 10
)

// searchTimeout caps one vector search, embedding included, so a slow
// query cannot stall the whole generation.
const searchTimeout = 10 * time.Second

// Document is one stored knowledge document.
type Document struct {
	ID        string
	Source    string
	Content   string
	CreatedAt time.Time
}

// Result is one search hit with its cosine similarity in [0, 1].
type Result struct {
	Document   Document
	Similarity float32
}

// ErrNotFound indicates no document with the requested id.
var ErrNotFound = errors.New("document not found")

// clampTopK normalizes a requested result count.
func clampTopK(k int) int {
	if k <= 0 {
		return DefaultTopK
	}
	if k > MaxTopK {
		return MaxTopK
	}
	return k
}

// embedText generates the embedding vector for one text.
func embedText(ctx context.Context, embedder ai.Embedder, text string) ([]float32, error) {
	resp, err := embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			{Content: []*ai.Part{ai.NewTextPart(text)}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("generate embedding: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	return resp.Embeddings[0].Embedding, nil
}
