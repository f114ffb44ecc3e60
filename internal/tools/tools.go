// Package tools defines the local genkit tools the model may call
// during tooled generation: semantic search over the knowledge store
// and exact document lookup.
package tools

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/parleyhq/parley/internal/knowledge"
)

// Tool names as the model sees them.
const (
	SearchDocumentsName = "search_documents"
	GetDocumentName     = "get_document"
)

// DocumentHit is one search result returned to the model.
type DocumentHit struct {
	ID         string  `json:"id"`
	Source     string  `json:"source"`
	Content    string  `json:"content"`
	Similarity float32 `json:"similarity"`
}

// DocumentOutput is the payload of a successful document lookup.
type DocumentOutput struct {
	ID      string `json:"id"`
	Source  string `json:"source"`
	Content string `json:"content"`
}

// Register defines the knowledge tools with genkit and returns them.
// allowedSources restricts get_document to documents from those
// sources; empty means no restriction. search_documents is not
// filtered, it only ever returns stored content.
func Register(g *genkit.Genkit, store *knowledge.Store, allowedSources []string, logger *slog.Logger) []ai.Tool {
	if logger == nil {
		logger = slog.Default()
	}

	search := genkit.DefineTool(
		g, SearchDocumentsName,
		"Search the knowledge base for documents similar to a query. Returns up to topK results ordered by similarity.",
		func(ctx *ai.ToolContext, input struct {
			Query string `json:"query" jsonschema_description:"Natural language search query"`
			TopK  int    `json:"topK,omitempty" jsonschema_description:"Number of results, 1 to 10, default 5"`
		},
		) ([]DocumentHit, error) {
			results, err := store.Search(ctx, input.Query, input.TopK)
			if err != nil {
				return nil, fmt.Errorf("search documents: %w", err)
			}
			hits := make([]DocumentHit, len(results))
			for i, r := range results {
				hits[i] = DocumentHit{
					ID:         r.Document.ID,
					Source:     r.Document.Source,
					Content:    r.Document.Content,
					Similarity: r.Similarity,
				}
			}
			logger.Debug("search_documents tool called", "query_length", len(input.Query), "hits", len(hits))
			return hits, nil
		},
	)

	get := genkit.DefineTool(
		g, GetDocumentName,
		"Fetch one knowledge base document by its exact id.",
		func(ctx *ai.ToolContext, input struct {
			ID string `json:"id" jsonschema_description:"Exact document id"`
		},
		) (DocumentOutput, error) {
			doc, err := store.Get(ctx, input.ID)
			if err != nil {
				return DocumentOutput{}, fmt.Errorf("get document: %w", err)
			}
			if len(allowedSources) > 0 && !slices.Contains(allowedSources, doc.Source) {
				return DocumentOutput{}, fmt.Errorf("document %q: source %q not allowed", doc.ID, doc.Source)
			}
			logger.Debug("get_document tool called", "id", input.ID)
			return DocumentOutput{ID: doc.ID, Source: doc.Source, Content: doc.Content}, nil
		},
	)

	return []ai.Tool{search, get}
}
