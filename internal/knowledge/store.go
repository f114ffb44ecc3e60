package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Store manages documents in the documents table. Embeddings are
// generated on write; search embeds the query and ranks by cosine
// similarity. Safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder ai.Embedder
	logger   *slog.Logger
}

// NewStore creates a document store over the given pool.
func NewStore(pool *pgxpool.Pool, embedder ai.Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, embedder: embedder, logger: logger}
}

// Upsert embeds the document's content and inserts it, replacing any
// existing document with the same id.
func (s *Store) Upsert(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		return errors.New("document id is required")
	}
	if doc.Content == "" {
		return fmt.Errorf("document %q has no content", doc.ID)
	}

	embedding, err := embedText(ctx, s.embedder, doc.Content)
	if err != nil {
		return fmt.Errorf("embed document %q: %w", doc.ID, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO documents (id, source, content, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET source = EXCLUDED.source,
		    content = EXCLUDED.content,
		    embedding = EXCLUDED.embedding,
		    updated_at = now()`,
		doc.ID, doc.Source, doc.Content, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("upsert document %q: %w", doc.ID, err)
	}

	s.logger.Debug("upserted document", "id", doc.ID, "source", doc.Source, "content_length", len(doc.Content))
	return nil
}

// Search embeds the query and returns the topK most similar documents,
// best first. topK is clamped to [1, MaxTopK]; zero uses DefaultTopK.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	if query == "" {
		return nil, errors.New("empty search query")
	}
	topK = clampTopK(topK)

	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	embedding, err := embedText(ctx, s.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, source, content, created_at,
		       1 - (embedding <=> $1) AS similarity
		FROM documents
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`,
		pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Document.ID, &r.Document.Source, &r.Document.Content,
			&r.Document.CreatedAt, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search results: %w", err)
	}

	s.logger.Debug("search completed", "query_length", len(query), "top_k", topK, "hits", len(results))
	return results, nil
}

// Get returns the document with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Document, error) {
	var doc Document
	err := s.pool.QueryRow(ctx, `
		SELECT id, source, content, created_at
		FROM documents
		WHERE id = $1`,
		id).Scan(&doc.ID, &doc.Source, &doc.Content, &doc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document %q: %w", id, err)
	}
	return doc, nil
}

// Delete removes a document. Deleting a missing id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete document %q: %w", id, err)
	}
	s.logger.Debug("deleted document", "id", id)
	return nil
}

// Count reports the number of stored documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}
