package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the durable Store implementation backed by PostgreSQL.
//
// Sessions are provisioned on first commit. Append runs in a single
// transaction holding a row lock on the session, which serializes
// commits per session across processes; History for a session therefore
// never observes a half-appended pair.
type PGStore struct {
	pool     *pgxpool.Pool
	maxTurns int
	logger   *slog.Logger
}

// NewPGStore creates a PostgreSQL-backed store. maxTurns bounds History
// reads; zero or negative uses DefaultMaxTurns.
func NewPGStore(pool *pgxpool.Pool, maxTurns int, logger *slog.Logger) *PGStore {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PGStore{pool: pool, maxTurns: maxTurns, logger: logger}
}

// History returns the most recent turns for the session in commit order.
func (s *PGStore) History(ctx context.Context, sessionID string) ([]Turn, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}

	rows, err := s.pool.Query(ctx, `
		SELECT role, content, created_at
		FROM session_turns
		WHERE session_id = $1
		ORDER BY seq DESC
		LIMIT $2`,
		sessionID, s.maxTurns)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading history rows: %w", err)
	}

	// Query returned newest-first for the LIMIT; callers want commit order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	if turns == nil {
		turns = []Turn{}
	}
	return turns, nil
}

// Append commits a user/assistant pair in one transaction.
func (s *PGStore) Append(ctx context.Context, sessionID string, user, assistant Turn) error {
	if err := validatePair(sessionID, user, assistant); err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning commit transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
			s.logger.Warn("rolling back commit transaction", "error", rbErr)
		}
	}()

	// Provision on first commit, then lock the session row so concurrent
	// commits for the same session serialize on seq assignment.
	if _, err := tx.Exec(ctx, `
		INSERT INTO sessions (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING`, sessionID); err != nil {
		return fmt.Errorf("provisioning session: %w", err)
	}
	var locked string
	if err := tx.QueryRow(ctx, `
		SELECT id FROM sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&locked); err != nil {
		return fmt.Errorf("locking session: %w", err)
	}

	var maxSeq int
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM session_turns WHERE session_id = $1`,
		sessionID).Scan(&maxSeq); err != nil {
		return fmt.Errorf("reading sequence number: %w", err)
	}

	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO session_turns (session_id, seq, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		sessionID, maxSeq+1, user.Role, user.Content, user.CreatedAt)
	batch.Queue(`
		INSERT INTO session_turns (session_id, seq, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		sessionID, maxSeq+2, assistant.Role, assistant.Content, assistant.CreatedAt)
	batch.Queue(`UPDATE sessions SET updated_at = now() WHERE id = $1`, sessionID)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting turn pair: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing turn pair: %w", err)
	}

	s.logger.Debug("committed turn pair", "session_id", sessionID, "seq", maxSeq+2)
	return nil
}
