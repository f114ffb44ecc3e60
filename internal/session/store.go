package session

import "context"

// DefaultMaxTurns bounds how many recent turns History returns, keeping
// an old session from exceeding the model's context window.
const DefaultMaxTurns = 100

// Store is the session history contract consumed by the orchestrator.
//
// History returns the most recent turns for the session in commit order;
// an unknown session yields an empty history, not an error. Append
// commits a user/assistant pair atomically: the pair becomes visible to
// readers all at once, and appends for the same session id never
// interleave.
type Store interface {
	History(ctx context.Context, sessionID string) ([]Turn, error)
	Append(ctx context.Context, sessionID string, user, assistant Turn) error
}
