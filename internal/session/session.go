// Package session provides conversation history storage keyed by an
// opaque, caller-supplied session identifier.
//
// History is append-only: the orchestrator reads the current history at
// the start of a turn and commits a validated user/assistant pair at the
// end. A pair is committed atomically — readers never observe a user turn
// without its reply — and commits for one session are serialized so
// overlapping requests cannot lose or duplicate turns.
package session

import (
	"errors"
	"time"
)

// Role constants define valid turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one role-tagged message in a conversation. Immutable once
// created; stores hand out copies, never shared slices.
type Turn struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// Sentinel errors for store operations, checked with errors.Is().
var (
	// ErrInvalidTurn indicates a turn with an unknown role or empty content.
	ErrInvalidTurn = errors.New("invalid turn")

	// ErrEmptySessionID indicates a blank session identifier.
	ErrEmptySessionID = errors.New("empty session id")
)

// validatePair checks a user/assistant turn pair before commit.
func validatePair(sessionID string, user, assistant Turn) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	if user.Role != RoleUser || user.Content == "" {
		return ErrInvalidTurn
	}
	if assistant.Role != RoleAssistant || assistant.Content == "" {
		return ErrInvalidTurn
	}
	return nil
}
