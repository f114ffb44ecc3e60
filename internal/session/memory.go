package session

import (
	"context"
	"log/slog"
	"sync"
)

// MemoryStore is the in-memory reference implementation of Store.
//
// Each session owns a small mutex-guarded entry, so commits for one
// session are serialized while different sessions proceed independently.
// Safe for concurrent use by multiple goroutines.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	maxTurns int
	logger   *slog.Logger
}

// memorySession holds one session's turns behind its own lock.
type memorySession struct {
	mu    sync.Mutex
	turns []Turn
}

// NewMemoryStore creates an in-memory store. maxTurns bounds History
// reads; zero or negative uses DefaultMaxTurns.
func NewMemoryStore(maxTurns int, logger *slog.Logger) *MemoryStore {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
		maxTurns: maxTurns,
		logger:   logger,
	}
}

// History returns a copy of the most recent turns for the session.
// An unknown session yields an empty history.
func (s *MemoryStore) History(ctx context.Context, sessionID string) ([]Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}

	s.mu.RLock()
	entry := s.sessions[sessionID]
	s.mu.RUnlock()
	if entry == nil {
		return []Turn{}, nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	turns := entry.turns
	if len(turns) > s.maxTurns {
		turns = turns[len(turns)-s.maxTurns:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// Append commits a user/assistant pair. The pair is appended under the
// session's lock, so a concurrent History sees either both turns or
// neither.
func (s *MemoryStore) Append(ctx context.Context, sessionID string, user, assistant Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validatePair(sessionID, user, assistant); err != nil {
		return err
	}

	entry := s.entry(sessionID)
	entry.mu.Lock()
	entry.turns = append(entry.turns, user, assistant)
	total := len(entry.turns)
	entry.mu.Unlock()

	s.logger.Debug("committed turn pair", "session_id", sessionID, "turns", total)
	return nil
}

// entry returns the session's entry, creating it on first commit.
func (s *MemoryStore) entry(sessionID string) *memorySession {
	s.mu.RLock()
	entry := s.sessions[sessionID]
	s.mu.RUnlock()
	if entry != nil {
		return entry
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry = s.sessions[sessionID]; entry == nil {
		entry = &memorySession{}
		s.sessions[sessionID] = entry
	}
	return entry
}

// Len reports the number of sessions held. Used by readiness reporting.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
