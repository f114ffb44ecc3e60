package session_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/testutil"
)

// TestPGStore_Integration exercises the durable store against a real
// PostgreSQL instance. Requires Docker; skipped with -short.
func TestPGStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tdb := testutil.SetupTestDB(t)
	ctx := context.Background()
	store := session.NewPGStore(tdb.Pool, 6, log.NewNop())

	t.Run("unknown session yields empty history", func(t *testing.T) {
		turns, err := store.History(ctx, "missing")
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(turns) != 0 {
			t.Errorf("History() = %v, want empty", turns)
		}
	})

	t.Run("append then read in commit order", func(t *testing.T) {
		for i := range 3 {
			err := store.Append(ctx, "s1",
				session.Turn{Role: session.RoleUser, Content: fmt.Sprintf("q%d", i)},
				session.Turn{Role: session.RoleAssistant, Content: fmt.Sprintf("a%d", i)},
			)
			if err != nil {
				t.Fatalf("Append() error = %v", err)
			}
		}

		turns, err := store.History(ctx, "s1")
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(turns) != 6 {
			t.Fatalf("History() returned %d turns, want 6", len(turns))
		}
		if turns[0].Content != "q0" || turns[5].Content != "a2" {
			t.Errorf("history out of order: first=%q last=%q", turns[0].Content, turns[5].Content)
		}
	})

	t.Run("history bounded to most recent turns", func(t *testing.T) {
		for i := range 5 {
			err := store.Append(ctx, "bounded",
				session.Turn{Role: session.RoleUser, Content: fmt.Sprintf("q%d", i)},
				session.Turn{Role: session.RoleAssistant, Content: fmt.Sprintf("a%d", i)},
			)
			if err != nil {
				t.Fatalf("Append() error = %v", err)
			}
		}

		turns, err := store.History(ctx, "bounded")
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(turns) != 6 {
			t.Fatalf("History() returned %d turns, want 6", len(turns))
		}
		if turns[0].Content != "q2" {
			t.Errorf("oldest surviving turn = %q, want q2", turns[0].Content)
		}
	})

	t.Run("concurrent commits never tear a pair", func(t *testing.T) {
		const writers = 8

		var wg sync.WaitGroup
		for i := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := store.Append(ctx, "shared",
					session.Turn{Role: session.RoleUser, Content: fmt.Sprintf("q%d", i)},
					session.Turn{Role: session.RoleAssistant, Content: fmt.Sprintf("a%d", i)},
				)
				if err != nil {
					t.Errorf("Append() error = %v", err)
				}
			}()
		}
		wg.Wait()

		// maxTurns is 6, so only the last three pairs are visible, but
		// every visible pair must be adjacent and matched.
		turns, err := store.History(ctx, "shared")
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(turns) != 6 {
			t.Fatalf("History() returned %d turns, want 6", len(turns))
		}
		for i := 0; i < len(turns); i += 2 {
			if turns[i].Role != session.RoleUser || turns[i+1].Role != session.RoleAssistant {
				t.Fatalf("pair at %d torn: %q then %q", i, turns[i].Role, turns[i+1].Role)
			}
			if turns[i].Content[1:] != turns[i+1].Content[1:] {
				t.Fatalf("pair at %d mismatched: %q answered by %q", i, turns[i].Content, turns[i+1].Content)
			}
		}
	})

	t.Run("validation rejected before touching the database", func(t *testing.T) {
		err := store.Append(ctx, "",
			session.Turn{Role: session.RoleUser, Content: "q"},
			session.Turn{Role: session.RoleAssistant, Content: "a"},
		)
		if err == nil {
			t.Fatal("Append() with empty session id succeeded, want error")
		}
	})
}
