package mcp

import (
	"errors"
	"testing"
)

func testSource() *Source {
	return &Source{
		states: map[string]*State{
			"github": {Name: "github", Status: Connected},
			"notion": {Name: "notion", Status: Connected},
		},
	}
}

func TestSource_MarkAll(t *testing.T) {
	t.Parallel()

	s := testSource()
	failure := errors.New("connection refused")

	s.markAll(Failed, failure)
	if got := s.ConnectedCount(); got != 0 {
		t.Errorf("ConnectedCount() after failure = %d, want 0", got)
	}
	for name, state := range s.States() {
		if state.Status != Failed {
			t.Errorf("state[%s].Status = %s, want failed", name, state.Status)
		}
		if state.FailureCount != 1 {
			t.Errorf("state[%s].FailureCount = %d, want 1", name, state.FailureCount)
		}
		if !errors.Is(state.LastError, failure) {
			t.Errorf("state[%s].LastError = %v", name, state.LastError)
		}
	}

	s.markAll(Connected, nil)
	if got := s.ConnectedCount(); got != 2 {
		t.Errorf("ConnectedCount() after recovery = %d, want 2", got)
	}
	for name, state := range s.States() {
		if state.LastError != nil {
			t.Errorf("state[%s].LastError = %v, want nil", name, state.LastError)
		}
	}
}

func TestSource_StatesReturnsCopies(t *testing.T) {
	t.Parallel()

	s := testSource()
	states := s.States()
	entry := states["github"]
	entry.Status = Failed
	states["github"] = entry

	if got := s.States()["github"].Status; got != Connected {
		t.Errorf("internal state mutated through States copy: %s", got)
	}
}
