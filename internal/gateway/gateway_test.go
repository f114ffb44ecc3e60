package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/parleyhq/parley/internal/backend"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/session"
)

// fakeGenerator scripts successive Generate calls. Each call streams
// its fragments (when a stream is attached) and returns its reply or
// error.
type fakeGenerator struct {
	calls     int
	replies   []string
	errs      []error
	fragments [][]string
	lastReq   backend.Request
}

func (g *fakeGenerator) Generate(ctx context.Context, req backend.Request, stream backend.StreamFunc) (string, error) {
	i := g.calls
	g.calls++
	g.lastReq = req

	if i < len(g.errs) && g.errs[i] != nil {
		if stream != nil && i < len(g.fragments) {
			for _, frag := range g.fragments[i] {
				if err := stream(ctx, frag); err != nil {
					return "", err
				}
			}
		}
		return "", g.errs[i]
	}

	var reply string
	if i < len(g.replies) {
		reply = g.replies[i]
	}
	if stream != nil {
		frags := []string{reply}
		if i < len(g.fragments) {
			frags = g.fragments[i]
		}
		for _, frag := range frags {
			if err := stream(ctx, frag); err != nil {
				return "", err
			}
		}
	}
	return reply, nil
}

func newOrchestrator(t *testing.T, cfg Config) (*Orchestrator, *session.MemoryStore) {
	t.Helper()
	store := session.NewMemoryStore(0, log.NewNop())
	cfg.Store = store
	cfg.Logger = log.NewNop()
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = RetryConfig{MaxRetries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	}
	o, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return o, store
}

func TestRespond_FiltersAndCommits(t *testing.T) {
	t.Parallel()

	plain := &fakeGenerator{replies: []string{"<think>weighing options</think>  hello there"}}
	o, store := newOrchestrator(t, Config{Plain: plain})

	reply, err := o.Respond(context.Background(), Request{SessionID: "s1", Input: "hi"})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if reply != "hello there" {
		t.Errorf("Respond() = %q, want %q", reply, "hello there")
	}

	turns, err := store.History(context.Background(), "s1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("committed %d turns, want 2", len(turns))
	}
	if turns[0].Content != "hi" || turns[1].Content != "hello there" {
		t.Errorf("committed pair = %q / %q", turns[0].Content, turns[1].Content)
	}
}

func TestRespond_HistoryReachesBackend(t *testing.T) {
	t.Parallel()

	plain := &fakeGenerator{replies: []string{"first", "second"}}
	o, _ := newOrchestrator(t, Config{Plain: plain})
	ctx := context.Background()

	if _, err := o.Respond(ctx, Request{SessionID: "s1", Input: "one"}); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if _, err := o.Respond(ctx, Request{SessionID: "s1", Input: "two"}); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}

	if len(plain.lastReq.History) != 2 {
		t.Errorf("second turn saw %d history turns, want 2", len(plain.lastReq.History))
	}
}

func TestRespond_FallbackCommitsSinglePair(t *testing.T) {
	t.Parallel()

	tooled := &fakeGenerator{errs: []error{errors.New("tool wiring broken")}}
	plain := &fakeGenerator{replies: []string{"ok"}}
	o, store := newOrchestrator(t, Config{Plain: plain, Tooled: tooled})

	reply, err := o.Respond(context.Background(), Request{SessionID: "s1", Input: "hi"})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if reply != "ok" {
		t.Errorf("Respond() = %q, want ok", reply)
	}
	if tooled.calls != 1 {
		t.Errorf("tooled called %d times, want 1 (error is not retryable)", tooled.calls)
	}
	if plain.calls != 1 {
		t.Errorf("plain called %d times, want 1", plain.calls)
	}

	turns, _ := store.History(context.Background(), "s1")
	if len(turns) != 2 {
		t.Errorf("committed %d turns, want exactly one pair", len(turns))
	}
}

func TestRespond_RetryableErrorRetriedBeforeFallback(t *testing.T) {
	t.Parallel()

	tooled := &fakeGenerator{errs: []error{
		errors.New("upstream 503 unavailable"),
		errors.New("upstream 503 unavailable"),
	}}
	plain := &fakeGenerator{replies: []string{"ok"}}
	o, _ := newOrchestrator(t, Config{Plain: plain, Tooled: tooled})

	reply, err := o.Respond(context.Background(), Request{SessionID: "s1", Input: "hi"})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if reply != "ok" {
		t.Errorf("Respond() = %q, want ok", reply)
	}
	if tooled.calls != 2 {
		t.Errorf("tooled called %d times, want 2 (initial + one retry)", tooled.calls)
	}
}

func TestRespond_EmptyAfterFilter(t *testing.T) {
	t.Parallel()

	plain := &fakeGenerator{replies: []string{"<think>all reasoning, no answer</think>   "}}
	o, store := newOrchestrator(t, Config{Plain: plain})

	_, err := o.Respond(context.Background(), Request{SessionID: "s1", Input: "hi"})
	if !errors.Is(err, ErrEmptyReply) {
		t.Fatalf("Respond() error = %v, want ErrEmptyReply", err)
	}

	turns, _ := store.History(context.Background(), "s1")
	if len(turns) != 0 {
		t.Errorf("empty reply committed %d turns, want 0", len(turns))
	}
}

func TestRespond_EmptyTooledReplyFallsBackToPlain(t *testing.T) {
	t.Parallel()

	// A tooled reply that filters down to nothing is a failed attempt,
	// not a terminal empty reply: the plain path still gets its turn.
	tooled := &fakeGenerator{replies: []string{"<think>only reasoning</think>   "}}
	plain := &fakeGenerator{replies: []string{"ok"}}
	o, store := newOrchestrator(t, Config{Plain: plain, Tooled: tooled})

	reply, err := o.Respond(context.Background(), Request{SessionID: "s1", Input: "hi"})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if reply != "ok" {
		t.Errorf("Respond() = %q, want ok", reply)
	}
	if tooled.calls != 1 {
		t.Errorf("tooled called %d times, want 1 (empty reply is not retryable)", tooled.calls)
	}
	if plain.calls != 1 {
		t.Errorf("plain called %d times, want 1", plain.calls)
	}

	turns, _ := store.History(context.Background(), "s1")
	if len(turns) != 2 || turns[1].Content != "ok" {
		t.Errorf("committed turns = %+v, want one pair ending in ok", turns)
	}
}

// stallingGenerator never produces output; it blocks until its context
// expires and reports that expiry.
type stallingGenerator struct {
	calls int
}

func (g *stallingGenerator) Generate(ctx context.Context, _ backend.Request, _ backend.StreamFunc) (string, error) {
	g.calls++
	<-ctx.Done()
	return "", ctx.Err()
}

func TestRespond_TooledTimeoutFallsBackToPlain(t *testing.T) {
	t.Parallel()

	tooled := &stallingGenerator{}
	plain := &fakeGenerator{replies: []string{"ok"}}
	o, _ := newOrchestrator(t, Config{
		Plain:   plain,
		Tooled:  tooled,
		Timeout: 20 * time.Millisecond,
	})

	reply, err := o.Respond(context.Background(), Request{SessionID: "s1", Input: "hi"})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if reply != "ok" {
		t.Errorf("Respond() = %q, want ok", reply)
	}
	if tooled.calls != 1 {
		t.Errorf("tooled called %d times, want 1", tooled.calls)
	}
	if plain.calls != 1 {
		t.Errorf("plain called %d times, want 1 (timeout only cancels its own attempt)", plain.calls)
	}
}

func TestRespond_Validation(t *testing.T) {
	t.Parallel()

	plain := &fakeGenerator{replies: []string{"ok"}}
	o, _ := newOrchestrator(t, Config{Plain: plain})
	ctx := context.Background()

	if _, err := o.Respond(ctx, Request{Input: "hi"}); !errors.Is(err, session.ErrEmptySessionID) {
		t.Errorf("missing session id error = %v, want ErrEmptySessionID", err)
	}
	if _, err := o.Respond(ctx, Request{SessionID: "s", Input: "  \n"}); !errors.Is(err, backend.ErrEmptyInput) {
		t.Errorf("blank input error = %v, want ErrEmptyInput", err)
	}
	if plain.calls != 0 {
		t.Errorf("generator called %d times for invalid requests, want 0", plain.calls)
	}
}

func TestRespondStream_FiltersFragments(t *testing.T) {
	t.Parallel()

	plain := &fakeGenerator{
		replies:   []string{"<think>let me think</think>  hello world"},
		fragments: [][]string{{"<think>let me ", "think</think>  hel", "lo world"}},
	}
	o, store := newOrchestrator(t, Config{Plain: plain})

	var got strings.Builder
	reply, err := o.RespondStream(context.Background(), Request{SessionID: "s1", Input: "hi"},
		func(_ context.Context, fragment string) error {
			got.WriteString(fragment)
			return nil
		})
	if err != nil {
		t.Fatalf("RespondStream() error = %v", err)
	}
	if reply != "hello world" {
		t.Errorf("final reply = %q, want %q", reply, "hello world")
	}
	if got.String() != "hello world" {
		t.Errorf("streamed = %q, want %q", got.String(), "hello world")
	}
	if strings.Contains(got.String(), "think") {
		t.Errorf("reasoning leaked into stream: %q", got.String())
	}

	turns, _ := store.History(context.Background(), "s1")
	if len(turns) != 2 || turns[1].Content != "hello world" {
		t.Errorf("committed turns = %+v", turns)
	}
}

func TestRespondStream_NoFallbackAfterDelivery(t *testing.T) {
	t.Parallel()

	tooled := &fakeGenerator{
		errs:      []error{errors.New("connection reset mid-stream")},
		fragments: [][]string{{"partial answer "}},
	}
	plain := &fakeGenerator{replies: []string{"should never run"}}
	o, store := newOrchestrator(t, Config{Plain: plain, Tooled: tooled})

	_, err := o.RespondStream(context.Background(), Request{SessionID: "s1", Input: "hi"},
		func(context.Context, string) error { return nil })
	if err == nil {
		t.Fatal("RespondStream() succeeded, want error after mid-stream failure")
	}
	if plain.calls != 0 {
		t.Errorf("plain called %d times after delivery, want 0", plain.calls)
	}
	if tooled.calls != 1 {
		t.Errorf("tooled called %d times, want 1 (no retry after delivery)", tooled.calls)
	}

	turns, _ := store.History(context.Background(), "s1")
	if len(turns) != 0 {
		t.Errorf("failed stream committed %d turns, want 0", len(turns))
	}
}

func TestRespondStream_FallbackBeforeDelivery(t *testing.T) {
	t.Parallel()

	// Everything the tooled attempt produced was still inside the
	// reasoning region, so nothing reached the client and falling back
	// stays invisible.
	tooled := &fakeGenerator{
		errs:      []error{errors.New("tool host gone")},
		fragments: [][]string{{"<think>calling tools"}},
	}
	plain := &fakeGenerator{replies: []string{"plain answer"}}
	o, _ := newOrchestrator(t, Config{Plain: plain, Tooled: tooled})

	var got strings.Builder
	reply, err := o.RespondStream(context.Background(), Request{SessionID: "s1", Input: "hi"},
		func(_ context.Context, fragment string) error {
			got.WriteString(fragment)
			return nil
		})
	if err != nil {
		t.Fatalf("RespondStream() error = %v", err)
	}
	if reply != "plain answer" || got.String() != "plain answer" {
		t.Errorf("reply = %q, streamed = %q, want plain answer", reply, got.String())
	}
}

func TestRespond_CircuitOpensAfterFailures(t *testing.T) {
	t.Parallel()

	plain := &fakeGenerator{errs: []error{
		errors.New("broken"),
		errors.New("broken"),
	}}
	o, _ := newOrchestrator(t, Config{
		Plain:          plain,
		CircuitBreaker: CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour},
	})
	ctx := context.Background()

	if _, err := o.Respond(ctx, Request{SessionID: "s1", Input: "hi"}); err == nil {
		t.Fatal("first Respond() succeeded, want error")
	}
	_, err := o.Respond(ctx, Request{SessionID: "s1", Input: "hi"})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second Respond() error = %v, want ErrCircuitOpen", err)
	}
	if plain.calls != 1 {
		t.Errorf("generator called %d times, want 1 (second request rejected)", plain.calls)
	}
}

func TestRetryableError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("Rate Limit exceeded"), true},
		{errors.New("quota exceeded for project"), true},
		{errors.New("HTTP 429 Too Many Requests"), true},
		{errors.New("503 Service Unavailable"), true},
		{errors.New("connection reset by peer"), true},
		{errors.New("i/o timeout"), true},
		{errors.New("invalid API key"), false},
		{errors.New("model not found"), false},
	}
	for _, tt := range tests {
		if got := retryableError(tt.err); got != tt.want {
			t.Errorf("retryableError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
