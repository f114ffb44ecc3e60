// Package gateway orchestrates one conversational turn: load history,
// generate a reply (tooled first, plain fallback), filter reasoning
// markers out of the visible text, validate the result, and commit the
// exchange to session history.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/parleyhq/parley/internal/backend"
	"github.com/parleyhq/parley/internal/filter"
	"github.com/parleyhq/parley/internal/session"
)

// DefaultTimeout bounds one generation attempt, tool calls included.
const DefaultTimeout = 60 * time.Second

// ErrEmptyReply indicates the model produced no visible text once
// reasoning markers were removed. The turn is not committed.
var ErrEmptyReply = errors.New("model produced an empty reply")

// EmitFunc receives filtered reply fragments during streaming.
// Returning an error aborts the turn.
type EmitFunc func(ctx context.Context, fragment string) error

// Config assembles an Orchestrator. Plain and Store are required;
// Tooled is optional and, when absent, every turn takes the plain path.
type Config struct {
	Plain  backend.Generator
	Tooled backend.Generator
	Store  session.Store
	Logger *slog.Logger

	Timeout        time.Duration
	Retry          RetryConfig
	CircuitBreaker CircuitBreakerConfig
	RateLimiter    *rate.Limiter
}

func (cfg Config) validate() error {
	if cfg.Plain == nil {
		return errors.New("plain generator is required")
	}
	if cfg.Store == nil {
		return errors.New("session store is required")
	}
	return nil
}

// Request is one user turn. Model and Temperature are optional
// per-request overrides passed through to the backend.
type Request struct {
	SessionID   string
	Input       string
	Model       string
	Temperature *float32
}

// Orchestrator runs turns. Stateless per request and safe for
// concurrent use; per-session commit ordering is the store's job.
type Orchestrator struct {
	plain  backend.Generator
	tooled backend.Generator
	store  session.Store
	logger *slog.Logger

	timeout     time.Duration
	retryConfig RetryConfig
	circuit     *CircuitBreaker
	rateLimiter *rate.Limiter
}

// New creates an Orchestrator, applying defaults for unset optional
// config.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retryConfig := cfg.Retry
	if retryConfig.MaxRetries == 0 {
		retryConfig = DefaultRetryConfig()
	}
	cbConfig := cfg.CircuitBreaker
	if cbConfig.FailureThreshold == 0 {
		cbConfig = DefaultCircuitBreakerConfig()
	}
	rl := cfg.RateLimiter
	if rl == nil {
		rl = rate.NewLimiter(10, 30)
	}

	return &Orchestrator{
		plain:       cfg.Plain,
		tooled:      cfg.Tooled,
		store:       cfg.Store,
		logger:      logger,
		timeout:     timeout,
		retryConfig: retryConfig,
		circuit:     NewCircuitBreaker(cbConfig),
		rateLimiter: rl,
	}, nil
}

// Respond runs one turn and returns the complete filtered reply.
func (o *Orchestrator) Respond(ctx context.Context, req Request) (string, error) {
	return o.respond(ctx, req, nil)
}

// RespondStream runs one turn, emitting filtered fragments as they
// arrive. The returned string is the complete filtered reply; callers
// deliver it in their final event so clients need not reassemble.
func (o *Orchestrator) RespondStream(ctx context.Context, req Request, emit EmitFunc) (string, error) {
	if emit == nil {
		return "", errors.New("emit function is required")
	}
	return o.respond(ctx, req, emit)
}

func (o *Orchestrator) respond(ctx context.Context, req Request, emit EmitFunc) (string, error) {
	if req.SessionID == "" {
		return "", session.ErrEmptySessionID
	}
	if strings.TrimSpace(req.Input) == "" {
		return "", backend.ErrEmptyInput
	}

	history, err := o.store.History(ctx, req.SessionID)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}

	if err := o.circuit.Allow(); err != nil {
		o.logger.Warn("circuit breaker rejecting request", "state", o.circuit.State().String())
		return "", fmt.Errorf("service unavailable: %w", err)
	}

	breq := backend.Request{
		History:     history,
		Input:       req.Input,
		Model:       req.Model,
		Temperature: req.Temperature,
	}

	// delivered flips once any filtered fragment reaches the client.
	// After that the turn can neither retry nor fall back: the client
	// has seen partial output from this attempt.
	delivered := false
	canRetry := func() bool { return !delivered }

	// Each attempt gets its own deadline and validates its own output:
	// a reply that filters down to nothing is a failed attempt, so a
	// tooled attempt that produced only reasoning markers falls back to
	// the plain path the same way a transport error does.
	attempt := func(gen backend.Generator) func() (string, error) {
		return func() (string, error) {
			actx, cancel := context.WithTimeout(ctx, o.timeout)
			defer cancel()

			var f *filter.Stream
			var stream backend.StreamFunc
			if emit != nil {
				f = filter.NewStream()
				stream = func(ctx context.Context, fragment string) error {
					out := f.Process(fragment)
					if out == "" {
						return nil
					}
					delivered = true
					return emit(ctx, out)
				}
			}

			raw, err := gen.Generate(actx, breq, stream)
			if err != nil {
				return "", err
			}
			if f != nil {
				if tail := f.Flush(); tail != "" {
					delivered = true
					if err := emit(actx, tail); err != nil {
						return "", err
					}
				}
			}

			reply := filter.Strip(raw)
			if strings.TrimSpace(reply) == "" {
				o.logger.Warn("reply empty after marker filtering",
					"session_id", req.SessionID, "raw_length", len(raw))
				return "", ErrEmptyReply
			}
			return reply, nil
		}
	}

	var reply string
	if o.tooled != nil {
		reply, err = o.generateWithRetry(ctx, attempt(o.tooled), canRetry)
		if err != nil && !delivered && ctx.Err() == nil {
			o.logger.Warn("tooled generation failed, falling back to plain",
				"session_id", req.SessionID, "error", err)
			reply, err = o.generateWithRetry(ctx, attempt(o.plain), canRetry)
		}
	} else {
		reply, err = o.generateWithRetry(ctx, attempt(o.plain), canRetry)
	}
	if err != nil {
		o.circuit.Failure()
		if errors.Is(err, ErrEmptyReply) {
			return "", ErrEmptyReply
		}
		return "", fmt.Errorf("generate reply: %w", err)
	}
	o.circuit.Success()

	now := time.Now()
	userTurn := session.Turn{Role: session.RoleUser, Content: req.Input, CreatedAt: now}
	assistantTurn := session.Turn{Role: session.RoleAssistant, Content: reply, CreatedAt: now}
	if err := o.store.Append(ctx, req.SessionID, userTurn, assistantTurn); err != nil {
		// The reply already reached the client; losing the history
		// write must not fail the turn.
		o.logger.Error("failed to commit turn pair", "session_id", req.SessionID, "error", err)
	}

	return reply, nil
}
