package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RetryConfig configures retry behavior for model calls.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns the production defaults for model APIs.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryableError reports whether an error is worth retrying: rate
// limits, transient upstream failures, and network hiccups.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if containsAny(msg, "rate limit", "quota exceeded", "429") {
		return true
	}
	if containsAny(msg, "500", "502", "503", "504", "unavailable") {
		return true
	}
	if containsAny(msg, "connection reset", "timeout", "temporary") {
		return true
	}
	return false
}

func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// generateWithRetry runs attempt with exponential backoff. Each attempt
// first waits on the rate limiter. canRetry is consulted before every
// retry; a streaming call that has already delivered output must not be
// re-run, so its canRetry turns false on first delivery.
func (o *Orchestrator) generateWithRetry(ctx context.Context, attempt func() (string, error), canRetry func() bool) (string, error) {
	var lastErr error
	delay := o.retryConfig.InitialInterval
	start := time.Now()

	for try := 0; try <= o.retryConfig.MaxRetries; try++ {
		if o.rateLimiter != nil {
			if err := o.rateLimiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("rate limit wait: %w", err)
			}
		}

		text, err := attempt()
		if err == nil {
			o.logger.Debug("generation succeeded", "attempts", try+1, "elapsed", time.Since(start))
			return text, nil
		}
		lastErr = err

		if !retryableError(err) || !canRetry() {
			return "", err
		}
		if try == o.retryConfig.MaxRetries {
			break
		}

		o.logger.Debug("retrying generation", "attempt", try+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, o.retryConfig.MaxInterval)
		}
	}

	return "", fmt.Errorf("generation failed after %d retries (elapsed: %v): %w",
		o.retryConfig.MaxRetries, time.Since(start), lastErr)
}
