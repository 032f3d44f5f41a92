// Package retry provides exponential-backoff retries for transient transport
// failures. The caller classifies errors; anything the predicate rejects is
// returned immediately.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Policy controls how many attempts are made and how long to wait between
// them. The zero value is usable and behaves like DefaultPolicy.
type Policy struct {
	// Attempts is the total number of calls, including the first.
	Attempts int
	// BaseDelay is the wait before the second attempt; doubled per attempt.
	BaseDelay time.Duration
	// MaxDelay caps the per-attempt wait.
	MaxDelay time.Duration
}

// DefaultPolicy suits short network calls: three attempts, half-second base.
var DefaultPolicy = Policy{
	Attempts:  3,
	BaseDelay: 500 * time.Millisecond,
	MaxDelay:  10 * time.Second,
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultPolicy.Attempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultPolicy.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultPolicy.MaxDelay
	}
	return p
}

// Do calls fn until it succeeds, the attempts are exhausted, ctx is done, or
// retryable returns false for the attempt's error. A nil retryable treats
// every error as retryable. The last attempt's error is returned.
func Do(ctx context.Context, p Policy, fn func() error, retryable func(error) bool) error {
	p = p.withDefaults()
	if retryable == nil {
		retryable = func(error) bool { return true }
	}

	delay := p.BaseDelay
	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(lastErr, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt >= p.Attempts || !retryable(lastErr) {
			return lastErr
		}

		slog.Debug("retry: attempt failed",
			"attempt", attempt, "max", p.Attempts, "err", lastErr, "delay", delay)

		select {
		case <-ctx.Done():
			return errors.Join(lastErr, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}
