// Package retry is the one bounded-retry loop used for compare-and-swap
// writes and for publishing outbox events.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// Policy bounds a retry loop. Attempts counts the first call. The wait before
// attempt n (n >= 2) is Backoff * (n-1).
type Policy struct {
	Attempts int
	Backoff  time.Duration
	Clock    clockwork.Clock

	// RetryIf decides whether an error is worth another attempt. Nil retries
	// every error.
	RetryIf func(error) bool
}

// Once is the settlement policy: the first try plus one immediate retry.
func Once() Policy {
	return Policy{Attempts: 2}
}

// ExhaustedError reports that every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do calls fn until it succeeds, returns an error RetryIf rejects, the
// attempts run out, or ctx is done. fn receives the 1-based attempt number.
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && p.Backoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-clock.After(p.Backoff * time.Duration(attempt-1)):
			}
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}
		if p.RetryIf != nil && !p.RetryIf(err) {
			return err
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return &ExhaustedError{Attempts: attempts, Err: lastErr}
}
