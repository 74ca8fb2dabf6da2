package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
)

// Policy bounds a retried operation.
type Policy struct {
	// Attempts is the maximum number of calls. Values below 1 mean 1.
	Attempts int

	// Delay is the pause between a failed attempt and the next one.
	Delay time.Duration

	// Classify is consulted after each failed attempt that is not the last.
	// It returns the delay before the next attempt and false to stop early.
	// Nil means always retry after Delay.
	Classify func(attempt int, err error) (time.Duration, bool)
}

// RetryError is returned when every attempt failed.
// It unwraps to the final attempt's error.
type RetryError struct {
	Attempts int
	Last     error

	// All combines every attempt's error in order.
	All error
}

// Error describes the exhausted retry.
func (e *RetryError) Error() string {
	return fmt.Sprintf("gave up after %d attempt(s): %v", e.Attempts, e.Last)
}

// Unwrap returns the last attempt's error.
func (e *RetryError) Unwrap() error {
	return e.Last
}

// Retry calls op until it succeeds, the attempts run out, Classify stops it,
// or ctx ends. The attempt number passed to op starts at 1. There is no
// delay after the final attempt.
func Retry(ctx context.Context, clk clock.Clock, p Policy, op func(ctx context.Context, attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var all error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		all = multierr.Append(all, fmt.Errorf("attempt %d: %w", attempt, err))

		if attempt == attempts {
			return &RetryError{Attempts: attempt, Last: err, All: all}
		}

		delay := p.Delay
		if p.Classify != nil {
			var more bool
			delay, more = p.Classify(attempt, err)
			if !more {
				return &RetryError{Attempts: attempt, Last: err, All: all}
			}
		}

		if sleepErr := sleep(ctx, clk, delay); sleepErr != nil {
			return &RetryError{Attempts: attempt, Last: sleepErr, All: multierr.Append(all, sleepErr)}
		}
	}

	// unreachable: the loop always returns on the final attempt
	return nil
}

// sleep waits for d on clk or until ctx ends.
func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := clk.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoff returns a Classify func growing the delay by 1.5x per attempt
// from initial, capped at maxDelay.
func backoff(initial, maxDelay time.Duration) func(int, error) (time.Duration, bool) {
	return func(attempt int, _ error) (time.Duration, bool) {
		d := initial
		for i := 1; i < attempt; i++ {
			d = time.Duration(float64(d) * 1.5)
			if d >= maxDelay {
				return maxDelay, true
			}
		}
		if d > maxDelay {
			d = maxDelay
		}
		return d, true
	}
}
