// Package retry provides a bounded retry-with-backoff primitive for
// flaky remote calls.
//
// A Policy is an immutable description of one retry strategy; call sites
// instantiate their own. After the final failed attempt the last error
// is returned unchanged, so callers can still inspect the original
// failure with errors.Is and errors.As.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/alibaba/rock-go/clock"
)

// Policy describes one retry strategy.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int
	// InitialDelay is the wait before the second attempt.
	InitialDelay time.Duration
	// BackoffMultiplier scales the delay after each failed attempt.
	// Values at or below zero leave the delay fixed.
	BackoffMultiplier float64
	// Jitter draws each wait uniformly from [0, 2*delay) instead of
	// sleeping exactly delay.
	Jitter bool
	// Clock overrides the wall clock; nil means real time.
	Clock clock.Clock
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) clock() clock.Clock {
	if p.Clock != nil {
		return p.Clock
	}
	return clock.Real()
}

// Do invokes op until it succeeds or the policy's attempts are spent.
// The operation's last error is propagated as-is; a cancelled context
// aborts the waits between attempts.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	clk := p.clock()
	delay := p.InitialDelay
	attempts := p.attempts()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		wait := delay
		if p.Jitter && delay > 0 {
			wait = time.Duration(rand.Int63n(int64(2 * delay)))
		}
		if sleepErr := clk.Sleep(ctx, wait); sleepErr != nil {
			return zero, sleepErr
		}
		if p.BackoffMultiplier > 0 {
			delay = time.Duration(float64(delay) * p.BackoffMultiplier)
		}
	}
	return zero, lastErr
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func(context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
