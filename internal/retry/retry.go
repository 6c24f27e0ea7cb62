// Package retry implements the bounded retry loop shared by the optimistic concurrency
// policy and the convergence poller: attempt, classify the failure, and if it is
// retryable and budget remains, wait and attempt again.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	slogcontext "github.com/veqryn/slog-context"

	"ocm.software/open-component-model/pluginhub/internal/failure"
)

// ErrExhausted is joined into the error returned once a policy ran out of attempts.
var ErrExhausted = errors.New("retry budget exhausted")

// Policy bounds a retry loop by a number of attempts.
type Policy struct {
	// Attempts is the total number of attempts, including the first one.
	// Values below one are treated as one.
	Attempts int
	// Delay is the wait before the second attempt.
	Delay time.Duration
	// Multiplier grows the delay after every further attempt.
	// Values of one or less keep the delay fixed.
	Multiplier float64
	// MaxDelay caps the delay between two attempts, if set.
	MaxDelay time.Duration
}

// Fixed returns a policy with a fixed delay between attempts.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{Attempts: attempts, Delay: delay}
}

// Exponential returns a policy that doubles the delay after every attempt.
func Exponential(attempts int, delay time.Duration) Policy {
	return Policy{Attempts: attempts, Delay: delay, Multiplier: 2}
}

// Backoff returns the wait after the given (1-based) failed attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.Delay
	if p.Multiplier > 1 {
		for i := 1; i < attempt; i++ {
			d = time.Duration(float64(d) * p.Multiplier)
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				break
			}
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func (p Policy) attempts() int {
	return max(p.Attempts, 1)
}

// Do calls fn until it succeeds, fails with an error retryable rejects, or the policy
// runs out of attempts. On exhaustion the last error is returned joined with
// ErrExhausted. A cancelled context aborts the wait between two attempts.
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context, attempt int) error) error {
	budget := p.attempts()
	for attempt := 1; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt >= budget {
			return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
		}

		delay := p.Backoff(attempt)
		slogcontext.FromCtx(ctx).DebugContext(ctx, "retrying",
			"attempt", attempt, "budget", budget, "delay", delay, "error", err.Error())
		if err := Wait(ctx, delay); err != nil {
			return fmt.Errorf("aborted after %d attempts: %w", attempt, err)
		}
	}
}

// OnConflict runs op, a complete fetch-transform-update sequence, and re-runs it from
// scratch whenever it fails with a version conflict. Any other error is returned as is.
func OnConflict[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, p, failure.IsConflict, func(ctx context.Context, _ int) error {
		var err error
		result, err = op(ctx)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// Wait blocks for d or until ctx is done, whichever happens first.
// The timer is always released.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return context.Cause(ctx)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-timer.C:
		return nil
	}
}
