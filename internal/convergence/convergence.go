// Package convergence waits for an asynchronously mutated entity to reach a state.
package convergence

import (
	"context"
	"errors"
	"time"

	slogcontext "github.com/veqryn/slog-context"

	"ocm.software/open-component-model/pluginhub/internal/failure"
	"ocm.software/open-component-model/pluginhub/internal/retry"
)

// DefaultPolicy allows 10 fetches, 100ms apart.
var DefaultPolicy = retry.Fixed(10, 100*time.Millisecond)

// Getter fetches the current snapshot of the entity identified by id.
type Getter[T any] func(ctx context.Context, id string) (T, error)

// Predicate decides whether a snapshot is in the awaited state.
// It must be cheap and free of side effects.
type Predicate[T any] func(T) bool

var errNotConverged = errors.New("not converged")

// Await fetches the entity identified by id until predicate holds for a snapshot and
// returns that snapshot. Fetch failures, including not found, are returned immediately.
// If the policy runs out before the predicate holds, a convergence timeout naming id is
// returned after exactly policy.Attempts fetches.
func Await[T any](ctx context.Context, id string, get Getter[T], predicate Predicate[T], policy retry.Policy) (T, error) {
	var snapshot T
	start := time.Now()
	err := retry.Do(ctx, policy, isNotConverged, func(ctx context.Context, attempt int) error {
		current, err := get(ctx, id)
		if err != nil {
			return err
		}
		if !predicate(current) {
			return errNotConverged
		}
		snapshot = current
		slogcontext.FromCtx(ctx).DebugContext(ctx, "state converged",
			"id", id, "attempt", attempt, "elapsed", time.Since(start))
		return nil
	})
	switch {
	case err == nil:
		return snapshot, nil
	case errors.Is(err, retry.ErrExhausted):
		var zero T
		return zero, failure.ConvergenceTimeout(id, max(policy.Attempts, 1))
	default:
		var zero T
		return zero, err
	}
}

func isNotConverged(err error) bool {
	return errors.Is(err, errNotConverged)
}
