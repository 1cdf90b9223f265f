package types

import (
	"context"
	"time"
)

// Hooks defines callbacks for solver lifecycle events.
//
// All hooks are optional. OnStateChanged, OnConverged and OnError run
// asynchronously in background goroutines so they never block the iteration
// protocol; they receive the run's lifecycle context, which is cancelled
// during shutdown. OnIteration runs synchronously on the coordination
// goroutine between the aggregation and decision phases, so it must be fast.
//
// Best practices for hook implementation:
//   - Complete quickly (OnIteration especially: it sits on the hot path)
//   - Respect context cancellation
//   - Handle errors gracefully (returned errors are logged, never fatal)
type Hooks struct {
	// OnStateChanged is called when the solver state transitions.
	OnStateChanged func(ctx context.Context, from, to State) error

	// OnIteration is called after each iteration's flags have been
	// aggregated. converged carries the global AND of all worker flags.
	OnIteration func(ctx context.Context, iteration uint64, converged bool) error

	// OnConverged is called once when the run reaches global convergence.
	OnConverged func(ctx context.Context, iterations uint64, elapsed time.Duration) error

	// OnError is called when the run aborts with an error.
	OnError func(ctx context.Context, err error) error
}
