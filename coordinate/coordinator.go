// Package coordinate decides, once per iteration, whether a relaxation run
// continues, converges, or aborts.
//
// A Coordinator sits between a fixed set of workers. While workers sweep,
// the coordinator collects their local convergence flags; when the last flag
// of a round arrives it aggregates them with a logical AND and broadcasts
// one directive to every waiting worker. Workers therefore synchronize twice
// per iteration without any lock: once when the coordinator refuses to
// decide before all flags arrive, and once when they block until the
// decision is published.
package coordinate

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/bridges-wood/parallel-relaxation/internal/logger"
	"github.com/bridges-wood/parallel-relaxation/types"
)

// RoundFunc observes each completed aggregation round. The iteration counter
// starts at 1. Returning false aborts the run unless the round already
// converged.
type RoundFunc func(iteration uint64, converged bool) bool

// gate is the broadcast point for one round's decision. The decision field
// is written exactly once, before done is closed, so every receiver that
// returns from <-done reads a settled value.
type gate struct {
	done     chan struct{}
	decision types.Decision
}

func newGate() *gate {
	return &gate{done: make(chan struct{})}
}

// Coordinator aggregates per-worker convergence flags into one directive per
// iteration.
//
// A Coordinator is created for a fixed worker count and serves exactly one
// run. Every worker must call ReportLocal exactly once per completed sweep;
// the call blocks until the round's directive is available. The run ends
// when a round converges, when the context is canceled, when Stop is called,
// or when the round observer vetoes continuation.
type Coordinator struct {
	workers int
	logger  types.Logger
	onRound RoundFunc

	reports chan bool
	gate    atomic.Pointer[gate]

	iterations atomic.Uint64
	converged  atomic.Bool

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a coordinator for a fixed set of workers.
//
// Parameters:
//   - workers: Number of workers that will report each iteration
//   - opts: Optional configuration (see WithLogger, WithRoundFunc)
//
// Returns:
//   - *Coordinator: Initialized coordinator in the idle state
//   - error: ErrInvalidWorkers if workers < 1
//
// Example:
//
//	coord, err := coordinate.New(4)
//	if err != nil {
//	    return err
//	}
//	if err := coord.Start(ctx); err != nil {
//	    return err
//	}
//	defer coord.Stop()
func New(workers int, opts ...Option) (*Coordinator, error) {
	if workers < 1 {
		return nil, ErrInvalidWorkers
	}

	c := &Coordinator{
		workers: workers,
		logger:  logger.NewNop(),
		// Each worker has at most one outstanding report, so a buffer of
		// one slot per worker keeps ReportLocal's send non-blocking.
		reports: make(chan bool, workers),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	c.gate.Store(newGate())

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Start launches the aggregation loop. The loop runs until a round
// converges, the context is canceled, Stop is called, or the round observer
// vetoes continuation.
//
// Parameters:
//   - ctx: Context bounding the run
//
// Returns:
//   - error: ErrAlreadyStarted if Start was already called
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	go c.run(ctx)

	return nil
}

// Stop aborts the run and waits for the aggregation loop to exit. Workers
// blocked in ReportLocal receive DecisionAborted. Stop is idempotent and a
// no-op before Start.
func (c *Coordinator) Stop() {
	if !c.started.Load() {
		return
	}
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.doneCh
}

// ReportLocal submits one worker's convergence flag for the sweep it just
// finished and blocks until every worker of the round has reported and the
// directive is published.
//
// Each worker must call ReportLocal exactly once per completed sweep.
//
// Parameters:
//   - converged: true when every cell the worker computed moved by at most
//     the configured precision
//
// Returns:
//   - types.Decision: DecisionContinue to run another sweep,
//     DecisionConverged to stop with a converged grid, DecisionAborted to
//     stop without one
func (c *Coordinator) ReportLocal(converged bool) types.Decision {
	g := c.gate.Load()
	c.reports <- converged
	<-g.done

	return g.decision
}

// IsGlobalConverged reports whether the run ended with every worker
// converged in the same iteration.
func (c *Coordinator) IsGlobalConverged() bool {
	return c.converged.Load()
}

// Iterations returns the number of completed aggregation rounds.
func (c *Coordinator) Iterations() uint64 {
	return c.iterations.Load()
}

// Done returns a channel closed when the aggregation loop has exited.
func (c *Coordinator) Done() <-chan struct{} {
	return c.doneCh
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.doneCh)

	for {
		allConverged := true
		for received := 0; received < c.workers; received++ {
			select {
			case flag := <-c.reports:
				if !flag {
					allConverged = false
				}
			case <-ctx.Done():
				c.logger.Debug("aggregation canceled", "error", ctx.Err())
				c.resolve(types.DecisionAborted)

				return
			case <-c.stopCh:
				c.logger.Debug("aggregation stopped")
				c.resolve(types.DecisionAborted)

				return
			}
		}

		iter := c.iterations.Add(1)
		c.logger.Debug("aggregation round complete", "iteration", iter, "converged", allConverged)

		keepGoing := true
		if c.onRound != nil {
			keepGoing = c.onRound(iter, allConverged)
		}

		switch {
		case allConverged:
			c.converged.Store(true)
			c.resolve(types.DecisionConverged)

			return
		case !keepGoing:
			c.resolve(types.DecisionAborted)

			return
		default:
			c.resolve(types.DecisionContinue)
		}
	}
}

// resolve publishes the round's decision. For DecisionContinue the next
// round's gate is swapped in before the current gate closes, so a worker
// that wakes and immediately reports again always lands in the new round.
func (c *Coordinator) resolve(d types.Decision) {
	cur := c.gate.Load()
	if d == types.DecisionContinue {
		c.gate.Store(newGate())
	}
	cur.decision = d
	close(cur.done)
}
