package relax

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bridges-wood/parallel-relaxation/coordinate"
	"github.com/bridges-wood/parallel-relaxation/grid"
	"github.com/bridges-wood/parallel-relaxation/internal/hooks"
	"github.com/bridges-wood/parallel-relaxation/internal/lifecycle"
	"github.com/bridges-wood/parallel-relaxation/internal/logging"
	"github.com/bridges-wood/parallel-relaxation/internal/metrics"
	"github.com/bridges-wood/parallel-relaxation/kernel"
	"github.com/bridges-wood/parallel-relaxation/partition"
	"github.com/bridges-wood/parallel-relaxation/types"
)

// Result holds the outcome of a converged run.
type Result struct {
	// Grid holds the relaxed values, boundary included.
	Grid *grid.Grid

	// Stats summarizes the run.
	Stats Stats
}

// Solver runs the iterative relaxation concurrently on one process.
//
// The Solver owns a double-buffered grid pair and a fixed set of sweep
// workers. Each iteration every worker sweeps its own contiguous share of
// the interior, reports a local convergence flag, and blocks until the
// aggregated directive for the iteration is published. Workers read and
// write disjoint cell ranges of strictly separated buffers, so the run
// needs no locks around cell data.
//
// Thread Safety:
//   - All public methods are safe for concurrent use
//   - A Solver serves exactly one run; create a new one per run
//
// Lifecycle:
//   - Create with New()
//   - Call Start() to launch the workers
//   - Call Wait() for the result, or Stop() to abandon the run
type Solver struct {
	cfg Config

	// Optional dependencies
	planner partition.Planner
	hooks   *Hooks
	metrics MetricsCollector
	logger  Logger

	// Internal components
	bufs    *grid.Buffers
	spans   []partition.Span
	coord   *coordinate.Coordinator
	machine *lifecycle.Machine

	// Outcome, written once before doneCh closes
	result *Result
	runErr error

	// Lifecycle management
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	doneCh    chan struct{}
	startedAt time.Time

	// lastRound is only touched on the aggregation goroutine.
	lastRound time.Time

	stopRequested atomic.Bool
	limitHit      atomic.Bool
}

// New creates a new Solver instance with the provided configuration.
//
// Returns a concrete *Solver struct following the "accept interfaces,
// return structs" principle. Consumers can define their own interfaces for
// testing if needed.
//
// Parameters:
//   - cfg: Runtime configuration (missing values are filled with defaults)
//   - opts: Optional configuration (planner, hooks, metrics, logger)
//
// Returns:
//   - *Solver: Initialized solver instance
//   - error: Validation or allocation error
//
// Example:
//
//	cfg := relax.Config{Size: 128, Precision: 1e-4, Workers: 8}
//	solver, err := relax.New(&cfg)
//	if err != nil {
//	    return err
//	}
//	if err := solver.Start(ctx); err != nil {
//	    return err
//	}
//	result, err := solver.Wait(ctx)
func New(cfg *Config, opts ...Option) (*Solver, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}

	// Fill in missing configuration values with defaults
	SetDefaults(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Apply options
	options := &solverOptions{}
	for _, opt := range opts {
		opt(options)
	}

	// Provide safe defaults for optional dependencies to avoid nil checks everywhere
	metricsCollector := options.metrics
	if metricsCollector == nil {
		metricsCollector = metrics.NewNop()
	}

	loggerInstance := options.logger
	if loggerInstance == nil {
		// Validated by Rule 6, so the parse cannot fail here.
		level, _ := logging.ParseLevel(cfg.LogLevel)
		loggerInstance = logging.NewText(level)
	}

	// Validate with warnings after logger is available
	cfg.ValidateWithWarnings(loggerInstance)

	hooksInstance := options.hooks
	if hooksInstance == nil {
		nopHooks := hooks.NewNop()
		hooksInstance = &nopHooks
	}

	planner := options.planner
	if planner == nil {
		planner = partition.NewContiguous()
	}

	bufs, err := newBuffers(cfg)
	if err != nil {
		return nil, err
	}

	spans, err := planner.Plan((cfg.Size-2)*(cfg.Size-2), cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to plan worker shares: %w", err)
	}

	s := &Solver{
		cfg:     *cfg,
		planner: planner,
		hooks:   hooksInstance,
		metrics: metricsCollector,
		logger:  loggerInstance,
		bufs:    bufs,
		spans:   spans,
		machine: lifecycle.New(loggerInstance, metricsCollector),
		doneCh:  make(chan struct{}),
	}

	coord, err := coordinate.New(cfg.Workers,
		coordinate.WithLogger(loggerInstance),
		coordinate.WithRoundFunc(s.onRound),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}
	s.coord = coord

	return s, nil
}

func newBuffers(cfg *Config) (*grid.Buffers, error) {
	if cfg.Seed != 0 {
		return grid.NewSeededBuffers(cfg.Size, cfg.Seed)
	}

	return grid.NewBuffers(cfg.Size)
}

// Start launches the sweep workers and the aggregation loop.
//
// Start returns immediately; use Wait to block for the outcome. The run is
// bounded by ctx: cancellation aborts it at the next iteration boundary.
//
// Parameters:
//   - ctx: Context bounding the run
//
// Returns:
//   - error: ErrAlreadyStarted if Start was already called
func (s *Solver) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()

		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.startedAt = time.Now()
	s.lastRound = s.startedAt
	s.metrics.SetWorkers(s.cfg.Workers)
	s.metrics.SetGridSize(s.cfg.Size)

	s.transition(types.StateRunning)

	if err := s.coord.Start(s.ctx); err != nil {
		return fmt.Errorf("failed to start coordinator: %w", err)
	}

	for id, span := range s.spans {
		s.wg.Go(func() {
			s.runWorker(id, span)
		})
	}
	go s.finalize()

	s.logger.Info("solver started",
		"size", s.cfg.Size,
		"workers", s.cfg.Workers,
		"precision", s.cfg.Precision,
	)

	return nil
}

// Wait blocks until the run ends and returns its outcome.
//
// Parameters:
//   - ctx: Context bounding the wait (not the run itself)
//
// Returns:
//   - *Result: Final grid and run statistics, nil unless the run converged
//   - error: ErrNotStarted, ErrIterationLimit, ErrContextCanceled,
//     ErrAborted, or the wait context's error
func (s *Solver) Wait(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	started := s.ctx != nil
	s.mu.Unlock()
	if !started {
		return nil, ErrNotStarted
	}

	select {
	case <-s.doneCh:
		return s.result, s.runErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop aborts the run and waits for the workers to exit.
//
// Workers finish the sweep in progress, observe the abort directive at the
// iteration boundary and return. Safe to call multiple times.
//
// Parameters:
//   - ctx: Context bounding the shutdown wait
//
// Returns:
//   - error: ErrNotStarted if the solver was never started, or the
//     context's error if the wait times out
func (s *Solver) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx == nil {
		s.mu.Unlock()

		return ErrNotStarted
	}
	cancel := s.cancel
	s.mu.Unlock()

	s.stopRequested.Store(true)
	cancel()

	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current solver state.
//
// Returns:
//   - State: Current state
func (s *Solver) State() State {
	return s.machine.State()
}

// Iterations returns the number of completed iterations so far. It is safe
// to call while the run is in progress.
func (s *Solver) Iterations() uint64 {
	return s.coord.Iterations()
}

// WaitState waits for the solver to reach the expected state within the
// timeout period.
//
// The method returns a read-only channel that receives exactly one value:
// nil if the expected state is reached within the timeout, or
// context.DeadlineExceeded if the timeout expires first. The channel is
// closed after sending the result.
//
// Parameters:
//   - expectedState: The state to wait for
//   - timeout: Maximum duration to wait for the state
//
// Returns:
//   - <-chan error: A channel that receives the result
//
// Example:
//
//	if err := <-solver.WaitState(relax.StateConverged, 10*time.Second); err != nil {
//	    log.Printf("run still going: %v", err)
//	}
func (s *Solver) WaitState(expectedState State, timeout time.Duration) <-chan error {
	ch := make(chan error, 1) // Buffered to prevent goroutine leak

	go func() {
		defer close(ch)

		states, unsubscribe := s.machine.Subscribe()
		defer unsubscribe()

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		for {
			select {
			case state := <-states:
				if state == expectedState {
					ch <- nil

					return
				}
			case <-timer.C:
				ch <- context.DeadlineExceeded

				return
			}
		}
	}()

	return ch
}

// Solve runs a complete relaxation and blocks until it ends.
//
// It is shorthand for New, Start and Wait with the same context.
//
// Parameters:
//   - ctx: Context bounding the run
//   - cfg: Runtime configuration (missing values are filled with defaults)
//   - opts: Optional configuration (planner, hooks, metrics, logger)
//
// Returns:
//   - *Result: Final grid and run statistics, nil unless the run converged
//   - error: Setup or run error
//
// Example:
//
//	cfg := relax.Config{Size: 64, Precision: 1e-3}
//	result, err := relax.Solve(ctx, &cfg)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(result.Stats.Iterations)
func Solve(ctx context.Context, cfg *Config, opts ...Option) (*Result, error) {
	s, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		return nil, err
	}

	return s.Wait(ctx)
}

// runWorker sweeps one share of the interior until the coordinator publishes
// a terminal directive. The worker holds its own current/next bindings and
// swaps them only after observing a continue directive, so no worker can
// read a buffer another worker is still writing.
func (s *Solver) runWorker(id int, span partition.Span) {
	s.logger.Debug("sweep worker started", "worker", id, "start", span.Start, "cells", span.Count)

	cur, nxt := s.bufs.Current(), s.bufs.Next()
	for {
		converged := kernel.Sweep(nxt, cur, span, s.cfg.Precision)

		switch s.coord.ReportLocal(converged) {
		case types.DecisionContinue:
			cur, nxt = nxt, cur
		case types.DecisionConverged:
			s.logger.Debug("sweep worker finished", "worker", id)

			return
		case types.DecisionAborted:
			s.logger.Debug("sweep worker aborted", "worker", id)

			return
		}
	}
}

// debugDumpMaxSize caps the grid edge length for per-iteration debug dumps.
const debugDumpMaxSize = 16

// onRound observes each aggregation round: it records iteration metrics,
// fires the OnIteration hook and enforces MaxIterations.
func (s *Solver) onRound(iteration uint64, converged bool) bool {
	now := time.Now()
	s.metrics.RecordIteration(now.Sub(s.lastRound).Seconds(), converged)
	s.lastRound = now

	if s.hooks.OnIteration != nil {
		if err := s.hooks.OnIteration(s.ctx, iteration, converged); err != nil {
			s.logger.Error("iteration hook error", "iteration", iteration, "error", err)
		}
	}

	if s.cfg.Size <= debugDumpMaxSize {
		// Workers are parked at the decision gate, so the buffers are
		// quiescent here. After an odd iteration the fresh values sit in
		// the next buffer.
		g := s.bufs.Current()
		if iteration%2 == 1 {
			g = s.bufs.Next()
		}
		s.logger.Debug("grid state", "iteration", iteration, "grid", "\n"+g.String())
	}

	if !converged && iteration >= s.cfg.MaxIterations {
		s.limitHit.Store(true)

		return false
	}

	return true
}

// finalize waits for the run to end, selects the outcome and publishes it.
func (s *Solver) finalize() {
	s.wg.Wait()
	<-s.coord.Done()

	elapsed := time.Since(s.startedAt)
	iters := s.coord.Iterations()

	switch {
	case s.coord.IsGlobalConverged():
		// After an odd number of iterations the freshest values live in the
		// next buffer; after an even number they live in the current one.
		final := s.bufs.Current()
		if iters%2 == 1 {
			final = s.bufs.Next()
		}
		s.result = &Result{
			Grid: final,
			Stats: Stats{
				Iterations: iters,
				Duration:   elapsed,
				Workers:    s.cfg.Workers,
			},
		}

		s.logger.Info("relaxation converged", "iterations", iters, "elapsed", elapsed)
		s.transition(types.StateConverged)
		if s.hooks.OnConverged != nil {
			go func() {
				if err := s.hooks.OnConverged(s.ctx, iters, elapsed); err != nil {
					s.logger.Error("converged hook error", "error", err)
				}
			}()
		}

	case s.limitHit.Load():
		s.runErr = fmt.Errorf("%w: no convergence after %d iterations", ErrIterationLimit, iters)
		s.logger.Warn("relaxation aborted", "error", s.runErr, "iterations", iters)
		s.transition(types.StateFailed)
		s.fireOnError(s.runErr)

	case s.stopRequested.Load():
		s.runErr = fmt.Errorf("%w: stopped after %d iterations", ErrAborted, iters)
		s.logger.Info("relaxation stopped", "iterations", iters)
		s.transition(types.StateStopped)

	default:
		s.runErr = fmt.Errorf("%w: %v", ErrContextCanceled, context.Cause(s.ctx))
		s.logger.Warn("relaxation canceled", "error", s.runErr, "iterations", iters)
		s.transition(types.StateStopped)
		s.fireOnError(s.runErr)
	}

	s.metrics.RecordSolve(elapsed.Seconds(), iters)
	close(s.doneCh)
}

func (s *Solver) fireOnError(err error) {
	if s.hooks.OnError == nil {
		return
	}
	// Run hook in background to avoid blocking shutdown
	go func() {
		if hookErr := s.hooks.OnError(s.ctx, err); hookErr != nil {
			s.logger.Error("error hook error", "error", hookErr)
		}
	}()
}

// transition moves the state machine and triggers the state change hook.
func (s *Solver) transition(to types.State) {
	from, changed := s.machine.Set(to)
	if !changed {
		return
	}

	if s.hooks.OnStateChanged != nil {
		// Run hook in background to avoid blocking the state machine
		go func() {
			if err := s.hooks.OnStateChanged(s.ctx, from, to); err != nil {
				s.logger.Error("state change hook error", "from", from, "to", to, "error", err)
			}
		}()
	}
}
