package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/bridges-wood/parallel-relaxation/grid"
	"github.com/bridges-wood/parallel-relaxation/internal/heartbeat"
	"github.com/bridges-wood/parallel-relaxation/internal/hooks"
	"github.com/bridges-wood/parallel-relaxation/internal/kvutil"
	"github.com/bridges-wood/parallel-relaxation/internal/lifecycle"
	"github.com/bridges-wood/parallel-relaxation/internal/logging"
	"github.com/bridges-wood/parallel-relaxation/internal/metrics"
	"github.com/bridges-wood/parallel-relaxation/kernel"
	"github.com/bridges-wood/parallel-relaxation/partition"
	"github.com/bridges-wood/parallel-relaxation/types"
)

// ensureBucketRetries is how often bucket creation is retried during
// startup before giving up.
const ensureBucketRetries = 5

// debugDumpMaxSize caps the grid edge length for per-iteration debug dumps.
const debugDumpMaxSize = 16

// RunResult holds the outcome of a converged distributed run.
type RunResult struct {
	// Grid holds the relaxed values, boundary included. Only rank 0
	// assembles the grid; on worker ranks it is nil.
	Grid *grid.Grid

	// Stats summarizes the run.
	Stats types.Stats

	// Rank is the rank this node held for the run.
	Rank int
}

// Node is one participant of a distributed relaxation run.
//
// Every node of a run connects to the same NATS server, claims a rank via an
// atomic KV lease, and then follows the rank's role. Rank 0 coordinates: it
// owns the authoritative grid, scatters each worker's row block with halo
// rows attached, folds all convergence flags into one directive, and gathers
// the updated rows back every iteration. Ranks 1 and up hold no grid; each
// sweeps the block it receives and returns the owned rows.
//
// The protocol is lock-step. Every exchange is bounded by OperationTimeout,
// every node heartbeats into a KV bucket, and a rank whose heartbeat expires
// aborts the run on every other node. There is no retry or rank reassignment:
// an iteration needs every block present, so a lost rank is unrecoverable.
//
// Thread Safety:
//   - All public methods are safe for concurrent use
//   - A Node serves exactly one run; create a new one per run
//
// Lifecycle:
//   - Create with New()
//   - Call Start() to claim a rank and join the run
//   - Call Wait() for the result, or Stop() to abandon the run
type Node struct {
	cfg Config

	conn *nats.Conn

	// Optional dependencies
	hooks   *types.Hooks
	metrics types.MetricsCollector
	logger  types.Logger

	// Internal components, created during Start
	machine *lifecycle.Machine
	comm    *comm
	claimer *rankClaimer
	hb      *heartbeat.Publisher
	monitor *livenessMonitor

	// Authoritative grid, materialized on rank 0 only
	grid   *grid.Grid
	blocks []partition.Block

	rank       int
	iterations atomic.Uint64

	// Outcome, written once before doneCh closes
	result *RunResult
	runErr error

	// Lifecycle management
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
	doneCh    chan struct{}
	startedAt time.Time

	// lastRound is only touched on the run goroutine.
	lastRound time.Time

	stopRequested atomic.Bool

	// Lost-rank signal from the liveness monitor
	lostRank atomic.Int32
	lostOnce sync.Once
	lostCh   chan struct{}
}

// New creates a new cluster Node with the provided configuration.
//
// Returns a concrete *Node struct following the "accept interfaces, return
// structs" principle. The node does not touch the network until Start.
//
// Parameters:
//   - cfg: Runtime configuration (missing values are filled with defaults)
//   - conn: Established NATS connection with JetStream enabled
//   - opts: Optional configuration (hooks, metrics, logger)
//
// Returns:
//   - *Node: Initialized node instance
//   - error: Validation error
//
// Example:
//
//	cfg := cluster.Config{Size: 256, Precision: 1e-4, Ranks: 4, RunID: "run-42"}
//	node, err := cluster.New(&cfg, nc)
//	if err != nil {
//	    return err
//	}
//	if err := node.Start(ctx); err != nil {
//	    return err
//	}
//	result, err := node.Wait(ctx)
func New(cfg *Config, conn *nats.Conn, opts ...Option) (*Node, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if conn == nil {
		return nil, ErrNATSConnectionRequired
	}

	// Fill in missing configuration values with defaults
	SetDefaults(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Apply options
	options := &nodeOptions{}
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
		// Validated by Rule 9, so the parse cannot fail here.
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

	// Validated by Rule 4, so the row plan cannot fail here.
	blocks, err := partition.Rows(cfg.Size-2, cfg.Ranks)
	if err != nil {
		return nil, fmt.Errorf("failed to plan row blocks: %w", err)
	}

	// The widest scatter chunk carries a block plus two halo rows. A chunk
	// the server would refuse is detected here, before any rank is claimed.
	// Single-rank runs exchange nothing and skip the check.
	if maxPayload := conn.MaxPayload(); cfg.Ranks > 1 && maxPayload > 0 {
		widest := 0
		for _, b := range blocks {
			widest = max(widest, b.Rows)
		}
		if need := chunkWireBound(widest+2, cfg.Size); need > maxPayload {
			return nil, fmt.Errorf(
				"%w: a %dx%d grid across %d ranks needs chunks of up to %d bytes but the server caps messages at %d; raise the server's max_payload",
				ErrInvalidConfig, cfg.Size, cfg.Size, cfg.Ranks, need, maxPayload,
			)
		}
	}

	n := &Node{
		cfg:     *cfg,
		conn:    conn,
		hooks:   hooksInstance,
		metrics: metricsCollector,
		logger:  loggerInstance,
		machine: lifecycle.New(loggerInstance, metricsCollector),
		blocks:  blocks,
		rank:    -1,
		doneCh:  make(chan struct{}),
		lostCh:  make(chan struct{}),
	}
	n.lostRank.Store(-1)

	return n, nil
}

// Start claims a rank and joins the run.
//
// Start blocks through cluster formation: bucket creation, rank claiming and
// subscription setup, all bounded by StartupTimeout. After it returns nil the
// rank is final and the iteration protocol runs in the background; use Wait
// to block for the outcome. The run is bounded by ctx: cancellation aborts it
// at the next exchange boundary.
//
// A formation failure is terminal. The node transitions to StateFailed and
// Wait returns the same error.
//
// Parameters:
//   - ctx: Context bounding the run
//
// Returns:
//   - error: ErrAlreadyStarted if Start was already called, or the formation
//     error
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.ctx != nil {
		n.mu.Unlock()

		return ErrAlreadyStarted
	}
	n.ctx, n.cancel = context.WithCancel(ctx)
	n.mu.Unlock()

	n.startedAt = time.Now()
	n.lastRound = n.startedAt
	n.metrics.SetRanks(n.cfg.Ranks)
	n.metrics.SetGridSize(n.cfg.Size)

	startupCtx, cancel := context.WithTimeout(n.ctx, n.cfg.StartupTimeout)
	defer cancel()

	if err := n.setup(startupCtx); err != nil {
		n.failStartup(err)

		return err
	}

	n.transition(types.StateRunning)
	go n.run()

	n.logger.Info("cluster node started",
		"run_id", n.cfg.RunID,
		"rank", n.rank,
		"ranks", n.cfg.Ranks,
		"size", n.cfg.Size,
		"precision", n.cfg.Precision,
	)

	return nil
}

// setup performs cluster formation: buckets, rank lease, subscriptions,
// heartbeating, liveness monitoring and, on rank 0, the grid.
func (n *Node) setup(ctx context.Context) error {
	js, err := jetstream.New(n.conn)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	rankKV, err := kvutil.EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{
		Bucket:  n.cfg.RankBucket,
		History: 1,
		TTL:     n.cfg.RankTTL,
	}, ensureBucketRetries)
	if err != nil {
		return fmt.Errorf("failed to ensure rank bucket: %w", err)
	}

	hbKV, err := kvutil.EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{
		Bucket:  n.cfg.HeartbeatBucket,
		History: 1,
		TTL:     n.cfg.LivenessTimeout,
	}, ensureBucketRetries)
	if err != nil {
		return fmt.Errorf("failed to ensure heartbeat bucket: %w", err)
	}

	n.claimer = newRankClaimer(rankKV, n.cfg.RunID, n.cfg.Ranks, n.cfg.RankTTL, n.logger)
	rank, err := n.claimer.claim(ctx)
	if err != nil {
		return err
	}
	n.rank = rank
	n.claimer.startRenewal(n.ctx)

	n.comm = newComm(n.conn, n.cfg.SubjectPrefix, n.cfg.RunID, rank, n.cfg.Ranks, n.logger)
	if err := n.comm.subscribe(); err != nil {
		return err
	}

	n.hb = heartbeat.New(hbKV, n.cfg.RunID+".hb", n.cfg.HeartbeatInterval)
	n.hb.SetNodeID(fmt.Sprintf("rank-%d", rank))
	n.hb.SetMetrics(n.metrics)
	if err := n.hb.Start(ctx); err != nil {
		return err
	}

	if watched := n.watchedRanks(); len(watched) > 0 {
		n.monitor = newLivenessMonitor(hbKV, n.cfg.RunID+".hb", watched, n.cfg.LivenessTimeout, n.onRankLost, n.logger)
		n.monitor.start(n.ctx)
	}

	if rank == 0 {
		n.grid, err = newRunGrid(&n.cfg)
		if err != nil {
			return err
		}
	}

	return nil
}

// watchedRanks lists the peers whose liveness this node depends on. Rank 0
// needs every worker alive; a worker only needs rank 0.
func (n *Node) watchedRanks() []int {
	if n.rank != 0 {
		return []int{0}
	}

	watched := make([]int, 0, n.cfg.Ranks-1)
	for r := 1; r < n.cfg.Ranks; r++ {
		watched = append(watched, r)
	}

	return watched
}

func newRunGrid(cfg *Config) (*grid.Grid, error) {
	if cfg.Seed != 0 {
		return grid.NewSeeded(cfg.Size, cfg.Seed)
	}

	return grid.New(cfg.Size)
}

// Wait blocks until the run ends and returns its outcome.
//
// Parameters:
//   - ctx: Context bounding the wait (not the run itself)
//
// Returns:
//   - *RunResult: Final grid (rank 0 only) and run statistics, nil unless
//     the run converged
//   - error: ErrNotStarted, ErrRunAborted, ErrNodeLost, ErrIterationLimit,
//     ErrContextCanceled, or the wait context's error
func (n *Node) Wait(ctx context.Context) (*RunResult, error) {
	n.mu.Lock()
	started := n.ctx != nil
	n.mu.Unlock()
	if !started {
		return nil, ErrNotStarted
	}

	select {
	case <-n.doneCh:
		return n.result, n.runErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop abandons the run and waits for the node to shut down.
//
// On rank 0 the next iteration boundary broadcasts an abort so every worker
// unblocks. On a worker rank the local loop exits at its next exchange; rank
// 0 then aborts the whole run when the worker's rows never arrive. Safe to
// call multiple times.
//
// Parameters:
//   - ctx: Context bounding the shutdown wait
//
// Returns:
//   - error: ErrNotStarted if the node was never started, or the context's
//     error if the wait times out
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	if n.ctx == nil {
		n.mu.Unlock()

		return ErrNotStarted
	}
	cancel := n.cancel
	n.mu.Unlock()

	n.stopRequested.Store(true)
	cancel()

	select {
	case <-n.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current node state.
//
// Returns:
//   - State: Current state
func (n *Node) State() types.State {
	return n.machine.State()
}

// Rank returns the rank this node claimed, or -1 before Start has claimed
// one. The rank is final once Start returns nil.
func (n *Node) Rank() int {
	return n.rank
}

// Iterations returns the number of completed iterations so far. It is safe
// to call while the run is in progress.
func (n *Node) Iterations() uint64 {
	return n.iterations.Load()
}

// WaitState waits for the node to reach the expected state within the
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
//	if err := <-node.WaitState(types.StateConverged, 30*time.Second); err != nil {
//	    log.Printf("run still going: %v", err)
//	}
func (n *Node) WaitState(expectedState types.State, timeout time.Duration) <-chan error {
	ch := make(chan error, 1) // Buffered to prevent goroutine leak

	go func() {
		defer close(ch)

		states, unsubscribe := n.machine.Subscribe()
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

// run executes the rank's role, publishes the outcome and tears the node
// down.
func (n *Node) run() {
	defer close(n.doneCh)

	var err error
	if n.rank == 0 {
		err = n.runRoot()
	} else {
		err = n.runWorker()
	}

	elapsed := time.Since(n.startedAt)
	iters := n.iterations.Load()

	n.teardown()

	switch {
	case err == nil:
		n.result = &RunResult{
			Grid: n.grid,
			Stats: types.Stats{
				Iterations: iters,
				Duration:   elapsed,
				Workers:    n.cfg.Ranks,
			},
			Rank: n.rank,
		}

		n.logger.Info("relaxation converged", "rank", n.rank, "iterations", iters, "elapsed", elapsed)
		n.transition(types.StateConverged)
		if n.hooks.OnConverged != nil {
			go func() {
				if err := n.hooks.OnConverged(n.ctx, iters, elapsed); err != nil {
					n.logger.Error("converged hook error", "error", err)
				}
			}()
		}

	case n.stopRequested.Load():
		n.runErr = fmt.Errorf("%w: stopped after %d iterations", ErrRunAborted, iters)
		n.logger.Info("relaxation stopped", "rank", n.rank, "iterations", iters)
		n.transition(types.StateStopped)

	case errors.Is(err, ErrRunAborted):
		n.runErr = err
		n.logger.Info("relaxation aborted", "rank", n.rank, "iterations", iters)
		n.transition(types.StateStopped)

	case errors.Is(err, types.ErrContextCanceled):
		n.runErr = err
		n.logger.Warn("relaxation canceled", "rank", n.rank, "error", err, "iterations", iters)
		n.transition(types.StateStopped)
		n.fireOnError(err)

	default:
		n.runErr = err
		n.logger.Error("relaxation failed", "rank", n.rank, "error", err, "iterations", iters)
		n.transition(types.StateFailed)
		n.fireOnError(err)
	}

	n.metrics.RecordSolve(elapsed.Seconds(), iters)
}

// runRoot drives the run from rank 0: form the cluster, then repeat
// scatter, sweep, decide and gather until a terminal directive.
func (n *Node) runRoot() error {
	if n.cfg.Ranks > 1 {
		if err := n.comm.collectReady(n.ctx, n.cfg.StartupTimeout); err != nil {
			return n.abortRun(0, err)
		}
		n.logger.Info("run formed", "run_id", n.cfg.RunID, "ranks", n.cfg.Ranks)
	}

	own := n.blocks[0]
	size := n.cfg.Size
	dst := make([]float64, (own.Rows+2)*size)

	for iter := uint64(1); ; iter++ {
		// Scatter each worker's block with its halo rows attached.
		if n.cfg.Ranks > 1 {
			scatterStart := time.Now()
			chunks := make([]*chunkMsg, 0, n.cfg.Ranks-1)
			for r := 1; r < n.cfg.Ranks; r++ {
				b := n.blocks[r]
				payload := n.grid.RowsCopy(b.FirstRow-1, b.Rows+2)
				chunks = append(chunks, newChunk(r, iter, b.FirstRow, b.Rows, size, true, payload))
			}
			bytesOut, err := n.comm.scatter(chunks)
			if err != nil {
				return n.abortRun(iter, err)
			}
			n.metrics.RecordScatter(time.Since(scatterStart).Seconds(), bytesOut)
		}

		// Sweep rank 0's own block against the same snapshot the workers got.
		src := n.grid.RowsCopy(own.FirstRow-1, own.Rows+2)
		allConverged := kernel.SweepChunk(dst, src, size, n.cfg.Precision)

		if n.cfg.Ranks > 1 {
			workersConverged, err := n.comm.collectFlags(n.ctx, iter, n.cfg.OperationTimeout, n.lostCh)
			if err != nil {
				return n.abortRun(iter, err)
			}
			allConverged = allConverged && workersConverged
		}

		n.iterations.Store(iter)
		n.observeIteration(iter, allConverged)

		decision := types.DecisionContinue
		switch {
		case allConverged:
			decision = types.DecisionConverged
		case n.stopRequested.Load() || n.ctx.Err() != nil:
			decision = types.DecisionAborted
		case iter >= n.cfg.MaxIterations:
			decision = types.DecisionAborted
		}

		if n.cfg.Ranks > 1 {
			if err := n.comm.broadcastDecision(iter, decision); err != nil {
				return n.abortRun(iter, err)
			}
		}
		n.logger.Debug("iteration decided", "iteration", iter, "decision", decision.String())

		if decision == types.DecisionAborted {
			switch {
			case n.stopRequested.Load():
				return fmt.Errorf("%w: stopped after %d iterations", ErrRunAborted, iter)
			case n.ctx.Err() != nil:
				return fmt.Errorf("%w: %v", types.ErrContextCanceled, context.Cause(n.ctx))
			default:
				return fmt.Errorf("%w: no convergence after %d iterations", types.ErrIterationLimit, iter)
			}
		}

		// Fold the updated rows back into the authoritative grid: rank 0's
		// own block from the local sweep, worker blocks from the gather.
		n.grid.SetRows(own.FirstRow, own.Rows, dst[size:(own.Rows+1)*size])
		if n.cfg.Ranks > 1 {
			gatherStart := time.Now()
			bytesIn, err := n.comm.collectGathers(n.ctx, iter, n.cfg.OperationTimeout, n.lostCh, n.applyGather)
			if err != nil {
				return n.abortRun(iter, err)
			}
			n.metrics.RecordGather(time.Since(gatherStart).Seconds(), bytesIn)
		}

		if size <= debugDumpMaxSize {
			n.logger.Debug("grid state", "iteration", iter, "grid", "\n"+n.grid.String())
		}

		if decision == types.DecisionConverged {
			return nil
		}
	}
}

// applyGather folds one worker's updated rows into the grid, after checking
// the chunk matches the rank's fixed assignment.
func (n *Node) applyGather(chunk *chunkMsg) error {
	if chunk.Rank < 1 || chunk.Rank >= n.cfg.Ranks {
		return fmt.Errorf("%w: rows from impossible rank %d", ErrBadChunk, chunk.Rank)
	}

	b := n.blocks[chunk.Rank]
	if chunk.Halo || chunk.FirstRow != b.FirstRow || chunk.Rows != b.Rows || chunk.N != n.cfg.Size {
		return fmt.Errorf(
			"%w: rank %d returned rows [%d,%d) of width %d, expected [%d,%d) of width %d",
			ErrBadChunk, chunk.Rank, chunk.FirstRow, chunk.FirstRow+chunk.Rows, chunk.N,
			b.FirstRow, b.End(), n.cfg.Size,
		)
	}

	n.grid.SetRows(chunk.FirstRow, chunk.Rows, chunk.Payload)

	return nil
}

// abortRun is rank 0's give-up path: broadcast an abort so every worker
// unblocks, then surface the cause.
func (n *Node) abortRun(iter uint64, cause error) error {
	if n.cfg.Ranks > 1 {
		if err := n.comm.broadcastDecision(iter, types.DecisionAborted); err != nil {
			n.logger.Warn("abort broadcast failed", "iteration", iter, "error", err)
		}
	}

	return n.describeLost(cause)
}

// runWorker executes this rank's share of the run: receive a block, sweep
// it, report the flag, follow the directive.
func (n *Node) runWorker() error {
	chunk, err := n.comm.joinRun(n.ctx, n.cfg.StartupTimeout)
	if err != nil {
		return n.describeLost(err)
	}
	n.logger.Info("joined run", "run_id", n.cfg.RunID, "rank", n.rank, "first_row", chunk.FirstRow, "rows", chunk.Rows)

	var dst []float64
	for iter := uint64(1); ; iter++ {
		if iter > 1 {
			chunk, err = n.comm.recvScatter(n.ctx, iter, n.cfg.OperationTimeout, n.lostCh)
			if err != nil {
				return n.describeLost(err)
			}
		}
		if err := n.checkChunk(chunk); err != nil {
			return err
		}
		if dst == nil {
			dst = make([]float64, len(chunk.Payload))
		}

		converged := kernel.SweepChunk(dst, chunk.Payload, chunk.N, n.cfg.Precision)

		if err := n.comm.publishFlag(iter, converged); err != nil {
			return err
		}

		decision, err := n.comm.recvDecision(n.ctx, iter, n.cfg.OperationTimeout, n.lostCh)
		if err != nil {
			return n.describeLost(err)
		}

		n.iterations.Store(iter)
		n.observeIteration(iter, decision == types.DecisionConverged)
		n.logger.Debug("iteration decided", "iteration", iter, "decision", decision.String())

		if decision == types.DecisionAborted {
			return fmt.Errorf("%w: after %d iterations", ErrRunAborted, iter)
		}

		// Both Continue and Converged return the owned rows, halo stripped,
		// so rank 0 can complete the grid for this iteration.
		owned := newChunk(n.rank, iter, chunk.FirstRow, chunk.Rows, chunk.N, false, dst[chunk.N:(chunk.Rows+1)*chunk.N])
		if err := n.comm.publishGather(owned); err != nil {
			return err
		}

		if decision == types.DecisionConverged {
			return nil
		}
	}
}

// checkChunk verifies a scattered chunk matches this rank's fixed block.
func (n *Node) checkChunk(chunk *chunkMsg) error {
	b := n.blocks[n.rank]
	if !chunk.Halo || chunk.FirstRow != b.FirstRow || chunk.Rows != b.Rows || chunk.N != n.cfg.Size {
		return fmt.Errorf(
			"%w: received rows [%d,%d) of width %d, expected rows [%d,%d) of width %d",
			ErrBadChunk, chunk.FirstRow, chunk.FirstRow+chunk.Rows, chunk.N,
			b.FirstRow, b.End(), n.cfg.Size,
		)
	}

	return nil
}

// observeIteration records iteration metrics and fires the OnIteration hook.
func (n *Node) observeIteration(iter uint64, converged bool) {
	now := time.Now()
	n.metrics.RecordIteration(now.Sub(n.lastRound).Seconds(), converged)
	n.lastRound = now

	if n.hooks.OnIteration != nil {
		if err := n.hooks.OnIteration(n.ctx, iter, converged); err != nil {
			n.logger.Error("iteration hook error", "iteration", iter, "error", err)
		}
	}
}

// onRankLost is the liveness monitor callback. The first lost rank aborts
// the run; later reports are no-ops.
func (n *Node) onRankLost(rank int) {
	n.lostOnce.Do(func() {
		n.lostRank.Store(int32(rank))
		close(n.lostCh)
	})
}

// describeLost attaches the lost rank to a bare ErrNodeLost from the
// liveness signal. Errors that already carry detail pass through.
func (n *Node) describeLost(err error) error {
	if err == ErrNodeLost {
		if rank := n.lostRank.Load(); rank >= 0 {
			return fmt.Errorf("%w: rank %d heartbeat expired", ErrNodeLost, rank)
		}
	}

	return err
}

// failStartup publishes a formation error as the run outcome.
func (n *Node) failStartup(err error) {
	n.runErr = err
	n.logger.Error("cluster node failed to start", "error", err)
	n.transition(types.StateFailed)
	n.fireOnError(err)
	n.cancel()
	n.teardown()
	close(n.doneCh)
}

// teardown releases every resource the node holds: heartbeat key, liveness
// monitor, subscriptions and the rank lease. Partial setup is tolerated.
func (n *Node) teardown() {
	if n.monitor != nil {
		n.monitor.stop()
	}

	if n.hb != nil && n.hb.IsStarted() {
		if err := n.hb.Stop(); err != nil {
			n.logger.Warn("heartbeat shutdown failed", "error", err)
		}
	}

	if n.comm != nil {
		n.comm.close()
	}

	if n.claimer != nil {
		// The run context is already cancelled during shutdown, so the lease
		// delete gets its own deadline.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := n.claimer.release(ctx); err != nil {
			n.logger.Warn("rank release failed", "rank", n.rank, "error", err)
		}
	}
}

func (n *Node) fireOnError(err error) {
	if n.hooks.OnError == nil {
		return
	}
	// Run hook in background to avoid blocking shutdown
	go func() {
		if hookErr := n.hooks.OnError(n.ctx, err); hookErr != nil {
			n.logger.Error("error hook error", "error", hookErr)
		}
	}()
}

// transition moves the state machine and triggers the state change hook.
func (n *Node) transition(to types.State) {
	from, changed := n.machine.Set(to)
	if !changed {
		return
	}

	if n.hooks.OnStateChanged != nil {
		// Run hook in background to avoid blocking the state machine
		go func() {
			if err := n.hooks.OnStateChanged(n.ctx, from, to); err != nil {
				n.logger.Error("state change hook error", "from", from, "to", to, "error", err)
			}
		}()
	}
}
