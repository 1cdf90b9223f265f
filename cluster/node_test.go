package cluster

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	relax "github.com/bridges-wood/parallel-relaxation"
	"github.com/bridges-wood/parallel-relaxation/partition"
	relaxtest "github.com/bridges-wood/parallel-relaxation/testing"
	"github.com/bridges-wood/parallel-relaxation/types"
)

// startRun brings up a full run of cfg.Ranks nodes on one embedded server,
// each on its own connection. Nodes are started in order, so nodes[i] holds
// rank i.
func startRun(t *testing.T, ctx context.Context, cfg Config) []*Node {
	t.Helper()

	ns, nc := relaxtest.StartEmbeddedNATS(t)

	nodes := make([]*Node, cfg.Ranks)
	for i := range nodes {
		conn := nc
		if i > 0 {
			conn = relaxtest.Connect(t, ns)
		}

		node, err := New(&cfg, conn)
		require.NoError(t, err)
		require.NoError(t, node.Start(ctx))
		require.Equal(t, i, node.Rank())
		nodes[i] = node
	}

	return nodes
}

// waitAll blocks for every node's outcome and requires all of them to have
// converged.
func waitAll(t *testing.T, ctx context.Context, nodes []*Node) []*RunResult {
	t.Helper()

	results := make([]*RunResult, len(nodes))
	for i, node := range nodes {
		result, err := node.Wait(ctx)
		require.NoError(t, err, "node %d", i)
		results[i] = result
	}

	return results
}

// serialReference solves the same problem in-process for equivalence checks.
func serialReference(t *testing.T, cfg Config) *relax.Result {
	t.Helper()

	serialCfg := relax.TestConfig()
	serialCfg.Size = cfg.Size
	serialCfg.Precision = cfg.Precision
	serialCfg.Seed = cfg.Seed
	serialCfg.MaxIterations = cfg.MaxIterations

	result, err := relax.SolveSerial(t.Context(), &serialCfg)
	require.NoError(t, err)

	return result
}

func TestNew(t *testing.T) {
	_, nc := relaxtest.StartEmbeddedNATS(t)

	t.Run("creates node with valid config", func(t *testing.T) {
		cfg := TestConfig()
		node, err := New(&cfg, nc)
		require.NoError(t, err)
		require.NotNil(t, node)
		require.Equal(t, types.StateIdle, node.State())
		require.Equal(t, -1, node.Rank())
		require.Zero(t, node.Iterations())
	})

	t.Run("rejects nil config", func(t *testing.T) {
		node, err := New(nil, nc)
		require.ErrorIs(t, err, ErrInvalidConfig)
		require.Nil(t, node)
	})

	t.Run("rejects nil connection", func(t *testing.T) {
		cfg := TestConfig()
		node, err := New(&cfg, nil)
		require.ErrorIs(t, err, ErrNATSConnectionRequired)
		require.Nil(t, node)
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		cfg := TestConfig()
		cfg.Precision = -1
		node, err := New(&cfg, nc)
		require.ErrorIs(t, err, types.ErrInvalidPrecision)
		require.Contains(t, err.Error(), "invalid configuration")
		require.Nil(t, node)
	})

	t.Run("rejects more ranks than interior rows", func(t *testing.T) {
		cfg := TestConfig()
		cfg.Size = 4
		cfg.Ranks = 3
		node, err := New(&cfg, nc)
		require.ErrorIs(t, err, partition.ErrOverPartitioned)
		require.Nil(t, node)
	})

	t.Run("rejects chunks over the server message limit", func(t *testing.T) {
		cfg := TestConfig()
		cfg.Size = 1024
		cfg.Ranks = 2
		node, err := New(&cfg, nc)
		require.ErrorIs(t, err, ErrInvalidConfig)
		require.Contains(t, err.Error(), "max_payload")
		require.Nil(t, node)
	})
}

func TestNode_LifecycleGuards(t *testing.T) {
	_, nc := relaxtest.StartEmbeddedNATS(t)
	ctx := t.Context()

	t.Run("wait before start", func(t *testing.T) {
		cfg := TestConfig()
		cfg.Ranks = 1
		node, err := New(&cfg, nc)
		require.NoError(t, err)

		_, err = node.Wait(ctx)
		require.ErrorIs(t, err, ErrNotStarted)
	})

	t.Run("stop before start", func(t *testing.T) {
		cfg := TestConfig()
		cfg.Ranks = 1
		node, err := New(&cfg, nc)
		require.NoError(t, err)

		require.ErrorIs(t, node.Stop(ctx), ErrNotStarted)
	})

	t.Run("start twice", func(t *testing.T) {
		cfg := TestConfig()
		cfg.Ranks = 1
		cfg.Size = 8
		node, err := New(&cfg, nc)
		require.NoError(t, err)

		require.NoError(t, node.Start(ctx))
		require.ErrorIs(t, node.Start(ctx), ErrAlreadyStarted)

		_, err = node.Wait(ctx)
		require.NoError(t, err)
	})
}

func TestNode_SingleRank(t *testing.T) {
	_, nc := relaxtest.StartEmbeddedNATS(t)
	ctx := t.Context()

	cfg := TestConfig()
	cfg.Ranks = 1

	var iterationCalls atomic.Uint64
	var convergedFired atomic.Bool
	h := &types.Hooks{
		OnIteration: func(_ context.Context, _ uint64, _ bool) error {
			iterationCalls.Add(1)

			return nil
		},
		OnConverged: func(_ context.Context, _ uint64, _ time.Duration) error {
			convergedFired.Store(true)

			return nil
		},
	}

	node, err := New(&cfg, nc, WithHooks(h))
	require.NoError(t, err)
	require.NoError(t, node.Start(ctx))
	require.Equal(t, 0, node.Rank())

	require.NoError(t, <-node.WaitState(types.StateConverged, 30*time.Second))

	result, err := node.Wait(ctx)
	require.NoError(t, err)
	require.NotNil(t, result.Grid)
	require.Equal(t, 0, result.Rank)
	require.Equal(t, 1, result.Stats.Workers)

	serial := serialReference(t, cfg)
	require.Equal(t, serial.Stats.Iterations, result.Stats.Iterations)
	require.Equal(t, serial.Grid.Fingerprint(), result.Grid.Fingerprint())

	require.Equal(t, result.Stats.Iterations, iterationCalls.Load())
	require.Eventually(t, convergedFired.Load, 5*time.Second, 10*time.Millisecond)
}

func TestNode_TwoRanksMatchSerial(t *testing.T) {
	ctx := t.Context()

	cfg := TestConfig()
	cfg.Seed = 42

	nodes := startRun(t, ctx, cfg)
	results := waitAll(t, ctx, nodes)

	root, worker := results[0], results[1]
	require.NotNil(t, root.Grid)
	require.Nil(t, worker.Grid)
	require.Equal(t, 0, root.Rank)
	require.Equal(t, 1, worker.Rank)
	require.Equal(t, root.Stats.Iterations, worker.Stats.Iterations)

	serial := serialReference(t, cfg)
	require.Equal(t, serial.Stats.Iterations, root.Stats.Iterations)
	require.Equal(t, serial.Grid.Fingerprint(), root.Grid.Fingerprint())
}

func TestNode_TinyGridExactValues(t *testing.T) {
	ctx := t.Context()

	cfg := TestConfig()
	cfg.Size = 4
	cfg.Precision = 0.01

	nodes := startRun(t, ctx, cfg)
	results := waitAll(t, ctx, nodes)

	require.Equal(t, uint64(7), results[0].Stats.Iterations)
	require.Equal(t, uint64(7), results[1].Stats.Iterations)

	g := results[0].Grid
	for i := 1; i <= 2; i++ {
		for j := 1; j <= 2; j++ {
			require.Equal(t, 0.9921875, g.At(i, j), "cell (%d,%d)", i, j)
		}
	}
}

func TestNode_ConcurrentStart(t *testing.T) {
	ns, nc := relaxtest.StartEmbeddedNATS(t)
	ctx := t.Context()

	cfg := TestConfig()
	cfg.Ranks = 3

	nodes := make([]*Node, cfg.Ranks)
	for i := range nodes {
		conn := nc
		if i > 0 {
			conn = relaxtest.Connect(t, ns)
		}

		node, err := New(&cfg, conn)
		require.NoError(t, err)
		nodes[i] = node
	}

	var wg sync.WaitGroup
	startErrs := make([]error, len(nodes))
	for i, node := range nodes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			startErrs[i] = node.Start(ctx)
		}()
	}
	wg.Wait()

	ranks := make([]int, 0, len(nodes))
	for i, node := range nodes {
		require.NoError(t, startErrs[i], "node %d", i)
		ranks = append(ranks, node.Rank())
	}
	require.ElementsMatch(t, []int{0, 1, 2}, ranks)

	results := waitAll(t, ctx, nodes)
	for i, result := range results {
		require.Equal(t, results[0].Stats.Iterations, result.Stats.Iterations, "node %d", i)
		if result.Rank == 0 {
			require.NotNil(t, result.Grid)
		} else {
			require.Nil(t, result.Grid)
		}
	}
}

func TestNode_IterationLimit(t *testing.T) {
	ctx := t.Context()

	cfg := TestConfig()
	cfg.Precision = 1e-12
	cfg.MaxIterations = 3

	nodes := startRun(t, ctx, cfg)

	_, err := nodes[0].Wait(ctx)
	require.ErrorIs(t, err, types.ErrIterationLimit)
	require.Equal(t, types.StateFailed, nodes[0].State())

	_, err = nodes[1].Wait(ctx)
	require.ErrorIs(t, err, ErrRunAborted)
	require.Equal(t, types.StateStopped, nodes[1].State())

	require.Equal(t, uint64(3), nodes[0].Iterations())
	require.Equal(t, uint64(3), nodes[1].Iterations())
}

func TestNode_NoFreeRank(t *testing.T) {
	ns, nc := relaxtest.StartEmbeddedNATS(t)
	ctx := t.Context()

	cfg := TestConfig()

	root, err := New(&cfg, nc)
	require.NoError(t, err)
	require.NoError(t, root.Start(ctx))

	worker, err := New(&cfg, relaxtest.Connect(t, ns))
	require.NoError(t, err)
	require.NoError(t, worker.Start(ctx))

	late, err := New(&cfg, relaxtest.Connect(t, ns))
	require.NoError(t, err)

	err = late.Start(ctx)
	require.ErrorIs(t, err, ErrNoRankAvailable)
	require.Equal(t, types.StateFailed, late.State())

	_, waitErr := late.Wait(ctx)
	require.ErrorIs(t, waitErr, ErrNoRankAvailable)

	// The run itself is unaffected by the failed claim.
	waitAll(t, ctx, []*Node{root, worker})
}

func TestNode_SilentRankAbortsRun(t *testing.T) {
	_, nc := relaxtest.StartEmbeddedNATS(t)
	ctx := t.Context()

	cfg := TestConfig()
	cfg.OperationTimeout = 2 * time.Second

	root, err := New(&cfg, nc)
	require.NoError(t, err)
	require.NoError(t, root.Start(ctx))

	// Claim rank 1 and announce readiness without ever subscribing or
	// sweeping, like a worker that dies right after joining.
	js, err := jetstream.New(nc)
	require.NoError(t, err)
	kv, err := js.KeyValue(ctx, cfg.RankBucket)
	require.NoError(t, err)
	_, err = kv.Create(ctx, cfg.RunID+".rank-1", []byte(time.Now().Format(time.RFC3339)))
	require.NoError(t, err)

	ready, err := encodeFlag(&flagMsg{Rank: 1})
	require.NoError(t, err)
	require.NoError(t, nc.Publish(cfg.SubjectPrefix+"."+cfg.RunID+".ready", ready))
	require.NoError(t, nc.Flush())

	_, err = root.Wait(ctx)
	require.ErrorIs(t, err, ErrNodeLost)
	require.Contains(t, err.Error(), "[1]")
	require.Equal(t, types.StateFailed, root.State())
}

func TestNode_StopWorker(t *testing.T) {
	ctx := t.Context()

	cfg := TestConfig()
	cfg.Size = 64
	cfg.Precision = 1e-12

	nodes := startRun(t, ctx, cfg)
	root, worker := nodes[0], nodes[1]

	require.Eventually(t, func() bool { return worker.Iterations() >= 2 }, 15*time.Second, 10*time.Millisecond)
	// Let the liveness monitor observe the worker before it disappears.
	time.Sleep(1200 * time.Millisecond)

	require.NoError(t, worker.Stop(ctx))
	require.Equal(t, types.StateStopped, worker.State())
	_, err := worker.Wait(ctx)
	require.ErrorIs(t, err, ErrRunAborted)

	_, err = root.Wait(ctx)
	require.ErrorIs(t, err, ErrNodeLost)
	require.Equal(t, types.StateFailed, root.State())
}

func TestNode_StopRoot(t *testing.T) {
	ctx := t.Context()

	cfg := TestConfig()
	cfg.Size = 64
	cfg.Precision = 1e-12

	nodes := startRun(t, ctx, cfg)
	root, worker := nodes[0], nodes[1]

	require.Eventually(t, func() bool { return root.Iterations() >= 2 }, 15*time.Second, 10*time.Millisecond)

	require.NoError(t, root.Stop(ctx))
	require.Equal(t, types.StateStopped, root.State())
	_, err := root.Wait(ctx)
	require.ErrorIs(t, err, ErrRunAborted)

	// The worker ends via the abort broadcast or, if it missed the
	// broadcast, via rank 0's expired heartbeat. Either way it terminates
	// with an error.
	_, err = worker.Wait(ctx)
	require.Error(t, err)
	require.Contains(t, []types.State{types.StateStopped, types.StateFailed}, worker.State())
}
