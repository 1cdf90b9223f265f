package relax

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bridges-wood/parallel-relaxation/grid"
	"github.com/bridges-wood/parallel-relaxation/partition"
	"github.com/bridges-wood/parallel-relaxation/types"
)

func TestNewSolver(t *testing.T) {
	t.Run("rejects a nil config", func(t *testing.T) {
		_, err := New(nil)
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("rejects invalid sizes", func(t *testing.T) {
		cfg := TestConfig()
		cfg.Size = 1

		_, err := New(&cfg)
		require.ErrorIs(t, err, ErrInvalidSize)
	})

	t.Run("rejects invalid precision", func(t *testing.T) {
		cfg := TestConfig()
		cfg.Precision = -0.5

		_, err := New(&cfg)
		require.ErrorIs(t, err, ErrInvalidPrecision)
	})

	t.Run("rejects more workers than interior cells", func(t *testing.T) {
		cfg := TestConfig()
		cfg.Size = 4
		cfg.Workers = 5

		_, err := New(&cfg)
		require.ErrorIs(t, err, partition.ErrOverPartitioned)
	})

	t.Run("rejects any workers on a boundary-only grid", func(t *testing.T) {
		cfg := TestConfig()
		cfg.Size = 2
		cfg.Workers = 1

		_, err := New(&cfg)
		require.ErrorIs(t, err, partition.ErrOverPartitioned)
	})

	t.Run("starts idle", func(t *testing.T) {
		cfg := TestConfig()

		solver, err := New(&cfg)
		require.NoError(t, err)
		require.Equal(t, StateIdle, solver.State())
	})
}

func TestSolverLifecycle(t *testing.T) {
	t.Run("rejects a second start", func(t *testing.T) {
		cfg := TestConfig()

		solver, err := New(&cfg)
		require.NoError(t, err)
		require.NoError(t, solver.Start(t.Context()))

		require.ErrorIs(t, solver.Start(t.Context()), ErrAlreadyStarted)

		_, err = solver.Wait(t.Context())
		require.NoError(t, err)
	})

	t.Run("wait and stop require a started solver", func(t *testing.T) {
		cfg := TestConfig()

		solver, err := New(&cfg)
		require.NoError(t, err)

		_, err = solver.Wait(t.Context())
		require.ErrorIs(t, err, ErrNotStarted)
		require.ErrorIs(t, solver.Stop(t.Context()), ErrNotStarted)
	})

	t.Run("converges and reports stats", func(t *testing.T) {
		cfg := TestConfig()

		solver, err := New(&cfg)
		require.NoError(t, err)
		require.NoError(t, solver.Start(t.Context()))

		result, err := solver.Wait(t.Context())
		require.NoError(t, err)
		require.NotNil(t, result)

		require.Equal(t, StateConverged, solver.State())
		require.Positive(t, result.Stats.Iterations)
		require.Equal(t, result.Stats.Iterations, solver.Iterations())
		require.Equal(t, cfg.Workers, result.Stats.Workers)
		require.Positive(t, result.Stats.Duration)
	})

	t.Run("stop aborts a long run", func(t *testing.T) {
		cfg := TestConfig()
		cfg.Size = 64
		cfg.Precision = 1e-12

		solver, err := New(&cfg)
		require.NoError(t, err)
		require.NoError(t, solver.Start(t.Context()))

		require.NoError(t, solver.Stop(t.Context()))

		_, err = solver.Wait(t.Context())
		require.ErrorIs(t, err, ErrAborted)
		require.Equal(t, StateStopped, solver.State())
	})

	t.Run("context cancellation aborts the run", func(t *testing.T) {
		cfg := TestConfig()
		cfg.Size = 64
		cfg.Precision = 1e-12

		ctx, cancel := context.WithCancel(t.Context())

		solver, err := New(&cfg)
		require.NoError(t, err)
		require.NoError(t, solver.Start(ctx))

		cancel()

		_, err = solver.Wait(t.Context())
		require.ErrorIs(t, err, ErrContextCanceled)
		require.Equal(t, StateStopped, solver.State())
	})

	t.Run("iteration cap fails the run", func(t *testing.T) {
		cfg := TestConfig()
		cfg.Precision = 1e-15
		cfg.MaxIterations = 3

		solver, err := New(&cfg)
		require.NoError(t, err)
		require.NoError(t, solver.Start(t.Context()))

		result, err := solver.Wait(t.Context())
		require.ErrorIs(t, err, ErrIterationLimit)
		require.Nil(t, result)
		require.Equal(t, StateFailed, solver.State())
		require.Equal(t, uint64(3), solver.Iterations())
	})
}

func TestSolverConvergence(t *testing.T) {
	t.Run("keeps the boundary fixed", func(t *testing.T) {
		cfg := TestConfig()
		cfg.Seed = 17

		result, err := Solve(t.Context(), &cfg)
		require.NoError(t, err)

		g := result.Grid
		n := g.Size()
		for i := range n {
			for j := range n {
				if i == 0 || i == n-1 || j == 0 || j == n-1 {
					require.Equal(t, grid.Boundary, g.At(i, j), "boundary cell (%d,%d)", i, j)
				}
			}
		}
	})

	t.Run("4x4 grid settles to the known fixpoint", func(t *testing.T) {
		// With a unit boundary and a cold interior, each of the four
		// interior cells follows 1−0.5^k, so precision 0.01 is reached in
		// exactly 7 iterations at the value 1−1/128.
		cfg := TestConfig()
		cfg.Size = 4
		cfg.Precision = 0.01
		cfg.Workers = 2

		result, err := Solve(t.Context(), &cfg)
		require.NoError(t, err)
		require.Equal(t, uint64(7), result.Stats.Iterations)

		for i := 1; i < 3; i++ {
			for j := 1; j < 3; j++ {
				require.Equal(t, 0.9921875, result.Grid.At(i, j), "cell (%d,%d)", i, j)
			}
		}
	})

	t.Run("one worker per interior cell still converges", func(t *testing.T) {
		cfg := TestConfig()
		cfg.Size = 4
		cfg.Precision = 0.01
		cfg.Workers = 4

		result, err := Solve(t.Context(), &cfg)
		require.NoError(t, err)
		require.Equal(t, uint64(7), result.Stats.Iterations)
	})

	t.Run("a loose precision converges in one iteration", func(t *testing.T) {
		cfg := TestConfig()
		cfg.Size = 8
		cfg.Precision = 1.0

		result, err := Solve(t.Context(), &cfg)
		require.NoError(t, err)
		require.Equal(t, uint64(1), result.Stats.Iterations)
	})

	t.Run("repeated runs are deterministic", func(t *testing.T) {
		cfg1 := TestConfig()
		cfg1.Seed = 5
		cfg2 := TestConfig()
		cfg2.Seed = 5

		a, err := Solve(t.Context(), &cfg1)
		require.NoError(t, err)
		b, err := Solve(t.Context(), &cfg2)
		require.NoError(t, err)

		require.Equal(t, a.Stats.Iterations, b.Stats.Iterations)
		require.Equal(t, a.Grid.Fingerprint(), b.Grid.Fingerprint())
	})
}

func TestSerialEquivalence(t *testing.T) {
	cases := []struct {
		name      string
		size      int
		precision float64
		workers   int
		seed      int64
	}{
		{name: "small cold grid, single worker", size: 8, precision: 1e-2, workers: 1},
		{name: "small cold grid, several workers", size: 8, precision: 1e-3, workers: 3},
		{name: "seeded grid", size: 16, precision: 1e-2, workers: 5, seed: 42},
		{name: "even iteration count", size: 4, precision: 0.3, workers: 2},
		{name: "odd iteration count", size: 4, precision: 0.01, workers: 4},
		{name: "uneven shares", size: 10, precision: 1e-2, workers: 7, seed: 9},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			serialCfg := Config{
				Size: tc.size, Precision: tc.precision, Workers: 1,
				Seed: tc.seed, LogLevel: "none",
			}
			parallelCfg := Config{
				Size: tc.size, Precision: tc.precision, Workers: tc.workers,
				Seed: tc.seed, LogLevel: "none",
			}

			serial, err := SolveSerial(t.Context(), &serialCfg)
			require.NoError(t, err)

			parallel, err := Solve(t.Context(), &parallelCfg)
			require.NoError(t, err)

			require.Equal(t, serial.Stats.Iterations, parallel.Stats.Iterations,
				"iteration counts diverged")
			require.Equal(t, serial.Grid.Fingerprint(), parallel.Grid.Fingerprint(),
				"grids diverged")
		})
	}
}

func TestSolveSerial(t *testing.T) {
	t.Run("a boundary-only grid converges in one iteration", func(t *testing.T) {
		cfg := Config{Size: 2, Precision: 1e-3, LogLevel: "none"}

		result, err := SolveSerial(t.Context(), &cfg)
		require.NoError(t, err)
		require.Equal(t, uint64(1), result.Stats.Iterations)
		require.Equal(t, 1, result.Stats.Workers)
	})

	t.Run("honors the iteration cap", func(t *testing.T) {
		cfg := Config{Size: 16, Precision: 1e-15, MaxIterations: 5, LogLevel: "none"}

		_, err := SolveSerial(t.Context(), &cfg)
		require.ErrorIs(t, err, ErrIterationLimit)
	})

	t.Run("honors context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		cfg := Config{Size: 64, Precision: 1e-12, LogLevel: "none"}

		_, err := SolveSerial(ctx, &cfg)
		require.ErrorIs(t, err, ErrContextCanceled)
	})

	t.Run("rejects invalid sizes", func(t *testing.T) {
		cfg := Config{Size: -4, Precision: 1e-3, LogLevel: "none"}

		_, err := SolveSerial(t.Context(), &cfg)
		require.ErrorIs(t, err, ErrInvalidSize)
	})
}

func TestSolverHooks(t *testing.T) {
	t.Run("fires iteration and converged hooks", func(t *testing.T) {
		var iterations atomic.Uint64
		converged := make(chan uint64, 1)

		hooks := &Hooks{
			OnIteration: func(_ context.Context, iteration uint64, _ bool) error {
				iterations.Store(iteration)

				return nil
			},
			OnConverged: func(_ context.Context, iters uint64, _ time.Duration) error {
				converged <- iters

				return nil
			},
		}

		cfg := TestConfig()
		result, err := Solve(t.Context(), &cfg, WithHooks(hooks))
		require.NoError(t, err)

		require.Equal(t, result.Stats.Iterations, iterations.Load())

		select {
		case iters := <-converged:
			require.Equal(t, result.Stats.Iterations, iters)
		case <-time.After(time.Second):
			t.Fatal("converged hook never fired")
		}
	})

	t.Run("reports state transitions", func(t *testing.T) {
		transitions := make(chan types.State, 4)

		hooks := &Hooks{
			OnStateChanged: func(_ context.Context, _, to types.State) error {
				transitions <- to

				return nil
			},
		}

		cfg := TestConfig()
		_, err := Solve(t.Context(), &cfg, WithHooks(hooks))
		require.NoError(t, err)

		var seen []types.State
		for len(seen) < 2 {
			select {
			case st := <-transitions:
				seen = append(seen, st)
			case <-time.After(time.Second):
				t.Fatalf("expected 2 transitions, saw %v", seen)
			}
		}
		require.Contains(t, seen, StateRunning)
		require.Contains(t, seen, StateConverged)
	})

	t.Run("fires the error hook on failed runs", func(t *testing.T) {
		errCh := make(chan error, 1)

		hooks := &Hooks{
			OnError: func(_ context.Context, err error) error {
				errCh <- err

				return nil
			},
		}

		cfg := TestConfig()
		cfg.Precision = 1e-15
		cfg.MaxIterations = 2

		_, err := Solve(t.Context(), &cfg, WithHooks(hooks))
		require.ErrorIs(t, err, ErrIterationLimit)

		select {
		case hookErr := <-errCh:
			require.ErrorIs(t, hookErr, ErrIterationLimit)
		case <-time.After(time.Second):
			t.Fatal("error hook never fired")
		}
	})
}

func TestSolverWaitState(t *testing.T) {
	t.Run("resolves when the state is reached", func(t *testing.T) {
		cfg := TestConfig()

		solver, err := New(&cfg)
		require.NoError(t, err)
		require.NoError(t, solver.Start(t.Context()))

		require.NoError(t, <-solver.WaitState(StateConverged, 10*time.Second))

		_, err = solver.Wait(t.Context())
		require.NoError(t, err)
	})

	t.Run("times out when the state is never reached", func(t *testing.T) {
		cfg := TestConfig()

		solver, err := New(&cfg)
		require.NoError(t, err)

		err = <-solver.WaitState(StateConverged, 50*time.Millisecond)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
