package coordinate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bridges-wood/parallel-relaxation/types"
)

func TestNew(t *testing.T) {
	t.Run("rejects invalid worker counts", func(t *testing.T) {
		_, err := New(0)
		require.ErrorIs(t, err, ErrInvalidWorkers)

		_, err = New(-1)
		require.ErrorIs(t, err, ErrInvalidWorkers)
	})

	t.Run("rejects a second start", func(t *testing.T) {
		coord, err := New(1)
		require.NoError(t, err)
		require.NoError(t, coord.Start(t.Context()))
		defer coord.Stop()

		require.ErrorIs(t, coord.Start(t.Context()), ErrAlreadyStarted)
	})
}

func TestReportLocal(t *testing.T) {
	t.Run("single worker converges immediately", func(t *testing.T) {
		coord, err := New(1)
		require.NoError(t, err)
		require.NoError(t, coord.Start(t.Context()))
		defer coord.Stop()

		require.Equal(t, types.DecisionConverged, coord.ReportLocal(true))
		require.True(t, coord.IsGlobalConverged())
		require.Equal(t, uint64(1), coord.Iterations())
	})

	t.Run("single worker continues until converged", func(t *testing.T) {
		coord, err := New(1)
		require.NoError(t, err)
		require.NoError(t, coord.Start(t.Context()))
		defer coord.Stop()

		require.Equal(t, types.DecisionContinue, coord.ReportLocal(false))
		require.Equal(t, types.DecisionContinue, coord.ReportLocal(false))
		require.Equal(t, types.DecisionConverged, coord.ReportLocal(true))
		require.Equal(t, uint64(3), coord.Iterations())
	})

	t.Run("one unconverged worker forces everyone to continue", func(t *testing.T) {
		const workers = 3

		coord, err := New(workers)
		require.NoError(t, err)
		require.NoError(t, coord.Start(t.Context()))
		defer coord.Stop()

		results := make(chan []types.Decision, workers)

		var wg sync.WaitGroup
		for w := range workers {
			wg.Go(func() {
				var got []types.Decision

				// Worker 0 has not converged in the first round; every
				// worker has in the second.
				d := coord.ReportLocal(w != 0)
				got = append(got, d)
				if d == types.DecisionContinue {
					got = append(got, coord.ReportLocal(true))
				}

				results <- got
			})
		}
		wg.Wait()
		close(results)

		for seq := range results {
			require.Equal(t, []types.Decision{types.DecisionContinue, types.DecisionConverged}, seq)
		}
		require.True(t, coord.IsGlobalConverged())
		require.Equal(t, uint64(2), coord.Iterations())
	})

	t.Run("stale flags never leak into later rounds", func(t *testing.T) {
		coord, err := New(2)
		require.NoError(t, err)
		require.NoError(t, coord.Start(t.Context()))
		defer coord.Stop()

		results := make(chan types.Decision, 2)

		var wg sync.WaitGroup
		for w := range 2 {
			wg.Go(func() {
				d := coord.ReportLocal(w != 0)
				if d == types.DecisionContinue {
					d = coord.ReportLocal(true)
				}
				results <- d
			})
		}
		wg.Wait()
		close(results)

		for d := range results {
			require.Equal(t, types.DecisionConverged, d)
		}
	})
}

func TestAbort(t *testing.T) {
	t.Run("stop releases blocked workers with an abort", func(t *testing.T) {
		coord, err := New(2)
		require.NoError(t, err)
		require.NoError(t, coord.Start(t.Context()))

		got := make(chan types.Decision, 1)
		go func() { got <- coord.ReportLocal(true) }()

		coord.Stop()

		select {
		case d := <-got:
			require.Equal(t, types.DecisionAborted, d)
		case <-time.After(time.Second):
			t.Fatal("worker still blocked after stop")
		}
		require.False(t, coord.IsGlobalConverged())
	})

	t.Run("stop is idempotent and safe before start", func(t *testing.T) {
		coord, err := New(1)
		require.NoError(t, err)
		coord.Stop()

		require.NoError(t, coord.Start(t.Context()))
		coord.Stop()
		coord.Stop()
	})

	t.Run("context cancellation aborts the run", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())

		coord, err := New(2)
		require.NoError(t, err)
		require.NoError(t, coord.Start(ctx))

		cancel()
		select {
		case <-coord.Done():
		case <-time.After(time.Second):
			t.Fatal("coordinator did not exit after cancellation")
		}

		require.Equal(t, types.DecisionAborted, coord.ReportLocal(true))
	})
}

func TestRoundFunc(t *testing.T) {
	t.Run("observer can cap the iteration count", func(t *testing.T) {
		coord, err := New(1, WithRoundFunc(func(iteration uint64, _ bool) bool {
			return iteration < 3
		}))
		require.NoError(t, err)
		require.NoError(t, coord.Start(t.Context()))
		defer coord.Stop()

		require.Equal(t, types.DecisionContinue, coord.ReportLocal(false))
		require.Equal(t, types.DecisionContinue, coord.ReportLocal(false))
		require.Equal(t, types.DecisionAborted, coord.ReportLocal(false))
		require.Equal(t, uint64(3), coord.Iterations())
		require.False(t, coord.IsGlobalConverged())
	})

	t.Run("a converged round ignores the veto", func(t *testing.T) {
		coord, err := New(1, WithRoundFunc(func(_ uint64, _ bool) bool {
			return false
		}))
		require.NoError(t, err)
		require.NoError(t, coord.Start(t.Context()))
		defer coord.Stop()

		require.Equal(t, types.DecisionConverged, coord.ReportLocal(true))
		require.True(t, coord.IsGlobalConverged())
	})

	t.Run("observer sees every round in order", func(t *testing.T) {
		var (
			iters []uint64
			flags []bool
		)

		coord, err := New(1, WithRoundFunc(func(iteration uint64, converged bool) bool {
			iters = append(iters, iteration)
			flags = append(flags, converged)

			return true
		}))
		require.NoError(t, err)
		require.NoError(t, coord.Start(t.Context()))
		defer coord.Stop()

		coord.ReportLocal(false)
		coord.ReportLocal(true)

		require.Equal(t, []uint64{1, 2}, iters)
		require.Equal(t, []bool{false, true}, flags)
	})
}
