package cluster

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	relaxtest "github.com/bridges-wood/parallel-relaxation/testing"
)

func TestRankClaimer_AssignsRanksInOrder(t *testing.T) {
	ctx := t.Context()
	_, nc := relaxtest.StartEmbeddedNATS(t)
	kv := relaxtest.CreateKV(t, nc, "rank-order", 30*time.Second)
	logger := relaxtest.NewTestLogger(t)

	first := newRankClaimer(kv, "run-a", 4, 30*time.Second, logger)
	rank, err := first.claim(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, rank)

	second := newRankClaimer(kv, "run-a", 4, 30*time.Second, logger)
	rank, err = second.claim(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rank)

	third := newRankClaimer(kv, "run-a", 4, 30*time.Second, logger)
	rank, err = third.claim(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, rank)
}

func TestRankClaimer_RunsAreIndependent(t *testing.T) {
	ctx := t.Context()
	_, nc := relaxtest.StartEmbeddedNATS(t)
	kv := relaxtest.CreateKV(t, nc, "rank-runs", 30*time.Second)
	logger := relaxtest.NewTestLogger(t)

	// Two runs share the bucket; each hands out its own rank 0.
	a := newRankClaimer(kv, "run-a", 2, 30*time.Second, logger)
	rank, err := a.claim(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, rank)

	b := newRankClaimer(kv, "run-b", 2, 30*time.Second, logger)
	rank, err = b.claim(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, rank)
}

func TestRankClaimer_Exhausted(t *testing.T) {
	ctx := t.Context()
	_, nc := relaxtest.StartEmbeddedNATS(t)
	kv := relaxtest.CreateKV(t, nc, "rank-exhausted", 30*time.Second)
	logger := relaxtest.NewTestLogger(t)

	for range 2 {
		claimer := newRankClaimer(kv, "run-a", 2, 30*time.Second, logger)
		_, err := claimer.claim(ctx)
		require.NoError(t, err)
	}

	late := newRankClaimer(kv, "run-a", 2, 30*time.Second, logger)
	rank, err := late.claim(ctx)
	require.ErrorIs(t, err, ErrNoRankAvailable)
	require.Contains(t, err.Error(), "all 2 ranks")
	require.Equal(t, -1, rank)
}

func TestRankClaimer_ReleaseFreesRank(t *testing.T) {
	ctx := t.Context()
	_, nc := relaxtest.StartEmbeddedNATS(t)
	kv := relaxtest.CreateKV(t, nc, "rank-release", 30*time.Second)
	logger := relaxtest.NewTestLogger(t)

	first := newRankClaimer(kv, "run-a", 2, 30*time.Second, logger)
	rank, err := first.claim(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, rank)

	require.NoError(t, first.release(ctx))

	// The freed rank is reusable immediately, well before the TTL.
	second := newRankClaimer(kv, "run-a", 2, 30*time.Second, logger)
	rank, err = second.claim(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, rank)

	t.Run("double release is a no-op", func(t *testing.T) {
		require.NoError(t, first.release(ctx))
	})

	t.Run("release without claim is a no-op", func(t *testing.T) {
		unclaimed := newRankClaimer(kv, "run-a", 2, 30*time.Second, logger)
		require.NoError(t, unclaimed.release(ctx))
	})
}

func TestRankClaimer_LeaseExpiresWithoutRelease(t *testing.T) {
	ctx := t.Context()
	_, nc := relaxtest.StartEmbeddedNATS(t)
	kv := relaxtest.CreateKV(t, nc, "rank-expiry", 1*time.Second)
	logger := relaxtest.NewTestLogger(t)

	// Claim without renewal or release, like a node that crashed.
	crashed := newRankClaimer(kv, "run-a", 2, 1*time.Second, logger)
	rank, err := crashed.claim(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, rank)

	time.Sleep(1500 * time.Millisecond)

	replacement := newRankClaimer(kv, "run-a", 2, 1*time.Second, logger)
	rank, err = replacement.claim(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, rank)
}

func TestRankClaimer_RenewalOutlivesTTL(t *testing.T) {
	ctx := t.Context()
	_, nc := relaxtest.StartEmbeddedNATS(t)
	kv := relaxtest.CreateKV(t, nc, "rank-renewal", 900*time.Millisecond)
	logger := relaxtest.NewTestLogger(t)

	holder := newRankClaimer(kv, "run-a", 2, 900*time.Millisecond, logger)
	rank, err := holder.claim(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, rank)
	holder.startRenewal(ctx)

	// Well past the TTL the lease must still be held.
	time.Sleep(2 * time.Second)

	contender := newRankClaimer(kv, "run-a", 2, 900*time.Millisecond, logger)
	rank, err = contender.claim(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, rank)

	require.NoError(t, holder.release(ctx))
}

func TestRankClaimer_ConcurrentClaimsAreUnique(t *testing.T) {
	ctx := t.Context()
	_, nc := relaxtest.StartEmbeddedNATS(t)
	kv := relaxtest.CreateKV(t, nc, "rank-concurrent", 30*time.Second)
	logger := relaxtest.NewTestLogger(t)

	const ranks = 4

	type outcome struct {
		rank int
		err  error
	}

	var wg sync.WaitGroup
	claimed := make(chan outcome, ranks)
	for range ranks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimer := newRankClaimer(kv, "run-a", ranks, 30*time.Second, logger)
			rank, err := claimer.claim(ctx)
			claimed <- outcome{rank: rank, err: err}
		}()
	}
	wg.Wait()
	close(claimed)

	got := make([]int, 0, ranks)
	for res := range claimed {
		require.NoError(t, res.err)
		got = append(got, res.rank)
	}
	require.ElementsMatch(t, []int{0, 1, 2, 3}, got)
}
