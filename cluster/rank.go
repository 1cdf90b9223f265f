package cluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/bridges-wood/parallel-relaxation/types"
)

// rankClaimer assigns this node a rank in [0, ranks) by atomically creating
// lease keys in the rank bucket. Rank 0 coordinates the run, so whichever
// node claims it first becomes the coordinator; the rest become workers.
//
// Leases carry a TTL and are renewed in the background, so a crashed node's
// rank becomes claimable again once the lease expires.
type rankClaimer struct {
	kv    jetstream.KeyValue
	runID string
	ranks int
	ttl   time.Duration

	rank     int
	renewing bool
	stopCh   chan struct{}
	doneCh   chan struct{}

	logger types.Logger
}

func newRankClaimer(kv jetstream.KeyValue, runID string, ranks int, ttl time.Duration, logger types.Logger) *rankClaimer {
	return &rankClaimer{
		kv:     kv,
		runID:  runID,
		ranks:  ranks,
		ttl:    ttl,
		rank:   -1,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
	}
}

// claim tries each rank from 0 upwards until an atomic Create succeeds.
//
// Returns ErrNoRankAvailable when every rank of the run is already leased.
func (c *rankClaimer) claim(ctx context.Context) (int, error) {
	c.logger.Debug("rank claim starting", "run_id", c.runID, "ranks", c.ranks, "ttl", c.ttl)

	for rank := 0; rank < c.ranks; rank++ {
		select {
		case <-ctx.Done():
			return -1, fmt.Errorf("%w: %v", types.ErrContextCanceled, context.Cause(ctx))
		default:
		}

		key := c.keyForRank(rank)
		value := time.Now().Format(time.RFC3339)

		revision, err := c.kv.Create(ctx, key, []byte(value))
		if err == nil {
			c.rank = rank
			c.logger.Info("rank claimed", "run_id", c.runID, "rank", rank, "revision", revision)

			return rank, nil
		}

		if !errors.Is(err, jetstream.ErrKeyExists) {
			return -1, fmt.Errorf("failed to claim rank %d: %w", rank, err)
		}

		c.logger.Debug("rank already claimed, trying next", "rank", rank)
	}

	return -1, fmt.Errorf("%w: all %d ranks of run %s are leased", ErrNoRankAvailable, c.ranks, c.runID)
}

// startRenewal renews the rank lease at ttl/3 until release or ctx end.
func (c *rankClaimer) startRenewal(ctx context.Context) {
	if c.rank < 0 || c.renewing {
		return
	}
	c.renewing = true

	go c.renewalLoop(ctx)
}

func (c *rankClaimer) renewalLoop(ctx context.Context) {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			if err := c.renew(ctx); err != nil {
				c.logger.Warn("rank lease renewal failed", "rank", c.rank, "error", err)
			}
		}
	}
}

// renew refreshes the lease timestamp. Put rather than Update, so renewal
// keeps working even after a revision bump by an operator.
func (c *rankClaimer) renew(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	value := time.Now().Format(time.RFC3339)
	if _, err := c.kv.Put(opCtx, c.keyForRank(c.rank), []byte(value)); err != nil {
		return fmt.Errorf("failed to renew rank %d: %w", c.rank, err)
	}

	return nil
}

// release stops renewal and deletes the lease so the rank is immediately
// reusable. Safe to call when no rank was ever claimed.
func (c *rankClaimer) release(ctx context.Context) error {
	if c.rank < 0 {
		return nil
	}

	if c.renewing {
		close(c.stopCh)
		select {
		case <-c.doneCh:
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", types.ErrContextCanceled, context.Cause(ctx))
		}
		c.renewing = false
	}

	if err := c.kv.Delete(ctx, c.keyForRank(c.rank)); err != nil {
		return fmt.Errorf("failed to release rank %d: %w", c.rank, err)
	}

	c.logger.Debug("rank released", "run_id", c.runID, "rank", c.rank)
	c.rank = -1

	return nil
}

func (c *rankClaimer) keyForRank(rank int) string {
	return fmt.Sprintf("%s.rank-%d", c.runID, rank)
}
