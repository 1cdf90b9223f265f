package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/bridges-wood/parallel-relaxation/internal/natsutil"
	"github.com/bridges-wood/parallel-relaxation/types"
)

// announceInterval is how often a worker re-publishes its readiness while
// waiting for the first scatter. Core NATS does not persist, so a ready
// published before rank 0 subscribes is lost; re-announcing makes the
// startup handshake immune to start order.
const announceInterval = 200 * time.Millisecond

// comm owns the NATS subjects of one run, scoped as
// "<prefix>.<runID>.<kind>". Rank 0 subscribes to the fan-in subjects
// (ready, flags, gather); workers subscribe to their scatter subject and the
// decision broadcast. All exchanges are strictly iteration-tagged: a message
// for any other iteration than the one being exchanged is a protocol
// violation, never a reordering to tolerate.
type comm struct {
	nc     *nats.Conn
	root   string
	rank   int
	ranks  int
	logger types.Logger

	subs     []*nats.Subscription
	readySub *nats.Subscription

	// Role-dependent delivery channels, nil for the other role
	readyCh    chan *nats.Msg
	flagCh     chan *nats.Msg
	gatherCh   chan *nats.Msg
	scatterCh  chan *nats.Msg
	decisionCh chan *nats.Msg
}

// newComm creates the communicator for one rank of a run. Call subscribe
// before any exchange.
func newComm(nc *nats.Conn, prefix, runID string, rank, ranks int, logger types.Logger) *comm {
	return &comm{
		nc:     nc,
		root:   fmt.Sprintf("%s.%s", prefix, runID),
		rank:   rank,
		ranks:  ranks,
		logger: logger,
	}
}

func (c *comm) scatterSubject(rank int) string { return fmt.Sprintf("%s.scatter.%d", c.root, rank) }
func (c *comm) flagSubject() string            { return c.root + ".flags" }
func (c *comm) decisionSubject() string        { return c.root + ".decision" }
func (c *comm) gatherSubject() string          { return c.root + ".gather" }
func (c *comm) readySubject() string           { return c.root + ".ready" }

// subscribe registers this rank's subscriptions and flushes them to the
// server, so every message published afterwards is guaranteed delivery into
// the channels.
//
// The fan-in channels are sized for a full round from every rank with room
// to spare; the protocol is lock-step, so at most one round is ever in
// flight and the channels can never overflow.
func (c *comm) subscribe() error {
	if c.rank == 0 {
		c.readyCh = make(chan *nats.Msg, 4*c.ranks)
		c.flagCh = make(chan *nats.Msg, 2*c.ranks)
		c.gatherCh = make(chan *nats.Msg, 2*c.ranks)

		readySub, err := c.nc.ChanSubscribe(c.readySubject(), c.readyCh)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", c.readySubject(), err)
		}
		c.readySub = readySub

		if err := c.chanSubscribe(c.flagSubject(), c.flagCh); err != nil {
			return err
		}
		if err := c.chanSubscribe(c.gatherSubject(), c.gatherCh); err != nil {
			return err
		}
	} else {
		c.scatterCh = make(chan *nats.Msg, 8)
		c.decisionCh = make(chan *nats.Msg, 8)

		if err := c.chanSubscribe(c.scatterSubject(c.rank), c.scatterCh); err != nil {
			return err
		}
		if err := c.chanSubscribe(c.decisionSubject(), c.decisionCh); err != nil {
			return err
		}
	}

	if err := c.nc.Flush(); err != nil {
		return fmt.Errorf("failed to flush subscriptions: %w", err)
	}

	return nil
}

func (c *comm) chanSubscribe(subject string, ch chan *nats.Msg) error {
	sub, err := c.nc.ChanSubscribe(subject, ch)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)

	return nil
}

// close drops all subscriptions of this rank.
func (c *comm) close() {
	if c.readySub != nil && c.readySub.IsValid() {
		_ = c.readySub.Unsubscribe()
	}
	c.readySub = nil

	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Debug("unsubscribe failed", "error", err)
		}
	}
	c.subs = nil
}

// collectReady blocks until every worker rank has announced readiness.
//
// Duplicate announcements from the re-announce loop are expected and
// deduplicated by rank. The ready subscription is dropped afterwards so
// stragglers cannot fill the channel.
//
// Returns the wrapped ErrNodeLost naming the missing ranks when the barrier
// does not complete within timeout.
func (c *comm) collectReady(ctx context.Context, timeout time.Duration) error {
	// Ready traffic is done once the barrier completes or fails
	defer func() { _ = c.readySub.Unsubscribe() }()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	seen := make(map[int]bool, c.ranks)
	for len(seen) < c.ranks-1 {
		select {
		case msg := <-c.readyCh:
			f, err := decodeFlag(msg.Data)
			if err != nil {
				return err
			}
			if f.Rank < 1 || f.Rank >= c.ranks {
				c.logger.Warn("ignoring readiness from out-of-range rank", "rank", f.Rank)
				continue
			}
			if !seen[f.Rank] {
				seen[f.Rank] = true
				c.logger.Debug("rank ready", "rank", f.Rank, "ready", len(seen), "expected", c.ranks-1)
			}
		case <-deadline.C:
			return fmt.Errorf("%w: ranks %v never joined the run", ErrNodeLost, missingRanks(seen, c.ranks))
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", types.ErrContextCanceled, context.Cause(ctx))
		}
	}

	return nil
}

// joinRun announces this worker's readiness until the first scatter arrives
// and returns that first chunk.
func (c *comm) joinRun(ctx context.Context, timeout time.Duration) (*chunkMsg, error) {
	ready, err := encodeFlag(&flagMsg{Rank: c.rank})
	if err != nil {
		return nil, err
	}

	announce := time.NewTicker(announceInterval)
	defer announce.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	if err := c.publish(c.readySubject(), ready); err != nil {
		return nil, err
	}

	for {
		select {
		case msg := <-c.scatterCh:
			chunk, err := decodeChunk(msg.Data)
			if err != nil {
				return nil, err
			}
			if chunk.Iter != 1 {
				return nil, fmt.Errorf("%w: first scatter tagged iteration %d", ErrWrongIteration, chunk.Iter)
			}

			return chunk, nil
		case <-announce.C:
			if err := c.publish(c.readySubject(), ready); err != nil {
				return nil, err
			}
		case <-deadline.C:
			return nil, fmt.Errorf("%w: no scatter from rank 0 within %v", ErrNodeLost, timeout)
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", types.ErrContextCanceled, context.Cause(ctx))
		}
	}
}

// scatter publishes one chunk to each worker rank's scatter subject.
//
// Returns the total payload bytes published.
func (c *comm) scatter(chunks []*chunkMsg) (int, error) {
	total := 0
	for _, chunk := range chunks {
		data, err := encodeChunk(chunk)
		if err != nil {
			return total, err
		}
		if err := c.nc.Publish(c.scatterSubject(chunk.Rank), data); err != nil {
			return total, fmt.Errorf("failed to publish scatter for rank %d: %w", chunk.Rank, err)
		}
		total += len(data)
	}
	if err := c.nc.Flush(); err != nil {
		return total, fmt.Errorf("failed to flush scatter: %w", err)
	}

	return total, nil
}

// recvScatter blocks for this worker's chunk of the given iteration.
func (c *comm) recvScatter(ctx context.Context, iter uint64, timeout time.Duration, lost <-chan struct{}) (*chunkMsg, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case msg := <-c.scatterCh:
		chunk, err := decodeChunk(msg.Data)
		if err != nil {
			return nil, err
		}
		if chunk.Iter != iter {
			return nil, fmt.Errorf("%w: scatter tagged iteration %d during iteration %d", ErrWrongIteration, chunk.Iter, iter)
		}

		return chunk, nil
	case <-lost:
		return nil, ErrNodeLost
	case <-deadline.C:
		return nil, fmt.Errorf("%w: no scatter from rank 0 within %v", ErrNodeLost, timeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", types.ErrContextCanceled, context.Cause(ctx))
	}
}

// publishFlag sends this worker's local convergence verdict for iter.
func (c *comm) publishFlag(iter uint64, converged bool) error {
	data, err := encodeFlag(&flagMsg{Rank: c.rank, Iter: iter, Converged: converged})
	if err != nil {
		return err
	}

	return c.publish(c.flagSubject(), data)
}

// collectFlags gathers one verdict from every worker rank and ANDs them.
//
// The caller folds in rank 0's own verdict. A flag tagged with any other
// iteration is a protocol violation.
func (c *comm) collectFlags(ctx context.Context, iter uint64, timeout time.Duration, lost <-chan struct{}) (bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	all := true
	seen := make(map[int]bool, c.ranks)
	for len(seen) < c.ranks-1 {
		select {
		case msg := <-c.flagCh:
			f, err := decodeFlag(msg.Data)
			if err != nil {
				return false, err
			}
			if f.Iter != iter {
				return false, fmt.Errorf("%w: flag from rank %d tagged iteration %d during iteration %d", ErrWrongIteration, f.Rank, f.Iter, iter)
			}
			if seen[f.Rank] {
				continue
			}
			seen[f.Rank] = true
			all = all && f.Converged
		case <-lost:
			return false, ErrNodeLost
		case <-deadline.C:
			return false, fmt.Errorf("%w: no flag from ranks %v within %v", ErrNodeLost, missingRanks(seen, c.ranks), timeout)
		case <-ctx.Done():
			return false, fmt.Errorf("%w: %v", types.ErrContextCanceled, context.Cause(ctx))
		}
	}

	return all, nil
}

// broadcastDecision publishes the directive every rank acts on for iter.
func (c *comm) broadcastDecision(iter uint64, decision types.Decision) error {
	data, err := encodeDecision(&decisionMsg{Iter: iter, Decision: decision})
	if err != nil {
		return err
	}

	return c.publish(c.decisionSubject(), data)
}

// recvDecision blocks for the directive of the given iteration.
func (c *comm) recvDecision(ctx context.Context, iter uint64, timeout time.Duration, lost <-chan struct{}) (types.Decision, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case msg := <-c.decisionCh:
		d, err := decodeDecision(msg.Data)
		if err != nil {
			return types.DecisionAborted, err
		}
		if d.Iter != iter {
			return types.DecisionAborted, fmt.Errorf("%w: decision tagged iteration %d during iteration %d", ErrWrongIteration, d.Iter, iter)
		}

		return d.Decision, nil
	case <-lost:
		return types.DecisionAborted, ErrNodeLost
	case <-deadline.C:
		return types.DecisionAborted, fmt.Errorf("%w: no decision from rank 0 within %v", ErrNodeLost, timeout)
	case <-ctx.Done():
		return types.DecisionAborted, fmt.Errorf("%w: %v", types.ErrContextCanceled, context.Cause(ctx))
	}
}

// publishGather sends this worker's updated rows for the iteration.
func (c *comm) publishGather(chunk *chunkMsg) error {
	data, err := encodeChunk(chunk)
	if err != nil {
		return err
	}

	return c.publish(c.gatherSubject(), data)
}

// collectGathers applies one updated block from every worker rank.
//
// Returns the total payload bytes received.
func (c *comm) collectGathers(ctx context.Context, iter uint64, timeout time.Duration, lost <-chan struct{}, apply func(*chunkMsg) error) (int, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	total := 0
	seen := make(map[int]bool, c.ranks)
	for len(seen) < c.ranks-1 {
		select {
		case msg := <-c.gatherCh:
			chunk, err := decodeChunk(msg.Data)
			if err != nil {
				return total, err
			}
			if chunk.Iter != iter {
				return total, fmt.Errorf("%w: gather from rank %d tagged iteration %d during iteration %d", ErrWrongIteration, chunk.Rank, chunk.Iter, iter)
			}
			if seen[chunk.Rank] {
				continue
			}
			seen[chunk.Rank] = true
			total += len(msg.Data)

			if err := apply(chunk); err != nil {
				return total, err
			}
		case <-lost:
			return total, ErrNodeLost
		case <-deadline.C:
			return total, fmt.Errorf("%w: no rows from ranks %v within %v", ErrNodeLost, missingRanks(seen, c.ranks), timeout)
		case <-ctx.Done():
			return total, fmt.Errorf("%w: %v", types.ErrContextCanceled, context.Cause(ctx))
		}
	}

	return total, nil
}

// publish sends one message and flushes it. Every cluster message sits on
// the critical path of an iteration, so the buffered writer is flushed
// immediately instead of waiting for the client's flusher tick. Transport
// deaths surface as types.ErrConnectivity.
func (c *comm) publish(subject string, data []byte) error {
	if err := c.nc.Publish(subject, data); err != nil {
		return natsutil.ClassifyOp("publish to "+subject, err)
	}
	if err := c.nc.Flush(); err != nil {
		return natsutil.ClassifyOp("flush "+subject, err)
	}

	return nil
}

// missingRanks lists the worker ranks absent from seen.
func missingRanks(seen map[int]bool, ranks int) []int {
	missing := make([]int, 0, ranks)
	for r := 1; r < ranks; r++ {
		if !seen[r] {
			missing = append(missing, r)
		}
	}

	return missing
}
