package cluster

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/bridges-wood/parallel-relaxation/types"
)

// livenessMonitor detects dead ranks by polling the heartbeat bucket.
//
// A rank is reported lost only after it has been seen alive once and then
// disappears, so a slow-starting peer is never mistaken for a dead one; the
// startup barrier bounds how long a rank may take to appear.
//
// Rank 0 watches every worker rank. Workers watch only rank 0, because a
// dead worker already surfaces on rank 0's collect timeouts while a dead
// rank 0 would otherwise leave workers blocked until their own receive
// timeouts fire. The callback fires at most once, for the first rank lost.
type livenessMonitor struct {
	kv       jetstream.KeyValue
	prefix   string
	expected []int
	timeout  time.Duration
	onLost   func(rank int)
	logger   types.Logger

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// newLivenessMonitor watches the heartbeats of the expected ranks under
// "<prefix>.rank-<n>". The poll cadence is timeout/2, so a key must miss
// two scans past its TTL before the rank is declared lost.
func newLivenessMonitor(kv jetstream.KeyValue, prefix string, expected []int, timeout time.Duration, onLost func(rank int), logger types.Logger) *livenessMonitor {
	return &livenessMonitor{
		kv:       kv,
		prefix:   prefix,
		expected: expected,
		timeout:  timeout,
		onLost:   onLost,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// start launches the polling loop. Subsequent calls are no-ops.
func (m *livenessMonitor) start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return
	}
	m.started = true

	go m.poll(ctx)
}

// stop terminates the polling loop and waits for it to exit. Idempotent.
func (m *livenessMonitor) stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return
	}

	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
	<-m.doneCh
}

func (m *livenessMonitor) poll(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.timeout / 2)
	defer ticker.Stop()

	seen := make(map[int]bool, len(m.expected))
	for {
		select {
		case <-ticker.C:
			active, err := m.activeRanks(ctx)
			if err != nil {
				m.logger.Warn("heartbeat scan failed", "error", err)
				continue
			}

			for _, rank := range m.expected {
				switch {
				case active[rank]:
					seen[rank] = true
				case seen[rank]:
					m.logger.Error("rank heartbeat expired", "rank", rank, "timeout", m.timeout)
					m.onLost(rank)

					return
				}
			}

		case <-m.stopCh:
			return

		case <-ctx.Done():
			return
		}
	}
}

// activeRanks scans the heartbeat bucket and reports which ranks currently
// hold a live key. Keys of other runs share the bucket and are skipped.
func (m *livenessMonitor) activeRanks(ctx context.Context) (map[int]bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	keys, err := m.kv.Keys(opCtx)
	if err != nil {
		if types.IsNoKeysFoundError(err) {
			return map[int]bool{}, nil
		}

		return nil, fmt.Errorf("failed to list heartbeat keys: %w", err)
	}

	active := make(map[int]bool, len(keys))
	for _, key := range keys {
		suffix, ok := strings.CutPrefix(key, m.prefix+".rank-")
		if !ok {
			continue
		}
		rank, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		active[rank] = true
	}

	return active, nil
}
