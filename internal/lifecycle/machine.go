// Package lifecycle tracks solver and cluster node run state.
package lifecycle

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/bridges-wood/parallel-relaxation/types"
)

// Machine manages lifecycle state transitions.
//
// It holds the current types.State, records transition metrics, and fans
// state changes out to subscribers. Terminal states are enforced: once a run
// is Converged, Stopped or Failed no further transition is accepted.
type Machine struct {
	current atomic.Int32 // types.State

	mu      sync.Mutex
	entered time.Time

	logger  types.Logger
	metrics types.SolverMetrics

	// Fan-out to subscribers
	subscribers      *xsync.Map[uint64, *subscriber]
	nextSubscriberID atomic.Uint64
}

// New creates a new machine starting in StateIdle.
//
// Parameters:
//   - logger: Logger for state transitions
//   - metrics: Metrics collector for transition events
//
// Returns:
//   - *Machine: A new machine instance
func New(logger types.Logger, metrics types.SolverMetrics) *Machine {
	m := &Machine{
		logger:      logger,
		metrics:     metrics,
		entered:     time.Now(),
		subscribers: xsync.NewMap[uint64, *subscriber](),
	}
	m.current.Store(int32(types.StateIdle))

	return m
}

// State returns the current state.
//
// This method is thread-safe and can be called concurrently.
func (m *Machine) State() types.State {
	return types.State(m.current.Load())
}

// Set transitions to the given state and notifies subscribers.
//
// Setting the current state again, or transitioning out of a terminal state,
// is a no-op and returns changed=false.
//
// Parameters:
//   - to: State to transition into
//
// Returns:
//   - from: The state before the call
//   - changed: Whether a transition happened
func (m *Machine) Set(to types.State) (from types.State, changed bool) {
	m.mu.Lock()

	from = types.State(m.current.Load())
	if from == to || from.Terminal() {
		m.mu.Unlock()
		return from, false
	}

	m.current.Store(int32(to))
	elapsed := time.Since(m.entered)
	m.entered = time.Now()
	m.mu.Unlock()

	m.logger.Debug("state transition", "from", from.String(), "to", to.String(), "elapsed", elapsed)
	m.metrics.RecordStateTransition(from, to, elapsed.Seconds())

	m.subscribers.Range(func(_ uint64, sub *subscriber) bool {
		sub.trySend(to)
		return true
	})

	return from, true
}

// Subscribe returns a channel that receives state change notifications.
//
// The returned channel is buffered (size 4) so the full Idle → Running →
// Converged progression can queue without blocking the notifier. The
// subscriber receives the current state immediately upon subscription.
//
// Returns:
//   - <-chan types.State: Channel that receives state updates
//   - func(): Unsubscribe function to clean up resources
//
// Example:
//
//	ch, unsubscribe := machine.Subscribe()
//	defer unsubscribe()
//	for state := range ch {
//	    if state.Terminal() {
//	        break
//	    }
//	}
func (m *Machine) Subscribe() (<-chan types.State, func()) {
	id := m.nextSubscriberID.Add(1)

	sub := &subscriber{ch: make(chan types.State, 4)}
	m.subscribers.Store(id, sub)

	// Immediately send the current state
	sub.trySend(m.State())

	unsubscribe := func() {
		m.removeSubscriber(id)
	}

	return sub.ch, unsubscribe
}

// removeSubscriber removes a subscriber and closes its channel.
func (m *Machine) removeSubscriber(id uint64) {
	if sub, ok := m.subscribers.LoadAndDelete(id); ok {
		sub.close()
	}
}
