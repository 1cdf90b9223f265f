// Package metrics provides MetricsCollector implementations.
package metrics

import "github.com/bridges-wood/parallel-relaxation/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external
// metrics collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Returns:
//   - *NopMetrics: A new no-op metrics collector instance
//
// Example:
//
//	solver, err := relax.New(&cfg, relax.WithMetrics(metrics.NewNop()))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// SolverMetrics implementation

// RecordStateTransition discards the state transition metric.
func (n *NopMetrics) RecordStateTransition(_ /* from */, _ /* to */ types.State, _ /* duration */ float64) {
	// No-op
}

// RecordIteration discards the iteration metric.
func (n *NopMetrics) RecordIteration(_ /* duration */ float64, _ /* converged */ bool) {
	// No-op
}

// RecordSolve discards the solve metric.
func (n *NopMetrics) RecordSolve(_ /* duration */ float64, _ /* iterations */ uint64) {
	// No-op
}

// SetWorkers discards the worker count metric.
func (n *NopMetrics) SetWorkers(_ /* count */ int) {
	// No-op
}

// SetGridSize discards the grid size metric.
func (n *NopMetrics) SetGridSize(_ /* n */ int) {
	// No-op
}

// ClusterMetrics implementation

// RecordScatter discards the scatter metric.
func (n *NopMetrics) RecordScatter(_ /* duration */ float64, _ /* bytes */ int) {
	// No-op
}

// RecordGather discards the gather metric.
func (n *NopMetrics) RecordGather(_ /* duration */ float64, _ /* bytes */ int) {
	// No-op
}

// RecordHeartbeat discards the heartbeat metric.
func (n *NopMetrics) RecordHeartbeat(_ /* nodeID */ string, _ /* success */ bool) {
	// No-op
}

// SetRanks discards the rank count metric.
func (n *NopMetrics) SetRanks(_ /* count */ int) {
	// No-op
}
