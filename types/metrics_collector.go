package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods are called from internal goroutines and must be thread-safe.
//
// This interface composes smaller, domain-focused interfaces for better modularity.
type MetricsCollector interface {
	SolverMetrics
	ClusterMetrics
}

// SolverMetrics defines metrics for the in-process solver.
type SolverMetrics interface {
	// RecordStateTransition records a lifecycle state transition event.
	//
	// Parameters:
	//   - from: Previous state
	//   - to: New state
	//   - duration: Time spent in the previous state, in seconds
	RecordStateTransition(from, to State, duration float64)

	// RecordIteration records one completed iteration.
	//
	// Parameters:
	//   - duration: Wall time of the iteration in seconds
	//   - converged: Global convergence flag for the iteration
	RecordIteration(duration float64, converged bool)

	// RecordSolve records a completed run.
	//
	// Parameters:
	//   - duration: Total wall time of the run in seconds
	//   - iterations: Iterations the run took to converge
	RecordSolve(duration float64, iterations uint64)

	// SetWorkers sets the current worker count (gauge metric).
	SetWorkers(count int)

	// SetGridSize sets the grid edge length of the current run (gauge metric).
	SetGridSize(n int)
}

// ClusterMetrics defines metrics for the distributed exchange layer.
type ClusterMetrics interface {
	// RecordScatter records one collective scatter from the coordinating rank.
	//
	// Parameters:
	//   - duration: Time taken in seconds
	//   - bytes: Total payload bytes sent to all ranks
	RecordScatter(duration float64, bytes int)

	// RecordGather records one collective gather into the coordinating rank.
	//
	// Parameters:
	//   - duration: Time taken in seconds
	//   - bytes: Total payload bytes received from all ranks
	RecordGather(duration float64, bytes int)

	// RecordHeartbeat records a heartbeat publish from a cluster node.
	//
	// Parameters:
	//   - nodeID: The ID of the node publishing the heartbeat
	//   - success: true if the heartbeat was successfully published
	RecordHeartbeat(nodeID string, success bool)

	// SetRanks sets the participant count of the current run (gauge metric).
	SetRanks(count int)
}
