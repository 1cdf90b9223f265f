package types

// State represents the lifecycle state of a solver or cluster node.
//
// States follow a defined progression during normal operation:
//
//	StateIdle → StateRunning → StateConverged
//
// StateStopped and StateFailed are the alternate terminal states: Stopped
// when the caller tears the run down before convergence, Failed when the run
// aborts (context cancellation, iteration limit, lost participant).
type State int

const (
	// StateIdle is the initial state before the run starts.
	StateIdle State = iota

	// StateRunning indicates workers are iterating toward convergence.
	StateRunning

	// StateConverged indicates the run finished with global convergence.
	StateConverged

	// StateStopped indicates the run was stopped before convergence.
	StateStopped

	// StateFailed indicates the run aborted with an error.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateConverged:
		return "Converged"
	case StateStopped:
		return "Stopped"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the state is one a run never leaves.
func (s State) Terminal() bool {
	return s == StateConverged || s == StateStopped || s == StateFailed
}
