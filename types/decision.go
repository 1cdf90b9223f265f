package types

// Decision is the global per-iteration outcome broadcast to every worker
// after convergence flags have been aggregated.
//
// Every worker in an iteration observes the same Decision. Workers never
// decide termination from their own local flag alone.
//
// DecisionAborted is the zero value so that a closed decision channel reads
// as an abort.
type Decision int

const (
	// DecisionAborted means the run was cancelled before convergence.
	// Workers discard their buffers and stop.
	DecisionAborted Decision = iota

	// DecisionContinue means at least one worker was outside precision.
	// Workers swap their buffer bindings and compute the next iteration.
	DecisionContinue

	// DecisionConverged means every worker was within precision.
	// Workers stop without swapping; the last-written buffer is the result.
	DecisionConverged
)

// String returns the string representation of the decision.
func (d Decision) String() string {
	switch d {
	case DecisionAborted:
		return "Aborted"
	case DecisionContinue:
		return "Continue"
	case DecisionConverged:
		return "Converged"
	default:
		return "Unknown"
	}
}
