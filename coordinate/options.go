package coordinate

import "github.com/bridges-wood/parallel-relaxation/types"

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger for aggregation diagnostics.
//
// Parameters:
//   - logger: Logger implementation
//
// Example:
//
//	coord, err := coordinate.New(4, coordinate.WithLogger(logger))
func WithLogger(logger types.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRoundFunc sets an observer invoked after every aggregation round with
// the 1-based iteration counter and the round's aggregate flag. Returning
// false aborts the run unless the round already converged.
//
// The observer runs on the aggregation goroutine, so it must not call back
// into the coordinator and should return quickly.
//
// Parameters:
//   - fn: Round observer
//
// Example:
//
//	coord, err := coordinate.New(4, coordinate.WithRoundFunc(
//	    func(iteration uint64, converged bool) bool {
//	        return iteration < 10_000
//	    },
//	))
func WithRoundFunc(fn RoundFunc) Option {
	return func(c *Coordinator) {
		c.onRound = fn
	}
}
