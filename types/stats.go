package types

import "time"

// Stats describes a completed relaxation run.
type Stats struct {
	// Iterations is the number of full sweeps the run took to finish.
	// Every worker performs the same number of iterations.
	Iterations uint64

	// Duration is the wall time between the first sweep starting and the
	// global convergence decision.
	Duration time.Duration

	// Workers is the number of workers (or cluster ranks) that computed.
	Workers int
}
