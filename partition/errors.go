package partition

import "errors"

var (
	// ErrNoWorkers is returned when a plan is requested for fewer than one
	// worker.
	ErrNoWorkers = errors.New("partition: worker count must be at least 1")

	// ErrOverPartitioned is returned when there are more workers than units
	// of work, which would leave at least one worker with an empty share.
	ErrOverPartitioned = errors.New("partition: more workers than work units")
)
