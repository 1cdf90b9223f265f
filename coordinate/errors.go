package coordinate

import "errors"

var (
	// ErrInvalidWorkers is returned by New when the worker count is less
	// than 1.
	ErrInvalidWorkers = errors.New("coordinate: worker count must be at least 1")

	// ErrAlreadyStarted is returned by Start when the coordinator is already
	// running.
	ErrAlreadyStarted = errors.New("coordinate: coordinator already started")
)
