package relax

import (
	"errors"

	"github.com/bridges-wood/parallel-relaxation/types"
)

// Sentinel errors returned by the Solver.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrAlreadyStarted is returned when Start is called on an already running solver.
	ErrAlreadyStarted = errors.New("solver already started")

	// ErrNotStarted is returned when Stop or Wait is called on a solver that hasn't been started.
	ErrNotStarted = errors.New("solver not started")

	// ErrAborted is returned when a run is stopped before reaching convergence.
	ErrAborted = errors.New("run aborted before convergence")
)

// Sentinel errors shared with subpackages, re-exported so callers can match
// them with errors.Is without importing the types package.
var (
	// ErrInvalidSize is returned when the grid size is out of range.
	ErrInvalidSize = types.ErrInvalidSize

	// ErrInvalidPrecision is returned when the precision is not a positive finite number.
	ErrInvalidPrecision = types.ErrInvalidPrecision

	// ErrAllocation is returned when a grid buffer cannot be allocated.
	ErrAllocation = types.ErrAllocation

	// ErrIterationLimit is returned when a run hits MaxIterations before converging.
	ErrIterationLimit = types.ErrIterationLimit

	// ErrContextCanceled is returned when a run is cut short by context cancellation.
	ErrContextCanceled = types.ErrContextCanceled
)
