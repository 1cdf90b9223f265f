package types

import (
	"errors"
	"strings"
)

// Sentinel errors shared across the library.
//
// These errors provide type-safe error checking using errors.Is() and
// errors.As(). Components wrap them with context using
// fmt.Errorf("...: %w", err); callers match with errors.Is against the
// sentinel. All of them describe startup preconditions or fatal run failures:
// there is no retry policy anywhere in the core, a run either completes or
// aborts.
var (
	// ErrInvalidSize is returned when the grid edge length is outside the
	// supported range.
	ErrInvalidSize = errors.New("grid size out of supported range")

	// ErrInvalidPrecision is returned when the precision threshold is not a
	// positive real number.
	ErrInvalidPrecision = errors.New("precision must be positive")

	// ErrAllocation is returned when grid or working buffers cannot be
	// allocated.
	ErrAllocation = errors.New("cannot allocate grid buffers")

	// ErrIterationLimit is returned when a run exceeds its configured
	// iteration budget before converging.
	ErrIterationLimit = errors.New("iteration limit reached before convergence")

	// ErrContextCanceled is returned when an operation is canceled by context.
	ErrContextCanceled = errors.New("operation canceled by context")
)

// Cluster errors - shared by the distributed exchange layer and its internals.
var (
	// ErrConnectivity indicates a NATS/KV connectivity issue.
	ErrConnectivity = errors.New("connectivity issue")

	// ErrNoKeysFound is returned when NATS KV returns no keys (expected condition).
	ErrNoKeysFound = errors.New("no keys found")
)

// IsNoKeysFoundError checks if an error indicates that no keys were found in NATS KV.
//
// This function handles NATS-specific "no keys found" errors which may come as:
//   - Direct error: "nats: no keys found"
//   - Wrapped error: "failed to list KV keys: nats: no keys found"
//
// Parameters:
//   - err: The error to check
//
// Returns:
//   - bool: true if the error indicates no keys were found, false otherwise
func IsNoKeysFoundError(err error) bool {
	if err == nil {
		return false
	}
	// Check against our sentinel error first
	if errors.Is(err, ErrNoKeysFound) {
		return true
	}
	// Check for NATS-specific error message (handles both direct and wrapped errors)
	return strings.Contains(err.Error(), "no keys found")
}
