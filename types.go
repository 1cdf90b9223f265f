package relax

import "github.com/bridges-wood/parallel-relaxation/types"

// Re-export types from the internal types package.
//
// This file provides a stable public API for the library's core types and
// interfaces. It uses type aliases to re-export definitions from the `types`
// subpackage, which contains the actual implementations.
//
// This pattern solves the "import cycle" problem by allowing internal
// packages to depend on `types` without depending on the root `relax`
// package, while still providing a convenient `relax.State`, `relax.Logger`,
// etc. for users.
type (
	State    = types.State
	Decision = types.Decision
	Stats    = types.Stats
)

// Re-export interfaces from the internal types package for convenience.
type (
	Logger           = types.Logger
	MetricsCollector = types.MetricsCollector
	Hooks            = types.Hooks
)

// Re-export State constants from the internal types package.
const (
	StateIdle      = types.StateIdle
	StateRunning   = types.StateRunning
	StateConverged = types.StateConverged
	StateStopped   = types.StateStopped
	StateFailed    = types.StateFailed
)

// Re-export Decision constants from the internal types package.
const (
	DecisionAborted   = types.DecisionAborted
	DecisionContinue  = types.DecisionContinue
	DecisionConverged = types.DecisionConverged
)
