// Package types provides core type definitions and interfaces shared across
// the relaxation library.
//
// This package contains types that are used by the root relax package, the
// cluster package, and the internal implementation packages. Keeping them in
// a separate package avoids import cycles between the root package and its
// internals.
//
// Key types:
//   - State: Solver/node lifecycle state
//   - Decision: Per-iteration outcome every worker observes
//   - Stats: Iteration count and timing of a completed run
//   - Logger: Structured logging interface
//   - MetricsCollector: Metrics recording interface
//   - Hooks: Lifecycle event callbacks
package types
