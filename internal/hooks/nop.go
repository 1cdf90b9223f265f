// Package hooks provides hook implementations for the relaxation library.
package hooks

import (
	"context"
	"time"

	"github.com/bridges-wood/parallel-relaxation/types"
)

// NopHooks implements Hooks with no-op callbacks.
//
// This is the default implementation used when no custom hooks are provided,
// eliminating the need for nil checks throughout the codebase.
type NopHooks struct{}

// Compile-time assertions that NopHooks implements hook callbacks.
var (
	_ func(context.Context, types.State, types.State) error = (*NopHooks)(nil).OnStateChanged
	_ func(context.Context, uint64, bool) error             = (*NopHooks)(nil).OnIteration
	_ func(context.Context, uint64, time.Duration) error    = (*NopHooks)(nil).OnConverged
	_ func(context.Context, error) error                    = (*NopHooks)(nil).OnError
)

// NewNop creates a new no-op hooks implementation.
//
// Returns:
//   - types.Hooks: Hooks with no-op implementations
func NewNop() types.Hooks {
	h := &NopHooks{}
	return types.Hooks{
		OnStateChanged: h.OnStateChanged,
		OnIteration:    h.OnIteration,
		OnConverged:    h.OnConverged,
		OnError:        h.OnError,
	}
}

// OnStateChanged is a no-op implementation.
func (h *NopHooks) OnStateChanged(ctx context.Context, from, to types.State) error {
	return nil
}

// OnIteration is a no-op implementation.
func (h *NopHooks) OnIteration(ctx context.Context, iteration uint64, converged bool) error {
	return nil
}

// OnConverged is a no-op implementation.
func (h *NopHooks) OnConverged(ctx context.Context, iterations uint64, elapsed time.Duration) error {
	return nil
}

// OnError is a no-op implementation.
func (h *NopHooks) OnError(ctx context.Context, err error) error {
	return nil
}
