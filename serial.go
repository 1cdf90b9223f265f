package relax

import (
	"context"
	"fmt"
	"time"

	"github.com/bridges-wood/parallel-relaxation/kernel"
	"github.com/bridges-wood/parallel-relaxation/partition"
)

// SolveSerial runs the relaxation on the calling goroutine with no worker
// pool and no coordinator.
//
// The serial path applies the same strict double-buffered update rule as
// the concurrent solver, so for identical configurations both produce the
// same grid in the same number of iterations. That makes it the reference
// implementation for equivalence tests and the sensible choice for grids
// too small to be worth partitioning; unlike New it accepts grids with no
// interior at all, which are converged by definition after one sweep.
//
// Workers and LogLevel are ignored; the reported worker count is always 1.
//
// Parameters:
//   - ctx: Context bounding the run, checked once per iteration
//   - cfg: Runtime configuration (missing values are filled with defaults)
//
// Returns:
//   - *Result: Final grid and run statistics
//   - error: Validation error, ErrIterationLimit, or ErrContextCanceled
//
// Example:
//
//	cfg := relax.Config{Size: 32, Precision: 1e-3}
//	result, err := relax.SolveSerial(ctx, &cfg)
func SolveSerial(ctx context.Context, cfg *Config) (*Result, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}

	SetDefaults(cfg)

	if err := validatePrecision(cfg.Precision); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	bufs, err := newBuffers(cfg)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	span := partition.Span{Start: 0, Count: bufs.Current().InteriorCells()}

	var iters uint64
	cur, nxt := bufs.Current(), bufs.Next()
	for {
		converged := kernel.Sweep(nxt, cur, span, cfg.Precision)
		iters++

		if converged {
			return &Result{
				Grid: nxt,
				Stats: Stats{
					Iterations: iters,
					Duration:   time.Since(started),
					Workers:    1,
				},
			}, nil
		}

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrContextCanceled, err)
		}
		if iters >= cfg.MaxIterations {
			return nil, fmt.Errorf("%w: no convergence after %d iterations", ErrIterationLimit, iters)
		}

		cur, nxt = nxt, cur
	}
}
