// Package relax provides a Go library for iterative Jacobi relaxation of
// square grids with fixed boundary conditions.
//
// Relax repeatedly replaces every interior cell of an N×N grid with the
// mean of its four orthogonal neighbours until no cell moves by more than a
// configured precision. The work of each iteration is divided across a
// fixed set of goroutines that synchronize twice per iteration and share no
// mutable cell ranges, so the computation needs no locks around grid data.
//
// # Quick Start
//
// Basic usage with default settings:
//
//	import "github.com/bridges-wood/parallel-relaxation"
//
//	cfg := relax.Config{
//	    Size:      256,
//	    Precision: 1e-3,
//	    Workers:   8,
//	}
//
//	result, err := relax.Solve(ctx, &cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("converged after %d iterations\n", result.Stats.Iterations)
//
// # Key Features
//
//   - Strict double buffering: Every iteration reads only the previous
//     iteration's values, so results are independent of worker scheduling
//   - Deterministic partitioning: Each worker owns one contiguous share of
//     the interior, fixed for the whole run
//   - Global convergence: A run ends only when every worker's share settled
//     in the same iteration
//   - Distributed mode: The cluster subpackage runs the same computation
//     across processes over NATS
//
// # Architecture
//
// A run progresses through a state machine:
//
//	IDLE → RUNNING → CONVERGED (or STOPPED / FAILED)
//
// Each iteration, every worker sweeps its share, reports a local
// convergence flag and blocks; a coordinator aggregates the flags with a
// logical AND and publishes one directive, releasing all workers at once.
//
// # Advanced Usage
//
// Lifecycle control with options:
//
//	hooks := &relax.Hooks{
//	    OnIteration: func(ctx context.Context, iteration uint64, converged bool) error {
//	        // Observe per-iteration progress
//	        return nil
//	    },
//	}
//
//	solver, err := relax.New(&cfg,
//	    relax.WithHooks(hooks),
//	    relax.WithPrometheus(nil),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := solver.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	result, err := solver.Wait(ctx)
//
// See the examples/ directory for complete working examples.
package relax
