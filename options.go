package relax

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bridges-wood/parallel-relaxation/internal/metrics"
	"github.com/bridges-wood/parallel-relaxation/partition"
)

// Option configures a Solver with optional dependencies.
type Option func(*solverOptions)

// solverOptions holds optional Solver configuration.
type solverOptions struct {
	planner partition.Planner
	hooks   *Hooks
	metrics MetricsCollector
	logger  Logger
}

// WithPlanner sets a custom work planner.
//
// The planner decides which contiguous share of the interior each worker
// owns for the whole run. The default is partition.NewContiguous().
//
// Parameters:
//   - planner: Planner implementation
//
// Returns:
//   - Option: Functional option for New
//
// Example:
//
//	solver, err := relax.New(&cfg, relax.WithPlanner(partition.NewContiguous()))
func WithPlanner(planner partition.Planner) Option {
	return func(o *solverOptions) {
		o.planner = planner
	}
}

// WithHooks sets lifecycle event hooks.
//
// Parameters:
//   - hooks: Hooks structure with callback functions
//
// Returns:
//   - Option: Functional option for New
//
// Example:
//
//	hooks := &relax.Hooks{
//	    OnConverged: func(ctx context.Context, iterations uint64, elapsed time.Duration) error {
//	        log.Printf("converged after %d iterations in %v", iterations, elapsed)
//	        return nil
//	    },
//	}
//	solver, err := relax.New(&cfg, relax.WithHooks(hooks))
func WithHooks(hooks *Hooks) Option {
	return func(o *solverOptions) {
		o.hooks = hooks
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for New
//
// Example:
//
//	collector := myMetricsCollector
//	solver, err := relax.New(&cfg, relax.WithMetrics(collector))
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *solverOptions) {
		o.metrics = metrics
	}
}

// WithPrometheus sets a Prometheus-backed metrics collector registered on
// reg. Passing nil registers on prometheus.DefaultRegisterer. All metrics
// are published under the "relax" namespace.
//
// Parameters:
//   - reg: Prometheus registerer, or nil for the default
//
// Returns:
//   - Option: Functional option for New
//
// Example:
//
//	solver, err := relax.New(&cfg, relax.WithPrometheus(nil))
//	http.Handle("/metrics", promhttp.Handler())
func WithPrometheus(reg prometheus.Registerer) Option {
	return func(o *solverOptions) {
		o.metrics = metrics.NewPrometheus(reg, "relax")
	}
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (compatible with zap.SugaredLogger)
//
// Returns:
//   - Option: Functional option for New
//
// Example:
//
//	logger := zap.NewExample().Sugar()
//	solver, err := relax.New(&cfg, relax.WithLogger(logger))
func WithLogger(logger Logger) Option {
	return func(o *solverOptions) {
		o.logger = logger
	}
}
