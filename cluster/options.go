package cluster

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bridges-wood/parallel-relaxation/internal/metrics"
	"github.com/bridges-wood/parallel-relaxation/types"
)

// Option configures a Node with optional dependencies.
type Option func(*nodeOptions)

// nodeOptions holds optional Node configuration.
type nodeOptions struct {
	hooks   *types.Hooks
	metrics types.MetricsCollector
	logger  types.Logger
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
//	hooks := &types.Hooks{
//	    OnConverged: func(ctx context.Context, iterations uint64, elapsed time.Duration) error {
//	        log.Printf("converged after %d iterations in %v", iterations, elapsed)
//	        return nil
//	    },
//	}
//	node, err := cluster.New(&cfg, nc, cluster.WithHooks(hooks))
func WithHooks(hooks *types.Hooks) Option {
	return func(o *nodeOptions) {
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
//	node, err := cluster.New(&cfg, nc, cluster.WithMetrics(collector))
func WithMetrics(metrics types.MetricsCollector) Option {
	return func(o *nodeOptions) {
		o.metrics = metrics
	}
}

// WithPrometheus sets a Prometheus-backed metrics collector registered on
// reg. Passing nil registers on prometheus.DefaultRegisterer. All metrics
// are published under the "relax" namespace; the cluster exchange metrics
// carry the "cluster" subsystem.
//
// Parameters:
//   - reg: Prometheus registerer, or nil for the default
//
// Returns:
//   - Option: Functional option for New
//
// Example:
//
//	node, err := cluster.New(&cfg, nc, cluster.WithPrometheus(nil))
//	http.Handle("/metrics", promhttp.Handler())
func WithPrometheus(reg prometheus.Registerer) Option {
	return func(o *nodeOptions) {
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
//	node, err := cluster.New(&cfg, nc, cluster.WithLogger(logger))
func WithLogger(logger types.Logger) Option {
	return func(o *nodeOptions) {
		o.logger = logger
	}
}
