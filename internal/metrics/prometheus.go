package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bridges-wood/parallel-relaxation/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Metrics are registered lazily on first use so that constructing a collector
// has no side effects on the registry.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	// Solver metrics
	stateTransitions  *prometheus.CounterVec
	stateDuration     *prometheus.HistogramVec
	iterationsTotal   *prometheus.CounterVec
	iterationDuration prometheus.Histogram
	solveDuration     prometheus.Histogram
	solveIterations   prometheus.Histogram
	workersGauge      prometheus.Gauge
	gridSizeGauge     prometheus.Gauge

	// Cluster metrics
	scatterDuration prometheus.Histogram
	scatterBytes    prometheus.Counter
	gatherDuration  prometheus.Histogram
	gatherBytes     prometheus.Counter
	heartbeats      *prometheus.CounterVec
	ranksGauge      prometheus.Gauge
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer interface (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "relax" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "relax"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "solver",
			Name:      "state_transitions_total",
			Help:      "Total lifecycle state transitions by from/to state.",
		}, []string{"from", "to"})

		p.stateDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "solver",
			Name:      "state_duration_seconds",
			Help:      "Time spent in each lifecycle state in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms .. ~4.4m
		}, []string{"state"})

		p.iterationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "solver",
			Name:      "iterations_total",
			Help:      "Total relaxation iterations by global convergence outcome.",
		}, []string{"converged"})

		p.iterationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "solver",
			Name:      "iteration_duration_seconds",
			Help:      "Wall time of one full iteration (sweep plus aggregation) in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs .. ~0.8s
		})

		p.solveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "solver",
			Name:      "solve_duration_seconds",
			Help:      "Total wall time of completed runs in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		})

		p.solveIterations = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "solver",
			Name:      "solve_iterations",
			Help:      "Iterations completed runs took to converge.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 12), // 1 .. ~4M
		})

		p.workersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "solver",
			Name:      "workers",
			Help:      "Worker count of the current run.",
		})

		p.gridSizeGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "solver",
			Name:      "grid_size",
			Help:      "Grid edge length of the current run.",
		})

		p.scatterDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "cluster",
			Name:      "scatter_duration_seconds",
			Help:      "Duration of collective scatter operations in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		})

		p.scatterBytes = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "cluster",
			Name:      "scatter_bytes_total",
			Help:      "Total payload bytes scattered to ranks.",
		})

		p.gatherDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "cluster",
			Name:      "gather_duration_seconds",
			Help:      "Duration of collective gather operations in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		})

		p.gatherBytes = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "cluster",
			Name:      "gather_bytes_total",
			Help:      "Total payload bytes gathered from ranks.",
		})

		p.heartbeats = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "cluster",
			Name:      "heartbeats_total",
			Help:      "Heartbeat publish attempts by node and result.",
		}, []string{"node", "result"})

		p.ranksGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "cluster",
			Name:      "ranks",
			Help:      "Participant count of the current run.",
		})

		p.reg.MustRegister(p.stateTransitions)
		p.reg.MustRegister(p.stateDuration)
		p.reg.MustRegister(p.iterationsTotal)
		p.reg.MustRegister(p.iterationDuration)
		p.reg.MustRegister(p.solveDuration)
		p.reg.MustRegister(p.solveIterations)
		p.reg.MustRegister(p.workersGauge)
		p.reg.MustRegister(p.gridSizeGauge)
		p.reg.MustRegister(p.scatterDuration)
		p.reg.MustRegister(p.scatterBytes)
		p.reg.MustRegister(p.gatherDuration)
		p.reg.MustRegister(p.gatherBytes)
		p.reg.MustRegister(p.heartbeats)
		p.reg.MustRegister(p.ranksGauge)
	})
}

// SolverMetrics implementation

// RecordStateTransition records a lifecycle transition and the time spent in
// the previous state.
func (p *PrometheusCollector) RecordStateTransition(from, to types.State, duration float64) {
	p.ensureRegistered()
	p.stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
	p.stateDuration.WithLabelValues(from.String()).Observe(duration)
}

// RecordIteration records one completed iteration.
func (p *PrometheusCollector) RecordIteration(duration float64, converged bool) {
	p.ensureRegistered()
	p.iterationsTotal.WithLabelValues(strconv.FormatBool(converged)).Inc()
	p.iterationDuration.Observe(duration)
}

// RecordSolve records a completed run.
func (p *PrometheusCollector) RecordSolve(duration float64, iterations uint64) {
	p.ensureRegistered()
	p.solveDuration.Observe(duration)
	p.solveIterations.Observe(float64(iterations))
}

// SetWorkers sets the worker count gauge.
func (p *PrometheusCollector) SetWorkers(count int) {
	p.ensureRegistered()
	p.workersGauge.Set(float64(count))
}

// SetGridSize sets the grid size gauge.
func (p *PrometheusCollector) SetGridSize(n int) {
	p.ensureRegistered()
	p.gridSizeGauge.Set(float64(n))
}

// ClusterMetrics implementation

// RecordScatter records one collective scatter.
func (p *PrometheusCollector) RecordScatter(duration float64, bytes int) {
	p.ensureRegistered()
	p.scatterDuration.Observe(duration)
	p.scatterBytes.Add(float64(bytes))
}

// RecordGather records one collective gather.
func (p *PrometheusCollector) RecordGather(duration float64, bytes int) {
	p.ensureRegistered()
	p.gatherDuration.Observe(duration)
	p.gatherBytes.Add(float64(bytes))
}

// RecordHeartbeat records a heartbeat publish outcome.
func (p *PrometheusCollector) RecordHeartbeat(nodeID string, success bool) {
	p.ensureRegistered()
	result := "success"
	if !success {
		result = "failure"
	}
	p.heartbeats.WithLabelValues(nodeID, result).Inc()
}

// SetRanks sets the rank count gauge.
func (p *PrometheusCollector) SetRanks(count int) {
	p.ensureRegistered()
	p.ranksGauge.Set(float64(count))
}
