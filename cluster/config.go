package cluster

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nuid"
	"gopkg.in/yaml.v3"

	"github.com/bridges-wood/parallel-relaxation/grid"
	"github.com/bridges-wood/parallel-relaxation/internal/logging"
	"github.com/bridges-wood/parallel-relaxation/partition"
	"github.com/bridges-wood/parallel-relaxation/types"
)

// Config is the configuration for a cluster Node.
//
// The problem fields (Size, Precision, Seed, MaxIterations) and the run
// fields (Ranks, RunID, SubjectPrefix) must be identical on every node of a
// run: rank 0 owns the grid and the decision, but each node validates its
// own copy and sizes its buffers from it.
type Config struct {
	// Size is the grid edge length N. The grid holds N×N cells of which the
	// outermost ring is a fixed boundary, leaving N−2 mutable interior rows
	// to distribute across ranks.
	Size int `yaml:"size"`

	// Precision is the convergence threshold. A run is converged when no
	// cell changes by more than Precision in a single iteration.
	// Must be a positive, finite number.
	Precision float64 `yaml:"precision"`

	// Seed selects the initial interior values, exactly as in the
	// single-process solver. Only rank 0 materializes the grid.
	Seed int64 `yaml:"seed"`

	// Ranks is the number of participating nodes, rank 0 included. Each rank
	// owns a fixed contiguous block of interior rows for the whole run.
	// Must not exceed the number of interior rows, Size−2.
	Ranks int `yaml:"ranks"`

	// MaxIterations caps the run. A run that has not converged after this
	// many iterations aborts with ErrIterationLimit instead of spinning
	// forever on an unreachable precision.
	MaxIterations uint64 `yaml:"maxIterations"`

	// RunID scopes every subject and KV key of the run. All nodes of one run
	// must share it; two runs with different IDs can share a NATS server
	// without interfering. SetDefaults generates a fresh unique ID, so
	// multi-node deployments must set it explicitly.
	RunID string `yaml:"runId"`

	// SubjectPrefix is the root token of every subject the run publishes on.
	// Default: "relax".
	SubjectPrefix string `yaml:"subjectPrefix"`

	// RankBucket is the KV bucket used for atomic rank claiming.
	RankBucket string `yaml:"rankBucket"`

	// HeartbeatBucket is the KV bucket used for node liveness.
	HeartbeatBucket string `yaml:"heartbeatBucket"`

	// RankTTL is the lease duration of a claimed rank. Claims are renewed at
	// RankTTL/3; a crashed node frees its rank after at most RankTTL.
	RankTTL time.Duration `yaml:"rankTtl"`

	// HeartbeatInterval is how often each node publishes its liveness key.
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`

	// LivenessTimeout is the TTL of the heartbeat keys. A rank whose key has
	// expired is treated as lost and the run aborts.
	// Recommended: 3x HeartbeatInterval.
	LivenessTimeout time.Duration `yaml:"livenessTimeout"`

	// OperationTimeout bounds every collective exchange (scatter, flags,
	// decision, gather). A collective that does not complete within it
	// aborts the run. Must comfortably exceed the expected iteration time.
	OperationTimeout time.Duration `yaml:"operationTimeout"`

	// StartupTimeout bounds cluster formation: bucket creation, rank
	// claiming and the readiness barrier before the first scatter.
	StartupTimeout time.Duration `yaml:"startupTimeout"`

	// LogLevel controls diagnostic output: "debug", "info", "warn", "error"
	// or "none". Per-iteration diagnostics are only emitted at "debug".
	LogLevel string `yaml:"logLevel"`
}

// Timing Guide
// ============
//
// All coordination flows through NATS, so the timing fields trade detection
// latency against tolerance for hiccups. Three relationships matter:
//
// 1. HeartbeatInterval vs LivenessTimeout
//    A rank is lost when its heartbeat key expires, so LivenessTimeout
//    should cover ~3 missed heartbeats. Below that, one delayed publish can
//    abort a healthy run.
//
// 2. OperationTimeout vs iteration time
//    Every rank blocks inside each collective until all ranks join it. The
//    timeout has to exceed the slowest rank's sweep time plus transport
//    latency, or long iterations abort spuriously.
//
// 3. RankTTL vs restart time
//    A crashed node frees its rank only after RankTTL, so a replacement
//    cannot claim the slot earlier. Short TTLs free slots faster but cost
//    more renewal traffic.

// DefaultConfig returns a Config with sensible defaults.
//
// The generated RunID is unique per call; see the RunID field docs.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	return Config{
		Size:              256,
		Precision:         1e-3,
		Seed:              0,
		Ranks:             1,
		MaxIterations:     1_000_000,
		RunID:             nuid.Next(),
		SubjectPrefix:     "relax",
		RankBucket:        "relax-ranks",
		HeartbeatBucket:   "relax-heartbeats",
		RankTTL:           30 * time.Second,
		HeartbeatInterval: 2 * time.Second,
		LivenessTimeout:   6 * time.Second,
		OperationTimeout:  30 * time.Second,
		StartupTimeout:    30 * time.Second,
		LogLevel:          "info",
	}
}

// SetDefaults fills in missing configuration values with production defaults.
//
// Parameters:
//   - cfg: Config to apply defaults to (modified in place)
func SetDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Size == 0 {
		cfg.Size = defaults.Size
	}
	if cfg.Precision == 0 {
		cfg.Precision = defaults.Precision
	}
	if cfg.Ranks == 0 {
		cfg.Ranks = defaults.Ranks
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.RunID == "" {
		cfg.RunID = defaults.RunID
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = defaults.SubjectPrefix
	}
	if cfg.RankBucket == "" {
		cfg.RankBucket = defaults.RankBucket
	}
	if cfg.HeartbeatBucket == "" {
		cfg.HeartbeatBucket = defaults.HeartbeatBucket
	}
	if cfg.RankTTL == 0 {
		cfg.RankTTL = defaults.RankTTL
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if cfg.LivenessTimeout == 0 {
		cfg.LivenessTimeout = defaults.LivenessTimeout
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = defaults.OperationTimeout
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = defaults.StartupTimeout
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	// Note: Seed of 0 is valid (zero interior), so we don't apply a default
}

// Validate checks configuration constraints and returns an error for invalid values.
//
// Hard Validation Rules:
//   - Size within [grid.MinSize, grid.MaxSize]
//   - Precision positive and finite
//   - Ranks >= 1
//   - Ranks <= Size−2 (every rank owns at least one interior row)
//   - MaxIterations >= 1
//   - RunID and SubjectPrefix are valid subject tokens
//   - Bucket names set
//   - Timings positive, HeartbeatInterval < LivenessTimeout
//   - LogLevel recognized
//
// Returns:
//   - error: Validation error with clear explanation, nil if valid
func (cfg *Config) Validate() error {
	// Rule 1: Size range
	if cfg.Size < grid.MinSize || cfg.Size > grid.MaxSize {
		return fmt.Errorf(
			"%w: Size (%d) must be within [%d, %d]",
			types.ErrInvalidSize, cfg.Size, grid.MinSize, grid.MaxSize,
		)
	}

	// Rule 2: Precision sanity
	if cfg.Precision <= 0 || math.IsNaN(cfg.Precision) || math.IsInf(cfg.Precision, 0) {
		return fmt.Errorf(
			"%w: Precision must be a positive finite number, got %v",
			types.ErrInvalidPrecision, cfg.Precision,
		)
	}

	// Rule 3: Rank count sanity
	if cfg.Ranks < 1 {
		return fmt.Errorf("Ranks must be >= 1, got %d", cfg.Ranks)
	}

	// Rule 4: Ranks vs interior rows
	interiorRows := cfg.Size - 2
	if cfg.Ranks > interiorRows {
		return fmt.Errorf(
			"%w: Ranks (%d) must not exceed the %d interior rows of a size %d grid",
			partition.ErrOverPartitioned, cfg.Ranks, interiorRows, cfg.Size,
		)
	}

	// Rule 5: Iteration cap sanity
	if cfg.MaxIterations < 1 {
		return fmt.Errorf("MaxIterations must be >= 1, got %d", cfg.MaxIterations)
	}

	// Rule 6: Subject tokens
	if err := validateToken("RunID", cfg.RunID); err != nil {
		return err
	}
	if err := validateToken("SubjectPrefix", cfg.SubjectPrefix); err != nil {
		return err
	}

	// Rule 7: Bucket names
	if cfg.RankBucket == "" {
		return errors.New("RankBucket must be set")
	}
	if cfg.HeartbeatBucket == "" {
		return errors.New("HeartbeatBucket must be set")
	}

	// Rule 8: Timing sanity
	for _, timing := range []struct {
		name  string
		value time.Duration
	}{
		{"RankTTL", cfg.RankTTL},
		{"HeartbeatInterval", cfg.HeartbeatInterval},
		{"LivenessTimeout", cfg.LivenessTimeout},
		{"OperationTimeout", cfg.OperationTimeout},
		{"StartupTimeout", cfg.StartupTimeout},
	} {
		if timing.value <= 0 {
			return fmt.Errorf("%s must be positive, got %v", timing.name, timing.value)
		}
	}
	if cfg.HeartbeatInterval >= cfg.LivenessTimeout {
		return fmt.Errorf(
			"HeartbeatInterval (%v) must be shorter than LivenessTimeout (%v)",
			cfg.HeartbeatInterval, cfg.LivenessTimeout,
		)
	}

	// Rule 9: Log level recognized
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("LogLevel: %w", err)
	}

	return nil
}

// validateToken rejects values that would break subject or KV key layout.
func validateToken(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s must be set", name)
	}
	if strings.ContainsAny(value, ".*> \t") {
		return fmt.Errorf("%s (%q) must not contain spaces, dots or NATS wildcards", name, value)
	}

	return nil
}

// ValidateWithWarnings checks configuration and logs warnings for non-recommended values.
//
// This is called after Validate() in New() to provide operator guidance.
//
// Parameters:
//   - logger: Logger instance for warning output
func (cfg *Config) ValidateWithWarnings(logger types.Logger) {
	// Warn if the liveness window covers fewer than 3 heartbeats
	if cfg.LivenessTimeout < 3*cfg.HeartbeatInterval {
		logger.Warn(
			"LivenessTimeout covers fewer than 3 heartbeats, one delayed publish can abort the run",
			"heartbeat_interval", cfg.HeartbeatInterval,
			"liveness_timeout", cfg.LivenessTimeout,
			"recommended", 3*cfg.HeartbeatInterval,
		)
	}

	// Warn if collectives can time out before a lost rank is detected
	if cfg.OperationTimeout < cfg.LivenessTimeout {
		logger.Warn(
			"OperationTimeout is shorter than LivenessTimeout, collectives may abort before a lost rank is named",
			"operation_timeout", cfg.OperationTimeout,
			"liveness_timeout", cfg.LivenessTimeout,
		)
	}

	// Warn if the precision approaches float64 resolution
	if cfg.Precision < 1e-14 {
		logger.Warn(
			"Precision is near float64 resolution, convergence may take very long",
			"precision", cfg.Precision,
			"recommended", "1e-12 or coarser",
		)
	}

	// Warn about degenerate single-rank runs
	if cfg.Ranks == 1 {
		logger.Warn(
			"Ranks is 1, rank 0 computes every row and nothing is exchanged",
			"hint", "use the in-process solver for single-node runs",
		)
	}
}

// TestConfig returns a configuration optimized for fast test execution.
//
// The problem is small and every timing is compressed so liveness and abort
// paths resolve in about a second. Use DefaultConfig() for production
// deployments.
//
// Returns:
//   - Config: Configuration with a small grid and short timings
//
// Example:
//
//	cfg := cluster.TestConfig()
//	cfg.Ranks = 3
//	node, err := cluster.New(&cfg, nc)
func TestConfig() Config {
	cfg := DefaultConfig()

	// Small problem for fast test execution
	cfg.Size = 16        // 16x smaller
	cfg.Precision = 1e-2 // 10x coarser
	cfg.Ranks = 2
	cfg.MaxIterations = 100_000
	cfg.RankTTL = 5 * time.Second
	cfg.HeartbeatInterval = 200 * time.Millisecond
	cfg.LivenessTimeout = 1 * time.Second
	cfg.OperationTimeout = 5 * time.Second
	cfg.StartupTimeout = 5 * time.Second
	cfg.LogLevel = "none"

	return cfg
}

// LoadConfig reads a YAML configuration file.
//
// Unknown fields are rejected so typos fail loudly instead of silently
// falling back to defaults. The loaded config is returned as-is; New applies
// SetDefaults and Validate.
//
// Parameters:
//   - path: Path to the YAML file
//
// Returns:
//   - Config: Parsed configuration
//   - error: Read or parse error
//
// Example:
//
//	cfg, err := cluster.LoadConfig("cluster.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	node, err := cluster.New(&cfg, nc)
func LoadConfig(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}
