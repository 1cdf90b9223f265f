package relax

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/bridges-wood/parallel-relaxation/grid"
	"github.com/bridges-wood/parallel-relaxation/internal/logging"
	"github.com/bridges-wood/parallel-relaxation/partition"
)

// Config is the configuration for the Solver.
type Config struct {
	// Size is the grid edge length N. The grid holds N×N cells of which the
	// outermost ring is a fixed boundary, leaving (N−2)² mutable cells.
	Size int `yaml:"size"`

	// Precision is the convergence threshold. A run is converged when no
	// cell changes by more than Precision in a single iteration.
	// Must be a positive, finite number.
	Precision float64 `yaml:"precision"`

	// Workers is the number of concurrent sweep goroutines. Each worker owns
	// a fixed contiguous share of the interior for the whole run.
	// Must not exceed the number of interior cells, (Size−2)².
	// Default: runtime.GOMAXPROCS(0).
	Workers int `yaml:"workers"`

	// Seed selects the initial interior values. Zero starts every interior
	// cell at 0; any other value fills the interior with deterministic
	// pseudo-random values in [0, 1), which is useful for producing longer,
	// reproducible runs.
	Seed int64 `yaml:"seed"`

	// MaxIterations caps the run. A run that has not converged after this
	// many iterations aborts with ErrIterationLimit instead of spinning
	// forever on an unreachable precision.
	// Recommended: leave at the default unless runs are expected to be long.
	MaxIterations uint64 `yaml:"maxIterations"`

	// LogLevel controls diagnostic output: "debug", "info", "warn", "error"
	// or "none". Per-iteration diagnostics are only emitted at "debug".
	LogLevel string `yaml:"logLevel"`
}

// Sizing Guide
// ============
//
// The solver's cost per iteration is O(Size²) spread across Workers
// goroutines, with two synchronization points per iteration. Three
// relationships matter when tuning:
//
// 1. Workers vs cores
//    Sweeps are pure CPU. More workers than runtime.GOMAXPROCS(0) adds
//    scheduling overhead without adding throughput.
//
// 2. Workers vs grid size
//    Each worker must own at least one interior cell, so Workers is capped
//    at (Size−2)². In practice shares below a few thousand cells spend more
//    time synchronizing than sweeping.
//
// 3. Precision vs float64
//    Updates move cells by ever-smaller amounts as the grid settles.
//    Thresholds near 1e-15 approach the resolution of float64 arithmetic
//    and can stretch runs enormously; MaxIterations is the safety net.

// DefaultConfig returns a Config with sensible defaults.
//
// Returns:
//   - Config: Configuration with default values
func DefaultConfig() Config {
	return Config{
		Size:          256,
		Precision:     1e-3,
		Workers:       runtime.GOMAXPROCS(0),
		Seed:          0,
		MaxIterations: 1_000_000,
		LogLevel:      "info",
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
	if cfg.Workers == 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = defaults.MaxIterations
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
//   - Workers >= 1
//   - Workers <= (Size−2)² (every worker owns at least one cell)
//   - MaxIterations >= 1
//   - LogLevel recognized
//
// Returns:
//   - error: Validation error with clear explanation, nil if valid
func (cfg *Config) Validate() error {
	// Rule 1: Size range
	if cfg.Size < grid.MinSize || cfg.Size > grid.MaxSize {
		return fmt.Errorf(
			"%w: Size (%d) must be within [%d, %d]",
			ErrInvalidSize, cfg.Size, grid.MinSize, grid.MaxSize,
		)
	}

	// Rule 2: Precision sanity
	if err := validatePrecision(cfg.Precision); err != nil {
		return err
	}

	// Rule 3: Worker count sanity
	if cfg.Workers < 1 {
		return fmt.Errorf("Workers must be >= 1, got %d", cfg.Workers)
	}

	// Rule 4: Workers vs interior cells
	interior := (cfg.Size - 2) * (cfg.Size - 2)
	if cfg.Workers > interior {
		return fmt.Errorf(
			"%w: Workers (%d) must not exceed the %d interior cells of a size %d grid",
			partition.ErrOverPartitioned, cfg.Workers, interior, cfg.Size,
		)
	}

	// Rule 5: Iteration cap sanity
	if cfg.MaxIterations < 1 {
		return fmt.Errorf("MaxIterations must be >= 1, got %d", cfg.MaxIterations)
	}

	// Rule 6: Log level recognized
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("LogLevel: %w", err)
	}

	return nil
}

func validatePrecision(p float64) error {
	if p <= 0 || math.IsNaN(p) || math.IsInf(p, 0) {
		return fmt.Errorf("%w: Precision must be a positive finite number, got %v", ErrInvalidPrecision, p)
	}

	return nil
}

// ValidateWithWarnings checks configuration and logs warnings for non-recommended values.
//
// This is called after Validate() in New() to provide operator guidance.
//
// Parameters:
//   - logger: Logger instance for warning output
func (cfg *Config) ValidateWithWarnings(logger Logger) {
	// Warn if workers oversubscribe the available parallelism
	if procs := runtime.GOMAXPROCS(0); cfg.Workers > procs {
		logger.Warn(
			"Workers exceeds available parallelism, sweeps will be time-sliced",
			"workers", cfg.Workers,
			"maxprocs", procs,
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

	// Warn if the grid is too small to benefit from parallel sweeps
	if cfg.Size < 8 && cfg.Workers > 1 {
		logger.Warn(
			"grid is very small, synchronization will dominate the run",
			"size", cfg.Size,
			"workers", cfg.Workers,
		)
	}
}

// TestConfig returns a configuration optimized for fast test execution.
//
// The problem is 10-100x smaller than production defaults to enable rapid
// iteration without sacrificing test coverage. Use DefaultConfig() for
// production deployments.
//
// Returns:
//   - Config: Configuration with a small grid for tests
//
// Example:
//
//	cfg := relax.TestConfig()
//	cfg.Workers = 4
//	solver, err := relax.New(&cfg)
func TestConfig() Config {
	cfg := DefaultConfig()

	// Small problem for fast test execution
	cfg.Size = 16        // 16x smaller
	cfg.Precision = 1e-2 // 10x coarser
	cfg.Workers = 2      // independent of the test host's core count
	cfg.MaxIterations = 100_000
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
//	cfg, err := relax.LoadConfig("relax.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	solver, err := relax.New(&cfg)
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
