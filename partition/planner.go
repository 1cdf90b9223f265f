package partition

// Planner produces the per-worker cell plan for a shared-memory sweep.
//
// Implementations must be deterministic and must return exactly one span per
// worker, covering every flattened interior cell index exactly once.
type Planner interface {
	// Plan divides total flattened interior cells across workers.
	Plan(total, workers int) ([]Span, error)
}

// Contiguous implements balanced contiguous partitioning.
type Contiguous struct{}

var _ Planner = (*Contiguous)(nil)

// NewContiguous creates the default contiguous planner.
//
// The planner gives each worker one contiguous run of flattened cell
// indices, sized within one cell of every other worker's run. Contiguous
// runs keep each worker on adjacent rows, which preserves cache locality
// during sweeps.
//
// Returns:
//   - *Contiguous: Initialized contiguous planner
//
// Example:
//
//	planner := partition.NewContiguous()
//	solver, err := relax.New(&cfg, relax.WithPlanner(planner))
func NewContiguous() *Contiguous {
	return &Contiguous{}
}

// Plan divides total flattened interior cells across workers.
//
// Parameters:
//   - total: Number of interior cells to divide
//   - workers: Number of shares to produce
//
// Returns:
//   - []Span: One span per worker, in worker order
//   - error: ErrNoWorkers if workers < 1, ErrOverPartitioned if
//     workers > total
func (c *Contiguous) Plan(total, workers int) ([]Span, error) {
	return Cells(total, workers)
}
