package grid

// Buffers is a double-buffered pair of grids for strict Jacobi sweeps.
//
// Each iteration reads every stencil input from Current and writes every
// result to Next, then calls Swap to promote Next to Current. Keeping the
// two roles as named handles means no sweep can ever read a half-updated
// grid.
//
// Buffers is not safe for concurrent use. Shared-memory workers bind
// Current and Next to local variables once and swap those local bindings
// themselves, so the pair itself is only touched during setup.
type Buffers struct {
	cur *Grid
	nxt *Grid
}

// NewBuffers allocates a double-buffered pair of N×N grids. Both start with
// identical contents so boundary cells agree from the first sweep.
//
// Parameters:
//   - n: Grid edge length
//
// Returns:
//   - *Buffers: The initialized pair
//   - error: Same failure modes as New
func NewBuffers(n int) (*Buffers, error) {
	g, err := New(n)
	if err != nil {
		return nil, err
	}

	return &Buffers{cur: g, nxt: g.Clone()}, nil
}

// NewSeededBuffers allocates a double-buffered pair whose current grid has
// a deterministic random interior. Both buffers start identical.
//
// Parameters:
//   - n: Grid edge length
//   - seed: Seed for the deterministic interior fill
//
// Returns:
//   - *Buffers: The initialized pair
//   - error: Same failure modes as New
func NewSeededBuffers(n int, seed int64) (*Buffers, error) {
	g, err := NewSeeded(n, seed)
	if err != nil {
		return nil, err
	}

	return &Buffers{cur: g, nxt: g.Clone()}, nil
}

// Current returns the grid holding the values of the last completed
// iteration. Sweeps read from it and must not write to it.
func (b *Buffers) Current() *Grid { return b.cur }

// Next returns the grid receiving the values of the iteration in progress.
func (b *Buffers) Next() *Grid { return b.nxt }

// Swap exchanges the roles of the two grids after an iteration completes.
func (b *Buffers) Swap() {
	b.cur, b.nxt = b.nxt, b.cur
}
