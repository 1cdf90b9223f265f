// Package partition divides relaxation work into contiguous, non-overlapping
// shares.
//
// Two unit shapes are supported. Cells splits the flattened interior of a
// grid into spans of consecutive cell indices, which is how shared-memory
// workers divide a sweep. Rows splits the interior rows into blocks of
// consecutive rows, which is how distributed ranks divide the grid for
// scatter and gather.
//
// Both shapes follow the same rule: every worker receives either
// ⌊total/workers⌋ or ⌈total/workers⌉ units, with the remainder spread one
// unit each over the first total mod workers workers. Shares are assigned in
// index order, so worker k always owns the k-th contiguous slice of the
// work. The same inputs always produce the same plan.
package partition

import "fmt"

// Span is a contiguous range of flattened interior cell indices
// [Start, Start+Count).
type Span struct {
	// Start is the first flattened interior cell index of the span.
	Start int

	// Count is the number of cells in the span. It is always at least 1.
	Count int
}

// End returns the index one past the last cell of the span.
func (s Span) End() int { return s.Start + s.Count }

// Block is a contiguous range of grid rows [FirstRow, FirstRow+Rows) in
// absolute grid coordinates. Plans produced by Rows only ever cover interior
// rows, so FirstRow is at least 1.
type Block struct {
	// FirstRow is the absolute grid row index of the first row in the block.
	FirstRow int

	// Rows is the number of rows in the block. It is always at least 1.
	Rows int
}

// End returns the row index one past the last row of the block.
func (b Block) End() int { return b.FirstRow + b.Rows }

// Cells partitions total flattened interior cells across workers.
//
// Parameters:
//   - total: Number of interior cells to divide
//   - workers: Number of shares to produce
//
// Returns:
//   - []Span: One span per worker, in worker order
//   - error: ErrNoWorkers if workers < 1, ErrOverPartitioned if
//     workers > total
func Cells(total, workers int) ([]Span, error) {
	if workers < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrNoWorkers, workers)
	}
	if workers > total {
		return nil, fmt.Errorf("%w: %d workers for %d cells", ErrOverPartitioned, workers, total)
	}

	base := total / workers
	extra := total % workers

	spans := make([]Span, workers)
	start := 0
	for w := range workers {
		count := base
		if w < extra {
			count++
		}
		spans[w] = Span{Start: start, Count: count}
		start += count
	}

	return spans, nil
}

// Rows partitions the interior rows of an N×N grid across ranks. Blocks are
// expressed in absolute grid coordinates, so the first block starts at row 1
// and the last block ends at row N−1.
//
// Parameters:
//   - interiorRows: Number of interior rows, N−2
//   - ranks: Number of shares to produce
//
// Returns:
//   - []Block: One block per rank, in rank order
//   - error: ErrNoWorkers if ranks < 1, ErrOverPartitioned if
//     ranks > interiorRows
func Rows(interiorRows, ranks int) ([]Block, error) {
	if ranks < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrNoWorkers, ranks)
	}
	if ranks > interiorRows {
		return nil, fmt.Errorf("%w: %d ranks for %d interior rows", ErrOverPartitioned, ranks, interiorRows)
	}

	base := interiorRows / ranks
	extra := interiorRows % ranks

	blocks := make([]Block, ranks)
	first := 1
	for r := range ranks {
		rows := base
		if r < extra {
			rows++
		}
		blocks[r] = Block{FirstRow: first, Rows: rows}
		first += rows
	}

	return blocks, nil
}
