// Package kernel implements the four-point Jacobi stencil update.
//
// A sweep replaces each interior cell with the arithmetic mean of its four
// orthogonal neighbours, reading only the previous iteration's values and
// writing only the next iteration's buffer. Boundary cells are never
// written. A sweep reports whether every cell it computed moved by at most
// the requested precision.
package kernel

import (
	"fmt"
	"math"

	"github.com/bridges-wood/parallel-relaxation/grid"
	"github.com/bridges-wood/parallel-relaxation/partition"
)

// Sweep computes the stencil for every flattened interior cell in span,
// reading src and writing dst.
//
// The return value reports local convergence: true when every computed cell
// changed by at most precision. A cell that exceeds precision clears the
// flag but never stops the sweep, so dst always holds a complete update for
// the span regardless of the outcome.
//
// Sweep panics if dst and src differ in size or if span reaches outside the
// interior. Concurrent sweeps over disjoint spans of the same grid pair are
// safe.
//
// Parameters:
//   - dst: Grid receiving the updated values
//   - src: Grid holding the previous iteration's values
//   - span: Flattened interior cell range to compute
//   - precision: Maximum per-cell change that still counts as converged
//
// Returns:
//   - bool: true when all computed cells changed by at most precision
func Sweep(dst, src *grid.Grid, span partition.Span, precision float64) bool {
	n := src.Size()
	if dst.Size() != n {
		panic(fmt.Sprintf("kernel: sweep with dst size %d and src size %d", dst.Size(), n))
	}

	interior := n - 2
	if span.Start < 0 || span.End() > interior*interior {
		panic(fmt.Sprintf("kernel: span [%d, %d) outside interior of %d cells", span.Start, span.End(), interior*interior))
	}

	converged := true

	// Rows are re-fetched only when the flattened index crosses a row
	// boundary, so a span sweeps each of its rows with four slice lookups.
	row := -1
	var up, mid, down, out []float64
	for k := span.Start; k < span.End(); k++ {
		i := 1 + k/interior
		j := 1 + k%interior
		if i != row {
			row = i
			up = src.Row(i - 1)
			mid = src.Row(i)
			down = src.Row(i + 1)
			out = dst.Row(i)
		}

		v := 0.25 * (up[j] + down[j] + mid[j-1] + mid[j+1])
		out[j] = v
		if converged && math.Abs(v-mid[j]) > precision {
			converged = false
		}
	}

	return converged
}

// SweepChunk computes the stencil for a flattened block of rows exchanged
// with a remote rank.
//
// Both src and dst hold the same shape: H rows of n values, where row 0 and
// row H−1 are read-only halo rows and rows 1 through H−2 are the block to
// compute. SweepChunk writes every computed row of dst, copying the first
// and last column of each row verbatim from src, and leaves dst's halo rows
// untouched. The return value reports local convergence exactly as Sweep
// does.
//
// SweepChunk panics if the slices differ in length, if the length is not a
// multiple of n, or if the chunk holds fewer than three rows.
//
// Parameters:
//   - dst: Flattened buffer receiving the updated block
//   - src: Flattened buffer holding the received block and its halo rows
//   - n: Row width, equal to the grid edge length
//   - precision: Maximum per-cell change that still counts as converged
//
// Returns:
//   - bool: true when all computed cells changed by at most precision
func SweepChunk(dst, src []float64, n int, precision float64) bool {
	if len(dst) != len(src) {
		panic(fmt.Sprintf("kernel: chunk sweep with dst length %d and src length %d", len(dst), len(src)))
	}
	if n < grid.MinSize || len(src)%n != 0 || len(src)/n < 3 {
		panic(fmt.Sprintf("kernel: chunk of %d values is not at least 3 rows of width %d", len(src), n))
	}

	rows := len(src) / n
	converged := true

	for i := 1; i < rows-1; i++ {
		up := src[(i-1)*n : i*n]
		mid := src[i*n : (i+1)*n]
		down := src[(i+1)*n : (i+2)*n]
		out := dst[i*n : (i+1)*n]

		out[0] = mid[0]
		out[n-1] = mid[n-1]
		for j := 1; j < n-1; j++ {
			v := 0.25 * (up[j] + down[j] + mid[j-1] + mid[j+1])
			out[j] = v
			if converged && math.Abs(v-mid[j]) > precision {
				converged = false
			}
		}
	}

	return converged
}
