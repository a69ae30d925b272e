// Package tableops implements the bulk cell-transform operations (spec
// §4.7) a tuner applies to a rectangular selection of a table's Z grid:
// set, adjust, scale, interpolate, smooth, and rebin. Every function takes
// and returns a flat row-major []float64 plus explicit Rows/Cols rather
// than a *definition.Table, so the package has no dependency on cache or
// definition and can be exercised with plain slices in tests — the grid
// shape is the only thing these algorithms care about.
package tableops

import "fmt"

// Selection is an inclusive rectangular range of cells, row-major indexed.
type Selection struct {
	RowStart, RowEnd int // inclusive
	ColStart, ColEnd int // inclusive
}

func (s Selection) valid(rows, cols int) error {
	if s.RowStart < 0 || s.RowEnd >= rows || s.RowStart > s.RowEnd {
		return fmt.Errorf("tableops: invalid row selection [%d,%d] for %d rows", s.RowStart, s.RowEnd, rows)
	}
	if s.ColStart < 0 || s.ColEnd >= cols || s.ColStart > s.ColEnd {
		return fmt.Errorf("tableops: invalid col selection [%d,%d] for %d cols", s.ColStart, s.ColEnd, cols)
	}
	return nil
}

func idx(cols, r, c int) int { return r*cols + c }

// SetEqual sets every cell in sel to v.
func SetEqual(grid []float64, rows, cols int, sel Selection, v float64) error {
	if err := sel.valid(rows, cols); err != nil {
		return err
	}
	for r := sel.RowStart; r <= sel.RowEnd; r++ {
		for c := sel.ColStart; c <= sel.ColEnd; c++ {
			grid[idx(cols, r, c)] = v
		}
	}
	return nil
}

// Adjust adds delta to every cell in sel.
func Adjust(grid []float64, rows, cols int, sel Selection, delta float64) error {
	if err := sel.valid(rows, cols); err != nil {
		return err
	}
	for r := sel.RowStart; r <= sel.RowEnd; r++ {
		for c := sel.ColStart; c <= sel.ColEnd; c++ {
			grid[idx(cols, r, c)] += delta
		}
	}
	return nil
}

// Scale multiplies every cell in sel by factor.
func Scale(grid []float64, rows, cols int, sel Selection, factor float64) error {
	if err := sel.valid(rows, cols); err != nil {
		return err
	}
	for r := sel.RowStart; r <= sel.RowEnd; r++ {
		for c := sel.ColStart; c <= sel.ColEnd; c++ {
			grid[idx(cols, r, c)] *= factor
		}
	}
	return nil
}

// InterpolateAxis selects which direction Interpolate blends across.
type InterpolateAxis int

const (
	InterpolateH InterpolateAxis = iota
	InterpolateV
	InterpolateHV
)

// Interpolate replaces every cell of sel other than its four corners, edge
// cells included, with a bilinear blend of the selection's corner values (or a 1-D lerp if sel collapses to a
// single row or column). Corner values themselves are left untouched.
func Interpolate(grid []float64, rows, cols int, sel Selection, axis InterpolateAxis) error {
	if err := sel.valid(rows, cols); err != nil {
		return err
	}
	rSpan := sel.RowEnd - sel.RowStart
	cSpan := sel.ColEnd - sel.ColStart

	tl := grid[idx(cols, sel.RowStart, sel.ColStart)]
	tr := grid[idx(cols, sel.RowStart, sel.ColEnd)]
	bl := grid[idx(cols, sel.RowEnd, sel.ColStart)]
	br := grid[idx(cols, sel.RowEnd, sel.ColEnd)]

	for r := sel.RowStart; r <= sel.RowEnd; r++ {
		fy := 0.0
		if rSpan > 0 {
			fy = float64(r-sel.RowStart) / float64(rSpan)
		}
		for c := sel.ColStart; c <= sel.ColEnd; c++ {
			if r == sel.RowStart && c == sel.ColStart ||
				r == sel.RowStart && c == sel.ColEnd ||
				r == sel.RowEnd && c == sel.ColStart ||
				r == sel.RowEnd && c == sel.ColEnd {
				continue
			}
			fx := 0.0
			if cSpan > 0 {
				fx = float64(c-sel.ColStart) / float64(cSpan)
			}

			var val float64
			switch axis {
			case InterpolateH:
				top := lerp(tl, tr, fx)
				val = top
				if rSpan > 0 {
					bottom := lerp(bl, br, fx)
					val = lerp(top, bottom, fy)
				}
			case InterpolateV:
				left := lerp(tl, bl, fy)
				val = left
				if cSpan > 0 {
					right := lerp(tr, br, fy)
					val = lerp(left, right, fx)
				}
			default: // InterpolateHV
				top := lerp(tl, tr, fx)
				bottom := lerp(bl, br, fx)
				val = lerp(top, bottom, fy)
			}
			grid[idx(cols, r, c)] = val
		}
	}
	return nil
}

func lerp(a, b, f float64) float64 { return a + (b-a)*f }

// gaussian3x3 is a fixed separable-ish Gaussian smoothing kernel indexed
// [dr+1][dc+1] for dr,dc in {-1,0,1}; center weight dominates.
var gaussian3x3 = [3][3]float64{
	{1, 2, 1},
	{2, 4, 2},
	{1, 2, 1},
}

// Smooth replaces every cell in sel with a Gaussian-weighted average of
// itself and its up-to-8 neighbors, repeated iterations times. At a grid
// boundary or selection edge, a cell has fewer than 8 neighbors; the
// historical bug this corrects for is indexing the kernel as though all 8
// were present (spec §9's documented smooth_table bug) — here the weight
// sum is accumulated only over neighbors that actually exist, and divided
// out at the end, so corner and edge cells renormalize over exactly the
// neighbors present rather than silently under- or over-weighting.
func Smooth(grid []float64, rows, cols int, sel Selection, iterations int) error {
	if err := sel.valid(rows, cols); err != nil {
		return err
	}
	if iterations <= 0 {
		return nil
	}
	for iter := 0; iter < iterations; iter++ {
		next := make([]float64, len(grid))
		copy(next, grid)
		for r := sel.RowStart; r <= sel.RowEnd; r++ {
			for c := sel.ColStart; c <= sel.ColEnd; c++ {
				var sum, weight float64
				for dr := -1; dr <= 1; dr++ {
					nr := r + dr
					if nr < 0 || nr >= rows {
						continue
					}
					for dc := -1; dc <= 1; dc++ {
						nc := c + dc
						if nc < 0 || nc >= cols {
							continue
						}
						w := gaussian3x3[dr+1][dc+1]
						sum += w * grid[idx(cols, nr, nc)]
						weight += w
					}
				}
				next[idx(cols, r, c)] = sum / weight
			}
		}
		copy(grid, next)
	}
	return nil
}

// Rebin produces a new Z grid sized len(newY) x len(newX) (or 1 x
// len(newX) for a 2D curve, when newY is empty), sampling the old grid at
// the new bin coordinates. With interpolateZ, each new sample is a
// bilinear interpolation on the old grid; otherwise nearest-neighbor.
// Both old and new bin vectors must be sorted ascending.
func Rebin(oldGrid []float64, oldRows, oldCols int, oldX, oldY []float64, newX, newY []float64, interpolateZ bool) ([]float64, int, int, error) {
	if len(oldX) != oldCols {
		return nil, 0, 0, fmt.Errorf("tableops: oldX length %d != oldCols %d", len(oldX), oldCols)
	}
	if oldRows > 1 && len(oldY) != oldRows {
		return nil, 0, 0, fmt.Errorf("tableops: oldY length %d != oldRows %d", len(oldY), oldRows)
	}

	newRows := oldRows
	if len(newY) > 0 {
		newRows = len(newY)
	} else if oldRows <= 1 {
		newRows = 1
	}
	newCols := len(newX)
	out := make([]float64, newRows*newCols)

	for r := 0; r < newRows; r++ {
		var yVal float64
		if len(newY) > 0 {
			yVal = newY[r]
		}
		for c := 0; c < newCols; c++ {
			xVal := newX[c]
			var v float64
			if interpolateZ {
				v = bilinearSample(oldGrid, oldRows, oldCols, oldX, oldY, xVal, yVal)
			} else {
				v = nearestSample(oldGrid, oldRows, oldCols, oldX, oldY, xVal, yVal)
			}
			out[idx(newCols, r, c)] = v
		}
	}
	return out, newRows, newCols, nil
}

// clampedBracket finds i such that bins[i] <= v <= bins[i+1], clamping v's
// effective position to the domain ends (no extrapolation, matching the
// table() lookup clamp behavior of spec §4.1).
func clampedBracket(bins []float64, v float64) (lo, hi int, frac float64) {
	if len(bins) == 1 {
		return 0, 0, 0
	}
	if v <= bins[0] {
		return 0, 0, 0
	}
	if v >= bins[len(bins)-1] {
		last := len(bins) - 1
		return last, last, 0
	}
	for i := 0; i < len(bins)-1; i++ {
		if v >= bins[i] && v <= bins[i+1] {
			span := bins[i+1] - bins[i]
			if span == 0 {
				return i, i, 0
			}
			return i, i + 1, (v - bins[i]) / span
		}
	}
	last := len(bins) - 1
	return last, last, 0
}

func bilinearSample(grid []float64, rows, cols int, xBins, yBins []float64, x, y float64) float64 {
	xlo, xhi, xf := clampedBracket(xBins, x)
	if rows <= 1 {
		return lerp(grid[idx(cols, 0, xlo)], grid[idx(cols, 0, xhi)], xf)
	}
	ylo, yhi, yf := clampedBracket(yBins, y)
	v00 := grid[idx(cols, ylo, xlo)]
	v01 := grid[idx(cols, ylo, xhi)]
	v10 := grid[idx(cols, yhi, xlo)]
	v11 := grid[idx(cols, yhi, xhi)]
	top := lerp(v00, v01, xf)
	bottom := lerp(v10, v11, xf)
	return lerp(top, bottom, yf)
}

func nearestSample(grid []float64, rows, cols int, xBins, yBins []float64, x, y float64) float64 {
	xlo, xhi, xf := clampedBracket(xBins, x)
	xi := xlo
	if xf >= 0.5 {
		xi = xhi
	}
	if rows <= 1 {
		return grid[idx(cols, 0, xi)]
	}
	ylo, yhi, yf := clampedBracket(yBins, y)
	yi := ylo
	if yf >= 0.5 {
		yi = yhi
	}
	return grid[idx(cols, yi, xi)]
}
