package tableops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetEqualFillsSelection(t *testing.T) {
	grid := make([]float64, 9) // 3x3
	err := SetEqual(grid, 3, 3, Selection{0, 1, 0, 1}, 5)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 5, 0, 5, 5, 0, 0, 0, 0}, grid)
}

func TestAdjustAddsDelta(t *testing.T) {
	grid := []float64{1, 1, 1, 1}
	require.NoError(t, Adjust(grid, 2, 2, Selection{0, 1, 0, 1}, 2))
	assert.Equal(t, []float64{3, 3, 3, 3}, grid)
}

func TestScaleMultipliesSelectionOnly(t *testing.T) {
	grid := []float64{1, 1, 1, 1}
	require.NoError(t, Scale(grid, 2, 2, Selection{0, 0, 0, 0}, 10))
	assert.Equal(t, []float64{10, 1, 1, 1}, grid)
}

func TestInterpolateHVBlendsCorners(t *testing.T) {
	// 3x3 selection, corners 0,10,0,20; HV interpolation of the center
	// cell should be the average of all four corners.
	grid := []float64{
		0, 0, 10,
		0, 0, 0,
		0, 0, 20,
	}
	require.NoError(t, Interpolate(grid, 3, 3, Selection{0, 2, 0, 2}, InterpolateHV))
	assert.InDelta(t, 7.5, grid[idx(3, 1, 1)], 0.001) // (0+10+0+20)/4
}

func TestInterpolateLeavesCornersUntouched(t *testing.T) {
	grid := []float64{1, 0, 2, 0, 0, 0, 3, 0, 4}
	require.NoError(t, Interpolate(grid, 3, 3, Selection{0, 2, 0, 2}, InterpolateHV))
	assert.Equal(t, 1.0, grid[idx(3, 0, 0)])
	assert.Equal(t, 2.0, grid[idx(3, 0, 2)])
	assert.Equal(t, 3.0, grid[idx(3, 2, 0)])
	assert.Equal(t, 4.0, grid[idx(3, 2, 2)])
}

func TestSmoothCornerUsesExactlyFourNeighbors(t *testing.T) {
	// 3x3 grid of all 1s except corner (0,0) = 10; after one smoothing
	// pass, corner should blend with its 3 present neighbors (right,
	// down, diagonal) plus itself, weight-normalized over exactly those.
	grid := []float64{
		10, 1, 1,
		1, 1, 1,
		1, 1, 1,
	}
	require.NoError(t, Smooth(grid, 3, 3, Selection{0, 2, 0, 2}, 1))
	// present weights at (0,0): self=4, right(0,1)=2, down(1,0)=2, diag(1,1)=1; sum=9
	want := (4*10.0 + 2*1 + 2*1 + 1*1) / 9
	assert.InDelta(t, want, grid[idx(3, 0, 0)], 0.0001)
}

func TestSmoothZeroIterationsIsNoop(t *testing.T) {
	grid := []float64{1, 2, 3, 4}
	require.NoError(t, Smooth(grid, 2, 2, Selection{0, 1, 0, 1}, 0))
	assert.Equal(t, []float64{1, 2, 3, 4}, grid)
}

func TestRebinNearestNeighbor2D(t *testing.T) {
	grid := []float64{1, 2, 3, 4} // 2x2
	oldX := []float64{0, 10}
	oldY := []float64{0, 10}
	newX := []float64{0, 5, 10}
	newY := []float64{0, 10}
	out, rows, cols, err := Rebin(grid, 2, 2, oldX, oldY, newX, newY, false)
	require.NoError(t, err)
	assert.Equal(t, 2, rows)
	assert.Equal(t, 3, cols)
	assert.Equal(t, 1.0, out[idx(cols, 0, 0)])
	assert.Equal(t, 4.0, out[idx(cols, 1, 2)])
}

func TestRebinBilinearInterpolation(t *testing.T) {
	grid := []float64{0, 10, 0, 20} // 2x2: row0=[0,10] row1=[0,20]
	oldX := []float64{0, 10}
	oldY := []float64{0, 10}
	newX := []float64{5}
	newY := []float64{5}
	out, _, _, err := Rebin(grid, 2, 2, oldX, oldY, newX, newY, true)
	require.NoError(t, err)
	assert.InDelta(t, 7.5, out[0], 0.001)
}

func TestRebin2DCurveHasNoYBins(t *testing.T) {
	grid := []float64{0, 10}
	oldX := []float64{0, 10}
	var oldY []float64
	newX := []float64{0, 5, 10}
	var newY []float64
	out, rows, cols, err := Rebin(grid, 1, 2, oldX, oldY, newX, newY, true)
	require.NoError(t, err)
	assert.Equal(t, 1, rows)
	assert.Equal(t, 3, cols)
	assert.InDelta(t, 5.0, out[1], 0.001)
}

func TestClampedBracketClampsOutOfDomain(t *testing.T) {
	bins := []float64{10, 20, 30}
	lo, hi, frac := clampedBracket(bins, 5)
	assert.Equal(t, 0, lo)
	assert.Equal(t, 0, hi)
	assert.Equal(t, 0.0, frac)

	lo, hi, frac = clampedBracket(bins, 100)
	assert.Equal(t, 2, lo)
	assert.Equal(t, 2, hi)
	assert.Equal(t, 0.0, frac)
}

func TestSelectionOutOfRangeErrors(t *testing.T) {
	grid := make([]float64, 4)
	err := SetEqual(grid, 2, 2, Selection{0, 2, 0, 1}, 1)
	assert.Error(t, err)
}
