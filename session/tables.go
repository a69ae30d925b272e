package session

import (
	"fmt"

	"github.com/tunecraft/ecucore/cache"
	"github.com/tunecraft/ecucore/definition"
	"github.com/tunecraft/ecucore/tableops"
)

// TableSnapshot is a read-only copy of one table's current grid and axis
// bins, safe to hand to a UI thread (spec §6.4 get_table).
type TableSnapshot struct {
	Name        string
	Rows, Cols  int
	Z, X, Y     []float64
}

// CellUpdate is one (row, col) -> value write, as the UI batches edits
// before committing them (spec §6.4 update_table_cells).
type CellUpdate struct {
	Row, Col int
	Value    float64
}

func (s *Session) lookupTable(name string) (*definition.Table, error) {
	def, _, _, err := s.requireReady()
	if err != nil {
		return nil, err
	}
	t, ok := def.Tables[name]
	if !ok {
		return nil, fmt.Errorf("session: unknown table %q", name)
	}
	return t, nil
}

// GetTable returns the current grid/bins for the named table.
func (s *Session) GetTable(name string) (TableSnapshot, error) {
	t, err := s.lookupTable(name)
	if err != nil {
		return TableSnapshot{}, err
	}
	_, c, _, err := s.requireReady()
	if err != nil {
		return TableSnapshot{}, err
	}
	z, x, y, err := c.ReadTableGrid(t)
	if err != nil {
		return TableSnapshot{}, fmt.Errorf("session: get_table %q: %w", name, err)
	}
	return TableSnapshot{Name: name, Rows: t.Rows, Cols: t.Cols, Z: z, X: x, Y: y}, nil
}

// UpdateTableCells writes a batch of individual cell values (spec §6.4
// update_table_cells).
func (s *Session) UpdateTableCells(name string, cells []CellUpdate) error {
	t, err := s.lookupTable(name)
	if err != nil {
		return err
	}
	_, c, _, err := s.requireReady()
	if err != nil {
		return err
	}
	for _, cell := range cells {
		if err := c.WriteCell(t, cell.Row, cell.Col, cell.Value); err != nil {
			return fmt.Errorf("session: update_table_cells %q (%d,%d): %w", name, cell.Row, cell.Col, err)
		}
	}
	return nil
}

// writeGrid pushes a fully recomputed grid back through WriteCell so dirty
// ranges stay accurate even though tableops operates on a flat slice
// copy, not the cache directly.
func (s *Session) writeGrid(t *definition.Table, c *cache.Cache, grid []float64) error {
	for r := 0; r < t.Rows; r++ {
		for col := 0; col < t.Cols; col++ {
			if err := c.WriteCell(t, r, col, grid[r*t.Cols+col]); err != nil {
				return err
			}
		}
	}
	return nil
}

// ScaleCells multiplies every cell in sel by factor (spec §4.7/§6.4
// scale_cells).
func (s *Session) ScaleCells(name string, sel tableops.Selection, factor float64) error {
	return s.transformGrid(name, func(grid []float64, rows, cols int) error {
		return tableops.Scale(grid, rows, cols, sel, factor)
	})
}

// AdjustCells adds delta to every cell in sel.
func (s *Session) AdjustCells(name string, sel tableops.Selection, delta float64) error {
	return s.transformGrid(name, func(grid []float64, rows, cols int) error {
		return tableops.Adjust(grid, rows, cols, sel, delta)
	})
}

// SetCells sets every cell in sel to v.
func (s *Session) SetCells(name string, sel tableops.Selection, v float64) error {
	return s.transformGrid(name, func(grid []float64, rows, cols int) error {
		return tableops.SetEqual(grid, rows, cols, sel, v)
	})
}

// InterpolateCells bilinearly blends every non-corner cell of sel from its
// four corners
// (spec §6.4 interpolate_cells).
func (s *Session) InterpolateCells(name string, sel tableops.Selection, axis tableops.InterpolateAxis) error {
	return s.transformGrid(name, func(grid []float64, rows, cols int) error {
		return tableops.Interpolate(grid, rows, cols, sel, axis)
	})
}

// SmoothCells applies a boundary-safe 3x3 Gaussian smooth over sel (spec
// §6.4 smooth_cells).
func (s *Session) SmoothCells(name string, sel tableops.Selection, iterations int) error {
	return s.transformGrid(name, func(grid []float64, rows, cols int) error {
		return tableops.Smooth(grid, rows, cols, sel, iterations)
	})
}

func (s *Session) transformGrid(name string, op func(grid []float64, rows, cols int) error) error {
	t, err := s.lookupTable(name)
	if err != nil {
		return err
	}
	_, c, _, err := s.requireReady()
	if err != nil {
		return err
	}
	grid, _, _, err := c.ReadTableGrid(t)
	if err != nil {
		return fmt.Errorf("session: transform %q: %w", name, err)
	}
	if err := op(grid, t.Rows, t.Cols); err != nil {
		return fmt.Errorf("session: transform %q: %w", name, err)
	}
	return s.writeGrid(t, c, grid)
}

// RebinTable resamples name onto newX/newY bins, writing the result back
// into the table's existing constant storage (spec §6.4 rebin_table). The
// new axis length must match the original constant's declared Shape; this
// module does not support growing/shrinking a table's physical size at
// runtime, only remapping its values onto a different bin layout of the
// same length.
func (s *Session) RebinTable(name string, newX, newY []float64, interpolateZ bool) error {
	t, err := s.lookupTable(name)
	if err != nil {
		return err
	}
	_, c, _, err := s.requireReady()
	if err != nil {
		return err
	}
	grid, oldX, oldY, err := c.ReadTableGrid(t)
	if err != nil {
		return fmt.Errorf("session: rebin_table %q: %w", name, err)
	}
	newGrid, rows, cols, err := tableops.Rebin(grid, t.Rows, t.Cols, oldX, oldY, newX, newY, interpolateZ)
	if err != nil {
		return fmt.Errorf("session: rebin_table %q: %w", name, err)
	}
	if rows != t.Rows || cols != t.Cols {
		return fmt.Errorf("session: rebin_table %q: result shape %dx%d does not match table's %dx%d", name, rows, cols, t.Rows, t.Cols)
	}
	if err := c.WriteArray(t.XConst.Name, newX); err != nil {
		return fmt.Errorf("session: rebin_table %q: %w", name, err)
	}
	if t.YConst != nil {
		if err := c.WriteArray(t.YConst.Name, newY); err != nil {
			return fmt.Errorf("session: rebin_table %q: %w", name, err)
		}
	}
	return s.writeGrid(t, c, newGrid)
}
