package correction

import (
	"context"
	"fmt"
)

// Send writes the current heatmap's recommendations into the tune cache
// (RAM-only) and ships the resulting dirty ranges to the ECU via
// write_range, leaving locked cells untouched (spec §4.6.7). It does not
// burn; call Burn afterward to persist.
func (e *Engine) Send(ctx context.Context) error {
	entries := e.Heatmap()
	t := e.cfg.Table

	for _, h := range entries {
		key := cellKey{h.Row, h.Col}
		if e.cfg.LockedCells[key] {
			continue
		}
		if err := e.c.WriteCell(t, h.Row, h.Col, h.RecommendedValue); err != nil {
			return fmt.Errorf("correction: send cell (%d,%d): %w", h.Row, h.Col, err)
		}
	}

	for _, rng := range e.c.DirtyRanges(t.Page) {
		data, err := e.c.PageSnapshot(t.Page)
		if err != nil {
			return fmt.Errorf("correction: send: %w", err)
		}
		if err := e.conn.WriteRange(ctx, t.Page, rng.Start, data[rng.Start:rng.End]); err != nil {
			return fmt.Errorf("correction: write_range %d-%d: %w", rng.Start, rng.End, err)
		}
	}
	return nil
}

// Burn issues burn(page) for the table's page and clears its dirty
// ranges on success (spec §4.6.7, §4.4).
func (e *Engine) Burn(ctx context.Context) error {
	page := e.cfg.Table.Page
	if err := e.conn.Burn(ctx, page); err != nil {
		return fmt.Errorf("correction: burn page %d: %w", page, err)
	}
	e.c.ClearDirty(page)
	return nil
}
