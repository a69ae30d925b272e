package correction

import "fmt"

// accumulate applies spec §4.6.4: attr supplies the (rpm, load) used to
// locate the target cell; rec supplies the lambda/AFR measurement that
// cell is being judged against.
func (e *Engine) accumulate(attr sampleRecord, rec sampleRecord) {
	row, col, err := e.locateCell(attr)
	if err != nil {
		e.log.Warn("correction: %v", err)
		return
	}
	key := cellKey{row, col}
	accum := e.cells[key]
	if accum == nil {
		accum = &cellAccum{}
		e.cells[key] = accum
	}
	if e.cfg.LockedCells[key] {
		return
	}
	if !accum.hasBeginning {
		v, err := e.cellValue(row, col)
		if err != nil {
			e.log.Warn("correction: %v", err)
			return
		}
		accum.beginningValue = v
		accum.hasBeginning = true
	}

	target, err := e.targetAFRAt(row, col)
	if err != nil || target == 0 {
		return // Correction::NoBeginningValue-class condition: skip silently (spec §7)
	}

	errorFrac := (rec.afr - target) / target
	weight := 1.0
	if e.cfg.Algorithm == AlgorithmWeighted {
		weight = 1 - clampAbs(errorFrac)*0.2
	}
	delta := accum.beginningValue * errorFrac

	accum.weightSum += weight
	accum.weightedDeltaSum += weight * delta
	accum.hitCount++
	if accum.weightSum > e.maxWSeen {
		e.maxWSeen = accum.weightSum
	}
}

func clampAbs(v float64) float64 {
	if v < 0 {
		v = -v
	}
	if v > 1 {
		return 1
	}
	return v
}

func (e *Engine) locateCell(rec sampleRecord) (row, col int, err error) {
	t := e.cfg.Table
	xBins, err := e.c.ReadArray(t.XConst.Name)
	if err != nil {
		return 0, 0, fmt.Errorf("locate cell: %w", err)
	}
	xVal := rec.rpm
	if t.XChannel == "load" {
		xVal = rec.load
	}
	col = nearestBinIndex(xBins, xVal)

	if t.YConst == nil {
		return 0, col, nil
	}
	yBins, err := e.c.ReadArray(t.YConst.Name)
	if err != nil {
		return 0, 0, fmt.Errorf("locate cell: %w", err)
	}
	yVal := rec.load
	if t.YChannel == "rpm" {
		yVal = rec.rpm
	}
	row = nearestBinIndex(yBins, yVal)
	return row, col, nil
}

func nearestBinIndex(bins []float64, v float64) int {
	if len(bins) == 0 {
		return 0
	}
	best := 0
	bestDiff := absF(bins[0] - v)
	for i := 1; i < len(bins); i++ {
		d := absF(bins[i] - v)
		if d < bestDiff {
			best = i
			bestDiff = d
		}
	}
	return best
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func (e *Engine) cellValue(row, col int) (float64, error) {
	grid, err := e.c.ReadArray(e.cfg.Table.ZConst.Name)
	if err != nil {
		return 0, err
	}
	i := row*e.cfg.Table.Cols + col
	if i < 0 || i >= len(grid) {
		return 0, fmt.Errorf("cell (%d,%d) out of range", row, col)
	}
	return grid[i], nil
}

func (e *Engine) targetAFRAt(row, col int) (float64, error) {
	if e.cfg.TargetAFRTable == nil {
		return e.cfg.TargetAFR, nil
	}
	grid, err := e.c.ReadArray(e.cfg.TargetAFRTable.ZConst.Name)
	if err != nil {
		return 0, err
	}
	i := row*e.cfg.TargetAFRTable.Cols + col
	if i < 0 || i >= len(grid) {
		return e.cfg.TargetAFR, nil
	}
	return grid[i], nil
}
