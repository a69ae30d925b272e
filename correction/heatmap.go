package correction

import "sort"

// HeatmapEntry is one cell's current accumulated correction state (spec
// §4.6.6), as returned by Heatmap.
type HeatmapEntry struct {
	Row, Col         int
	HitCount         int
	HitWeighting     float64 // in [0,1]: weightSum / max weightSum seen this session
	ChangeMagnitude  float64 // |recommended - beginning|
	BeginningValue   float64
	RecommendedValue float64
}

// recommendation computes one cell's clamped recommendation (spec §4.6.5),
// before any whole-table total-change scaling is applied.
func (e *Engine) recommendation(accum *cellAccum) (recommended float64, ok bool) {
	if accum.weightSum <= 0 {
		return accum.beginningValue, false
	}
	rawRec := accum.beginningValue + accum.weightedDeltaSum/accum.weightSum
	maxDeltaAbs := accum.beginningValue * e.cfg.Authority.MaxChangePerCellPct / 100
	delta := clampRange(rawRec-accum.beginningValue, -maxDeltaAbs, maxDeltaAbs)
	recommended = clampRange(accum.beginningValue+delta, e.cfg.Authority.MinValue, e.cfg.Authority.MaxValue)
	return recommended, true
}

func clampRange(v, lo, hi float64) float64 {
	if hi < lo {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Heatmap returns every cell with hit_count > 0, with recommendations
// scaled down proportionally (never mutating accumulated state) if their
// combined L1-norm change exceeds Authority.MaxTotalChangePct of the summed
// beginning values of those same cells (spec §4.6.5/§4.6.6).
func (e *Engine) Heatmap() []HeatmapEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	type raw struct {
		key         cellKey
		accum       *cellAccum
		recommended float64
		delta       float64
	}
	var rows []raw
	var totalBeginning, totalAbsDelta float64
	for key, accum := range e.cells {
		if accum.hitCount == 0 {
			continue
		}
		rec, ok := e.recommendation(accum)
		if !ok {
			continue
		}
		delta := rec - accum.beginningValue
		rows = append(rows, raw{key, accum, rec, delta})
		totalBeginning += accum.beginningValue
		totalAbsDelta += absF(delta)
	}

	scale := 1.0
	if cap := e.cfg.Authority.MaxTotalChangePct / 100 * totalBeginning; cap > 0 && totalAbsDelta > cap {
		scale = cap / totalAbsDelta
	}

	out := make([]HeatmapEntry, 0, len(rows))
	for _, r := range rows {
		delta := r.delta * scale
		recommended := r.accum.beginningValue + delta
		weighting := 0.0
		if e.maxWSeen > 0 {
			weighting = r.accum.weightSum / e.maxWSeen
		}
		out = append(out, HeatmapEntry{
			Row: r.key[0], Col: r.key[1],
			HitCount:         r.accum.hitCount,
			HitWeighting:     weighting,
			ChangeMagnitude:  absF(recommended - r.accum.beginningValue),
			BeginningValue:   r.accum.beginningValue,
			RecommendedValue: recommended,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Row != out[j].Row {
			return out[i].Row < out[j].Row
		}
		return out[i].Col < out[j].Col
	})
	return out
}
