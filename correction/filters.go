package correction

import (
	"time"

	"github.com/tunecraft/ecucore/expr"
)

func durationMS(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

// admits applies spec §4.6.3's filter set to the current sample rec. attr
// is the earlier sample being attributed against the cell; admission
// criteria are otherwise evaluated on the live sample, which is the one
// actually reporting ECU flags (accel enrich) and the one whose rate of
// change over recent history matters for stability filters.
func (e *Engine) admits(rec sampleRecord, attr sampleRecord) bool {
	f := e.cfg.Filter

	if f.MinRPM != 0 && rec.rpm < f.MinRPM {
		return false
	}
	if f.MaxRPM != 0 && rec.rpm > f.MaxRPM {
		return false
	}
	if f.MinTPS != 0 && rec.tps < f.MinTPS {
		return false
	}
	if f.MaxTPS != 0 && rec.tps > f.MaxTPS {
		return false
	}
	if f.MinCoolant != 0 && rec.coolant < f.MinCoolant {
		return false
	}
	if f.MaxTPSRatePerSec != 0 && !e.tpsRateOK(rec) {
		return false
	}
	if f.ExcludeAccelEnrich && rec.accelEnrichActive {
		return false
	}
	if f.RequireSteadyState && !e.steadyState(rec) {
		return false
	}
	if f.CustomFilter != nil {
		env := sampleEnv{rec}
		v, err := f.CustomFilter.Eval(env, e.exprSt)
		if err != nil || v == 0 {
			return false
		}
	}
	return true
}

// tpsRateOK checks |Δtps/Δt| against the configured ceiling using the two
// most recent buffered samples.
func (e *Engine) tpsRateOK(rec sampleRecord) bool {
	if len(e.history) < 2 {
		return true
	}
	prev := e.history[len(e.history)-2]
	dt := rec.t.Sub(prev.t).Seconds()
	if dt <= 0 {
		return true
	}
	rate := (rec.tps - prev.tps) / dt
	if rate < 0 {
		rate = -rate
	}
	return rate <= e.cfg.Filter.MaxTPSRatePerSec
}

// steadyState requires every buffered sample within SteadyStateTimeMS of
// rec to lie within SteadyStateRPMDelta rpm of each other.
func (e *Engine) steadyState(rec sampleRecord) bool {
	windowStart := rec.t.Add(-durationMS(e.cfg.Filter.SteadyStateTimeMS))
	var lo, hi float64
	init := false
	for _, h := range e.history {
		if h.t.Before(windowStart) {
			continue
		}
		if !init {
			lo, hi = h.rpm, h.rpm
			init = true
			continue
		}
		if h.rpm < lo {
			lo = h.rpm
		}
		if h.rpm > hi {
			hi = h.rpm
		}
	}
	if !init {
		return true
	}
	return hi-lo <= e.cfg.Filter.SteadyStateRPMDelta
}

// sampleEnv adapts one sampleRecord into an expr.Env so custom_filter
// expressions can reference channel names directly.
type sampleEnv struct{ rec sampleRecord }

func (s sampleEnv) Resolve(name string) (float64, bool) {
	switch name {
	case "rpm":
		return s.rec.rpm, true
	case "tps":
		return s.rec.tps, true
	case "coolant":
		return s.rec.coolant, true
	case "load":
		return s.rec.load, true
	case "afr":
		return s.rec.afr, true
	}
	return 0, false
}

func (s sampleEnv) Array(string) ([]float64, bool)     { return nil, false }
func (s sampleEnv) Table(string) (expr.IncTable, bool) { return nil, false }

var _ expr.Env = sampleEnv{}
