package correction

import (
	"time"

	"github.com/tunecraft/ecucore/realtime"
)

// sampleRecord is one buffered telemetry sample, enough to both attribute
// a later lambda reading and evaluate rate-of-change/steady-state filters.
type sampleRecord struct {
	t                 time.Time
	rpm, load, tps     float64
	coolant            float64
	afr                float64
	accelEnrichActive  bool
	hasAFR             bool
}

// lambdaDelayMS returns d(rpm) (spec §4.6.2): a monotonically
// non-increasing piecewise-linear curve from (800, 200ms) to (6000, 50ms),
// clamped flat outside that domain.
func lambdaDelayMS(rpm float64) float64 {
	const (
		loRPM, loDelay = 800.0, 200.0
		hiRPM, hiDelay = 6000.0, 50.0
	)
	if rpm <= loRPM {
		return loDelay
	}
	if rpm >= hiRPM {
		return hiDelay
	}
	frac := (rpm - loRPM) / (hiRPM - loRPM)
	return loDelay + (hiDelay-loDelay)*frac
}

// Feed implements realtime.SampleSink: it is called once per published
// telemetry sample while a correction session is Running. Paused/Idle/
// Stopped sessions ignore the feed entirely, honoring spec §4.6.8.
func (e *Engine) Feed(s realtime.Sample) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning {
		return
	}

	rec := e.recordFrom(s)
	e.history = append(e.history, rec)
	e.pruneHistory(rec.t)

	if !rec.hasAFR {
		return
	}

	delay := time.Duration(lambdaDelayMS(rec.rpm) * float64(time.Millisecond))
	target := rec.t.Add(-delay)
	attributed, ok := e.findClosest(target)
	if !ok {
		return
	}

	if !e.admits(rec, attributed) {
		return
	}
	e.accumulate(attributed, rec)
}

func (e *Engine) recordFrom(s realtime.Sample) sampleRecord {
	rec := sampleRecord{t: s.Timestamp}
	if v, ok := s.Values["rpm"]; ok {
		rec.rpm = v
	}
	if v, ok := s.Values["tps"]; ok {
		rec.tps = v
	}
	if v, ok := s.Values["coolant"]; ok {
		rec.coolant = v
	}
	switch e.cfg.LoadSource {
	case LoadMAF:
		if v, ok := firstPresent(s.Values, "maf", "airmass", "airflow"); ok {
			rec.load = v
		}
	default:
		if v, ok := s.Values["map"]; ok {
			rec.load = v
		}
	}
	if v, ok := firstPresent(s.Values, "afr", "lambda"); ok {
		rec.afr = v
		rec.hasAFR = true
	}
	if v, ok := s.Values["accelEnrichActive"]; ok {
		rec.accelEnrichActive = v != 0
	}
	return rec
}

func firstPresent(values map[string]float64, names ...string) (float64, bool) {
	for _, n := range names {
		if v, ok := values[n]; ok {
			return v, true
		}
	}
	return 0, false
}

func (e *Engine) pruneHistory(now time.Time) {
	cutoff := now.Add(-bufferMaxAge)
	i := 0
	for ; i < len(e.history); i++ {
		if e.history[i].t.After(cutoff) {
			break
		}
	}
	e.history = e.history[i:]
}

// findClosest returns the buffered sample with timestamp closest to
// target, breaking ties toward the later sample (spec §4.6.2). Returns ok
// = false when no sample in the buffer is old enough to be a candidate
// (i.e. every sample is newer than target).
func (e *Engine) findClosest(target time.Time) (sampleRecord, bool) {
	if len(e.history) == 0 || e.history[0].t.After(target) {
		// the buffer doesn't reach back far enough yet (e.g. a session
		// just started): no sample is old enough to attribute against.
		return sampleRecord{}, false
	}
	best := e.history[0]
	bestDiff := absDuration(best.t.Sub(target))
	for _, rec := range e.history[1:] {
		diff := absDuration(rec.t.Sub(target))
		if diff < bestDiff || (diff == bestDiff && rec.t.After(best.t)) {
			best = rec
			bestDiff = diff
		}
	}
	return best, true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
