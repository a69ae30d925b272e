// Package correction implements the adaptive fuel-table correction engine
// (spec §4.6): it watches live telemetry, attributes each oxygen-sensor
// sample to the table cell that was active some delay earlier, accumulates
// a weighted correction per cell, and exposes authority-clamped
// recommendations a caller can review as a heatmap before committing them
// to the tune cache and, optionally, burning them to the ECU.
//
// There is no teacher analogue for a stateful accumulation engine — the
// closest shape in the pack is the teacher's per-command-struct
// configuration style (asdu/cproc.go), which this package's Config/Filter/
// Authority split follows directly.
package correction

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tunecraft/ecucore/cache"
	"github.com/tunecraft/ecucore/clog"
	"github.com/tunecraft/ecucore/definition"
	"github.com/tunecraft/ecucore/expr"
	"github.com/tunecraft/ecucore/protocol"
	"github.com/tunecraft/ecucore/realtime"
)

// Algorithm selects how an admitted sample updates a cell's accumulator.
type Algorithm int

const (
	AlgorithmSimple Algorithm = iota
	AlgorithmWeighted
	AlgorithmPID // reserved; not implemented, per spec §4.6.1
)

// LoadSource selects which channel drives the table's Y axis.
type LoadSource int

const (
	LoadMAP LoadSource = iota
	LoadMAF
)

// Filter holds the admission criteria a sample must satisfy (spec §4.6.3).
type Filter struct {
	MinRPM, MaxRPM         float64
	MinTPS, MaxTPS         float64
	MinCoolant             float64
	MaxTPSRatePerSec       float64
	ExcludeAccelEnrich     bool
	RequireSteadyState     bool
	SteadyStateRPMDelta    float64
	SteadyStateTimeMS      int
	CustomFilter           *expr.Expr
}

// Authority bounds how far a single commit may move a cell, and the
// aggregate change across the whole table (spec §4.6.5).
type Authority struct {
	MaxChangePerCellPct float64
	MaxTotalChangePct   float64
	MinValue, MaxValue  float64
}

// Config is the full correction-session configuration (spec §4.6.1).
type Config struct {
	Algorithm      Algorithm
	TargetAFR      float64
	TargetAFRTable *definition.Table // optional per-cell target; nil uses TargetAFR uniformly
	LoadSource     LoadSource
	Filter         Filter
	Authority      Authority
	Table          *definition.Table
	LockedCells    map[[2]int]bool // (row, col) -> locked; locked cells are never written
}

func (c *Config) valid() error {
	if c.Table == nil {
		return fmt.Errorf("correction: Config.Table is required")
	}
	if c.TargetAFR == 0 && c.TargetAFRTable == nil {
		return fmt.Errorf("correction: Config requires TargetAFR or TargetAFRTable")
	}
	if c.Authority.MaxValue == 0 {
		c.Authority.MaxValue = 1e9
	}
	if c.Authority.MaxChangePerCellPct == 0 {
		c.Authority.MaxChangePerCellPct = 15
	}
	return nil
}

// State is the correction session's lifecycle (spec §4.6.8).
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StatePaused:
		return "Paused"
	case StateStopped:
		return "Stopped"
	}
	return "Unknown"
}

type cellKey [2]int

type cellAccum struct {
	beginningValue   float64
	hasBeginning     bool
	weightSum        float64
	weightedDeltaSum float64
	hitCount         int
}

// Engine owns one correction session's accumulated state. It is safe for
// concurrent use: Feed is called from the realtime stream's publish path
// while the UI thread reads Heatmap concurrently (spec §5's
// lock-free epoch-snapshot is approximated here with a single mutex
// guarding the small per-cell accumulator map — the table sizes involved
// never make contention a real concern).
type Engine struct {
	cfg  Config
	def  *definition.Definition
	c    *cache.Cache
	conn *protocol.Conn
	log  clog.Clog

	mu       sync.Mutex
	state    State
	history  []sampleRecord
	cells    map[cellKey]*cellAccum
	maxWSeen float64
	exprSt   *expr.State
}

// New validates cfg and returns a new, Idle Engine. It auto-downgrades
// LoadMAF to LoadMAP when the definition's output channels don't contain
// anything MAF-shaped (spec §9 Open Question), so starting a session never
// silently reads a channel that doesn't exist.
func New(def *definition.Definition, c *cache.Cache, conn *protocol.Conn, cfg Config) (*Engine, error) {
	if err := cfg.valid(); err != nil {
		return nil, err
	}
	if cfg.LoadSource == LoadMAF && !hasMAFChannel(def) {
		cfg.LoadSource = LoadMAP
	}
	return &Engine{
		cfg:    cfg,
		def:    def,
		c:      c,
		conn:   conn,
		log:    clog.New("[correction] "),
		state:  StateIdle,
		cells:  make(map[cellKey]*cellAccum),
		exprSt: expr.NewState(),
	}, nil
}

func hasMAFChannel(def *definition.Definition) bool {
	for name := range def.OutputChan {
		lower := strings.ToLower(name)
		if strings.Contains(lower, "maf") || strings.Contains(lower, "airmass") || strings.Contains(lower, "airflow") {
			return true
		}
	}
	return false
}

// Start transitions Idle/Stopped -> Running. Starting over an existing
// Stopped session for the same table clears its per-cell state (spec
// §4.6.8: "starting a new session with the same table clears it").
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateStopped {
		e.cells = make(map[cellKey]*cellAccum)
		e.history = nil
		e.maxWSeen = 0
	}
	e.state = StateRunning
}

// Pause transitions Running -> Paused; Feed becomes a no-op while paused.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateRunning {
		e.state = StatePaused
	}
}

// Resume transitions Paused -> Running.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StatePaused {
		e.state = StateRunning
	}
}

// Stop transitions to Stopped. Per-cell state is retained for inspection
// or commit until the next Start.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = StateStopped
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

var _ realtime.SampleSink = (*Engine)(nil)

const bufferMaxAge = 500 * time.Millisecond
