package expr

// State carries the persistent per-call-site state for the stateful
// tracking helpers (lastValue, minValue, maxValue, accumulate, smoothBasic)
// across repeated evaluations of the same *Expr. Callers that evaluate an
// expression once per sample (a visibility expression, a custom_filter,
// menu enable expression) should keep one State alive for the lifetime of
// that binding; a fresh State resets all tracking helpers, which is exactly
// what happens for a newly started correction session or a freshly loaded
// definition.
type State struct {
	sites *siteStates
}

// NewState returns a fresh, empty State.
func NewState() *State { return &State{sites: newSiteStates()} }

// Eval evaluates the expression against env, threading call-site state
// through st. A nil st is replaced by a fresh State for this one call, so
// stateful helpers start from scratch and their state is discarded
// afterward.
func (e *Expr) Eval(env Env, st *State) (float64, error) {
	if st == nil {
		st = NewState()
	}
	return e.root.eval(env, st.sites)
}

// constEnv is the nullary evaluation context used for parse-time constant
// folding (spec §4.2: "values after scale may be expressions, evaluated
// once at parse time against a nullary context — only numeric literals and
// math functions allowed").
type constEnv struct{}

func (constEnv) Resolve(string) (float64, bool) { return 0, false }
func (constEnv) Array(string) ([]float64, bool) { return nil, false }
func (constEnv) Table(string) (IncTable, bool)  { return nil, false }

// EvalConst evaluates an expression that must be a closed-form numeric
// constant: no identifiers, no table()/arrayValue() lookups. Used by the
// definition parser to fold scale/translate/min/max expressions at load
// time (spec §4.2).
func EvalConst(src string) (float64, error) {
	e, err := Parse(src)
	if err != nil {
		return 0, err
	}
	return e.Eval(constEnv{}, NewState())
}

// IncTable is a preloaded lookup table referenced by table(fileId, input,
// axis) (spec §4.1). Two concrete shapes exist:
//   - XY pairs: linear interpolation between adjacent points; values
//     outside the domain are clamped to the nearest endpoint (no
//     extrapolation).
//   - Indexed: a flat byte/word array addressed directly by a rounded,
//     clamped index.
type IncTable interface {
	// Lookup returns the table's value for input along the named axis
	// ("x" selects the primary/forward lookup; implementations may ignore
	// axis entirely for single-axis tables).
	Lookup(input float64, axis string) (float64, error)
}
