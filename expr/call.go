package expr

import "math"

func posInf() float64 { return math.Inf(1) }
func negInf() float64 { return math.Inf(-1) }

// callNode is a function call. site is a stable per-node identity used to
// key persistent state for the stateful tracking helpers; it is the call's
// position in parse order within its Expr, assigned at parse time.
type callNode struct {
	name string
	args []node
	pos  int
	site int // index into the owning Expr's call-site table
}

// siteState holds the persistent state for one stateful call site
// (lastValue, minValue, maxValue, accumulate, smoothBasic).
type siteState struct {
	initialized bool
	value       float64 // last/min/max
	sum         float64 // accumulate
}

// siteStates is the per-evaluation-run state table, one entry per call site
// in the owning Expr, persisted across repeated Eval calls by the caller
// holding on to the same *siteStates (see Expr.Eval / NewState).
type siteStates struct {
	m map[int]*siteState
}

func newSiteStates() *siteStates { return &siteStates{m: make(map[int]*siteState)} }

func (s *siteStates) get(site int) *siteState {
	st, ok := s.m[site]
	if !ok {
		st = &siteState{}
		s.m[site] = st
	}
	return st
}

// Env resolves identifiers and provides the array/table lookups needed by
// arrayValue and table(). Implementations typically chain local_values then
// the tune cache (spec §4.1).
type Env interface {
	// Resolve looks up a scalar identifier. ok is false if undefined.
	Resolve(name string) (float64, bool)
	// Array returns the backing slice for an array-typed constant.
	Array(name string) ([]float64, bool)
	// Table resolves a table(fileId, ...) reference to a preloaded .inc
	// table. ok is false if fileId is unknown.
	Table(fileID string) (IncTable, bool)
}

func (n *callNode) eval(env Env, st *siteStates) (float64, error) {
	switch n.name {
	case "min", "max", "pow", "atan2":
		return n.evalBinaryFn(env, st)
	case "abs", "round", "floor", "ceil", "sqrt", "log", "log10", "exp",
		"sin", "cos", "tan", "asin", "acos", "atan", "recip", "isNaN":
		return n.evalUnaryFn(env, st)
	case "if":
		return n.evalIf(env, st)
	case "arrayValue":
		return n.evalArrayValue(env, st)
	case "table":
		return n.evalTable(env, st)
	case "lastValue":
		return n.evalLastValue(env, st)
	case "minValue":
		return n.evalMinMax(env, st, false)
	case "maxValue":
		return n.evalMinMax(env, st, true)
	case "accumulate":
		return n.evalAccumulate(env, st)
	case "smoothBasic":
		return n.evalSmoothBasic(env, st)
	}
	return 0, typeErr(n.pos, "unknown function "+n.name)
}

func (n *callNode) argf(env Env, st *siteStates, i int) (float64, error) {
	if i >= len(n.args) {
		return 0, typeErr(n.pos, "missing argument")
	}
	return n.args[i].eval(env, st)
}

func (n *callNode) evalUnaryFn(env Env, st *siteStates) (float64, error) {
	x, err := n.argf(env, st, 0)
	if err != nil {
		return 0, err
	}
	switch n.name {
	case "abs":
		return math.Abs(x), nil
	case "round":
		return math.Round(x), nil
	case "floor":
		return math.Floor(x), nil
	case "ceil":
		return math.Ceil(x), nil
	case "sqrt":
		return math.Sqrt(x), nil
	case "log":
		return math.Log(x), nil
	case "log10":
		return math.Log10(x), nil
	case "exp":
		return math.Exp(x), nil
	case "sin":
		return math.Sin(x), nil
	case "cos":
		return math.Cos(x), nil
	case "tan":
		return math.Tan(x), nil
	case "asin":
		return math.Asin(x), nil
	case "acos":
		return math.Acos(x), nil
	case "atan":
		return math.Atan(x), nil
	case "recip":
		if x == 0 {
			return divByZeroResult(1), nil
		}
		return 1 / x, nil
	case "isNaN":
		return boolf(math.IsNaN(x)), nil
	}
	return 0, typeErr(n.pos, "unknown unary function "+n.name)
}

func (n *callNode) evalBinaryFn(env Env, st *siteStates) (float64, error) {
	a, err := n.argf(env, st, 0)
	if err != nil {
		return 0, err
	}
	b, err := n.argf(env, st, 1)
	if err != nil {
		return 0, err
	}
	switch n.name {
	case "min":
		return math.Min(a, b), nil
	case "max":
		return math.Max(a, b), nil
	case "pow":
		return math.Pow(a, b), nil
	case "atan2":
		return math.Atan2(a, b), nil
	}
	return 0, typeErr(n.pos, "unknown binary function "+n.name)
}

func (n *callNode) evalIf(env Env, st *siteStates) (float64, error) {
	if len(n.args) != 3 {
		return 0, typeErr(n.pos, "if() requires 3 arguments")
	}
	c, err := n.args[0].eval(env, st)
	if err != nil {
		return 0, err
	}
	if c != 0 {
		return n.args[1].eval(env, st)
	}
	return n.args[2].eval(env, st)
}

func (n *callNode) evalArrayValue(env Env, st *siteStates) (float64, error) {
	if len(n.args) != 2 {
		return 0, typeErr(n.pos, "arrayValue() requires 2 arguments")
	}
	nameNode, ok := n.args[0].(*identNode)
	if !ok {
		return 0, typeErr(n.pos, "arrayValue() first argument must be an identifier")
	}
	arr, ok := env.Array(nameNode.name)
	if !ok {
		return 0, undefinedErr(n.pos, nameNode.name)
	}
	idxF, err := n.args[1].eval(env, st)
	if err != nil {
		return 0, err
	}
	idx := int(idxF)
	if idx < 0 || idx >= len(arr) {
		return 0, typeErr(n.pos, "arrayValue() index out of range")
	}
	return arr[idx], nil
}

func (n *callNode) evalTable(env Env, st *siteStates) (float64, error) {
	if len(n.args) != 3 {
		return 0, typeErr(n.pos, "table() requires 3 arguments (fileId, input, axis)")
	}
	idNode, ok := n.args[0].(*identNode)
	if !ok {
		return 0, typeErr(n.pos, "table() first argument must be a file id")
	}
	tbl, ok := env.Table(idNode.name)
	if !ok {
		return 0, undefinedErr(n.pos, idNode.name)
	}
	input, err := n.argf(env, st, 1)
	if err != nil {
		return 0, err
	}
	axisNode, ok := n.args[2].(*identNode)
	if !ok {
		return 0, typeErr(n.pos, "table() third argument must be an axis name")
	}
	return tbl.Lookup(input, axisNode.name)
}

func (n *callNode) evalLastValue(env Env, st *siteStates) (float64, error) {
	x, err := n.argf(env, st, 0)
	if err != nil {
		return 0, err
	}
	s := st.get(n.site)
	prev := s.value
	if !s.initialized {
		prev = x
	}
	s.value = x
	s.initialized = true
	return prev, nil
}

func (n *callNode) evalMinMax(env Env, st *siteStates, wantMax bool) (float64, error) {
	x, err := n.argf(env, st, 0)
	if err != nil {
		return 0, err
	}
	s := st.get(n.site)
	if !s.initialized {
		s.value = x
		s.initialized = true
		return s.value, nil
	}
	if wantMax {
		if x > s.value {
			s.value = x
		}
	} else {
		if x < s.value {
			s.value = x
		}
	}
	return s.value, nil
}

func (n *callNode) evalAccumulate(env Env, st *siteStates) (float64, error) {
	x, err := n.argf(env, st, 0)
	if err != nil {
		return 0, err
	}
	s := st.get(n.site)
	s.sum += x
	s.initialized = true
	return s.sum, nil
}

// evalSmoothBasic implements an exponential moving average: out = out +
// (in - out) * alpha, where alpha is the second argument. This mirrors the
// dialect's "basic" (single-pole) smoothing filter used for gauge damping
// and slow-channel conditioning.
func (n *callNode) evalSmoothBasic(env Env, st *siteStates) (float64, error) {
	x, err := n.argf(env, st, 0)
	if err != nil {
		return 0, err
	}
	alpha, err := n.argf(env, st, 1)
	if err != nil {
		return 0, err
	}
	s := st.get(n.site)
	if !s.initialized {
		s.value = x
		s.initialized = true
		return s.value, nil
	}
	s.value += (x - s.value) * alpha
	return s.value, nil
}
