package expr

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv map[string]float64

func (e testEnv) Resolve(name string) (float64, bool) { v, ok := e[name]; return v, ok }
func (e testEnv) Array(string) ([]float64, bool)      { return nil, false }
func (e testEnv) Table(string) (IncTable, bool)       { return nil, false }

func TestArithmetic(t *testing.T) {
	e, err := Parse("2 + 3 * 4 - (1 + 1)")
	require.NoError(t, err)
	v, err := e.Eval(testEnv{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 12.0, v)
}

func TestComparisonAndLogical(t *testing.T) {
	e, err := Parse("(rpm > 1000 && tps < 50) || !running")
	require.NoError(t, err)
	v, err := e.Eval(testEnv{"rpm": 2000, "tps": 10, "running": 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	v, err = e.Eval(testEnv{"rpm": 500, "tps": 10, "running": 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
}

func TestUndefinedIdentifier(t *testing.T) {
	e, err := Parse("foo + 1")
	require.NoError(t, err)
	_, err = e.Eval(testEnv{}, nil)
	require.Error(t, err)
	var xerr *Error
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, KindUndefined, xerr.Kind)
	assert.Equal(t, "foo", xerr.Name)
}

func TestDivByZeroYieldsInf(t *testing.T) {
	e, err := Parse("5 / 0")
	require.NoError(t, err)
	v, err := e.Eval(testEnv{}, nil)
	require.NoError(t, err)
	assert.True(t, math.IsInf(v, 1))
}

func TestIfAndMinMax(t *testing.T) {
	e, err := Parse("if(rpm > 3000, max(1, 2), min(1, 2))")
	require.NoError(t, err)
	v, err := e.Eval(testEnv{"rpm": 4000}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)

	v, err = e.Eval(testEnv{"rpm": 1000}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
}

func TestStatefulLastValue(t *testing.T) {
	e, err := Parse("lastValue(x)")
	require.NoError(t, err)
	st := NewState()

	v, err := e.Eval(testEnv{"x": 10}, st)
	require.NoError(t, err)
	assert.Equal(t, 10.0, v) // first call: no prior value, returns current

	v, err = e.Eval(testEnv{"x": 20}, st)
	require.NoError(t, err)
	assert.Equal(t, 10.0, v) // returns the previous call's value

	v, err = e.Eval(testEnv{"x": 99}, st)
	require.NoError(t, err)
	assert.Equal(t, 20.0, v)
}

func TestStatefulAccumulate(t *testing.T) {
	e, err := Parse("accumulate(x)")
	require.NoError(t, err)
	st := NewState()

	total := 0.0
	for _, x := range []float64{1, 2, 3, 4} {
		v, err := e.Eval(testEnv{"x": x}, st)
		require.NoError(t, err)
		total += x
		assert.Equal(t, total, v)
	}
}

func TestStatefulStateIsPerCallSite(t *testing.T) {
	// Two distinct lastValue() call sites in the same expression must not
	// share state.
	e, err := Parse("lastValue(x) + lastValue(y)")
	require.NoError(t, err)
	st := NewState()
	v1, err := e.Eval(testEnv{"x": 1, "y": 100}, st)
	require.NoError(t, err)
	v2, err := e.Eval(testEnv{"x": 2, "y": 200}, st)
	require.NoError(t, err)
	assert.Equal(t, 1.0+100.0, v1)
	assert.Equal(t, 1.0+100.0, v2) // both sites return prior values
}

func TestStatefulStateIsolatedAcrossInstances(t *testing.T) {
	e, err := Parse("lastValue(x)")
	require.NoError(t, err)
	stA := NewState()
	stB := NewState()
	_, err = e.Eval(testEnv{"x": 5}, stA)
	require.NoError(t, err)
	v, err := e.Eval(testEnv{"x": 7}, stB) // fresh state: first call
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)
}

func TestXYTableInterpolation(t *testing.T) {
	tbl, err := ParseXYTable(strings.NewReader("0\t0\n10\t100\n20\t50\n"))
	require.NoError(t, err)

	v, err := tbl.Lookup(5, "x")
	require.NoError(t, err)
	assert.Equal(t, 50.0, v)

	// Below domain: nearest endpoint, no extrapolation.
	v, err = tbl.Lookup(-5, "x")
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)

	// Above domain: nearest endpoint.
	v, err = tbl.Lookup(100, "x")
	require.NoError(t, err)
	assert.Equal(t, 50.0, v)
}

func TestIndexedTableClampsAndRounds(t *testing.T) {
	tbl := NewIndexedTable([]float64{1, 2, 3, 4})
	v, _ := tbl.Lookup(1.6, "")
	assert.Equal(t, 3.0, v)
	v, _ = tbl.Lookup(-3, "")
	assert.Equal(t, 1.0, v)
	v, _ = tbl.Lookup(99, "")
	assert.Equal(t, 4.0, v)
}

func TestEvalConstRejectsIdentifiers(t *testing.T) {
	_, err := EvalConst("rpm * 2")
	require.Error(t, err)
}

func TestEvalConstFoldsMath(t *testing.T) {
	v, err := EvalConst("1 / 256 * 100")
	require.NoError(t, err)
	assert.InDelta(t, 0.390625, v, 1e-9)
}

func TestSyntaxError(t *testing.T) {
	_, err := Parse("1 +")
	require.Error(t, err)
	var xerr *Error
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, KindSyntax, xerr.Kind)
}
