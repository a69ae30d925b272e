package expr

import (
	"bufio"
	"io"
	"sort"
	"strconv"
	"strings"
)

// XYTable is an IncTable backed by tab-separated X/Y pairs, linearly
// interpolated between adjacent points. Spec §4.1: "endpoint extrapolation
// disallowed — returns nearest endpoint".
type XYTable struct {
	xs []float64
	ys []float64
}

// ParseXYTable reads a tab- (or whitespace-) separated X/Y pair file: one
// "x  y" pair per non-empty, non-comment line. Lines are sorted by X before
// use so the source file need not be pre-sorted.
func ParseXYTable(r io.Reader) (*XYTable, error) {
	sc := bufio.NewScanner(r)
	t := &XYTable{}
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, syntaxErr(0, "malformed .inc line: "+line)
		}
		x, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, syntaxErr(0, "bad x value: "+fields[0])
		}
		y, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, syntaxErr(0, "bad y value: "+fields[1])
		}
		t.xs = append(t.xs, x)
		t.ys = append(t.ys, y)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(t.xs) == 0 {
		return nil, syntaxErr(0, ".inc table has no data points")
	}
	sort.Sort(t)
	return t, nil
}

func (t *XYTable) Len() int           { return len(t.xs) }
func (t *XYTable) Less(i, j int) bool { return t.xs[i] < t.xs[j] }
func (t *XYTable) Swap(i, j int) {
	t.xs[i], t.xs[j] = t.xs[j], t.xs[i]
	t.ys[i], t.ys[j] = t.ys[j], t.ys[i]
}

// Lookup implements IncTable. axis is ignored; XYTable is a single forward
// lookup from X to Y.
func (t *XYTable) Lookup(input float64, _ string) (float64, error) {
	if input <= t.xs[0] {
		return t.ys[0], nil
	}
	last := len(t.xs) - 1
	if input >= t.xs[last] {
		return t.ys[last], nil
	}
	i := sort.SearchFloat64s(t.xs, input)
	if i < len(t.xs) && t.xs[i] == input {
		return t.ys[i], nil
	}
	// i is the first index with xs[i] > input; interpolate between i-1, i.
	x0, x1 := t.xs[i-1], t.xs[i]
	y0, y1 := t.ys[i-1], t.ys[i]
	frac := (input - x0) / (x1 - x0)
	return y0 + frac*(y1-y0), nil
}

// IndexedTable is an IncTable backed by a flat byte/word array addressed
// directly by a rounded, clamped index (spec §4.1 "indexed byte/word
// table").
type IndexedTable struct {
	values []float64
}

// NewIndexedTable wraps a slice of pre-decoded values for direct indexed
// lookup.
func NewIndexedTable(values []float64) *IndexedTable {
	return &IndexedTable{values: values}
}

// Lookup rounds input to the nearest integer index, clamps it to the table
// bounds, and returns the stored value. axis is ignored.
func (t *IndexedTable) Lookup(input float64, _ string) (float64, error) {
	if len(t.values) == 0 {
		return 0, typeErr(0, "empty indexed table")
	}
	idx := int(input + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(t.values) {
		idx = len(t.values) - 1
	}
	return t.values[idx], nil
}
