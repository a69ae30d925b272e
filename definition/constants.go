package definition

import (
	"math"
	"strconv"
	"strings"

	"github.com/tunecraft/ecucore/expr"
)

// constantParser tracks the per-page running offset used to resolve the
// "lastOffset" sentinel. A "page = N" directive in the [Constants] section
// switches to page N's own running offset (0 for a page not seen before).
// This mirrors the dialect's own bookkeeping:
// authors lay out a page's constants in order and let the tool compute
// offsets instead of restating them.
type constantParser struct {
	page       int
	lastOffset map[int]int
}

func newConstantParser() *constantParser {
	return &constantParser{lastOffset: make(map[int]int)}
}

func (cp *constantParser) setPage(n int) { cp.page = n }

// parseLine parses one "name = ..." constant declaration. isPC marks
// [PcVariables] entries, which never carry a page/offset (they are
// software-side state, not ECU memory).
func (cp *constantParser) parseLine(name string, fields []string, isPC bool) (*Constant, error) {
	if len(fields) < 2 {
		return nil, defErr("constant %q: too few fields", name)
	}
	category := strings.TrimSpace(fields[0])
	dataTok := strings.TrimSpace(fields[1])
	storage, err := parseDataKind(dataTok)
	if err != nil {
		return nil, defErr("constant %q: %v", name, err)
	}

	c := &Constant{Name: name, Page: cp.page, IsPCVar: isPC, Scale: 1, Min: -math.MaxFloat64, Max: math.MaxFloat64}

	idx := 2
	if !isPC {
		if idx >= len(fields) {
			return nil, defErr("constant %q: missing offset", name)
		}
		off, err := cp.resolveOffset(fields[idx])
		if err != nil {
			return nil, defErr("constant %q: %v", name, err)
		}
		c.Offset = off
		idx++
	}

	var shapeTok string
	if idx < len(fields) && strings.HasPrefix(fields[idx], "[") {
		shapeTok = fields[idx]
		idx++
	}

	switch category {
	case "scalar":
		c.Kind = storage
	case "array":
		c.Kind = KindArray
		c.Storage = storage
		n, err := parseShapeN(shapeTok)
		if err != nil {
			return nil, defErr("constant %q: %v", name, err)
		}
		c.Shape = n
	case "string":
		c.Kind = KindString
		n, err := parseShapeN(shapeTok)
		if err != nil {
			return nil, defErr("constant %q: %v", name, err)
		}
		c.Shape = n
	case "bits":
		c.Kind = KindBitField
		c.Storage = storage
		pos, size, add, err := parseBitSpec(shapeTok)
		if err != nil {
			return nil, defErr("constant %q: %v", name, err)
		}
		c.BitPos, c.BitSize, c.DisplayAdd = pos, size, add
	default:
		return nil, defErr("constant %q: unknown category %q", name, category)
	}

	if idx < len(fields) && strings.HasPrefix(strings.TrimSpace(fields[idx]), "\"") {
		c.Label = unquote(fields[idx])
		idx++
	}
	// Numeric metadata ends at the first quoted field; every field from
	// there on is a bit label.
	numeric := func() bool {
		return idx < len(fields) && !strings.HasPrefix(strings.TrimSpace(fields[idx]), "\"")
	}
	if numeric() {
		c.Scale = evalConstField(fields[idx], 1)
		idx++
	}
	if numeric() {
		c.Translate = evalConstField(fields[idx], 0)
		idx++
	}
	if numeric() {
		c.Min = evalConstField(fields[idx], c.Min)
		idx++
	}
	if numeric() {
		c.Max = evalConstField(fields[idx], c.Max)
		idx++
	}
	if numeric() {
		if n, err := strconv.Atoi(strings.TrimSpace(fields[idx])); err == nil {
			c.Digits = n
			idx++
		}
	}
	for ; idx < len(fields); idx++ {
		c.BitLabels = append(c.BitLabels, unquote(fields[idx]))
	}

	if !isPC {
		cp.lastOffset[cp.page] = c.Offset + c.ByteSize()
	}
	return c, nil
}

func (cp *constantParser) resolveOffset(tok string) (int, error) {
	tok = strings.TrimSpace(tok)
	if tok == "lastOffset" {
		return cp.lastOffset[cp.page], nil
	}
	return strconv.Atoi(tok)
}

// parseShapeN parses a "[N]" array/string length token.
func parseShapeN(tok string) (int, error) {
	tok = strings.TrimSpace(tok)
	if !strings.HasPrefix(tok, "[") || !strings.HasSuffix(tok, "]") {
		return 0, defErr("expected [N] shape, got %q", tok)
	}
	return strconv.Atoi(strings.TrimSpace(tok[1 : len(tok)-1]))
}

// parseBitSpec parses "[bitPos:bitSize]" or its display-offset variant
// "[bitPos:bitSize+N]", where N is added to the raw field value before
// scale/translate is applied (used for constants whose stored integer is
// biased, e.g. a 1-based enum stored 0-based).
func parseBitSpec(tok string) (pos, size, add int, err error) {
	tok = strings.TrimSpace(tok)
	if !strings.HasPrefix(tok, "[") || !strings.HasSuffix(tok, "]") {
		return 0, 0, 0, defErr("expected [bitPos:bitSize] spec, got %q", tok)
	}
	inner := tok[1 : len(tok)-1]
	sizePart := inner
	if i := strings.IndexByte(inner, ':'); i >= 0 {
		posStr := inner[:i]
		sizePart = inner[i+1:]
		pos, err = strconv.Atoi(strings.TrimSpace(posStr))
		if err != nil {
			return 0, 0, 0, defErr("bad bit position in %q", tok)
		}
	} else {
		return 0, 0, 0, defErr("missing ':' in bit spec %q", tok)
	}
	if i := strings.IndexByte(sizePart, '+'); i >= 0 {
		size, err = strconv.Atoi(strings.TrimSpace(sizePart[:i]))
		if err != nil {
			return 0, 0, 0, defErr("bad bit size in %q", tok)
		}
		add, err = strconv.Atoi(strings.TrimSpace(sizePart[i+1:]))
		if err != nil {
			return 0, 0, 0, defErr("bad display offset in %q", tok)
		}
		return pos, size, add, nil
	}
	size, err = strconv.Atoi(strings.TrimSpace(sizePart))
	if err != nil {
		return 0, 0, 0, defErr("bad bit size in %q", tok)
	}
	return pos, size, 0, nil
}

// evalConstField folds an expression field (scale/translate/min/max may be
// arithmetic expressions, not bare literals) at parse time via
// expr.EvalConst. A field that fails to parse or evaluate falls back to def
// rather than aborting the whole load; malformed numeric metadata on one
// constant shouldn't brick the entire definition.
func evalConstField(s string, def float64) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	v, err := expr.EvalConst(s)
	if err != nil {
		return def
	}
	return v
}
