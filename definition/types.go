// Package definition parses the tuner's ECU definition file: the catalog of
// constants, tables, output channels, command templates, and menu structure
// that gives meaning to the otherwise opaque byte pages held by the tune
// cache. It is the one component every other piece of the module depends on
// for "what does this byte mean", mirroring the role cs104/config.go and
// asdu/identifier.go play for the IEC side of the teacher: a typed catalog
// plus defaulting/validation, read once at startup and treated as immutable
// afterward.
package definition

import (
	"encoding/binary"
	"fmt"

	"github.com/tunecraft/ecucore/expr"
)

// DataKind is the primitive wire representation of a constant or output
// channel. BitField, Array, and String are composite: BitField constants
// share a byte offset with other bit fields packed into the same storage
// word; Array and String constants occupy Shape consecutive elements.
type DataKind int

const (
	KindU8 DataKind = iota
	KindS8
	KindU16
	KindS16
	KindU32
	KindS32
	KindF32
	KindF64
	KindBitField
	KindArray
	KindString
)

func (k DataKind) String() string {
	switch k {
	case KindU8:
		return "U08"
	case KindS8:
		return "S08"
	case KindU16:
		return "U16"
	case KindS16:
		return "S16"
	case KindU32:
		return "U32"
	case KindS32:
		return "S32"
	case KindF32:
		return "F32"
	case KindF64:
		return "F64"
	case KindBitField:
		return "BitField"
	case KindArray:
		return "Array"
	case KindString:
		return "String"
	}
	return "Unknown"
}

// ByteSize returns the storage width of a scalar/bitfield kind. Array and
// String sizes depend on Shape and are computed by the caller.
func (k DataKind) ByteSize() int {
	switch k {
	case KindU8, KindS8:
		return 1
	case KindU16, KindS16:
		return 2
	case KindU32, KindS32, KindF32:
		return 4
	case KindF64:
		return 8
	}
	return 0
}

func parseDataKind(tok string) (DataKind, error) {
	switch tok {
	case "U08":
		return KindU8, nil
	case "S08":
		return KindS8, nil
	case "U16":
		return KindU16, nil
	case "S16":
		return KindS16, nil
	case "U32":
		return KindU32, nil
	case "S32":
		return KindS32, nil
	case "F32":
		return KindF32, nil
	case "F64":
		return KindF64, nil
	case "ASCII":
		return KindString, nil
	}
	return 0, fmt.Errorf("definition: unknown data type %q", tok)
}

// Constant describes one scalar, bit field, array, or string value living at
// a fixed offset within a tune page.
type Constant struct {
	Name    string
	Page    int
	Offset  int
	Kind    DataKind
	Storage DataKind // for BitField: the underlying word kind (U08/U16/U32)

	// Bit field placement; zero value for non-bitfield kinds.
	BitPos     int
	BitSize    int
	DisplayAdd int // added to the raw bit-field integer before scale/translate

	Shape int // element count, for Array/String kinds; 0 otherwise

	Label      string
	Units      string
	Scale      float64
	Translate  float64
	Min        float64
	Max        float64
	Digits     int
	BitLabels  []string // enum labels for bit fields, index == raw value
	IsPCVar    bool
	Visibility *expr.Expr // optional "visible when" expression, nil if always visible
}

// ByteSize returns how many bytes this constant occupies, including array
// element multiplication.
func (c *Constant) ByteSize() int {
	switch c.Kind {
	case KindArray:
		return c.Storage.ByteSize() * c.Shape
	case KindString:
		return c.Shape
	case KindBitField:
		return c.Storage.ByteSize()
	default:
		return c.Kind.ByteSize()
	}
}

// Table describes a 3D (or 2D, when YConst is nil) correctable map: a Z
// grid of cell values indexed by an X bin vector and an optional Y bin
// vector, each of which is itself a Constant.
type Table struct {
	LogicalName string // stable identity used by the correction engine / UI
	MapName     string // the underlying [TableEditor] map identifier
	Title       string
	Page        int

	ZConst *Constant // the grid of cell values (Array, Rows*Cols elements)
	XConst *Constant // X axis bin vector (Array)
	YConst *Constant // Y axis bin vector (Array); nil for 2D curves

	Rows int // len(YConst), or 1 for a 2D curve
	Cols int // len(XConst)

	// XChannel/YChannel optionally name a realtime.Sample field this table
	// is naturally indexed by (e.g. "rpm", "load"), used by the correction
	// engine to select which axis a live sample maps onto without the user
	// restating it.
	XChannel string
	YChannel string
}

// OutputChannel describes one field of the realtime telemetry block.
type OutputChannel struct {
	Name      string
	Offset    int
	Kind      DataKind
	Scale     float64
	Translate float64
	Units     string
}

// MenuNode is one entry of the UI menu/dialog tree. Only structural and
// visibility information is kept; rendering detail the host UI doesn't need
// for this module's purposes is dropped.
type MenuNode struct {
	Name       string
	Children   []*MenuNode
	Visibility *expr.Expr
	Enable     *expr.Expr
}

// ECUFamily is a coarse classification used to select protocol behavior
// (command set shape, fast-path console availability) that the definition
// file alone does not state explicitly.
type ECUFamily int

const (
	FamilyUnknown ECUFamily = iota
	FamilyA                 // single-page, CRC-framed, no console fast path
	FamilyB                 // multi-page, CRC-framed
	FamilyC                 // console-oriented, optional fast-path text protocol
	FamilyD                 // reserved, no behavioral distinction specified yet
	FamilyE                 // reserved, no behavioral distinction specified yet
)

func (f ECUFamily) String() string {
	switch f {
	case FamilyA:
		return "A"
	case FamilyB:
		return "B"
	case FamilyC:
		return "C"
	case FamilyD:
		return "D"
	case FamilyE:
		return "E"
	}
	return "unknown"
}

// Endianness selects the byte order every raw multi-byte field in this
// definition's pages, output channels, and command templates is packed in
// (spec §3, §4.3.2). It is a property of the ECU/firmware, not of the host,
// so it travels with the Definition rather than being a package-wide
// constant.
type Endianness int

const (
	LittleEndian Endianness = iota
	BigEndian
)

func (e Endianness) String() string {
	if e == BigEndian {
		return "big"
	}
	return "little"
}

// ByteOrder returns the encoding/binary.ByteOrder matching e.
func (e Endianness) ByteOrder() binary.ByteOrder {
	if e == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Timing holds the inter-command delays the protocol layer must respect;
// these are definition-supplied because they vary by ECU family and even by
// firmware revision within a family.
type Timing struct {
	PageActivationDelayMS int
	InterWriteDelayMS     int
	DelayAfterPortOpenMS  int
	OCHBlockSize          int
}

// Definition is the fully parsed, immutable result of loading one
// definition file. Every field is populated during Load; nothing here is
// mutated afterward, so a *Definition may be shared freely across
// goroutines once returned.
type Definition struct {
	Signature  string
	ECUFamily  ECUFamily
	Endianness Endianness

	PageSizes []int // byte size of each page, indexed by page number
	Timing    Timing

	Commands map[string]string // logical command name -> raw template

	Constants map[string]*Constant
	PCVars    map[string]*Constant

	Tables        map[string]*Table // keyed by LogicalName
	tablesByMap   map[string]string // MapName -> LogicalName, for reverse lookup
	OutputChan    map[string]*OutputChannel
	MenuTree      *MenuNode
	DefaultValues map[string]float64

	// UnknownSections preserves any section this parser does not understand,
	// verbatim, keyed by section name, so a definition carrying vendor
	// extensions round-trips instead of silently losing them.
	UnknownSections map[string][]string

	StructuralHash string
}

// TableByMapName resolves a [TableEditor] map identifier back to the table's
// logical name, supporting lookups that arrive keyed by the wire-level map
// name (as tune files and some command templates do) rather than the
// logical name the correction engine and UI use.
func (d *Definition) TableByMapName(mapName string) (*Table, bool) {
	logical, ok := d.tablesByMap[mapName]
	if !ok {
		return nil, false
	}
	t, ok := d.Tables[logical]
	return t, ok
}

// NPages returns the number of tune pages this definition declares.
func (d *Definition) NPages() int { return len(d.PageSizes) }
