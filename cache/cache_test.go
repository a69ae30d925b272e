package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunecraft/ecucore/definition"
)

func testDefinition() *definition.Definition {
	rpm := &definition.Constant{
		Name: "rpmScale", Page: 0, Offset: 0, Kind: definition.KindU16,
		Scale: 1, Translate: 0, Min: 0, Max: 20000,
	}
	ve := &definition.Constant{
		Name: "veTable", Page: 0, Offset: 2, Kind: definition.KindArray, Storage: definition.KindU8,
		Shape: 4, Scale: 0.5, Translate: 0, Min: 0, Max: 127.5,
	}
	xbins := &definition.Constant{
		Name: "veTableRPM", Page: 0, Offset: 6, Kind: definition.KindArray, Storage: definition.KindU16,
		Shape: 2, Scale: 1, Translate: 0, Min: 0, Max: 20000,
	}
	ybins := &definition.Constant{
		Name: "veTableLoad", Page: 0, Offset: 10, Kind: definition.KindArray, Storage: definition.KindU16,
		Shape: 2, Scale: 1, Translate: 0, Min: 0, Max: 500,
	}
	flags := &definition.Constant{
		Name: "engineFlags", Page: 0, Offset: 14, Kind: definition.KindBitField, Storage: definition.KindU8,
		BitPos: 1, BitSize: 2, BitLabels: []string{"off", "idle", "run", "crank"},
	}
	return &definition.Definition{
		PageSizes: []int{16},
		Constants: map[string]*definition.Constant{
			"rpmScale":    rpm,
			"veTable":     ve,
			"veTableRPM":  xbins,
			"veTableLoad": ybins,
			"engineFlags": flags,
		},
		PCVars: map[string]*definition.Constant{},
		Tables: map[string]*definition.Table{
			"veTable": {
				LogicalName: "veTable", MapName: "veTable", Page: 0,
				ZConst: ve, XConst: xbins, YConst: ybins, Rows: 2, Cols: 2,
			},
		},
	}
}

func TestReadWriteScalarAppliesScaleAndClamps(t *testing.T) {
	def := testDefinition()
	c := New(def)

	require.NoError(t, c.WriteScalar("rpmScale", 4500))
	v, err := c.ReadScalar("rpmScale")
	require.NoError(t, err)
	assert.Equal(t, 4500.0, v)

	require.NoError(t, c.WriteScalar("rpmScale", 999999))
	v, err = c.ReadScalar("rpmScale")
	require.NoError(t, err)
	assert.Equal(t, 20000.0, v)
}

func TestWriteScalarMarksDirtyRange(t *testing.T) {
	def := testDefinition()
	c := New(def)
	require.NoError(t, c.WriteScalar("rpmScale", 100))
	ranges := c.DirtyRanges(0)
	require.Len(t, ranges, 1)
	assert.Equal(t, byteRange{0, 2}, ranges[0])
}

func TestAdjacentDirtyRangesCoalesce(t *testing.T) {
	def := testDefinition()
	c := New(def)
	require.NoError(t, c.WriteScalar("rpmScale", 100)) // bytes [0,2)
	require.NoError(t, c.WriteArray("veTable", []float64{1, 2, 3, 4})) // bytes [2,6)
	ranges := c.DirtyRanges(0)
	require.Len(t, ranges, 1)
	assert.Equal(t, byteRange{0, 6}, ranges[0])
}

func TestClearDirtyResetsRanges(t *testing.T) {
	def := testDefinition()
	c := New(def)
	require.NoError(t, c.WriteScalar("rpmScale", 100))
	c.ClearDirty(0)
	assert.Empty(t, c.DirtyRanges(0))
}

func TestBitFieldReadWriteRoundTrip(t *testing.T) {
	def := testDefinition()
	c := New(def)

	require.NoError(t, c.WriteBits("engineFlags", 2))
	raw, err := c.ReadBits("engineFlags")
	require.NoError(t, err)
	assert.Equal(t, 2, raw)

	label, err := c.ReadBitEnum("engineFlags")
	require.NoError(t, err)
	assert.Equal(t, "run", label)
}

func TestBitFieldWriteLeavesOtherBitsAlone(t *testing.T) {
	def := testDefinition()
	def.Constants["otherBit"] = &definition.Constant{
		Name: "otherBit", Page: 0, Offset: 14, Kind: definition.KindBitField, Storage: definition.KindU8,
		BitPos: 4, BitSize: 1,
	}
	c := New(def)
	require.NoError(t, c.WriteBits("otherBit", 1))
	require.NoError(t, c.WriteBits("engineFlags", 3))

	other, err := c.ReadBits("otherBit")
	require.NoError(t, err)
	assert.Equal(t, 1, other)

	flags, err := c.ReadBits("engineFlags")
	require.NoError(t, err)
	assert.Equal(t, 3, flags)
}

func TestArrayReadWriteRoundTrip(t *testing.T) {
	def := testDefinition()
	c := New(def)
	require.NoError(t, c.WriteArray("veTable", []float64{10, 20, 30, 40}))
	got, err := c.ReadArray("veTable")
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20, 30, 40}, got)
}

func TestArrayWriteWrongLengthErrors(t *testing.T) {
	def := testDefinition()
	c := New(def)
	err := c.WriteArray("veTable", []float64{1, 2})
	assert.Error(t, err)
}

func TestWriteCellTouchesOnlyOneCell(t *testing.T) {
	def := testDefinition()
	c := New(def)
	require.NoError(t, c.WriteArray("veTable", []float64{1, 1, 1, 1}))
	c.ClearDirty(0)

	tbl := def.Tables["veTable"]
	require.NoError(t, c.WriteCell(tbl, 1, 0, 5))

	got, err := c.ReadArray("veTable")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 5, 1}, got)

	ranges := c.DirtyRanges(0)
	require.Len(t, ranges, 1)
	assert.Equal(t, 1, ranges[0].End-ranges[0].Start)
}

func TestReadTableGridReturnsGridAndBins(t *testing.T) {
	def := testDefinition()
	c := New(def)
	require.NoError(t, c.WriteArray("veTable", []float64{10, 20, 30, 40}))
	require.NoError(t, c.WriteArray("veTableRPM", []float64{1000, 5000}))
	require.NoError(t, c.WriteArray("veTableLoad", []float64{50, 100}))

	z, x, y, err := c.ReadTableGrid(def.Tables["veTable"])
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20, 30, 40}, z)
	assert.Equal(t, []float64{1000, 5000}, x)
	assert.Equal(t, []float64{50, 100}, y)
}

func TestPCVariableStaysLocalOnly(t *testing.T) {
	def := testDefinition()
	def.PCVars["dashTheme"] = &definition.Constant{Name: "dashTheme", IsPCVar: true, Min: 0, Max: 10}
	c := New(def)
	require.NoError(t, c.WriteScalar("dashTheme", 3))
	v, err := c.ReadScalar("dashTheme")
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)
	assert.Empty(t, c.DirtyRanges(0))
}

func TestLoadPageClearsDirtyRanges(t *testing.T) {
	def := testDefinition()
	c := New(def)
	require.NoError(t, c.WriteScalar("rpmScale", 100))
	require.NoError(t, c.LoadPage(0, make([]byte, 16)))
	assert.Empty(t, c.DirtyRanges(0))
}

func TestPageSnapshotIsACopy(t *testing.T) {
	def := testDefinition()
	c := New(def)
	snap, err := c.PageSnapshot(0)
	require.NoError(t, err)
	snap[0] = 0xFF
	v, err := c.ReadScalar("rpmScale")
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
}

func TestOfflineModeToggle(t *testing.T) {
	def := testDefinition()
	c := New(def)
	assert.True(t, c.Offline())
	c.SetOffline(false)
	assert.False(t, c.Offline())
}

func TestWriteScalarRoundsNonExactBinaryScale(t *testing.T) {
	def := testDefinition()
	def.Constants["afrTarget"] = &definition.Constant{
		Name: "afrTarget", Page: 0, Offset: 14, Kind: definition.KindU8,
		Scale: 0.1, Translate: 0, Min: 0, Max: 25.5,
	}
	c := New(def)

	// raw=3, scale=0.1 decodes to 0.30000000000000004; re-encoding must still
	// land back on raw byte 3, not 2, despite the float64 scale imprecision.
	b, err := c.rawBytes(0, 14, 1)
	require.NoError(t, err)
	b[0] = 3

	v, err := c.ReadScalar("afrTarget")
	require.NoError(t, err)

	require.NoError(t, c.WriteScalar("afrTarget", v))
	got, err := c.rawBytes(0, 14, 1)
	require.NoError(t, err)
	assert.Equal(t, byte(3), got[0])
}

func TestResolveImplementsExprEnv(t *testing.T) {
	def := testDefinition()
	c := New(def)
	require.NoError(t, c.WriteScalar("rpmScale", 1234))
	v, ok := c.Resolve("rpmScale")
	assert.True(t, ok)
	assert.Equal(t, 1234.0, v)

	_, ok = c.Resolve("doesNotExist")
	assert.False(t, ok)
}
