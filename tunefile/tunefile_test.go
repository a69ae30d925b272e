package tunefile

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunecraft/ecucore/cache"
	"github.com/tunecraft/ecucore/definition"
)

func sampleDefinition() *definition.Definition {
	rpm := &definition.Constant{
		Name: "rpmLimit", Page: 0, Offset: 0, Kind: definition.KindU16,
		Scale: 1, Translate: 0, Min: 0, Max: 9000,
	}
	ve := &definition.Constant{
		Name: "veTable", Page: 0, Offset: 2, Kind: definition.KindArray, Storage: definition.KindU8,
		Shape: 4, Scale: 0.5, Min: 0, Max: 127.5,
	}
	theme := &definition.Constant{Name: "uiTheme", IsPCVar: true, Min: 0, Max: 5}
	def := &definition.Definition{
		Signature:      "speeduino 202310",
		PageSizes:      []int{16},
		Constants:      map[string]*definition.Constant{"rpmLimit": rpm, "veTable": ve},
		PCVars:         map[string]*definition.Constant{"uiTheme": theme},
		StructuralHash: "deadbeef",
	}
	return def
}

func TestSaveLoadRoundTripsScalarsAndArrays(t *testing.T) {
	def := sampleDefinition()
	c := cache.New(def)
	require.NoError(t, c.WriteScalar("rpmLimit", 7000))
	require.NoError(t, c.WriteArray("veTable", []float64{10, 20, 30, 40}))
	require.NoError(t, c.WriteScalar("uiTheme", 2))

	doc, err := Save(def, c, "tester", "initial tune", "2026-07-29T00:00:00Z")
	require.NoError(t, err)
	data, err := Marshal(doc)
	require.NoError(t, err)

	c2 := cache.New(def)
	report, err := Load(def, c2, data)
	require.NoError(t, err)
	assert.False(t, report.StructuralHashChanged)
	assert.False(t, report.Incompatible)

	v, err := c2.ReadScalar("rpmLimit")
	require.NoError(t, err)
	assert.Equal(t, 7000.0, v)

	arr, err := c2.ReadArray("veTable")
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20, 30, 40}, arr)

	theme, err := c2.ReadScalar("uiTheme")
	require.NoError(t, err)
	assert.Equal(t, 2.0, theme)
}

func TestLoadFlagsStructuralHashChange(t *testing.T) {
	def := sampleDefinition()
	c := cache.New(def)
	doc, err := Save(def, c, "tester", "", "2026-07-29T00:00:00Z")
	require.NoError(t, err)
	data, err := Marshal(doc)
	require.NoError(t, err)

	changed := sampleDefinition()
	changed.StructuralHash = "somethingdifferent"
	c2 := cache.New(changed)
	report, err := Load(changed, c2, data)
	require.NoError(t, err)
	assert.True(t, report.StructuralHashChanged)
}

func TestLoadFlagsIncompatibleSignature(t *testing.T) {
	def := sampleDefinition()
	c := cache.New(def)
	doc, err := Save(def, c, "tester", "", "2026-07-29T00:00:00Z")
	require.NoError(t, err)
	data, err := Marshal(doc)
	require.NoError(t, err)

	other := sampleDefinition()
	other.Signature = "a-completely-unrelated-ecu"
	other.StructuralHash = def.StructuralHash
	c2 := cache.New(other)
	report, err := Load(other, c2, data)
	require.NoError(t, err)
	assert.True(t, report.Incompatible)
}

func TestLoadIgnoresUnknownConstantNames(t *testing.T) {
	def := sampleDefinition()
	c := cache.New(def)
	doc, err := Save(def, c, "tester", "", "2026-07-29T00:00:00Z")
	require.NoError(t, err)
	doc.Pages[0].Constants = append(doc.Pages[0].Constants, XMLConst{Name: "ghostConstant", Value: "1"})
	data, err := Marshal(doc)
	require.NoError(t, err)

	c2 := cache.New(def)
	_, err = Load(def, c2, data)
	assert.NoError(t, err)
}

func TestPageDataHexDecoding(t *testing.T) {
	raw, err := hex.DecodeString("deadbeef")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, raw)

	_, err = hex.DecodeString("abc")
	assert.Error(t, err)
}
