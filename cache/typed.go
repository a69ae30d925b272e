package cache

import (
	"fmt"

	"github.com/tunecraft/ecucore/definition"
	"github.com/tunecraft/ecucore/expr"
)

// SetOffline toggles offline mode, which Offline reports. Write* calls
// update the in-memory page and dirty ranges the same way in either mode.
// Nothing flushes accumulated dirty ranges when a connection is made: they
// stay dirty until a caller writes them to the ECU and clears them.
func (c *Cache) SetOffline(offline bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeThru = !offline
}

func (c *Cache) Offline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.writeThru
}

// ReadScalar decodes a scalar (non-bitfield, non-array) constant's current
// value, applying scale/translate: value = raw*Scale + Translate.
func (c *Cache) ReadScalar(name string) (float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	con, err := c.lookupConstant(name)
	if err != nil {
		return 0, err
	}
	if con.IsPCVar {
		return c.localValues[name], nil
	}
	b, err := c.rawBytes(con.Page, con.Offset, con.ByteSize())
	if err != nil {
		return 0, err
	}
	raw, err := decodeRaw(b, con.Kind, c.def.Endianness.ByteOrder())
	if err != nil {
		return 0, err
	}
	return raw*con.Scale + con.Translate, nil
}

// WriteScalar encodes value back into its constant's storage, clamping to
// [Min, Max] first (spec: out-of-range writes clamp rather than error,
// since a UI slider rounding error shouldn't abort a whole burn).
func (c *Cache) WriteScalar(name string, value float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	con, err := c.lookupConstant(name)
	if err != nil {
		return err
	}
	value = clamp(value, con.Min, con.Max)
	if con.IsPCVar {
		c.localValues[name] = value
		return nil
	}
	raw := (value - con.Translate) / nonZero(con.Scale)
	b, err := c.rawBytes(con.Page, con.Offset, con.ByteSize())
	if err != nil {
		return err
	}
	if err := encodeRaw(raw, con.Kind, c.def.Endianness.ByteOrder(), b); err != nil {
		return err
	}
	c.markDirty(con.Page, con.Offset, con.Offset+con.ByteSize())
	return nil
}

// ReadBits decodes a bit-field constant's raw integer value (before
// scale/translate), honoring BitPos/BitSize and the DisplayAdd bias.
func (c *Cache) ReadBits(name string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	con, err := c.lookupConstant(name)
	if err != nil {
		return 0, err
	}
	if con.Kind != definition.KindBitField {
		return 0, fmt.Errorf("cache: %q is not a bit field", name)
	}
	b, err := c.rawBytes(con.Page, con.Offset, con.Storage.ByteSize())
	if err != nil {
		return 0, err
	}
	word, err := decodeRaw(b, con.Storage, c.def.Endianness.ByteOrder())
	if err != nil {
		return 0, err
	}
	mask := (1 << uint(con.BitSize)) - 1
	raw := (int(word) >> uint(con.BitPos)) & mask
	return raw + con.DisplayAdd, nil
}

// ReadBitEnum decodes a bit field and resolves it against the constant's
// BitLabels, returning "" if the raw value has no label.
func (c *Cache) ReadBitEnum(name string) (string, error) {
	raw, err := c.ReadBits(name)
	if err != nil {
		return "", err
	}
	c.mu.RLock()
	con := c.def.Constants[name]
	c.mu.RUnlock()
	if con == nil || raw < 0 || raw >= len(con.BitLabels) {
		return "", nil
	}
	return con.BitLabels[raw], nil
}

// WriteBits sets a bit field's raw integer value, leaving the rest of the
// storage word's other bit fields untouched (read-modify-write).
func (c *Cache) WriteBits(name string, raw int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	con, err := c.lookupConstant(name)
	if err != nil {
		return err
	}
	if con.Kind != definition.KindBitField {
		return fmt.Errorf("cache: %q is not a bit field", name)
	}
	raw -= con.DisplayAdd
	b, err := c.rawBytes(con.Page, con.Offset, con.Storage.ByteSize())
	if err != nil {
		return err
	}
	word, err := decodeRaw(b, con.Storage, c.def.Endianness.ByteOrder())
	if err != nil {
		return err
	}
	mask := (1 << uint(con.BitSize)) - 1
	cleared := int(word) &^ (mask << uint(con.BitPos))
	newWord := cleared | ((raw & mask) << uint(con.BitPos))
	if err := encodeRaw(float64(newWord), con.Storage, c.def.Endianness.ByteOrder(), b); err != nil {
		return err
	}
	c.markDirty(con.Page, con.Offset, con.Offset+con.Storage.ByteSize())
	return nil
}

// ReadArray decodes every element of an Array-kind constant, applying
// scale/translate to each.
func (c *Cache) ReadArray(name string) ([]float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	con, err := c.lookupConstant(name)
	if err != nil {
		return nil, err
	}
	if con.Kind != definition.KindArray {
		return nil, fmt.Errorf("cache: %q is not an array", name)
	}
	elemSize := con.Storage.ByteSize()
	out := make([]float64, con.Shape)
	for i := 0; i < con.Shape; i++ {
		b, err := c.rawBytes(con.Page, con.Offset+i*elemSize, elemSize)
		if err != nil {
			return nil, err
		}
		raw, err := decodeRaw(b, con.Storage, c.def.Endianness.ByteOrder())
		if err != nil {
			return nil, err
		}
		out[i] = raw*con.Scale + con.Translate
	}
	return out, nil
}

// WriteArray writes every element of an Array-kind constant. len(values)
// must equal the constant's declared Shape.
func (c *Cache) WriteArray(name string, values []float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	con, err := c.lookupConstant(name)
	if err != nil {
		return err
	}
	if con.Kind != definition.KindArray {
		return fmt.Errorf("cache: %q is not an array", name)
	}
	if len(values) != con.Shape {
		return fmt.Errorf("cache: %q expects %d elements, got %d", name, con.Shape, len(values))
	}
	elemSize := con.Storage.ByteSize()
	for i, v := range values {
		v = clamp(v, con.Min, con.Max)
		raw := (v - con.Translate) / nonZero(con.Scale)
		b, err := c.rawBytes(con.Page, con.Offset+i*elemSize, elemSize)
		if err != nil {
			return err
		}
		if err := encodeRaw(raw, con.Storage, c.def.Endianness.ByteOrder(), b); err != nil {
			return err
		}
	}
	c.markDirty(con.Page, con.Offset, con.Offset+con.Shape*elemSize)
	return nil
}

// WriteCell writes a single row/col cell of a table's Z grid without
// touching the rest of the table, so a single correction only marks one
// cell's bytes dirty.
func (c *Cache) WriteCell(t *definition.Table, row, col int, value float64) error {
	if row < 0 || row >= t.Rows || col < 0 || col >= t.Cols {
		return fmt.Errorf("cache: table %q cell (%d,%d) out of range", t.LogicalName, row, col)
	}
	idx := row*t.Cols + col
	c.mu.Lock()
	defer c.mu.Unlock()
	con := t.ZConst
	elemSize := con.Storage.ByteSize()
	v := clamp(value, con.Min, con.Max)
	raw := (v - con.Translate) / nonZero(con.Scale)
	b, err := c.rawBytes(con.Page, con.Offset+idx*elemSize, elemSize)
	if err != nil {
		return err
	}
	if err := encodeRaw(raw, con.Storage, c.def.Endianness.ByteOrder(), b); err != nil {
		return err
	}
	c.markDirty(con.Page, con.Offset+idx*elemSize, con.Offset+(idx+1)*elemSize)
	return nil
}

// ReadTableGrid returns a table's Z grid as a flat row-major []float64 of
// length Rows*Cols, alongside its X and Y bin vectors.
func (c *Cache) ReadTableGrid(t *definition.Table) (z, xbins, ybins []float64, err error) {
	z, err = c.ReadArray(t.ZConst.Name)
	if err != nil {
		return nil, nil, nil, err
	}
	xbins, err = c.ReadArray(t.XConst.Name)
	if err != nil {
		return nil, nil, nil, err
	}
	if t.YConst != nil {
		ybins, err = c.ReadArray(t.YConst.Name)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	return z, xbins, ybins, nil
}

func (c *Cache) lookupConstant(name string) (*definition.Constant, error) {
	if con, ok := c.def.Constants[name]; ok {
		return con, nil
	}
	if con, ok := c.def.PCVars[name]; ok {
		return con, nil
	}
	return nil, fmt.Errorf("cache: unknown constant %q", name)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func nonZero(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}

// Resolve, Array, and Table implement expr.Env, letting menu visibility
// and PC-variable expressions reference live constants directly out of
// the cache.
func (c *Cache) Resolve(name string) (float64, bool) {
	v, err := c.ReadScalar(name)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (c *Cache) Array(name string) ([]float64, bool) {
	v, err := c.ReadArray(name)
	if err != nil {
		return nil, false
	}
	return v, true
}

func (c *Cache) Table(string) (expr.IncTable, bool) { return nil, false }

var _ expr.Env = (*Cache)(nil)
