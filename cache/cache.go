// Package cache holds the tune cache: the in-memory byte pages
// representing the ECU's tune, plus typed readers/writers that interpret
// those bytes through a definition.Definition's constant/table catalog.
// Its byte-cursor decode style (fixed-width reads in the definition's
// byte order) is grounded directly on the teacher's
// asdu/codec.go Append*/Decode* methods, generalized from ASDU wire
// fields to arbitrary-width ECU constants.
package cache

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/tunecraft/ecucore/definition"
)

// byteRange is a half-open [Start, End) span of dirty bytes within a page.
type byteRange struct {
	Start, End int
}

func (r byteRange) overlaps(o byteRange) bool { return r.Start < o.End && o.Start < r.End }

func (r byteRange) merge(o byteRange) byteRange {
	s := r.Start
	if o.Start < s {
		s = o.Start
	}
	e := r.End
	if o.End > e {
		e = o.End
	}
	return byteRange{s, e}
}

// Cache is the mutable tune state: one byte page per definition page,
// local (software-only) PC-variable values, and a dirty-range tracker per
// page so the protocol layer only has to ship bytes that actually changed.
//
// A Cache is safe for concurrent use: reads take a copy-on-read snapshot
// (spec §5's "session owns one Cache; readers never see a torn page"), and
// writes are serialized by an internal mutex.
type Cache struct {
	def *definition.Definition

	mu          sync.RWMutex
	pages       [][]byte
	dirty       []([]byteRange)
	localValues map[string]float64
	writeThru   bool // true: every Write* call marks dirty but does not auto-burn; session decides burn timing regardless
}

// New creates an empty Cache sized from def's page list. Pages start
// zero-filled; load real tune bytes via LoadPage before use.
func New(def *definition.Definition) *Cache {
	c := &Cache{
		def:         def,
		pages:       make([][]byte, def.NPages()),
		dirty:       make([]([]byteRange), def.NPages()),
		localValues: make(map[string]float64),
	}
	for i, sz := range def.PageSizes {
		c.pages[i] = make([]byte, sz)
	}
	return c
}

// LoadPage replaces a page's bytes wholesale (e.g. after a full read from
// the ECU or from a loaded tune file) and clears its dirty ranges, since
// the incoming bytes are now considered the source of truth.
func (c *Cache) LoadPage(page int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if page < 0 || page >= len(c.pages) {
		return fmt.Errorf("cache: page %d out of range", page)
	}
	if len(data) != len(c.pages[page]) {
		return fmt.Errorf("cache: page %d: got %d bytes, want %d", page, len(data), len(c.pages[page]))
	}
	c.pages[page] = append([]byte(nil), data...)
	c.dirty[page] = nil
	return nil
}

// PageSnapshot returns a copy of one page's current bytes; callers never
// observe a page mid-write.
func (c *Cache) PageSnapshot(page int) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if page < 0 || page >= len(c.pages) {
		return nil, fmt.Errorf("cache: page %d out of range", page)
	}
	return append([]byte(nil), c.pages[page]...), nil
}

// DirtyRanges returns the current coalesced dirty byte ranges for page,
// used by the protocol layer to ship the minimum necessary WriteRange
// calls instead of rewriting an entire page for a single changed cell.
func (c *Cache) DirtyRanges(page int) []byteRange {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if page < 0 || page >= len(c.dirty) {
		return nil
	}
	out := make([]byteRange, len(c.dirty[page]))
	copy(out, c.dirty[page])
	return out
}

// ClearDirty marks page as fully synced (e.g. after a successful
// WriteRange+Burn sequence).
func (c *Cache) ClearDirty(page int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if page >= 0 && page < len(c.dirty) {
		c.dirty[page] = nil
	}
}

func (c *Cache) markDirty(page, start, end int) {
	r := byteRange{start, end}
	merged := []byteRange{r}
	for _, existing := range c.dirty[page] {
		if existing.overlaps(r) || existing.End == r.Start || r.End == existing.Start {
			merged[0] = merged[0].merge(existing)
		} else {
			merged = append(merged, existing)
		}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Start < merged[j].Start })
	c.dirty[page] = merged
}

// rawBytes returns a direct (non-copy) slice into page's bytes at
// [offset, offset+n). Internal only — callers outside this file must go
// through the typed Read*/Write* methods, which hold the lock.
func (c *Cache) rawBytes(page, offset, n int) ([]byte, error) {
	if page < 0 || page >= len(c.pages) {
		return nil, fmt.Errorf("cache: page %d out of range", page)
	}
	p := c.pages[page]
	if offset < 0 || offset+n > len(p) {
		return nil, fmt.Errorf("cache: page %d offset %d+%d out of range (page is %d bytes)", page, offset, n, len(p))
	}
	return p[offset : offset+n], nil
}

// decodeRaw interprets n bytes per storage, in the given byte order, as a
// signed or unsigned integer (spec §3/§4.3.2: byte order is per-definition,
// not fixed).
func decodeRaw(b []byte, storage definition.DataKind, order binary.ByteOrder) (float64, error) {
	switch storage {
	case definition.KindU8:
		return float64(b[0]), nil
	case definition.KindS8:
		return float64(int8(b[0])), nil
	case definition.KindU16:
		return float64(order.Uint16(b)), nil
	case definition.KindS16:
		return float64(int16(order.Uint16(b))), nil
	case definition.KindU32:
		return float64(order.Uint32(b)), nil
	case definition.KindS32:
		return float64(int32(order.Uint32(b))), nil
	case definition.KindF32:
		return float64(math.Float32frombits(order.Uint32(b))), nil
	case definition.KindF64:
		return math.Float64frombits(order.Uint64(b)), nil
	}
	return 0, fmt.Errorf("cache: unsupported raw kind %v", storage)
}

// encodeRaw packs v into b in the given byte order. Integer kinds round to
// the nearest representable value before truncating so a decode-then-encode
// round trip through a non-exact-binary scale (e.g. 0.1) reproduces the
// original raw integer exactly (spec §8).
func encodeRaw(v float64, storage definition.DataKind, order binary.ByteOrder, b []byte) error {
	switch storage {
	case definition.KindU8:
		b[0] = byte(int64(math.Round(v)))
	case definition.KindS8:
		b[0] = byte(int8(int64(math.Round(v))))
	case definition.KindU16:
		order.PutUint16(b, uint16(int64(math.Round(v))))
	case definition.KindS16:
		order.PutUint16(b, uint16(int16(int64(math.Round(v)))))
	case definition.KindU32:
		order.PutUint32(b, uint32(int64(math.Round(v))))
	case definition.KindS32:
		order.PutUint32(b, uint32(int32(int64(math.Round(v)))))
	case definition.KindF32:
		order.PutUint32(b, math.Float32bits(float32(v)))
	case definition.KindF64:
		order.PutUint64(b, math.Float64bits(v))
	default:
		return fmt.Errorf("cache: unsupported raw kind %v", storage)
	}
	return nil
}
