package definition

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// structuralHash computes a content hash over exactly the tuple spec §8
// names: {(name, kind, page, offset, scale, translate)} over the set of
// non-PC constants. Two definitions that hash identically can exchange
// tune files without migration (spec §6.2); two that don't must go through
// the tune-file migration path even if their signatures happen to match. A
// firmware revision that only recalibrates a constant's scale/translate
// without moving it is exactly the kind of change migration exists to
// catch, so both are part of the hashed tuple alongside the layout fields.
func structuralHash(d *Definition) string {
	names := make([]string, 0, len(d.Constants))
	for n := range d.Constants {
		names = append(names, n)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, n := range names {
		c := d.Constants[n]
		fmt.Fprintf(&sb, "%s|%s|%d|%d|%g|%g;",
			c.Name, c.Kind, c.Page, c.Offset, c.Scale, c.Translate)
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}
