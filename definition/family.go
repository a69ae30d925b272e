package definition

import "strings"

// detectFamily classifies an ECU definition when the file does not state
// its family explicitly via a "[TunerStudio] ecuFamily = X" directive. The
// heuristic mirrors how the original tooling actually behaves: it looks at
// the signature string and the page count, since neither alone is reliable
// (some single-page firmwares still expose a console, and some
// multi-page firmwares don't).
func detectFamily(explicit string, signature string, nPages int) ECUFamily {
	switch strings.ToUpper(strings.TrimSpace(explicit)) {
	case "A":
		return FamilyA
	case "B":
		return FamilyB
	case "C":
		return FamilyC
	case "D":
		return FamilyD
	case "E":
		return FamilyE
	}

	sig := strings.ToLower(signature)
	switch {
	case strings.Contains(sig, "speeduino"):
		return FamilyC
	case strings.Contains(sig, "rusefi"):
		return FamilyC
	case nPages <= 1:
		return FamilyA
	default:
		return FamilyB
	}
}
