package locality

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases, strips accents and collapses whitespace. It is
// idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(input string) string {
	lowered := strings.ToLower(strings.TrimSpace(input))
	stripped, _, err := transform.String(accentStripper, lowered)
	if err != nil {
		stripped = lowered
	}
	return strings.Join(strings.Fields(stripped), " ")
}

// SplitUF separates an optional "/UF" suffix from a locality name:
// "Santos/SP" yields ("santos", "sp"). The returned name is normalized.
func SplitUF(input string) (string, string) {
	if slash := strings.LastIndex(input, "/"); slash >= 0 {
		name := input[:slash]
		uf := strings.TrimSpace(input[slash+1:])
		if len(uf) == 2 {
			return Normalize(name), Normalize(uf)
		}
	}
	return Normalize(input), ""
}
