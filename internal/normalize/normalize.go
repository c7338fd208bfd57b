// Package normalize produces the canonical form of transaction descriptions
// that rules are matched against.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Version identifies the normalization algorithm. Rules record the version
// their pattern was normalized with; bump it whenever Description changes
// output for any input.
const Version = 1

// volatileDigits is the digit count at which a mixed token is treated as a
// reference number.
const volatileDigits = 4

// Description returns the normalized form of a raw description: accents
// folded, lowercased, punctuation replaced by spaces, volatile numeric tokens
// dropped and whitespace collapsed.
//
// Description is idempotent: Description(Description(s)) == Description(s).
func Description(raw string) string {
	folded := fold(raw)

	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, folded)

	fields := strings.Fields(cleaned)
	kept := fields[:0]
	for _, f := range fields {
		if volatile(f) {
			continue
		}
		kept = append(kept, f)
	}

	return strings.Join(kept, " ")
}

// Pattern normalizes a literal rule pattern. Literal patterns go through the
// same pipeline as descriptions so they compare like for like.
func Pattern(raw string) string {
	return Description(raw)
}

// fold strips diacritics and lowercases. The chain is stable under
// reapplication because its output holds no combining marks and is already
// lowercase and composed.
func fold(s string) string {
	t := transform.Chain(
		norm.NFKD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Map(unicode.ToLower),
		norm.NFC,
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

// volatile reports whether a token is a reference number: purely numeric,
// or alphanumeric with at least volatileDigits digits.
func volatile(token string) bool {
	digits, letters := 0, 0
	for _, r := range token {
		if unicode.IsDigit(r) {
			digits++
		} else {
			letters++
		}
	}
	if digits == 0 {
		return false
	}
	return letters == 0 || digits >= volatileDigits
}
