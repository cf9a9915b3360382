// Package slug canonicalizes model identifiers into filesystem-safe slugs
// and generates the small set of lookup variants used for tolerant reads.
//
// The canonical form is the only form ever written to disk or stored in
// task records. Variants exist solely to resolve historical directory
// names and must never leak into new paths.
package slug

import (
	"strings"
	"unicode"
)

const (
	underscore = '_'
	hyphen     = '-'
)

// Normalize canonicalizes a model identifier.
//
// Rules, applied in one pass over the lowercased input:
//   - '/' becomes '_'
//   - runs of whitespace become a single '-'
//   - '.' becomes '-' when it sits inside a version-like fragment, i.e.
//     between two digits or between a letter and a digit ("3.5" -> "3-5",
//     "v2.0" -> "v2-0"); other dots are preserved
//   - existing hyphens are preserved
//   - runs of '_' and runs of '-' collapse to a single separator
//
// Normalize is idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	lowered := strings.ToLower(strings.TrimSpace(s))
	runes := []rune(lowered)

	var b strings.Builder

	b.Grow(len(lowered))

	inWhitespace := false

	for i, r := range runes {
		switch {
		case unicode.IsSpace(r):
			if !inWhitespace {
				writeCollapsed(&b, hyphen)
			}

			inWhitespace = true

			continue
		case r == '/':
			writeCollapsed(&b, underscore)
		case r == '.':
			if isVersionDot(runes, i) {
				writeCollapsed(&b, hyphen)
			} else {
				b.WriteRune(r)
			}
		case r == underscore || r == hyphen:
			writeCollapsed(&b, r)
		default:
			b.WriteRune(r)
		}

		inWhitespace = false
	}

	return b.String()
}

// isVersionDot reports whether the dot at index i sits inside a
// version-like fragment: between two digits, or between a letter and a
// digit.
func isVersionDot(runes []rune, i int) bool {
	if i == 0 || i == len(runes)-1 {
		return false
	}

	prev := runes[i-1]
	next := runes[i+1]

	if !unicode.IsDigit(next) {
		return false
	}

	return unicode.IsDigit(prev) || unicode.IsLetter(prev)
}

// writeCollapsed appends r unless the builder already ends with the same
// separator, collapsing repeated '_' and '-' runs.
func writeCollapsed(b *strings.Builder, r rune) {
	out := b.String()
	if len(out) > 0 && rune(out[len(out)-1]) == r {
		return
	}

	b.WriteRune(r)
}

// Variants returns the ordered list of equivalent slug forms used for
// read-side lookups against external directories. The canonical form is
// always first. Later entries restore historical spellings: the
// provider/model boundary with a '/' instead of the first '_', and the
// fully underscored form with every '-' replaced by '_'.
//
// Variants are never used for writes.
func Variants(canonical string) []string {
	variants := []string{canonical}

	if idx := strings.IndexRune(canonical, underscore); idx > 0 {
		restored := canonical[:idx] + "/" + canonical[idx+1:]
		variants = appendUnique(variants, restored)
	}

	underscored := strings.ReplaceAll(canonical, string(hyphen), string(underscore))
	variants = appendUnique(variants, underscored)

	return variants
}

func appendUnique(list []string, candidate string) []string {
	for _, existing := range list {
		if existing == candidate {
			return list
		}
	}

	return append(list, candidate)
}
