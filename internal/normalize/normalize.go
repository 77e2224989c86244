// SPDX-License-Identifier: MIT

// Package normalize produces the canonical string forms used as identity keys
// throughout airwave. All functions are pure and idempotent: applying any of
// them twice yields the same result as applying them once.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	// accentFolder decomposes characters and removes combining marks, so
	// "Télévision" and "Television" normalize identically.
	accentFolder = transform.Chain(
		norm.NFKD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)

	whitespaceRe = regexp.MustCompile(`\s+`)

	// featClauseRe matches bracketed featuring clauses whose artist list is
	// moved to the collaboration channel.
	featClauseRe = regexp.MustCompile(`(?i)[(\[]\s*(?:feat\.?|ft\.?|featuring)\s+([^)\]]*)[)\]]`)

	// collabSuffixRe matches a trailing collaboration suffix on an artist
	// string; everything at or after the keyword is dropped.
	collabSuffixRe = regexp.MustCompile(`(?i)\b(?:duet|feat\.?|ft\.?|featuring|vs\.?)\b.*$`)

	quoteStripper = strings.NewReplacer(`"`, "", "“", "", "”", "", "«", "", "»", "")

	// numeralCommaRe matches a thousands separator; canonical forms carry
	// bare numerals ("10,000 maniacs" -> "10000 maniacs").
	numeralCommaRe = regexp.MustCompile(`(\d),(\d)`)
)

// stripNumeralCommas removes thousands separators, looping because matches
// may overlap ("1,234,567").
func stripNumeralCommas(s string) string {
	for numeralCommaRe.MatchString(s) {
		s = numeralCommaRe.ReplaceAllString(s, "$1$2")
	}
	return s
}

// edge punctuation stripped from both ends; brackets are deliberately kept so
// balanced parenthesized segments survive cleaning.
const edgePunct = " \t.,;:!?-–—_~'\"`"

// fold lowercases and accent-folds a string.
func fold(s string) string {
	folded, _, err := transform.String(accentFolder, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// collapse squeezes runs of whitespace into single spaces and trims.
func collapse(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// CleanTitle returns the canonical form of a raw title. Bracketed featuring
// clauses are removed from the title; their artist lists are returned
// separately in split order.
func CleanTitle(s string) (clean string, featured []string) {
	s = fold(s)
	for _, m := range featClauseRe.FindAllStringSubmatch(s, -1) {
		featured = append(featured, SplitArtists(m[1])...)
	}
	s = featClauseRe.ReplaceAllString(s, " ")
	s = quoteStripper.Replace(s)
	s = stripNumeralCommas(s)
	s = collapse(s)
	s = strings.Trim(s, edgePunct)
	return collapse(s), featured
}

// CleanArtist returns the canonical form of a raw artist name. A trailing
// collaboration suffix (duet/feat/ft/featuring/vs) is dropped.
func CleanArtist(s string) string {
	s = fold(s)
	s = collabSuffixRe.ReplaceAllString(s, "")
	s = quoteStripper.Replace(s)
	s = stripNumeralCommas(s)
	s = collapse(s)
	s = strings.Trim(s, edgePunct)
	return collapse(s)
}

// artist separators tried longest-first so " duet with " wins over " duet ".
var artistSeparators = []string{
	" duet with ", " duet ", " vs. ", " vs ", " and ", " with ", " & ", " x ", ";", "/",
}

// SplitArtists produces the ordered list of canonical artist names contained
// in a raw artist string. Commas split only when not surrounded by digits, so
// thousands separators inside numerals ("10,000 Maniacs") stay intact.
func SplitArtists(s string) []string {
	lowered := fold(s)
	marked := splitNumeralSafeCommas(lowered)
	for _, sep := range artistSeparators {
		marked = strings.ReplaceAll(marked, sep, "\x00")
	}
	parts := strings.Split(marked, "\x00")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		name := CleanArtist(p)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// splitNumeralSafeCommas replaces separator commas with NUL markers. A comma
// is a separator only when neither the preceding character nor the next
// non-space character is a digit (RE2 has no lookaround, so this is a manual
// scan).
func splitNumeralSafeCommas(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range runes {
		if r != ',' {
			b.WriteRune(r)
			continue
		}
		prevDigit := i > 0 && unicode.IsDigit(runes[i-1])
		nextDigit := false
		for j := i + 1; j < len(runes); j++ {
			if runes[j] == ' ' {
				continue
			}
			nextDigit = unicode.IsDigit(runes[j])
			break
		}
		if prevDigit || nextDigit {
			b.WriteRune(r)
		} else {
			b.WriteRune('\x00')
		}
	}
	return b.String()
}
