// Package textnorm folds Turkish text into a comparable ASCII form.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	lower = cases.Lower(language.Turkish)

	asciiFold = strings.NewReplacer(
		"ı", "i",
		"ğ", "g",
		"ü", "u",
		"ş", "s",
		"ö", "o",
		"ç", "c",
	)
)

// Fold lowercases with Turkish rules, strips diacritics and maps the dotless i.
// The result keeps punctuation and spacing.
func Fold(s string) string {
	s = lower.String(s)
	s = asciiFold.Replace(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Normalize folds s and collapses every run of non-alphanumerics into one space.
func Normalize(s string) string {
	s = Fold(s)
	var b strings.Builder
	space := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}

// Contains reports whether needle occurs in haystack after folding both.
func Contains(haystack, needle string) bool {
	return strings.Contains(Fold(haystack), Fold(needle))
}

// Compare orders two strings case- and accent-insensitively.
func Compare(a, b string) int {
	return strings.Compare(Fold(a), Fold(b))
}
