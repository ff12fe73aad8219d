// Package textnorm folds Spanish text for keyword matching and decodes CSV
// sources that were not exported as UTF-8.
package textnorm

import (
	"fmt"
	"io"
	"strings"
	"unicode"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s and strips diacritics, so "Promoción" and "promocion"
// compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// ContainsFolded reports whether needle occurs in haystack ignoring case and accents.
func ContainsFolded(haystack, needle string) bool {
	return strings.Contains(Fold(haystack), Fold(needle))
}

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == max {
			return s[:i]
		}
		count++
	}
	return s
}

// CollapseSpace replaces every run of whitespace with a single space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NewDecoder wraps r so that it yields UTF-8 regardless of the declared source
// encoding. A UTF-8 byte order mark is removed.
func NewDecoder(r io.Reader, name string) (io.Reader, error) {
	var enc encoding.Encoding
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		enc = xunicode.UTF8BOM
	case "latin-1", "latin1", "iso-8859-1":
		enc = charmap.ISO8859_1
	case "windows-1252", "cp1252":
		enc = charmap.Windows1252
	default:
		return nil, fmt.Errorf("unsupported text encoding %q", name)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}
