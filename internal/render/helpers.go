// Package render produces Graphviz DOT output from unstrip JSONL records.
package render

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

// dotEscape escapes s for a DOT HTML label.
func dotEscape(s string) string { return htmlEscaper.Replace(s) }

// dotID turns a subroutine or symbol name into a DOT identifier. Runes
// outside [A-Za-z0-9_] are hex-encoded so distinct names stay distinct.
func dotID(name string) string {
	var b strings.Builder
	b.WriteString("n_")
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			b.WriteRune(c)
		default:
			fmt.Fprintf(&b, "_%04x", c)
		}
	}
	return b.String()
}

// truncLabel cuts s to at most maxRunes runes, ending in "..." when cut.
// ELF symbol names are not always ASCII, so it never splits a rune.
func truncLabel(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	keep := maxRunes - 3
	for i := range s {
		if keep == 0 {
			return s[:i] + "..."
		}
		keep--
	}
	return s
}
