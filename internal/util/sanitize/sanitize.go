// Package sanitize cleans command lines read from terminals and command files.
//
// It removes characters that break parsing but are invisible to the user:
//   - Windows/Mac line endings
//   - Invisible Unicode characters (zero-width spaces, BOM, etc.)
//
// Whitespace inside the line is left alone, since parameter values may
// contain significant runs of spaces.
package sanitize

import (
	"strings"
)

var invisible = strings.NewReplacer(
	"\u200B", "", // Zero-width space
	"\u200C", "", // Zero-width non-joiner
	"\u200D", "", // Zero-width joiner
	"\uFEFF", "", // Zero-width no-break space (BOM)
	"\u00AD", "", // Soft hyphen
	"\u2060", "", // Word joiner
	"\u180E", "", // Mongolian vowel separator
)

// SanitizeLine strips line endings and invisible characters from one
// command line and trims surrounding whitespace.
func SanitizeLine(line string) string {
	if line == "" {
		return line
	}
	line = strings.TrimRight(line, "\r\n")
	line = strings.ReplaceAll(line, "\r", "")
	line = invisible.Replace(line)
	return strings.TrimSpace(line)
}
