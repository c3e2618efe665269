// SPDX-License-Identifier: MIT

package fsutil

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxFilenameLen = 120

var (
	reservedChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	multiSpace    = regexp.MustCompile(`\s+`)
)

// SanitizeFilename turns an arbitrary title into a safe filename component.
// Unicode is NFKD-normalized with combining marks stripped, reserved
// characters become underscores and the result is capped at 120 runes.
// An empty result falls back to "file".
func SanitizeFilename(name string) string {
	decomposed := norm.NFKD.String(name)

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}

	s := reservedChars.ReplaceAllString(b.String(), "_")
	s = multiSpace.ReplaceAllString(s, " ")
	s = strings.Trim(s, " ._")

	if runes := []rune(s); len(runes) > maxFilenameLen {
		s = strings.TrimRight(string(runes[:maxFilenameLen]), " ._")
	}
	if s == "" {
		return "file"
	}
	return s
}
