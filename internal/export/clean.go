// Package export renders deterministic CSV and JSONL artifacts from the
// message store. Given an identical store snapshot and identical options,
// output bytes are identical.
package export

import (
	"regexp"
	"strings"
	"unicode"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// CleanText normalizes message text for export: line endings become LF,
// control characters are stripped, runs of whitespace collapse to a single
// space per line, and blank lines are dropped. Non-ASCII content is
// preserved byte-faithfully; no transliteration happens here.
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Map(dropControl, line)
		line = strings.TrimSpace(whitespaceRe.ReplaceAllString(line, " "))
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}

func dropControl(r rune) rune {
	if unicode.IsControl(r) {
		return -1
	}
	return r
}

// HashtagOnly reports whether the cleaned text consists solely of hashtag
// tokens (and is non-empty).
func HashtagOnly(cleaned string) bool {
	fields := strings.Fields(cleaned)
	if len(fields) == 0 {
		return false
	}
	for _, tok := range fields {
		if !strings.HasPrefix(tok, "#") {
			return false
		}
	}
	return true
}
