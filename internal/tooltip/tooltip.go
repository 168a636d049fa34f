// Package tooltip decodes the hover-tooltip markup the portal attaches to
// schedule blocks into a clean sequence of text lines.
package tooltip

import (
	"html"
	"regexp"
	"strings"
)

var (
	// showtip('...') or showtip("..."); the payload may span lines.
	showtipPattern = regexp.MustCompile(`(?s)showtip\(\s*['"](.*?)['"]\s*\)`)
	tagPattern     = regexp.MustCompile(`<[^>]*>`)

	lineBreaks = strings.NewReplacer(`\r\n`, "\n", `\n`, "\n", "\r\n", "\n", "\r", "\n")
)

// Payload returns the first showtip argument found in an onmouseover
// handler, still encoded.
func Payload(handler string) (string, bool) {
	m := showtipPattern.FindStringSubmatch(handler)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Lines decodes a tooltip payload: entities are unescaped, every tag
// becomes a line break, escaped newlines become real ones, and the result
// is split into trimmed non-empty lines.
func Lines(payload string) []string {
	text := html.UnescapeString(payload)
	text = tagPattern.ReplaceAllString(text, "\n")
	text = lineBreaks.Replace(text)

	raw := strings.Split(text, "\n")
	out := make([]string, 0, len(raw))
	for _, l := range raw {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
