// Package sanitize provides text sanitization for outbound customer messages.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	htmlTagRegex    = regexp.MustCompile(`<[^>]*>`)
	whitespaceRegex = regexp.MustCompile(`[ \t]+`)
	blankLinesRegex = regexp.MustCompile(`\n{3,}`)
)

// MaxSMSLength is the longest body accepted by the carrier gateway (ten concatenated segments).
const MaxSMSLength = 1600

// StripHTML removes all HTML tags from a string, making it safe for text-only display.
func StripHTML(s string) string {
	result := htmlTagRegex.ReplaceAllString(s, "")
	result = strings.ReplaceAll(result, "&lt;", "<")
	result = strings.ReplaceAll(result, "&gt;", ">")
	result = strings.ReplaceAll(result, "&amp;", "&")
	result = strings.ReplaceAll(result, "&quot;", "\"")
	result = strings.ReplaceAll(result, "&#39;", "'")
	result = strings.ReplaceAll(result, "&nbsp;", " ")
	// Re-strip after entity decode to catch encoded tags
	result = htmlTagRegex.ReplaceAllString(result, "")
	return strings.TrimSpace(result)
}

// SMSBody converts a rendered template into a plain text message body.
// Runs of spaces collapse, blank lines are limited to one and the result is
// truncated on a rune boundary at MaxSMSLength.
func SMSBody(s string) string {
	result := StripHTML(strings.ReplaceAll(s, "\r\n", "\n"))
	result = whitespaceRegex.ReplaceAllString(result, " ")
	result = blankLinesRegex.ReplaceAllString(result, "\n\n")
	result = strings.TrimSpace(result)

	if utf8.RuneCountInString(result) <= MaxSMSLength {
		return result
	}
	runes := []rune(result)
	return string(runes[:MaxSMSLength])
}
