// Package sanitizer strips markup from device-supplied free text before it
// is stored and later shown on the admin dashboard.
package sanitizer

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultMaxLength is the number of runes kept by a default TextSanitizer
const DefaultMaxLength = 2000

// Sanitizer cleans untrusted text
type Sanitizer interface {
	Sanitize(s string) string
}

var (
	scriptBlock   = regexp.MustCompile(`(?i)<script[^>]*>[\s\S]*?</script>`)
	noscriptBlock = regexp.MustCompile(`(?i)<noscript[^>]*>[\s\S]*?</noscript>`)
	styleBlock    = regexp.MustCompile(`(?i)<style[^>]*>[\s\S]*?</style>`)
)

// TextSanitizer reduces input to plain text: script and style blocks are
// dropped with their content, remaining tags are stripped by a strict
// bluemonday policy, entities are decoded and control characters removed.
type TextSanitizer struct {
	policy    *bluemonday.Policy
	maxLength int
}

// NewTextSanitizer creates a TextSanitizer that truncates output to
// maxLength runes. A non-positive maxLength uses DefaultMaxLength.
func NewTextSanitizer(maxLength int) *TextSanitizer {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &TextSanitizer{
		policy:    bluemonday.StrictPolicy(),
		maxLength: maxLength,
	}
}

// Sanitize returns the plain text content of s
func (t *TextSanitizer) Sanitize(s string) string {
	if s == "" {
		return ""
	}

	result := RemoveScripts(s)
	result = t.policy.Sanitize(result)
	result = html.UnescapeString(result)
	result = stripControl(result)
	result = strings.TrimSpace(result)

	if runes := []rune(result); len(runes) > t.maxLength {
		result = string(runes[:t.maxLength])
	}
	return result
}

// RemoveScripts removes script, noscript and style elements and their content
func RemoveScripts(s string) string {
	result := scriptBlock.ReplaceAllString(s, "")
	result = noscriptBlock.ReplaceAllString(result, "")
	return styleBlock.ReplaceAllString(result, "")
}

// stripControl drops control characters other than tab and newline
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
