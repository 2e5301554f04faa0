package utils

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	// Bodies and replies keep the user-generated-content subset of HTML.
	richPolicy = bluemonday.UGCPolicy()
	// Titles and tags are plain text.
	textPolicy = bluemonday.StrictPolicy()
)

// SanitizeHTML returns a safe HTML fragment. Text outside tags comes back
// entity-encoded, so "a < b" is stored as "a &lt; b".
func SanitizeHTML(input string) string {
	return strings.TrimSpace(richPolicy.Sanitize(input))
}

// SanitizeText strips all markup and returns unescaped plain text.
// Clients must escape it when rendering into HTML.
func SanitizeText(input string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(input)))
}
