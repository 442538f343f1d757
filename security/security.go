package security

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Allowed tags for content that may carry basic formatting (post
// bodies rendered as rich text). Everything else is stripped.
var allowedHTMLTags = []string{
	"p", "br", "strong", "b", "em", "i", "u", "a",
	"ul", "ol", "li", "blockquote", "h1", "h2", "h3",
}

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	emailPattern    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// Sanitizer cleans user-provided text before it reaches the services.
// It is a pure transformation layer: quota/budget boundaries assume
// content already passed through here.
type Sanitizer struct {
	strict *bluemonday.Policy
	basic  *bluemonday.Policy
}

func NewSanitizer() *Sanitizer {
	basic := bluemonday.NewPolicy()
	basic.AllowElements(allowedHTMLTags...)
	basic.AllowAttrs("class").Globally()
	basic.AllowAttrs("href", "title").OnElements("a")

	return &Sanitizer{
		strict: bluemonday.StrictPolicy(),
		basic:  basic,
	}
}

// Sanitize strips all markup from text and trims surrounding
// whitespace. Entities introduced by the stripping pass are unescaped
// so plain text like "a < b" survives the round trip.
func (s *Sanitizer) Sanitize(text string) string {
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(text)))
}

// SanitizeHTML keeps the basic formatting tag set and removes
// everything else (scripts, event handlers, iframes, style carriers).
func (s *Sanitizer) SanitizeHTML(text string) string {
	return strings.TrimSpace(s.basic.Sanitize(text))
}

// ValidateUsername reports whether name is acceptable after
// sanitization: at least 3 characters from the allowed charset.
func (s *Sanitizer) ValidateUsername(name string) bool {
	clean := s.Sanitize(name)
	return len(clean) >= 3 && usernamePattern.MatchString(clean)
}

// ValidateEmail reports whether addr looks like a deliverable address.
func (s *Sanitizer) ValidateEmail(addr string) bool {
	return emailPattern.MatchString(strings.TrimSpace(addr))
}
