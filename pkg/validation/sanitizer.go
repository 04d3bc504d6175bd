package validation

import (
	"regexp"
	"strings"
)

// SanitizeOptions parameterize the external HTML sanitization capability.
type SanitizeOptions struct {
	AllowedTags         []string
	AllowedAttributes   []string
	AllowDataAttributes bool
	URIAllowRegex       *regexp.Regexp
}

// Sanitizer is the external HTML sanitization capability. The engine
// never implements real HTML parsing itself; hosts plug in whatever
// sanitizer their platform provides.
type Sanitizer interface {
	Sanitize(html string, opts SanitizeOptions) (string, error)
}

// CustomSanitizer is a caller-supplied sanitizer function. When set it
// always takes precedence over the Sanitizer capability.
type CustomSanitizer func(input string) (string, error)

// Mode selects the built-in option presets.
const (
	ModeStrict   = "strict"
	ModeModerate = "moderate"
	ModeLoose    = "loose"
)

var (
	strictTags       = []string{"p", "br", "strong", "em", "u", "ol", "ul", "li", "a"}
	strictAttributes = []string{"href", "title"}
	moderateTags     = append(strictTags, "span", "blockquote", "code", "pre", "h1", "h2", "h3", "img")
	moderateAttrs    = append(strictAttributes, "src", "alt", "class")

	moderateURIAllow = regexp.MustCompile(`(?i)^(?:https?|mailto):`)

	tagPattern = regexp.MustCompile(`(?s)<[^>]*>?`)
)

// optionsForMode maps a configured mode to sanitizer options. Loose mode
// takes the caller-supplied tag/attribute lists and permits data
// attributes; unknown modes fall back to strict.
func optionsForMode(mode string, allowedTags, allowedAttrs []string) SanitizeOptions {
	switch mode {
	case ModeLoose:
		return SanitizeOptions{
			AllowedTags:         allowedTags,
			AllowedAttributes:   allowedAttrs,
			AllowDataAttributes: true,
		}
	case ModeModerate:
		return SanitizeOptions{
			AllowedTags:       moderateTags,
			AllowedAttributes: moderateAttrs,
			URIAllowRegex:     moderateURIAllow,
		}
	default:
		return SanitizeOptions{
			AllowedTags:       strictTags,
			AllowedAttributes: strictAttributes,
		}
	}
}

// StripMarkup is the safe fallback when no sanitizer capability is
// supplied or the supplied one fails: remove every tag-like construct
// rather than risk passing unsanitized input through.
func StripMarkup(input string) string {
	return strings.TrimSpace(tagPattern.ReplaceAllString(input, ""))
}

// stripAllSanitizer is the default capability used when the host supplies
// none.
type stripAllSanitizer struct{}

func (stripAllSanitizer) Sanitize(html string, _ SanitizeOptions) (string, error) {
	return StripMarkup(html), nil
}
