package compose

import (
	"regexp"

	"github.com/spf13/cast"
)

var placeholderPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// ReplacePlaceholders substitutes {{field}} tokens from row. A token
// whose field is absent (or empty) stays in the text literally; nothing
// is dropped silently and resolution never fails.
func ReplacePlaceholders(text string, row map[string]any) string {
	if text == "" {
		return ""
	}
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		field := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := row[field]
		if !ok {
			return match
		}
		s := cast.ToString(value)
		if s == "" {
			return match
		}
		return s
	})
}
