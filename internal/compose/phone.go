package compose

import (
	"regexp"
	"strings"
)

// numbersInputPattern is the charset accepted by the phone-number
// free-text field: digits, plus, comma, whitespace.
var numbersInputPattern = regexp.MustCompile(`^[0-9+,\s]*$`)

// ValidNumbersInput reports whether input contains only characters the
// phone list field accepts. Callers reject the keystroke (keep the old
// value) when this is false.
func ValidNumbersInput(input string) bool {
	return numbersInputPattern.MatchString(input)
}

// CleanNumber strips whitespace and one leading "+". This is the
// canonical form used to match input numbers against the recipient
// table.
func CleanNumber(number string) string {
	cleaned := strings.Join(strings.Fields(number), "")
	return strings.TrimPrefix(cleaned, "+")
}

// FormatNumber turns a cleaned number into the dialable form: a bare
// 10-digit number gets the default country code prefixed, anything else
// is used as-is (already carries its code).
func FormatNumber(cleaned, countryCode string) string {
	if len(cleaned) == 10 && isDigits(cleaned) {
		return countryCode + cleaned
	}
	return cleaned
}

// SplitNumbers splits a comma-separated phone list, trimming entries and
// dropping empty ones. Duplicates are kept: duplicate inputs produce
// duplicate outbound messages.
func SplitNumbers(numbers string) []string {
	parts := strings.Split(numbers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
