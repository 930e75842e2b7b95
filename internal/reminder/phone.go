package reminder

import "strings"

const (
	minPhoneDigits = 10
	maxPhoneDigits = 15
)

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")

// NormalizePhone strips common separators and reports whether the result is
// an optional leading plus followed by 10 to 15 digits.
func NormalizePhone(raw string) (string, bool) {
	phone := phoneSeparators.Replace(strings.TrimSpace(raw))
	if phone == "" {
		return "", false
	}

	digits := strings.TrimPrefix(phone, "+")
	if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
		return "", false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return phone, true
}
