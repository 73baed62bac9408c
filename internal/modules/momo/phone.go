package momo

import (
	"fmt"
	"strings"
)

// NormalizeMSISDN converts user-entered phone numbers to the international
// format the gateway expects: 0244123456 -> 233244123456. Spaces, dashes and
// a leading plus are stripped first.
func NormalizeMSISDN(raw string) (string, error) {
	s := strings.NewReplacer(" ", "", "-", "", "+", "").Replace(raw)
	if s == "" {
		return "", fmt.Errorf("empty phone number")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("phone number %q contains non-digits", raw)
		}
	}
	switch {
	case strings.HasPrefix(s, "233"):
		return s, nil
	case strings.HasPrefix(s, "0"):
		return "233" + s[1:], nil
	default:
		return "233" + s, nil
	}
}
