// Package money handles donation amounts as integer minor units (cents).
// Gateways speak decimal strings on the wire ("5.00"); everything internal
// stays int64 to avoid float drift.
package money

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Amount is a fixed-point amount in minor units. It unmarshals from either a
// JSON number (5, 5.5) or a decimal string ("5.00") since clients send both.
type Amount int64

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		v, err := ParseMinor(str)
		if err != nil {
			return err
		}
		*a = Amount(v)
		return nil
	}
	v, err := ParseMinor(s)
	if err != nil {
		return err
	}
	*a = Amount(v)
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(FormatMinor(int64(a)))), nil
}

func (a Amount) Cents() int64 { return int64(a) }

// ParseMinor parses a decimal amount with at most two fraction digits into
// minor units. "5", "5.0" and "5.00" all parse to 500.
func ParseMinor(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has more than two decimal places", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	cents := w*100 + f
	if neg {
		cents = -cents
	}
	return cents, nil
}

// FormatMinor renders minor units as a plain decimal string ("5.00"), the
// shape the mobile-money API expects in its amount field.
func FormatMinor(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// FormatWithCurrency is for payer-facing messages: "5.00 GHS".
func FormatWithCurrency(cents int64, currency string) string {
	return FormatMinor(cents) + " " + strings.ToUpper(currency)
}
