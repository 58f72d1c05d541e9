package extraction

import (
	"strings"

	"github.com/shopspring/decimal"
)

// microExponent converts micro denominations into canonical units.
const microExponent = 6

// ParseAmount parses an amount attribute into canonical units.
//
// Accepted forms:
//   - bare digits ("1234567") are micro units and are divided by 1e6
//   - comma-separated coin lists ("500000uusd,2000ukrw"); the entry in denom
//     is used and divided by 1e6
//   - plain decimals ("1.5") are taken as already canonical
//
// Anything else, and negative values, report false.
func ParseAmount(value, denom string) (decimal.Decimal, bool) {
	text := strings.TrimSpace(value)
	if text == "" {
		return decimal.Zero, false
	}

	if denom != "" && strings.Contains(text, denom) {
		for _, part := range strings.Split(text, ",") {
			part = strings.TrimSpace(part)
			if !strings.HasSuffix(part, denom) {
				continue
			}
			return parseMicro(strings.TrimSuffix(part, denom))
		}
		return decimal.Zero, false
	}

	if isDigits(text) {
		return parseMicro(text)
	}

	d, err := decimal.NewFromString(text)
	if err != nil || d.IsNegative() {
		return decimal.Zero, false
	}
	return d, true
}

func parseMicro(text string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(text)
	if err != nil || d.IsNegative() {
		return decimal.Zero, false
	}
	return d.Shift(-microExponent), true
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
