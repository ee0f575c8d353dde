package ranking

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount reads a currency amount written the Argentine way
// ("$ 12.345,67") or plainly ("12345.67").
//
// When both separators appear the last one is the decimal point. A lone
// comma is decimal when followed by one or two digits. Several dots are
// thousands separators, and so is a single dot followed by exactly three
// digits.
func ParseAmount(s string) (decimal.Decimal, bool) {
	var b strings.Builder
	negative := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			b.WriteRune(r)
		case r == '-' && b.Len() == 0:
			negative = true
		}
	}
	num := strings.Trim(b.String(), ".,")
	if num == "" {
		return decimal.Decimal{}, false
	}

	lastDot := strings.LastIndex(num, ".")
	lastComma := strings.LastIndex(num, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			num = strings.ReplaceAll(num, ".", "")
			num = strings.Replace(num, ",", ".", 1)
		} else {
			num = strings.ReplaceAll(num, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(num, ",") == 1 && decimals(num, lastComma) <= 2 {
			num = strings.Replace(num, ",", ".", 1)
		} else {
			num = strings.ReplaceAll(num, ",", "")
		}
	case lastDot >= 0:
		if strings.Count(num, ".") > 1 || decimals(num, lastDot) == 3 {
			num = strings.ReplaceAll(num, ".", "")
		}
	}
	if strings.Count(num, ".") > 1 {
		return decimal.Decimal{}, false
	}

	d, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Decimal{}, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}

func decimals(num string, sep int) int {
	return len(num) - sep - 1
}
