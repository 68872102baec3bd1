// Package render formats snapshots and alerts for terminal output.
package render

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatCurrency renders a USD amount with thousands separators: two decimals
// at or above 1, up to six below.
func FormatCurrency(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	d := decimal.NewFromFloat(v)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Abs()
	}

	var s string
	if d.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		s = d.StringFixed(2)
	} else {
		s = d.Round(6).String()
		intPart, frac, _ := strings.Cut(s, ".")
		for len(frac) < 2 {
			frac += "0"
		}
		s = intPart + "." + frac
	}

	intPart, frac, _ := strings.Cut(s, ".")
	return sign + "$" + groupThousands(intPart) + "." + frac
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// FormatPercent renders v with two decimals and a plus sign when positive.
func FormatPercent(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0.00%"
	}
	s := decimal.NewFromFloat(v).StringFixed(2)
	if v > 0 {
		s = "+" + s
	}
	if s == "-0.00" {
		s = "0.00"
	}
	return s + "%"
}

// FormatLargeNumber abbreviates with K, M, B or T suffixes.
func FormatLargeNumber(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	d := decimal.NewFromFloat(v)
	units := []struct {
		exp    int32
		suffix string
	}{
		{12, "T"},
		{9, "B"},
		{6, "M"},
		{3, "K"},
	}
	for _, u := range units {
		scale := decimal.New(1, u.exp)
		if d.GreaterThanOrEqual(scale) {
			return d.Div(scale).StringFixed(2) + u.suffix
		}
	}
	return d.StringFixed(2)
}

// FormatRatio renders a multiplier such as relative volume, e.g. "5.20x".
func FormatRatio(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	return decimal.NewFromFloat(v).StringFixed(2) + "x"
}
