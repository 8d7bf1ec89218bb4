// Package report renders ledgers, metrics and sweep results for people
// (console tables) and for tools (CSV).
package report

import (
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// Money renders a currency amount with two decimals, rounding half away from zero.
func Money(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Float(v)
	}
	return decimal.NewFromFloat(v).StringFixed(2)
}

// Fixed renders v rounded to places decimals. Infinities print as "inf".
func Fixed(v float64, places int32) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Float(v)
	}
	return decimal.NewFromFloat(v).StringFixed(places)
}

// Percent renders a fraction as a percentage with two decimals.
func Percent(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Float(v)
	}
	return decimal.NewFromFloat(v).Shift(2).StringFixed(2) + "%"
}

// Float renders v losslessly, with "inf" and "-inf" for infinities.
func Float(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ParseFloat reverses Float.
func ParseFloat(s string) (float64, error) {
	switch s {
	case "inf", "+inf":
		return math.Inf(1), nil
	case "-inf":
		return math.Inf(-1), nil
	}
	return strconv.ParseFloat(s, 64)
}
