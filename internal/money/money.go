// Package money holds the rounding and clamping rules shared by pricing,
// payment and the ledger. Every amount that is persisted goes through Round2.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

var (
	Zero    = decimal.Zero
	hundred = decimal.NewFromInt(100)
)

// Round2 rounds half away from zero to cents.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Percent returns base*pct/100 without rounding.
func Percent(base decimal.Decimal, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Div(hundred)
}

func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return Zero
	}
	return d
}

func Clamp(d decimal.Decimal, lo decimal.Decimal, hi decimal.Decimal) decimal.Decimal {
	if d.LessThan(lo) {
		return lo
	}
	if d.GreaterThan(hi) {
		return hi
	}
	return d
}

// ClampPercent bounds a percentage to [0,100].
func ClampPercent(pct decimal.Decimal) decimal.Decimal {
	return Clamp(pct, Zero, hundred)
}

// Parse reads a user-typed amount. A comma is accepted as decimal separator.
func Parse(raw string) (decimal.Decimal, error) {
	value := strings.TrimSpace(raw)
	if strings.Contains(value, ",") && !strings.Contains(value, ".") {
		value = strings.Replace(value, ",", ".", 1)
	}
	return decimal.NewFromString(value)
}

// ParseOrZero is Parse with non-numeric input normalized to zero.
func ParseOrZero(raw string) decimal.Decimal {
	d, err := Parse(raw)
	if err != nil {
		return Zero
	}
	return d
}

func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
