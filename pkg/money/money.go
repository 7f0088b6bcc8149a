// Package money holds the rounding and arithmetic helpers shared by every
// payroll amount. All monetary outputs pass through Round exactly once.
package money

import (
	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places kept for currency amounts.
const Scale = 2

var (
	hundred = decimal.NewFromInt(100)
	twelve  = decimal.NewFromInt(12)
)

// Round rounds half away from zero to two decimal places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Percent returns pct percent of amount, rounded.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(pct).Div(hundred))
}

// Sum adds the given amounts without intermediate rounding.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Min returns the smaller of two amounts.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the larger of two amounts.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// MonthlyRate converts an annual percentage rate into a monthly fraction.
func MonthlyRate(annualPct decimal.Decimal) decimal.Decimal {
	return annualPct.Div(twelve).Div(hundred)
}

// MustParse parses a literal amount and panics on malformed input. Intended
// for constants and tests.
func MustParse(raw string) decimal.Decimal {
	return decimal.RequireFromString(raw)
}
