package payments

import (
	"github.com/shopspring/decimal"
)

// DefaultTolerance is the absolute difference accepted between the expected
// and captured settlement amounts.
var DefaultTolerance = decimal.RequireFromString("0.02")

// Conversion holds the settlement currency rules for a provider.
type Conversion struct {
	// ExchangeRate is local currency units per settlement unit.
	ExchangeRate decimal.Decimal
	MinAmount    decimal.Decimal
	Currency     string
	Tolerance    decimal.Decimal
}

// ToSettlement converts a local total into the settlement currency rounded
// to two decimals.
func (c Conversion) ToSettlement(total decimal.Decimal) decimal.Decimal {
	if c.ExchangeRate.Sign() <= 0 {
		return total.Round(2)
	}
	return total.Div(c.ExchangeRate).Round(2)
}

// BelowMinimum reports whether amount cannot be transacted
func (c Conversion) BelowMinimum(amount decimal.Decimal) bool {
	return amount.LessThan(c.MinAmount) || amount.Sign() <= 0
}

// WithinTolerance reports whether captured is close enough to expected
func (c Conversion) WithinTolerance(expected, captured decimal.Decimal) bool {
	tol := c.Tolerance
	if tol.IsZero() {
		tol = DefaultTolerance
	}
	return expected.Sub(captured).Abs().LessThanOrEqual(tol)
}
