package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"korean-tutor-billing/internal/domain"
)

// Currency describes how a currency is written and how many minor units it has.
type Currency struct {
	Code     string
	Symbol   string
	Exponent int32
}

var currencies = map[string]Currency{
	"USD": {Code: "USD", Symbol: "$", Exponent: 2},
	"INR": {Code: "INR", Symbol: "₹", Exponent: 2},
	"KRW": {Code: "KRW", Symbol: "₩", Exponent: 0},
	"EUR": {Code: "EUR", Symbol: "€", Exponent: 2},
	"GBP": {Code: "GBP", Symbol: "£", Exponent: 2},
	"JPY": {Code: "JPY", Symbol: "¥", Exponent: 0},
}

// LookupCurrency returns metadata for an ISO code, case-insensitive.
func LookupCurrency(code string) (Currency, error) {
	c, ok := currencies[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return Currency{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedCurrency, code)
	}
	return c, nil
}

// Round rounds a major-unit amount to the currency's precision (half away from zero).
func Round(amount decimal.Decimal, code string) decimal.Decimal {
	c, err := LookupCurrency(code)
	if err != nil {
		return amount.Round(2)
	}
	return amount.Round(c.Exponent)
}

// ToMinor converts a major-unit amount to integer minor units, rounding first.
func ToMinor(amount decimal.Decimal, code string) int64 {
	exp := int32(2)
	if c, err := LookupCurrency(code); err == nil {
		exp = c.Exponent
	}
	return amount.Shift(exp).Round(0).IntPart()
}

// FromMinor converts integer minor units to a major-unit amount.
func FromMinor(minor int64, code string) decimal.Decimal {
	exp := int32(2)
	if c, err := LookupCurrency(code); err == nil {
		exp = c.Exponent
	}
	return decimal.New(minor, -exp)
}

// Format renders an amount with its symbol, e.g. "₹264.90".
func Format(amount decimal.Decimal, code string) string {
	c, err := LookupCurrency(code)
	if err != nil {
		return amount.StringFixed(2) + " " + code
	}
	return c.Symbol + amount.StringFixed(c.Exponent)
}
