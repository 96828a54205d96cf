package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"korean-tutor-billing/internal/domain"
)

// Rates is a fixed conversion table: units of each currency per one unit of Base.
type Rates struct {
	Base    string
	PerBase map[string]decimal.Decimal
}

// DefaultRates is the static USD-based table used when config has no override.
func DefaultRates() Rates {
	return Rates{
		Base: "USD",
		PerBase: map[string]decimal.Decimal{
			"USD": decimal.NewFromInt(1),
			"INR": decimal.NewFromInt(83),
			"KRW": decimal.NewFromInt(1330),
			"EUR": decimal.RequireFromString("0.92"),
			"GBP": decimal.RequireFromString("0.79"),
			"JPY": decimal.NewFromInt(150),
		},
	}
}

// NewRates builds a table from config strings such as {"INR": "83.10"}.
// The base currency is forced to 1.
func NewRates(base string, table map[string]string) (Rates, error) {
	base = strings.ToUpper(base)
	if _, err := LookupCurrency(base); err != nil {
		return Rates{}, err
	}
	r := Rates{Base: base, PerBase: map[string]decimal.Decimal{base: decimal.NewFromInt(1)}}
	for code, v := range table {
		code = strings.ToUpper(code)
		if _, err := LookupCurrency(code); err != nil {
			return Rates{}, err
		}
		d, err := decimal.NewFromString(v)
		if err != nil || !d.IsPositive() {
			return Rates{}, fmt.Errorf("%w: rate for %s must be a positive number", domain.ErrInvalidArgument, code)
		}
		if code != base {
			r.PerBase[code] = d
		}
	}
	return r, nil
}

// Convert moves an amount between currencies without rounding. Callers round
// once at the end with Round.
func (r Rates) Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return amount, nil
	}
	fr, ok := r.PerBase[from]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no rate for %s", domain.ErrUnsupportedCurrency, from)
	}
	tr, ok := r.PerBase[to]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no rate for %s", domain.ErrUnsupportedCurrency, to)
	}
	return amount.Mul(tr).Div(fr), nil
}

func (r Rates) Supports(code string) bool {
	_, ok := r.PerBase[strings.ToUpper(code)]
	return ok
}
