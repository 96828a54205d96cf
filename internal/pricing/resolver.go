package pricing

import (
	"strings"

	"github.com/shopspring/decimal"

	"korean-tutor-billing/internal/domain/model"
)

// Price is a plan price localised for a caller.
type Price struct {
	PlanID      string
	Amount      decimal.Decimal
	AmountMinor int64
	Currency    string
	Symbol      string
}

func (p Price) String() string { return Format(p.Amount, p.Currency) }

// Resolver picks the display/charge currency for a caller and prices plans in it.
type Resolver struct {
	catalog  *Catalog
	fallback string
}

func NewResolver(catalog *Catalog, fallback string) *Resolver {
	fallback = strings.ToUpper(fallback)
	if !catalog.Rates().Supports(fallback) {
		fallback = catalog.Canonical()
	}
	return &Resolver{catalog: catalog, fallback: fallback}
}

func (r *Resolver) Catalog() *Catalog { return r.catalog }

// CurrencyFor maps a locale to a supported currency, else the fallback.
func (r *Resolver) CurrencyFor(sig model.LocaleSignal) string {
	if c, ok := CurrencyForCountry(sig.Country); ok && r.catalog.Rates().Supports(c) {
		return c
	}
	return r.fallback
}

// Resolve prices planID for the caller. Unknown plans yield domain.ErrUnknownPlan.
func (r *Resolver) Resolve(planID string, sig model.LocaleSignal) (Price, error) {
	return r.PriceIn(planID, r.CurrencyFor(sig))
}

// PriceIn prices planID in an explicit currency.
func (r *Resolver) PriceIn(planID, currency string) (Price, error) {
	amount, err := r.catalog.PriceIn(planID, currency)
	if err != nil {
		return Price{}, err
	}
	c, err := LookupCurrency(currency)
	if err != nil {
		return Price{}, err
	}
	return Price{
		PlanID:      planID,
		Amount:      amount,
		AmountMinor: ToMinor(amount, c.Code),
		Currency:    c.Code,
		Symbol:      c.Symbol,
	}, nil
}

// PlanPrice pairs a catalog plan with its localised price.
type PlanPrice struct {
	Plan  Plan
	Price Price
}

// ListPlans prices the whole catalog for one caller.
func (r *Resolver) ListPlans(sig model.LocaleSignal) ([]PlanPrice, error) {
	currency := r.CurrencyFor(sig)
	plans := r.catalog.Plans()
	out := make([]PlanPrice, 0, len(plans))
	for _, p := range plans {
		price, err := r.PriceIn(p.ID, currency)
		if err != nil {
			return nil, err
		}
		out = append(out, PlanPrice{Plan: p, Price: price})
	}
	return out, nil
}
