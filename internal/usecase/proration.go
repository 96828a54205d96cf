// File: internal/usecase/proration.go
package usecase

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"korean-tutor-billing/internal/domain"
	"korean-tutor-billing/internal/domain/model"
	"korean-tutor-billing/internal/domain/ports/adapter"
	"korean-tutor-billing/internal/pricing"
)

// daysPerMonth is the billing approximation used for daily rates.
const daysPerMonth = 30

// Plausibility band: a stored amount is believable if it sits within
// [minPlausibleRatio, maxPlausibleRatio] of the catalog price for its plan.
var (
	minPlausibleRatio = decimal.RequireFromString("0.25")
	maxPlausibleRatio = decimal.NewFromInt(4)
	// used when the stored plan is not in the catalog; USD-equivalent floor
	minPlausibleUSD = decimal.RequireFromString("0.50")
)

// UpgradeQuote is the credit a live subscription contributes to a new plan.
type UpgradeQuote struct {
	IsUpgrade         bool
	Credit            decimal.Decimal // major units of Currency
	CreditMinor       int64
	RemainingDays     int
	Currency          string
	CurrencyConverted bool
	// Reinterpretation applied to the stored amount; empty when it was used as stored.
	Repair string
}

// ProrationCalculator computes credit for the unused part of a billing period.
type ProrationCalculator struct {
	catalog *pricing.Catalog
	clock   adapter.Clock
}

func NewProrationCalculator(catalog *pricing.Catalog, clock adapter.Clock) *ProrationCalculator {
	if clock == nil {
		clock = adapter.SystemClock
	}
	return &ProrationCalculator{catalog: catalog, clock: clock}
}

// CalculateUpgrade quotes the credit from existing toward newPlan priced in
// currency. A same-rank or lower-rank target is not an upgrade and carries no
// credit. Stored pricing that cannot be made plausible yields
// domain.ErrImplausiblePricing.
func (c *ProrationCalculator) CalculateUpgrade(existing *model.Subscription, newPlan pricing.Plan, currency string) (*UpgradeQuote, error) {
	currency = strings.ToUpper(currency)
	q := &UpgradeQuote{Currency: currency, Credit: decimal.Zero}
	if existing == nil {
		return q, nil
	}
	if newPlan.Tier.Rank() <= currentTier(existing).Rank() {
		return q, nil
	}
	q.IsUpgrade = true
	q.RemainingDays = remainingDays(existing.CurrentPeriodEnd, c.clock.Now())
	if q.RemainingDays == 0 {
		return q, nil
	}

	amount, from, repair, err := c.plausibleAmount(existing)
	if err != nil {
		return nil, err
	}
	q.Repair = repair

	// remaining * amount / (interval * 30), multiplied first to keep precision
	periodDays := decimal.NewFromInt(int64(existing.Interval() * daysPerMonth))
	credit := pricing.Round(amount.Mul(decimal.NewFromInt(int64(q.RemainingDays))).Div(periodDays), from)
	if from != currency {
		converted, err := c.catalog.Rates().Convert(credit, from, currency)
		if err != nil {
			return nil, err
		}
		credit = pricing.Round(converted, currency)
		q.CurrencyConverted = true
	}
	if credit.IsNegative() {
		credit = decimal.Zero
	}
	q.Credit = credit
	q.CreditMinor = pricing.ToMinor(credit, currency)
	return q, nil
}

type amountCandidate struct {
	amount   decimal.Decimal
	currency string
	repair   string
}

// plausibleAmount returns the stored amount in major units, repairing the
// two legacy defects seen in old records: amounts saved in major instead of
// minor units, and the INR/USD currency label swapped.
func (c *ProrationCalculator) plausibleAmount(s *model.Subscription) (decimal.Decimal, string, string, error) {
	cur := strings.ToUpper(s.Currency)
	if s.Amount <= 0 {
		return decimal.Zero, "", "", fmt.Errorf("%w: subscription %s has amount %d", domain.ErrImplausiblePricing, s.ID, s.Amount)
	}
	candidates := []amountCandidate{
		{pricing.FromMinor(s.Amount, cur), cur, ""},
		{decimal.NewFromInt(s.Amount), cur, "major_units"},
	}
	if alt := swappedCurrency(cur); alt != "" {
		candidates = append(candidates,
			amountCandidate{pricing.FromMinor(s.Amount, alt), alt, "currency_swapped"},
			amountCandidate{decimal.NewFromInt(s.Amount), alt, "currency_swapped_major_units"},
		)
	}
	best, bestDist := -1, math.Inf(1)
	for i, cand := range candidates {
		ok, dist := c.plausible(s.PlanID, cand.amount, cand.currency)
		if ok && dist < bestDist {
			best, bestDist = i, dist
		}
	}
	if best < 0 {
		return decimal.Zero, "", "", fmt.Errorf("%w: subscription %s amount %d %s for plan %s",
			domain.ErrImplausiblePricing, s.ID, s.Amount, cur, s.PlanID)
	}
	cand := candidates[best]
	return cand.amount, cand.currency, cand.repair, nil
}

// plausible reports whether amount is believable for the plan and how far it
// sits from the catalog price as |ln(amount/price)|. Readings of the same
// stored value can overlap the band, so the closest one wins. Plans missing
// from the catalog only get the floor check and a distance that keeps the
// candidate order.
func (c *ProrationCalculator) plausible(planID string, amount decimal.Decimal, currency string) (bool, float64) {
	if !c.catalog.Rates().Supports(currency) {
		return false, 0
	}
	ref, err := c.catalog.PriceIn(planID, currency)
	if err != nil || !ref.IsPositive() {
		floor, err := c.catalog.Rates().Convert(minPlausibleUSD, "USD", currency)
		if err != nil {
			return false, 0
		}
		return amount.GreaterThanOrEqual(floor), math.MaxFloat64
	}
	ratio := amount.Div(ref)
	if ratio.LessThan(minPlausibleRatio) || ratio.GreaterThan(maxPlausibleRatio) {
		return false, 0
	}
	return true, math.Abs(math.Log(ratio.InexactFloat64()))
}

func swappedCurrency(cur string) string {
	switch cur {
	case "INR":
		return "USD"
	case "USD":
		return "INR"
	default:
		return ""
	}
}

func currentTier(s *model.Subscription) model.Tier {
	if s.PlanTier.Rank() > 0 {
		return s.PlanTier
	}
	t, _, _ := model.ParsePlanID(s.PlanID)
	return t
}

// remainingDays rounds partial days up and never goes below zero.
func remainingDays(periodEnd, now time.Time) int {
	left := periodEnd.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Hours() / 24))
}
