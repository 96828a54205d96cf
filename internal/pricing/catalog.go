package pricing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"korean-tutor-billing/internal/domain"
	"korean-tutor-billing/internal/domain/model"
)

// Plan is a catalog entry. Prices are major units keyed by currency code.
type Plan struct {
	ID       string
	Name     string
	Tier     model.Tier
	Duration model.Duration
	Prices   map[string]decimal.Decimal
	Features model.Features
}

func (p Plan) IntervalCount() int { return p.Duration.IntervalMonths() }

// Catalog is the static plan table. Prices not listed explicitly are derived
// from the canonical currency through the rate table.
type Catalog struct {
	plans     map[string]Plan
	canonical string
	rates     Rates
}

var tierFeatures = map[model.Tier]model.Features{
	model.TierBasic:    {AITutor: true, DailyConversations: 5},
	model.TierStandard: {AITutor: true, DailyConversations: 20, VoiceSessions: true},
	model.TierPro:      {AITutor: true, DailyConversations: -1, VoiceSessions: true, PronunciationCoach: true, OfflinePacks: true},
}

// defaultPrices lists INR and USD prices per plan id.
var defaultPrices = map[string][2]string{
	"basic_monthly":      {"149", "2.99"},
	"basic_quarterly":    {"349", "6.99"},
	"basic_yearly":       {"1199", "23.99"},
	"standard_monthly":   {"169", "3.49"},
	"standard_quarterly": {"399", "7.99"},
	"standard_yearly":    {"1399", "27.99"},
	"pro_monthly":        {"299", "5.99"},
	"pro_quarterly":      {"799", "15.99"},
	"pro_yearly":         {"2799", "55.99"},
}

// DefaultCatalog returns the nine plans (three tiers by three cadences).
func DefaultCatalog(rates Rates) *Catalog {
	plans := make([]Plan, 0, len(defaultPrices))
	for id, p := range defaultPrices {
		tier, dur, _ := model.ParsePlanID(id)
		plans = append(plans, Plan{
			ID:       id,
			Name:     planName(tier, dur),
			Tier:     tier,
			Duration: dur,
			Prices: map[string]decimal.Decimal{
				"INR": decimal.RequireFromString(p[0]),
				"USD": decimal.RequireFromString(p[1]),
			},
			Features: tierFeatures[tier],
		})
	}
	c, _ := NewCatalog("USD", rates, plans)
	return c
}

// NewCatalog validates plans against the id grammar and the canonical currency.
func NewCatalog(canonical string, rates Rates, plans []Plan) (*Catalog, error) {
	canonical = strings.ToUpper(canonical)
	if !rates.Supports(canonical) {
		return nil, fmt.Errorf("%w: canonical currency %s has no rate", domain.ErrUnsupportedCurrency, canonical)
	}
	c := &Catalog{plans: make(map[string]Plan, len(plans)), canonical: canonical, rates: rates}
	for _, p := range plans {
		if _, _, ok := model.ParsePlanID(p.ID); !ok {
			return nil, fmt.Errorf("%w: plan id %q", domain.ErrInvalidArgument, p.ID)
		}
		if _, ok := p.Prices[canonical]; !ok {
			return nil, fmt.Errorf("%w: plan %s has no %s price", domain.ErrInvalidArgument, p.ID, canonical)
		}
		c.plans[p.ID] = p
	}
	return c, nil
}

func (c *Catalog) Canonical() string { return c.canonical }
func (c *Catalog) Rates() Rates      { return c.rates }

// Plan returns a plan by id or domain.ErrUnknownPlan.
func (c *Catalog) Plan(id string) (Plan, error) {
	p, ok := c.plans[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", domain.ErrUnknownPlan, id)
	}
	return p, nil
}

// Plans lists plans by tier rank then period length.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier.Rank() != out[j].Tier.Rank() {
			return out[i].Tier.Rank() < out[j].Tier.Rank()
		}
		return out[i].Duration.IntervalMonths() < out[j].Duration.IntervalMonths()
	})
	return out
}

// PriceIn returns the plan price in currency: the explicit entry when present,
// otherwise the canonical price converted and rounded.
func (c *Catalog) PriceIn(planID, currency string) (decimal.Decimal, error) {
	p, err := c.Plan(planID)
	if err != nil {
		return decimal.Zero, err
	}
	currency = strings.ToUpper(currency)
	if v, ok := p.Prices[currency]; ok {
		return v, nil
	}
	v, err := c.rates.Convert(p.Prices[c.canonical], c.canonical, currency)
	if err != nil {
		return decimal.Zero, err
	}
	return Round(v, currency), nil
}

// Snapshot freezes the plan as bought in currency.
func (c *Catalog) Snapshot(planID, currency string) (model.PlanSnapshot, error) {
	p, err := c.Plan(planID)
	if err != nil {
		return model.PlanSnapshot{}, err
	}
	price, err := c.PriceIn(planID, currency)
	if err != nil {
		return model.PlanSnapshot{}, err
	}
	return model.PlanSnapshot{
		PlanID:         p.ID,
		Name:           p.Name,
		Tier:           p.Tier,
		Duration:       p.Duration,
		IntervalCount:  p.IntervalCount(),
		Currency:       strings.ToUpper(currency),
		OriginalAmount: ToMinor(price, currency),
		Features:       p.Features,
	}, nil
}

func planName(t model.Tier, d model.Duration) string {
	return titleCase(string(t)) + " " + titleCase(string(d))
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
