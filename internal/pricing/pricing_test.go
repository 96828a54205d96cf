//go:build !integration

package pricing_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"

	"korean-tutor-billing/internal/domain"
	"korean-tutor-billing/internal/domain/model"
	"korean-tutor-billing/internal/pricing"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRates_RoundTrip(t *testing.T) {
	rates := pricing.DefaultRates()
	amounts := []string{"0.01", "1", "2.99", "149", "399", "1199.99", "12345.67"}
	pairs := [][2]string{{"INR", "USD"}, {"USD", "INR"}, {"INR", "EUR"}, {"GBP", "INR"}, {"USD", "KRW"}}

	for _, pair := range pairs {
		for _, a := range amounts {
			x := d(a)
			there, err := rates.Convert(x, pair[0], pair[1])
			if err != nil {
				t.Fatalf("convert %s %s->%s: %v", a, pair[0], pair[1], err)
			}
			back, err := rates.Convert(there, pair[1], pair[0])
			if err != nil {
				t.Fatalf("convert back: %v", err)
			}
			got := pricing.Round(back, pair[0])
			if got.Sub(x).Abs().GreaterThan(d("0.01")) {
				t.Errorf("%s %s->%s->%s: got %s, want within 0.01", a, pair[0], pair[1], pair[0], got)
			}
		}
	}
}

func TestRates_Unsupported(t *testing.T) {
	_, err := pricing.DefaultRates().Convert(d("1"), "INR", "XYZ")
	if !errors.Is(err, domain.ErrUnsupportedCurrency) {
		t.Fatalf("expected ErrUnsupportedCurrency, got %v", err)
	}
}

func TestNewRates(t *testing.T) {
	t.Run("overrides and forces base to one", func(t *testing.T) {
		r, err := pricing.NewRates("usd", map[string]string{"INR": "80", "USD": "5"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !r.PerBase["USD"].Equal(d("1")) {
			t.Errorf("base rate must be 1, got %s", r.PerBase["USD"])
		}
		got, _ := r.Convert(d("2"), "USD", "INR")
		if !got.Equal(d("160")) {
			t.Errorf("want 160, got %s", got)
		}
	})

	t.Run("rejects non-positive rate", func(t *testing.T) {
		if _, err := pricing.NewRates("USD", map[string]string{"INR": "0"}); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestMinorUnits(t *testing.T) {
	if got := pricing.ToMinor(d("264.90"), "INR"); got != 26490 {
		t.Errorf("INR minor: got %d", got)
	}
	if got := pricing.ToMinor(d("1330.4"), "KRW"); got != 1330 {
		t.Errorf("KRW has no minor units: got %d", got)
	}
	if got := pricing.FromMinor(14900, "INR"); !got.Equal(d("149")) {
		t.Errorf("FromMinor: got %s", got)
	}
	if got := pricing.Format(d("264.9"), "INR"); got != "₹264.90" {
		t.Errorf("Format: got %q", got)
	}
}

func TestCatalog(t *testing.T) {
	c := pricing.DefaultCatalog(pricing.DefaultRates())

	t.Run("lists nine plans ordered by tier", func(t *testing.T) {
		plans := c.Plans()
		if len(plans) != 9 {
			t.Fatalf("want 9 plans, got %d", len(plans))
		}
		if plans[0].ID != "basic_monthly" || plans[8].ID != "pro_yearly" {
			t.Errorf("unexpected order: first=%s last=%s", plans[0].ID, plans[8].ID)
		}
	})

	t.Run("explicit INR price", func(t *testing.T) {
		p, err := c.PriceIn("standard_quarterly", "INR")
		if err != nil || !p.Equal(d("399")) {
			t.Fatalf("want 399, got %s (%v)", p, err)
		}
	})

	t.Run("derived EUR price is rounded", func(t *testing.T) {
		p, err := c.PriceIn("basic_monthly", "EUR")
		if err != nil {
			t.Fatal(err)
		}
		if !p.Equal(d("2.75")) { // 2.99 * 0.92 = 2.7508
			t.Errorf("want 2.75, got %s", p)
		}
	})

	t.Run("unknown plan", func(t *testing.T) {
		if _, err := c.Plan("gold_monthly"); !errors.Is(err, domain.ErrUnknownPlan) {
			t.Fatalf("expected ErrUnknownPlan, got %v", err)
		}
	})

	t.Run("snapshot carries minor amount", func(t *testing.T) {
		s, err := c.Snapshot("basic_monthly", "inr")
		if err != nil {
			t.Fatal(err)
		}
		if s.OriginalAmount != 14900 || s.Currency != "INR" || s.IntervalCount != 1 || s.Tier != model.TierBasic {
			t.Errorf("unexpected snapshot: %+v", s)
		}
	})
}

func TestDetectLocale(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		country string
	}{
		{"cdn header wins", map[string]string{"CF-IPCountry": "in", "Accept-Language": "en-US"}, "IN"},
		{"unknown cdn value falls through", map[string]string{"CF-IPCountry": "XX", "X-Country-Code": "KR"}, "KR"},
		{"accept-language region", map[string]string{"Accept-Language": "ko-KR,ko;q=0.9,en-US;q=0.8"}, "KR"},
		{"language without region", map[string]string{"Accept-Language": "hi"}, "IN"},
		{"nothing", map[string]string{}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tc.headers {
				h.Set(k, v)
			}
			if got := pricing.DetectLocale(h).Country; got != tc.country {
				t.Errorf("want %q, got %q", tc.country, got)
			}
		})
	}
}

func TestResolver(t *testing.T) {
	r := pricing.NewResolver(pricing.DefaultCatalog(pricing.DefaultRates()), "USD")

	t.Run("india pays in rupees", func(t *testing.T) {
		p, err := r.Resolve("basic_monthly", model.LocaleSignal{Country: "IN"})
		if err != nil {
			t.Fatal(err)
		}
		if p.Currency != "INR" || p.AmountMinor != 14900 || p.Symbol != "₹" {
			t.Errorf("unexpected price: %+v", p)
		}
	})

	t.Run("unmapped country falls back", func(t *testing.T) {
		p, err := r.Resolve("basic_monthly", model.LocaleSignal{Country: "BR"})
		if err != nil {
			t.Fatal(err)
		}
		if p.Currency != "USD" || p.AmountMinor != 299 {
			t.Errorf("unexpected price: %+v", p)
		}
	})

	t.Run("zero-decimal currency", func(t *testing.T) {
		p, err := r.Resolve("basic_monthly", model.LocaleSignal{Country: "KR"})
		if err != nil {
			t.Fatal(err)
		}
		// 2.99 * 1330 = 3976.7
		if p.Currency != "KRW" || p.AmountMinor != 3977 {
			t.Errorf("unexpected price: %+v", p)
		}
	})

	t.Run("unknown fallback uses canonical", func(t *testing.T) {
		r2 := pricing.NewResolver(pricing.DefaultCatalog(pricing.DefaultRates()), "XYZ")
		if got := r2.CurrencyFor(model.LocaleSignal{}); got != "USD" {
			t.Errorf("want USD, got %s", got)
		}
	})

	t.Run("list plans in one currency", func(t *testing.T) {
		list, err := r.ListPlans(model.LocaleSignal{Country: "IN"})
		if err != nil {
			t.Fatal(err)
		}
		for _, pp := range list {
			if pp.Price.Currency != "INR" {
				t.Fatalf("plan %s priced in %s", pp.Plan.ID, pp.Price.Currency)
			}
		}
	})
}
