package apiv1

import (
	"time"

	"korean-tutor-billing/internal/domain/model"
	"korean-tutor-billing/internal/pricing"
	"korean-tutor-billing/internal/usecase"
)

// Response shapes. Money is returned both as minor units and as a display
// string in the charge currency.

type Money struct {
	AmountMinor int64  `json:"amountMinor"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Display     string `json:"display"`
}

func money(minor int64, currency string) Money {
	d := pricing.FromMinor(minor, currency)
	return Money{
		AmountMinor: minor,
		Amount:      d.StringFixed(exponent(currency)),
		Currency:    currency,
		Display:     pricing.Format(d, currency),
	}
}

func exponent(code string) int32 {
	c, err := pricing.LookupCurrency(code)
	if err != nil {
		return 2
	}
	return c.Exponent
}

type Plan struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Tier          model.Tier     `json:"tier"`
	Duration      model.Duration `json:"duration"`
	IntervalCount int            `json:"intervalCount"`
	Price         Money          `json:"price"`
	Symbol        string         `json:"symbol"`
	Features      model.Features `json:"features"`
}

func planView(pp pricing.PlanPrice) Plan {
	return Plan{
		ID:            pp.Plan.ID,
		Name:          pp.Plan.Name,
		Tier:          pp.Plan.Tier,
		Duration:      pp.Plan.Duration,
		IntervalCount: pp.Plan.IntervalCount(),
		Price:         money(pp.Price.AmountMinor, pp.Price.Currency),
		Symbol:        pp.Price.Symbol,
		Features:      pp.Plan.Features,
	}
}

type Subscription struct {
	ID                 string                    `json:"id"`
	PlanID             string                    `json:"planId"`
	PlanName           string                    `json:"planName"`
	Tier               model.Tier                `json:"tier"`
	Duration           model.Duration            `json:"duration"`
	Status             model.SubscriptionStatus  `json:"status"`
	Price              Money                     `json:"price"`
	Features           model.Features            `json:"features"`
	CurrentPeriodStart time.Time                 `json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time                 `json:"currentPeriodEnd"`
	NextBillingDate    *time.Time                `json:"nextBillingDate,omitempty"`
	AutoRenew          bool                      `json:"autoRenew"`
	CancelAtPeriodEnd  bool                      `json:"cancelAtPeriodEnd"`
	CancelReason       string                    `json:"cancelReason,omitempty"`
	CancelledAt        *time.Time                `json:"cancelledAt,omitempty"`
	ScheduledDowngrade *model.ScheduledDowngrade `json:"scheduledDowngrade,omitempty"`
	PriorPlanID        string                    `json:"priorPlanId,omitempty"`
	ProrationCredit    *Money                    `json:"prorationCredit,omitempty"`
}

func subscriptionView(s *model.Subscription) *Subscription {
	if s == nil {
		return nil
	}
	v := &Subscription{
		ID:                 s.ID,
		PlanID:             s.PlanID,
		PlanName:           s.PlanName,
		Tier:               s.PlanTier,
		Duration:           s.PlanDuration,
		Status:             s.Status,
		Price:              money(s.Amount, s.Currency),
		Features:           s.Features,
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		NextBillingDate:    s.NextBillingDate,
		AutoRenew:          s.AutoRenew,
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		CancelReason:       s.CancelReason,
		CancelledAt:        s.CancelledAt,
		ScheduledDowngrade: s.ScheduledDowngrade,
		PriorPlanID:        s.PriorPlanID,
	}
	if s.AppliedProrationCredit > 0 {
		c := money(s.AppliedProrationCredit, s.Currency)
		v.ProrationCredit = &c
	}
	return v
}

type Order struct {
	ID              string            `json:"id"`
	GatewayOrderID  string            `json:"gatewayOrderId"`
	PlanID          string            `json:"planId"`
	PlanName        string            `json:"planName"`
	Amount          Money             `json:"amount"`
	OriginalAmount  Money             `json:"originalAmount"`
	ProrationCredit Money             `json:"prorationCredit"`
	Status          model.OrderStatus `json:"status"`
	CreatedAt       time.Time         `json:"createdAt"`
	ExpiresAt       time.Time         `json:"expiresAt"`
}

func orderView(o *model.PaymentOrder) Order {
	return Order{
		ID:              o.ID,
		GatewayOrderID:  o.GatewayOrderID,
		PlanID:          o.PlanID,
		PlanName:        o.Plan.Name,
		Amount:          money(o.Amount, o.Currency),
		OriginalAmount:  money(o.OriginalAmount, o.Currency),
		ProrationCredit: money(o.ProrationCredit, o.Currency),
		Status:          o.Status,
		CreatedAt:       o.CreatedAt,
		ExpiresAt:       o.ExpiresAt(),
	}
}

type Transaction struct {
	ID               string                  `json:"id"`
	OrderID          string                  `json:"orderId"`
	GatewayOrderID   string                  `json:"gatewayOrderId"`
	GatewayPaymentID *string                 `json:"gatewayPaymentId,omitempty"`
	Amount           Money                   `json:"amount"`
	Type             model.TransactionType   `json:"type"`
	Status           model.TransactionStatus `json:"status"`
	FailureReason    string                  `json:"failureReason,omitempty"`
	CompletedAt      *time.Time              `json:"completedAt,omitempty"`
}

func transactionView(t *model.PaymentTransaction) *Transaction {
	if t == nil {
		return nil
	}
	return &Transaction{
		ID:               t.ID,
		OrderID:          t.PaymentOrderID,
		GatewayOrderID:   t.GatewayOrderID,
		GatewayPaymentID: t.GatewayPaymentID,
		Amount:           money(t.Amount, t.Currency),
		Type:             t.Type,
		Status:           t.Status,
		FailureReason:    t.FailureReason,
		CompletedAt:      t.CompletedAt,
	}
}

type CreateOrderResponse struct {
	Order        Order     `json:"order"`
	GatewayKeyID string    `json:"gatewayKeyId"`
	PaymentURL   string    `json:"paymentUrl"`
	LinkExpires  time.Time `json:"linkExpiresAt"`
	IsUpgrade    bool      `json:"isUpgrade"`
	// SettledByCredit orders need no checkout; Subscription is already live.
	SettledByCredit bool          `json:"settledByCredit"`
	Subscription    *Subscription `json:"subscription,omitempty"`
}

func createOrderView(res *usecase.CreateOrderResult) CreateOrderResponse {
	out := CreateOrderResponse{
		Order:        orderView(res.Order),
		GatewayKeyID: res.GatewayKeyID,
		PaymentURL:   res.PaymentURL,
		LinkExpires:  res.TokenExpiresAt,
	}
	if res.Quote != nil {
		out.IsUpgrade = res.Quote.IsUpgrade
	}
	if res.Activation != nil {
		out.SettledByCredit = true
		out.Subscription = subscriptionView(res.Activation.Subscription)
	}
	return out
}

type UpgradePreview struct {
	CurrentPlanID     string `json:"currentPlanId,omitempty"`
	TargetPlanID      string `json:"targetPlanId"`
	Price             Money  `json:"price"`
	Credit            Money  `json:"credit"`
	Payable           Money  `json:"payable"`
	RemainingDays     int    `json:"remainingDays"`
	CurrencyConverted bool   `json:"currencyConverted"`
}

func upgradePreviewView(p *usecase.UpgradePreview) UpgradePreview {
	cur := p.Price.Currency
	return UpgradePreview{
		CurrentPlanID:     p.CurrentPlanID,
		TargetPlanID:      p.TargetPlanID,
		Price:             money(p.Price.AmountMinor, cur),
		Credit:            money(p.CreditMinor, cur),
		Payable:           money(p.PayableMinor, cur),
		RemainingDays:     p.RemainingDays,
		CurrencyConverted: p.CurrencyConverted,
	}
}

type ActivationResponse struct {
	Subscription  *Subscription `json:"subscription"`
	Transaction   *Transaction  `json:"transaction"`
	AlreadyActive bool          `json:"alreadyActive"`
}

type RecoveryResponse struct {
	Outcome      usecase.RecoveryOutcome `json:"outcome"`
	Transaction  *Transaction            `json:"transaction,omitempty"`
	Subscription *Subscription           `json:"subscription,omitempty"`
}

type User struct {
	ID                 string                   `json:"id"`
	Name               string                   `json:"name"`
	Email              string                   `json:"email"`
	Phone              string                   `json:"phone,omitempty"`
	Tier               model.Tier               `json:"tier"`
	SubscriptionStatus model.SubscriptionStatus `json:"subscriptionStatus"`
	PlanID             string                   `json:"planId,omitempty"`
}

func userView(u *model.User) User {
	return User{
		ID: u.ID, Name: u.Name, Email: u.Email, Phone: u.Phone,
		Tier: u.Tier, SubscriptionStatus: u.SubscriptionStatus, PlanID: u.PlanID,
	}
}
