package model

import "time"

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusTrialing  SubscriptionStatus = "trialing"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusNone      SubscriptionStatus = "none" // profile only
)

const (
	CancelReasonReplaced      = "upgraded_or_replaced"
	CancelReasonUserRequested = "user_requested"
)

// ScheduledDowngrade names the plan to renew onto once the period ends. At
// EffectiveAt the lifecycle job expires the subscription and keeps it.
type ScheduledDowngrade struct {
	PlanID      string    `json:"planId"`
	EffectiveAt time.Time `json:"effectiveAt"`
	RequestedAt time.Time `json:"requestedAt"`
}

// Subscription is the single entitlement slot of a user. Version is bumped on
// every write and checked on update so two writers cannot both win.
type Subscription struct {
	ID                 string
	UserID             string
	PlanID             string
	PlanName           string
	PlanTier           Tier
	PlanDuration       Duration
	IntervalCount      int
	Status             SubscriptionStatus
	Amount             int64 // full plan price, minor units
	Currency           string
	Features           Features
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	NextBillingDate    *time.Time
	AutoRenew          bool
	CancelAtPeriodEnd  bool
	CancelReason       string
	CancelledAt        *time.Time
	ScheduledDowngrade *ScheduledDowngrade

	// lineage
	SourceTransactionID    *string
	PriorSubscriptionID    *string
	PriorPlanID            string
	AppliedProrationCredit int64
	DowngradedFromPlanID   string

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsLive reports whether the status grants entitlement.
func (s *Subscription) IsLive() bool {
	return s != nil && (s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusTrialing)
}

// LapsedAt reports whether a live subscription has run past its period end.
func (s *Subscription) LapsedAt(now time.Time) bool {
	return s.IsLive() && !now.Before(s.CurrentPeriodEnd)
}

// ActiveAt is IsLive with the period end honoured.
func (s *Subscription) ActiveAt(now time.Time) bool {
	return s.IsLive() && now.Before(s.CurrentPeriodEnd)
}

// Interval returns IntervalCount, falling back to the plan duration.
func (s *Subscription) Interval() int {
	if s.IntervalCount > 0 {
		return s.IntervalCount
	}
	return s.PlanDuration.IntervalMonths()
}

// Clone returns a deep copy safe to mutate.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	cp := *s
	if s.NextBillingDate != nil {
		t := *s.NextBillingDate
		cp.NextBillingDate = &t
	}
	if s.CancelledAt != nil {
		t := *s.CancelledAt
		cp.CancelledAt = &t
	}
	if s.ScheduledDowngrade != nil {
		d := *s.ScheduledDowngrade
		cp.ScheduledDowngrade = &d
	}
	if s.SourceTransactionID != nil {
		v := *s.SourceTransactionID
		cp.SourceTransactionID = &v
	}
	if s.PriorSubscriptionID != nil {
		v := *s.PriorSubscriptionID
		cp.PriorSubscriptionID = &v
	}
	return &cp
}
