package model

import (
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderStatusCreated    OrderStatus = "created"    // gateway order exists, page not opened yet
	OrderStatusProcessing OrderStatus = "processing" // payment page served at least once
	OrderStatusPaid       OrderStatus = "paid"
	OrderStatusFailed     OrderStatus = "failed"
	OrderStatusExpired    OrderStatus = "expired"
)

// OrderTTL bounds how long a payment page stays usable.
const OrderTTL = 24 * time.Hour

// CreditSettlementPrefix marks gateway order and payment ids of purchases
// fully paid by proration credit. No gateway order exists for them.
const CreditSettlementPrefix = "credit_"

// ContactSnapshot is the prefill data handed to the checkout page.
type ContactSnapshot struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// PaymentOrder is the local record of a purchase attempt.
type PaymentOrder struct {
	ID                     string // ord_<ULID>_<user suffix>
	UserID                 string
	PlanID                 string
	GatewayOrderID         string
	Amount                 int64 // charged amount, minor units
	OriginalAmount         int64 // plan price before proration credit, minor units
	Currency               string
	ProrationCredit        int64
	ExistingSubscriptionID *string
	Plan                   PlanSnapshot
	Contact                ContactSnapshot
	UserAgent              string
	Status                 OrderStatus
	FailureReason          string
	CreatedAt              time.Time
	UpdatedAt              time.Time
	PaidAt                 *time.Time
}

func (o *PaymentOrder) ExpiresAt() time.Time { return o.CreatedAt.Add(OrderTTL) }

// IsOpen reports whether the order can still be paid.
func (o *PaymentOrder) IsOpen() bool {
	return o.Status == OrderStatusCreated || o.Status == OrderStatusProcessing
}

func (o *PaymentOrder) IsExpiredAt(now time.Time) bool {
	return o.IsOpen() && !now.Before(o.ExpiresAt())
}

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

type TransactionType string

const (
	TransactionTypeCreation TransactionType = "subscription_creation"
	TransactionTypeUpgrade  TransactionType = "subscription_upgrade"
)

// Failure reasons recorded on transactions and orders.
const (
	FailureGatewayFailed = "gateway_reported_failed"
	FailureOrderExpired  = "order_expired"
)

// PaymentTransaction is the reconciliation unit. It is created pending when
// the gateway order exists and keyed by the gateway payment id once known.
type PaymentTransaction struct {
	ID                   string
	UserID               string
	PlanID               string
	PaymentOrderID       string
	GatewayOrderID       string
	GatewayPaymentID     *string
	GatewaySignature     string
	Amount               int64
	Currency             string
	PlanTier             Tier
	PlanDuration         Duration
	Type                 TransactionType
	Status               TransactionStatus
	FailureReason        string
	Plan                 PlanSnapshot
	PriorSubscriptionID  *string
	OrderProrationCredit int64
	SubscriptionID       *string // set when activation committed
	CreatedAt            time.Time
	UpdatedAt            time.Time
	CompletedAt          *time.Time
}

// Activated reports whether this transaction already produced a subscription.
func (t *PaymentTransaction) Activated() bool {
	return t.Status == TransactionStatusCompleted && t.SubscriptionID != nil
}

func (t *PaymentTransaction) IsUpgrade() bool { return t.Type == TransactionTypeUpgrade }

// SettledByCredit reports whether the proration credit covered the whole price,
// so activation needs no gateway payment.
func (t *PaymentTransaction) SettledByCredit() bool {
	return t.Amount == 0 && strings.HasPrefix(t.GatewayOrderID, CreditSettlementPrefix)
}
