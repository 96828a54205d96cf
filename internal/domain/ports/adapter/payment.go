package adapter

import "context"

type GatewayOrderStatus string

const (
	GatewayOrderCreated   GatewayOrderStatus = "created"
	GatewayOrderAttempted GatewayOrderStatus = "attempted"
	GatewayOrderPaid      GatewayOrderStatus = "paid"
	GatewayOrderFailed    GatewayOrderStatus = "failed"
)

const (
	GatewayPaymentCaptured   = "captured"
	GatewayPaymentAuthorized = "authorized"
	GatewayPaymentFailed     = "failed"
)

// CreateOrderRequest is a gateway order in minor units.
type CreateOrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

type GatewayOrder struct {
	ID       string
	Status   GatewayOrderStatus
	Amount   int64
	Currency string
	Receipt  string
}

type GatewayPayment struct {
	ID      string
	OrderID string
	Status  string
	Amount  int64
}

// PaymentGateway is the hex port for the card/UPI gateway.
type PaymentGateway interface {
	// KeyID is the public key the checkout page needs.
	KeyID() string
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*GatewayOrder, error)
	// VerifyPayment checks the signature the checkout returned. It returns
	// domain.ErrSignatureMismatch when the signature does not match.
	VerifyPayment(ctx context.Context, paymentID, orderID, signature string) error
	GetOrder(ctx context.Context, orderID string) (*GatewayOrder, error)
	GetOrderPayments(ctx context.Context, orderID string) ([]GatewayPayment, error)
}

// OrderStatusSource is the read-only slice of the gateway the sweeper polls.
type OrderStatusSource interface {
	GetOrder(ctx context.Context, orderID string) (*GatewayOrder, error)
}
