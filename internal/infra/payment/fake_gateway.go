package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"korean-tutor-billing/internal/domain"
	"korean-tutor-billing/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*FakeGateway)(nil)

// FakeGateway is an in-memory gateway for dev runs. Orders flip to paid with
// a captured payment once AutoPayAfter has elapsed, so the recovery sweeper
// has something to find. Signatures use the same HMAC scheme as Razorpay.
type FakeGateway struct {
	mu           sync.Mutex
	seq          int64
	secret       string
	autoPayAfter time.Duration
	now          func() time.Time
	orders       map[string]*fakeOrder
}

type fakeOrder struct {
	order   adapter.GatewayOrder
	created time.Time
}

func NewFakeGateway(secret string, autoPayAfter time.Duration, now func() time.Time) *FakeGateway {
	if now == nil {
		now = time.Now
	}
	return &FakeGateway{
		secret:       secret,
		autoPayAfter: autoPayAfter,
		now:          now,
		orders:       make(map[string]*fakeOrder),
	}
}

func (g *FakeGateway) KeyID() string { return "rzp_test_fake" }

func (g *FakeGateway) CreateOrder(ctx context.Context, req adapter.CreateOrderRequest) (*adapter.GatewayOrder, error) {
	if req.Amount <= 0 || req.Currency == "" {
		return nil, &domain.GatewayError{Op: "create_order", Status: 400, Code: "BAD_REQUEST_ERROR"}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	o := adapter.GatewayOrder{
		ID:       fmt.Sprintf("order_fake%06d", g.seq),
		Status:   adapter.GatewayOrderCreated,
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
	}
	g.orders[o.ID] = &fakeOrder{order: o, created: g.now()}
	out := o
	return &out, nil
}

func (g *FakeGateway) GetOrder(ctx context.Context, orderID string) (*adapter.GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[orderID]
	if !ok {
		return nil, &domain.GatewayError{Op: "get_order", Status: 400, Code: "BAD_REQUEST_ERROR"}
	}
	g.settle(o)
	out := o.order
	return &out, nil
}

func (g *FakeGateway) GetOrderPayments(ctx context.Context, orderID string) ([]adapter.GatewayPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[orderID]
	if !ok {
		return nil, &domain.GatewayError{Op: "get_order_payments", Status: 400, Code: "BAD_REQUEST_ERROR"}
	}
	g.settle(o)
	if o.order.Status != adapter.GatewayOrderPaid {
		return nil, nil
	}
	return []adapter.GatewayPayment{{
		ID: FakePaymentID(orderID), OrderID: orderID, Status: adapter.GatewayPaymentCaptured, Amount: o.order.Amount,
	}}, nil
}

func (g *FakeGateway) VerifyPayment(ctx context.Context, paymentID, orderID, signature string) error {
	if Sign(g.secret, orderID, paymentID) != signature {
		return domain.ErrSignatureMismatch
	}
	return nil
}

// FakePaymentID is the payment id the fake gateway captures for an order.
func FakePaymentID(orderID string) string { return "pay_" + orderID }

// settle must be called with mu held.
func (g *FakeGateway) settle(o *fakeOrder) {
	if g.autoPayAfter > 0 && o.order.Status != adapter.GatewayOrderPaid && !g.now().Before(o.created.Add(g.autoPayAfter)) {
		o.order.Status = adapter.GatewayOrderPaid
	}
}
