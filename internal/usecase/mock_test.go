//go:build !integration

package usecase_test

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"korean-tutor-billing/internal/domain"
	"korean-tutor-billing/internal/domain/model"
	"korean-tutor-billing/internal/domain/ports/adapter"
	"korean-tutor-billing/internal/infra/db/memory"
	"korean-tutor-billing/internal/pricing"
	"korean-tutor-billing/internal/usecase"
)

// -----------------------------
// Utilities: tiny helpers
// -----------------------------

var baseTime = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *fixedClock { return &fixedClock{t: t} }

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func testCatalog() *pricing.Catalog { return pricing.DefaultCatalog(pricing.DefaultRates()) }

func seedUser(store *memory.Store, id string) {
	u, _ := model.NewUser(id, "Learner", id+"@example.com", "+910000000000")
	_ = store.Users.Save(context.Background(), nil, u)
}

// seedSubscription stores a live subscription for userID on planID.
func seedSubscription(store *memory.Store, userID, planID, currency string, amount int64, periodEnd time.Time) *model.Subscription {
	tier, dur, _ := model.ParsePlanID(planID)
	s := &model.Subscription{
		ID:                 "sub-" + userID,
		UserID:             userID,
		PlanID:             planID,
		PlanTier:           tier,
		PlanDuration:       dur,
		IntervalCount:      dur.IntervalMonths(),
		Status:             model.SubscriptionStatusActive,
		Amount:             amount,
		Currency:           currency,
		CurrentPeriodStart: periodEnd.AddDate(0, -dur.IntervalMonths(), 0),
		CurrentPeriodEnd:   periodEnd,
		AutoRenew:          true,
	}
	_ = store.Subscriptions.Save(context.Background(), nil, s)
	return s
}

// =============================
// Adapters
// =============================

// ---- Mock PaymentGateway ----

type MockPaymentGateway struct {
	mu       sync.Mutex
	seq      int
	Created  []adapter.CreateOrderRequest
	Orders   map[string]*adapter.GatewayOrder
	Payments map[string][]adapter.GatewayPayment
	GetCalls int

	CreateOrderFunc   func(ctx context.Context, req adapter.CreateOrderRequest) (*adapter.GatewayOrder, error)
	VerifyPaymentFunc func(ctx context.Context, paymentID, orderID, signature string) error
	GetOrderFunc      func(ctx context.Context, orderID string) (*adapter.GatewayOrder, error)
}

var _ adapter.PaymentGateway = (*MockPaymentGateway)(nil)

func NewMockPaymentGateway() *MockPaymentGateway {
	return &MockPaymentGateway{Orders: map[string]*adapter.GatewayOrder{}, Payments: map[string][]adapter.GatewayPayment{}}
}

func (m *MockPaymentGateway) KeyID() string { return "rzp_test_key" }

func (m *MockPaymentGateway) CreateOrder(ctx context.Context, req adapter.CreateOrderRequest) (*adapter.GatewayOrder, error) {
	if m.CreateOrderFunc != nil {
		return m.CreateOrderFunc(ctx, req)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	o := &adapter.GatewayOrder{ID: fmt.Sprintf("order_%d", m.seq), Status: adapter.GatewayOrderCreated, Amount: req.Amount, Currency: req.Currency, Receipt: req.Receipt}
	m.Created = append(m.Created, req)
	m.Orders[o.ID] = o
	return o, nil
}

// Pay marks the order paid with one captured payment.
func (m *MockPaymentGateway) Pay(orderID, paymentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.Orders[orderID]; ok {
		o.Status = adapter.GatewayOrderPaid
	}
	m.Payments[orderID] = append(m.Payments[orderID], adapter.GatewayPayment{ID: paymentID, OrderID: orderID, Status: adapter.GatewayPaymentCaptured})
}

func (m *MockPaymentGateway) VerifyPayment(ctx context.Context, paymentID, orderID, signature string) error {
	if m.VerifyPaymentFunc != nil {
		return m.VerifyPaymentFunc(ctx, paymentID, orderID, signature)
	}
	if signature != "good-sig" {
		return domain.ErrSignatureMismatch
	}
	return nil
}

func (m *MockPaymentGateway) GetOrder(ctx context.Context, orderID string) (*adapter.GatewayOrder, error) {
	if m.GetOrderFunc != nil {
		return m.GetOrderFunc(ctx, orderID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetCalls++
	o, ok := m.Orders[orderID]
	if !ok {
		return nil, &domain.GatewayError{Op: "get_order", Status: 404, Code: "BAD_REQUEST_ERROR"}
	}
	cp := *o
	return &cp, nil
}

func (m *MockPaymentGateway) GetOrderPayments(ctx context.Context, orderID string) ([]adapter.GatewayPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]adapter.GatewayPayment(nil), m.Payments[orderID]...), nil
}

// ---- Mock PaymentPageTokens ----

type MockTokens struct {
	MintFunc   func(userID, orderID string) (string, time.Time, error)
	VerifyFunc func(token string) (*adapter.PaymentPageClaims, error)
}

var _ adapter.PaymentPageTokens = (*MockTokens)(nil)

func (m *MockTokens) Mint(userID, orderID string) (string, time.Time, error) {
	if m.MintFunc != nil {
		return m.MintFunc(userID, orderID)
	}
	return "tok:" + userID + ":" + orderID, baseTime.Add(30 * time.Minute), nil
}

func (m *MockTokens) Verify(token string) (*adapter.PaymentPageClaims, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(token)
	}
	rest, ok := strings.CutPrefix(token, "tok:")
	if !ok {
		return nil, domain.ErrInvalidToken
	}
	userID, orderID, _ := strings.Cut(rest, ":")
	return &adapter.PaymentPageClaims{UserID: userID, OrderID: orderID}, nil
}

// ---- Mock RateLimiter ----

type MockLimiter struct {
	AllowFunc func(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

func (m *MockLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if m.AllowFunc != nil {
		return m.AllowFunc(ctx, key, limit, window)
	}
	return true, nil
}

// ---- Mock Notifier ----

type MockNotifier struct {
	mu       sync.Mutex
	Subjects []string
}

func (m *MockNotifier) Notify(ctx context.Context, subject, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Subjects = append(m.Subjects, subject)
	return nil
}

// ---- In-memory Locker ----

type MockLocker struct {
	mu    sync.Mutex
	held  map[string]string
	ErrOn map[string]error
}

func NewMockLocker() *MockLocker {
	return &MockLocker{held: map[string]string{}, ErrOn: map[string]error{}}
}

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ErrOn[key]; err != nil {
		return "", err
	}
	if _, ok := l.held[key]; ok {
		return "", domain.ErrLocked
	}
	tok := fmt.Sprintf("tok-%d", len(l.held)+1)
	l.held[key] = tok
	return tok, nil
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

// =============================
// Wiring
// =============================

type testEnv struct {
	store      *memory.Store
	clock      *fixedClock
	gateway    *MockPaymentGateway
	tokens     *MockTokens
	limiter    *MockLimiter
	notifier   *MockNotifier
	locker     *MockLocker
	enabled    bool
	orders     usecase.OrderUseCase
	activation usecase.ActivationUseCase
	recovery   usecase.RecoveryUseCase
	subs       usecase.SubscriptionUseCase
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:    memory.NewStore(),
		clock:    newClock(baseTime),
		gateway:  NewMockPaymentGateway(),
		tokens:   &MockTokens{},
		limiter:  &MockLimiter{},
		notifier: &MockNotifier{},
		locker:   NewMockLocker(),
		enabled:  true,
	}
	catalog := testCatalog()
	resolver := pricing.NewResolver(catalog, "USD")
	prorate := usecase.NewProrationCalculator(catalog, env.clock)
	log := newTestLogger()
	s := env.store

	env.activation = usecase.NewActivationUseCase(s.Orders, s.Transactions, s.Subscriptions, s.Users, s,
		catalog, prorate, env.gateway, env.notifier, env.clock, log)
	env.orders = usecase.NewOrderUseCase(s.Orders, s.Transactions, s.Subscriptions, s.Users, s,
		resolver, prorate, env.gateway, env.tokens, env.activation, env.limiter, env.notifier, env.clock,
		usecase.OrderOptions{PaymentsEnabled: func() bool { return env.enabled }, PublicBaseURL: "https://app.example.com"}, log)
	env.recovery = usecase.NewRecoveryUseCase(s.Orders, s.Transactions, s, env.activation, env.gateway, nil,
		env.locker, env.clock, usecase.RecoveryOptions{}, log)
	env.subs = usecase.NewSubscriptionUseCase(s.Subscriptions, s.Users, s, catalog, env.clock, log)
	return env
}

var india = model.LocaleSignal{Country: "IN"}

// placeOrder registers userID and creates an order for planID priced in INR.
func (env *testEnv) placeOrder(t *testing.T, userID, planID string) *usecase.CreateOrderResult {
	t.Helper()
	if _, err := env.store.Users.FindByID(context.Background(), nil, userID); err != nil {
		seedUser(env.store, userID)
	}
	res, err := env.orders.CreateOrder(context.Background(), usecase.CreateOrderInput{UserID: userID, PlanID: planID, Locale: india})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return res
}
