//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"korean-tutor-billing/internal/domain"
	"korean-tutor-billing/internal/domain/model"
	"korean-tutor-billing/internal/domain/ports/adapter"
	"korean-tutor-billing/internal/usecase"
)

func TestOrderUseCase_CreateOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("should charge the prorated upgrade price", func(t *testing.T) {
		// --- Arrange ---
		env := newTestEnv()
		seedUser(env.store, "user-1")
		old := seedSubscription(env.store, "user-1", "basic_monthly", "INR", 14900, baseTime.Add(27*24*time.Hour))

		// --- Act ---
		res, err := env.orders.CreateOrder(ctx, usecase.CreateOrderInput{UserID: "user-1", PlanID: "standard_quarterly", Locale: india, UserAgent: "test"})

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if res.Order.Amount != 26490 || res.Order.Currency != "INR" {
			t.Errorf("expected 26490 INR, got %d %s", res.Order.Amount, res.Order.Currency)
		}
		if res.Order.OriginalAmount != 39900 || res.Order.ProrationCredit != 13410 {
			t.Errorf("unexpected order amounts: %+v", res.Order)
		}
		if len(env.gateway.Created) != 1 || env.gateway.Created[0].Amount != 26490 {
			t.Fatalf("expected one gateway order for 26490, got %+v", env.gateway.Created)
		}
		if res.Transaction.Type != model.TransactionTypeUpgrade || res.Transaction.Status != model.TransactionStatusPending {
			t.Errorf("unexpected transaction: %+v", res.Transaction)
		}
		if res.Transaction.PriorSubscriptionID == nil || *res.Transaction.PriorSubscriptionID != old.ID {
			t.Errorf("expected prior subscription %s", old.ID)
		}
		if !strings.HasPrefix(res.Order.ID, "ord_") || !strings.HasSuffix(res.Order.ID, "user-1") {
			t.Errorf("unexpected order id %q", res.Order.ID)
		}
		if !strings.Contains(res.PaymentURL, "/subscriptions/payment-page/"+res.Order.ID+"?token=") {
			t.Errorf("unexpected payment url %q", res.PaymentURL)
		}
		if res.GatewayKeyID != "rzp_test_key" {
			t.Errorf("unexpected key id %q", res.GatewayKeyID)
		}

		stored, err := env.store.Transactions.FindByGatewayOrderID(ctx, nil, res.Order.GatewayOrderID)
		if err != nil || stored.ID != res.Transaction.ID {
			t.Fatalf("expected pending transaction to be stored, got %v", err)
		}
	})

	t.Run("should create nothing when payments are disabled", func(t *testing.T) {
		// --- Arrange ---
		env := newTestEnv()
		env.enabled = false
		seedUser(env.store, "user-1")

		// --- Act ---
		_, err := env.orders.CreateOrder(ctx, usecase.CreateOrderInput{UserID: "user-1", PlanID: "basic_monthly", Locale: india})

		// --- Assert ---
		if !errors.Is(err, domain.ErrPaymentsDisabled) {
			t.Fatalf("expected ErrPaymentsDisabled, got %v", err)
		}
		if len(env.gateway.Created) != 0 {
			t.Error("gateway must not be called")
		}
	})

	t.Run("should persist nothing when the gateway fails", func(t *testing.T) {
		// --- Arrange ---
		env := newTestEnv()
		seedUser(env.store, "user-1")
		env.gateway.CreateOrderFunc = func(ctx context.Context, req adapter.CreateOrderRequest) (*adapter.GatewayOrder, error) {
			return nil, &domain.GatewayError{Op: "create_order", Status: 500, Code: "SERVER_ERROR"}
		}

		// --- Act ---
		_, err := env.orders.CreateOrder(ctx, usecase.CreateOrderInput{UserID: "user-1", PlanID: "basic_monthly", Locale: india})

		// --- Assert ---
		if !errors.Is(err, domain.ErrGatewayOrderCreation) {
			t.Fatalf("expected ErrGatewayOrderCreation, got %v", err)
		}
		pending, _ := env.store.Transactions.ListPendingOlderThan(ctx, nil, baseTime.Add(48*time.Hour), 10)
		if len(pending) != 0 {
			t.Errorf("expected no transactions, got %d", len(pending))
		}
	})

	t.Run("should reject a lower tier while a subscription is live", func(t *testing.T) {
		// --- Arrange ---
		env := newTestEnv()
		seedUser(env.store, "user-1")
		seedSubscription(env.store, "user-1", "pro_monthly", "INR", 29900, baseTime.Add(10*24*time.Hour))

		// --- Act ---
		_, err := env.orders.CreateOrder(ctx, usecase.CreateOrderInput{UserID: "user-1", PlanID: "basic_yearly", Locale: india})

		// --- Assert ---
		if !errors.Is(err, domain.ErrDowngradeNotAllowedMidCycle) {
			t.Fatalf("expected ErrDowngradeNotAllowedMidCycle, got %v", err)
		}
		if len(env.gateway.Created) != 0 {
			t.Error("gateway must not be called")
		}
	})

	t.Run("should alert and refuse implausible stored pricing", func(t *testing.T) {
		// --- Arrange ---
		env := newTestEnv()
		seedUser(env.store, "user-1")
		seedSubscription(env.store, "user-1", "basic_monthly", "USD", 99999999, baseTime.Add(10*24*time.Hour))

		// --- Act ---
		_, err := env.orders.CreateOrder(ctx, usecase.CreateOrderInput{UserID: "user-1", PlanID: "pro_monthly", Locale: india})

		// --- Assert ---
		if !errors.Is(err, domain.ErrImplausiblePricing) {
			t.Fatalf("expected ErrImplausiblePricing, got %v", err)
		}
		if len(env.notifier.Subjects) != 1 {
			t.Errorf("expected one ops alert, got %v", env.notifier.Subjects)
		}
	})

	t.Run("should rate limit repeated taps", func(t *testing.T) {
		// --- Arrange ---
		env := newTestEnv()
		seedUser(env.store, "user-1")
		var gotKey string
		env.limiter.AllowFunc = func(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
			gotKey = key
			return false, nil
		}

		// --- Act ---
		_, err := env.orders.CreateOrder(ctx, usecase.CreateOrderInput{UserID: "user-1", PlanID: "basic_monthly", Locale: india})

		// --- Assert ---
		if !errors.Is(err, domain.ErrRateLimited) {
			t.Fatalf("expected ErrRateLimited, got %v", err)
		}
		if gotKey != "rate_limit:create_order:user-1" {
			t.Errorf("unexpected limiter key %q", gotKey)
		}
	})

	t.Run("should fail open when the limiter is down", func(t *testing.T) {
		// --- Arrange ---
		env := newTestEnv()
		seedUser(env.store, "user-1")
		env.limiter.AllowFunc = func(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
			return false, errors.New("redis down")
		}

		// --- Act ---
		_, err := env.orders.CreateOrder(ctx, usecase.CreateOrderInput{UserID: "user-1", PlanID: "basic_monthly", Locale: india})

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected order to be created, got %v", err)
		}
	})

	t.Run("should activate without a gateway order when the credit covers the price", func(t *testing.T) {
		// --- Arrange ---
		env := newTestEnv()
		seedUser(env.store, "user-1")
		seedSubscription(env.store, "user-1", "standard_yearly", "INR", 139900, baseTime.Add(360*24*time.Hour))

		// --- Act ---
		res, err := env.orders.CreateOrder(ctx, usecase.CreateOrderInput{UserID: "user-1", PlanID: "pro_monthly", Locale: india})

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected order to settle, got %v", err)
		}
		if len(env.gateway.Created) != 0 {
			t.Errorf("expected no gateway order, got %d", len(env.gateway.Created))
		}
		if res.Activation == nil || res.PaymentURL != "" {
			t.Fatalf("expected an activation and no payment link, got %+v", res)
		}
		if res.Order.Amount != 0 || res.Order.Status != model.OrderStatusPaid {
			t.Errorf("expected a paid zero-amount order, got amount %d status %s", res.Order.Amount, res.Order.Status)
		}
		sub, err := env.store.Subscriptions.FindByUser(ctx, nil, "user-1")
		if err != nil {
			t.Fatalf("find subscription: %v", err)
		}
		if sub.PlanID != "pro_monthly" || sub.PriorPlanID != "standard_yearly" {
			t.Errorf("expected pro_monthly replacing standard_yearly, got %s from %s", sub.PlanID, sub.PriorPlanID)
		}
		txn, _ := env.store.Transactions.FindByID(ctx, nil, res.Transaction.ID)
		if txn.Status != model.TransactionStatusCompleted || !txn.SettledByCredit() {
			t.Errorf("expected a completed credit-settled transaction, got %+v", txn)
		}
	})

	t.Run("should reject unknown plans", func(t *testing.T) {
		env := newTestEnv()
		seedUser(env.store, "user-1")
		_, err := env.orders.CreateOrder(ctx, usecase.CreateOrderInput{UserID: "user-1", PlanID: "platinum_weekly"})
		if !errors.Is(err, domain.ErrUnknownPlan) {
			t.Fatalf("expected ErrUnknownPlan, got %v", err)
		}
	})
}

func TestOrderUseCase_UpgradePreview(t *testing.T) {
	ctx := context.Background()

	t.Run("should quote nothing payable when the credit covers the price", func(t *testing.T) {
		// --- Arrange ---
		env := newTestEnv()
		seedUser(env.store, "user-1")
		seedSubscription(env.store, "user-1", "standard_yearly", "INR", 139900, baseTime.Add(360*24*time.Hour))

		// --- Act ---
		p, err := env.orders.UpgradePreview(ctx, "user-1", "pro_monthly", india)

		// --- Assert ---
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.CreditMinor != 139900 {
			t.Errorf("expected full credit, got %d", p.CreditMinor)
		}
		if p.PayableMinor != 0 || !p.Payable.IsZero() {
			t.Errorf("expected nothing payable, got %d", p.PayableMinor)
		}
		if p.CurrentPlanID != "standard_yearly" {
			t.Errorf("unexpected current plan %q", p.CurrentPlanID)
		}
	})

	t.Run("should quote the full price without a subscription", func(t *testing.T) {
		env := newTestEnv()
		p, err := env.orders.UpgradePreview(ctx, "user-2", "basic_monthly", model.LocaleSignal{Country: "US"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.PayableMinor != 299 || p.Price.Currency != "USD" {
			t.Errorf("unexpected preview %+v", p)
		}
	})
}

func TestOrderUseCase_PaymentPage(t *testing.T) {
	ctx := context.Background()

	t.Run("should move a created order to processing", func(t *testing.T) {
		// --- Arrange ---
		env := newTestEnv()
		res := env.placeOrder(t, "user-1", "basic_monthly")
		token := "tok:user-1:" + res.Order.ID

		// --- Act ---
		page, err := env.orders.PaymentPage(ctx, res.Order.ID, token)

		// --- Assert ---
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if page.Order.Status != model.OrderStatusProcessing {
			t.Errorf("expected processing, got %s", page.Order.Status)
		}
		if !page.ExpiresAt.Equal(baseTime.Add(model.OrderTTL)) {
			t.Errorf("unexpected expiry %s", page.ExpiresAt)
		}
	})

	t.Run("should expire an order past its lifetime and persist it", func(t *testing.T) {
		// --- Arrange ---
		env := newTestEnv()
		res := env.placeOrder(t, "user-1", "basic_monthly")
		env.clock.Advance(25 * time.Hour)

		// --- Act ---
		_, err := env.orders.PaymentPage(ctx, res.Order.ID, "tok:user-1:"+res.Order.ID)

		// --- Assert ---
		if !errors.Is(err, domain.ErrOrderExpired) {
			t.Fatalf("expected ErrOrderExpired, got %v", err)
		}
		stored, _ := env.store.Orders.FindByID(ctx, nil, res.Order.ID)
		if stored.Status != model.OrderStatusExpired {
			t.Errorf("expected stored status expired, got %s", stored.Status)
		}
		if _, err := env.orders.PaymentPage(ctx, res.Order.ID, "tok:user-1:"+res.Order.ID); !errors.Is(err, domain.ErrOrderExpired) {
			t.Errorf("expected expired on second view, got %v", err)
		}
	})

	t.Run("should hide orders of other users", func(t *testing.T) {
		env := newTestEnv()
		res := env.placeOrder(t, "user-1", "basic_monthly")
		if _, err := env.orders.PaymentPage(ctx, res.Order.ID, "tok:user-2:"+res.Order.ID); !errors.Is(err, domain.ErrOrderNotFound) {
			t.Fatalf("expected ErrOrderNotFound, got %v", err)
		}
		if _, err := env.orders.PaymentPage(ctx, res.Order.ID, "tok:user-1:ord_other"); !errors.Is(err, domain.ErrOrderNotFound) {
			t.Fatalf("expected ErrOrderNotFound for a token of another order, got %v", err)
		}
	})

	t.Run("should reject a bad token", func(t *testing.T) {
		env := newTestEnv()
		res := env.placeOrder(t, "user-1", "basic_monthly")
		if _, err := env.orders.PaymentPage(ctx, res.Order.ID, "garbage"); !errors.Is(err, domain.ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken, got %v", err)
		}
	})
}
