// File: internal/usecase/order_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"korean-tutor-billing/internal/domain"
	"korean-tutor-billing/internal/domain/model"
	"korean-tutor-billing/internal/domain/ports/adapter"
	"korean-tutor-billing/internal/domain/ports/repository"
	"korean-tutor-billing/internal/pricing"
)

type OrderUseCase interface {
	// Plans prices the catalog for the caller's locale.
	Plans(ctx context.Context, sig model.LocaleSignal) ([]pricing.PlanPrice, error)
	// UpgradePreview quotes what the user would pay for planID right now.
	UpgradePreview(ctx context.Context, userID, planID string, sig model.LocaleSignal) (*UpgradePreview, error)
	// CreateOrder creates the gateway order and the local intent records. When
	// the proration credit covers the whole price no gateway order is created
	// and the purchase is activated at once.
	CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error)
	// PaymentPage validates the link token and returns what the checkout needs.
	PaymentPage(ctx context.Context, orderID, token string) (*PaymentPage, error)
}

type CreateOrderInput struct {
	UserID    string
	PlanID    string
	Locale    model.LocaleSignal
	UserAgent string
}

type CreateOrderResult struct {
	Order       *model.PaymentOrder
	Transaction *model.PaymentTransaction
	Quote       *UpgradeQuote
	// Activation is set when the credit settled the purchase; there is no
	// payment link then.
	Activation     *ActivationResult
	GatewayKeyID   string
	PaymentURL     string
	TokenExpiresAt time.Time
}

type UpgradePreview struct {
	CurrentPlanID     string
	TargetPlanID      string
	Price             pricing.Price
	Credit            decimal.Decimal
	CreditMinor       int64
	Payable           decimal.Decimal
	PayableMinor      int64
	RemainingDays     int
	CurrencyConverted bool
}

type PaymentPage struct {
	Order        *model.PaymentOrder
	GatewayKeyID string
	ExpiresAt    time.Time
}

// OrderOptions tunes the order flow.
type OrderOptions struct {
	// PaymentsEnabled is read on every request so the flag can flip at runtime.
	PaymentsEnabled func() bool
	// PublicBaseURL prefixes payment links, e.g. https://app.example.com.
	PublicBaseURL  string
	RateLimit      int
	RateWindow     time.Duration
	GatewayTimeout time.Duration
}

var _ OrderUseCase = (*orderUC)(nil)

type orderUC struct {
	orders   repository.OrderRepository
	txns     repository.TransactionRepository
	subs     repository.SubscriptionRepository
	users    repository.UserRepository
	tm       repository.TransactionManager
	resolver *pricing.Resolver
	prorate  *ProrationCalculator
	gateway  adapter.PaymentGateway
	tokens   adapter.PaymentPageTokens
	// settles zero-payable purchases
	activation ActivationUseCase
	limiter    adapter.RateLimiter
	notifier   adapter.Notifier
	clock      adapter.Clock
	opts       OrderOptions
	log        *zerolog.Logger
}

// NewOrderUseCase wires the order manager. limiter and notifier may be nil.
// Without activation, credit-settled purchases wait for the recovery sweep.
func NewOrderUseCase(
	orders repository.OrderRepository,
	txns repository.TransactionRepository,
	subs repository.SubscriptionRepository,
	users repository.UserRepository,
	tm repository.TransactionManager,
	resolver *pricing.Resolver,
	prorate *ProrationCalculator,
	gateway adapter.PaymentGateway,
	tokens adapter.PaymentPageTokens,
	activation ActivationUseCase,
	limiter adapter.RateLimiter,
	notifier adapter.Notifier,
	clock adapter.Clock,
	opts OrderOptions,
	logger *zerolog.Logger,
) OrderUseCase {
	if clock == nil {
		clock = adapter.SystemClock
	}
	if opts.PaymentsEnabled == nil {
		opts.PaymentsEnabled = func() bool { return true }
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 3
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = 10 * time.Second
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = 15 * time.Second
	}
	l := logger.With().Str("component", "OrderUseCase").Logger()
	return &orderUC{
		orders: orders, txns: txns, subs: subs, users: users, tm: tm,
		resolver: resolver, prorate: prorate, gateway: gateway, tokens: tokens,
		activation: activation, limiter: limiter, notifier: notifier, clock: clock, opts: opts, log: &l,
	}
}

func (u *orderUC) Plans(ctx context.Context, sig model.LocaleSignal) ([]pricing.PlanPrice, error) {
	return u.resolver.ListPlans(sig)
}

func (u *orderUC) UpgradePreview(ctx context.Context, userID, planID string, sig model.LocaleSignal) (*UpgradePreview, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	plan, err := u.resolver.Catalog().Plan(planID)
	if err != nil {
		return nil, err
	}
	price, err := u.resolver.Resolve(planID, sig)
	if err != nil {
		return nil, err
	}
	live, err := liveSubscription(ctx, u.subs, repository.NoTX, userID, u.clock.Now())
	if err != nil {
		return nil, err
	}
	quote, err := u.quote(ctx, live, plan, price.Currency)
	if err != nil {
		return nil, err
	}
	payable := payableMinor(price.AmountMinor, quote.CreditMinor)
	out := &UpgradePreview{
		TargetPlanID:      planID,
		Price:             price,
		Credit:            quote.Credit,
		CreditMinor:       quote.CreditMinor,
		Payable:           pricing.FromMinor(payable, price.Currency),
		PayableMinor:      payable,
		RemainingDays:     quote.RemainingDays,
		CurrencyConverted: quote.CurrencyConverted,
	}
	if live != nil {
		out.CurrentPlanID = live.PlanID
	}
	return out, nil
}

func (u *orderUC) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	if !u.opts.PaymentsEnabled() {
		return nil, domain.ErrPaymentsDisabled
	}
	if strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.PlanID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	plan, err := u.resolver.Catalog().Plan(in.PlanID)
	if err != nil {
		return nil, err
	}
	if err := u.allow(ctx, in.UserID); err != nil {
		return nil, err
	}

	user, err := u.users.FindByID(ctx, repository.NoTX, in.UserID)
	if err != nil {
		return nil, err
	}
	price, err := u.resolver.Resolve(in.PlanID, in.Locale)
	if err != nil {
		return nil, err
	}
	snap, err := u.resolver.Catalog().Snapshot(in.PlanID, price.Currency)
	if err != nil {
		return nil, err
	}

	now := u.clock.Now()
	live, err := liveSubscription(ctx, u.subs, repository.NoTX, in.UserID, now)
	if err != nil {
		return nil, err
	}
	quote, err := u.quote(ctx, live, plan, price.Currency)
	if err != nil {
		return nil, err
	}
	amount := payableMinor(price.AmountMinor, quote.CreditMinor)

	orderID := newOrderID(now, in.UserID)
	log := u.log.With().Str("order_id", orderID).Str("user_id", in.UserID).Str("plan_id", in.PlanID).
		Int64("amount", amount).Str("currency", price.Currency).Logger()

	var gwOrder *adapter.GatewayOrder
	if amount == 0 {
		gwOrder = &adapter.GatewayOrder{ID: model.CreditSettlementPrefix + orderID, Amount: 0}
	} else {
		gctx, cancel := context.WithTimeout(ctx, u.opts.GatewayTimeout)
		gwOrder, err = u.gateway.CreateOrder(gctx, adapter.CreateOrderRequest{
			Amount:   amount,
			Currency: price.Currency,
			Receipt:  orderID,
			Notes:    map[string]string{"user_id": in.UserID, "plan_id": in.PlanID, "order_id": orderID},
		})
		cancel()
		if err != nil {
			log.Error().Err(err).Msg("gateway order creation failed")
			if !errors.Is(err, domain.ErrGatewayOrderCreation) {
				err = fmt.Errorf("%w: %w", domain.ErrGatewayOrderCreation, err)
			}
			return nil, err
		}
	}

	order := &model.PaymentOrder{
		ID:              orderID,
		UserID:          in.UserID,
		PlanID:          in.PlanID,
		GatewayOrderID:  gwOrder.ID,
		Amount:          amount,
		OriginalAmount:  price.AmountMinor,
		Currency:        price.Currency,
		ProrationCredit: quote.CreditMinor,
		Plan:            snap,
		Contact:         user.Contact(),
		UserAgent:       in.UserAgent,
		Status:          model.OrderStatusCreated,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	txn := &model.PaymentTransaction{
		ID:                   uuid.NewString(),
		UserID:               in.UserID,
		PlanID:               in.PlanID,
		PaymentOrderID:       orderID,
		GatewayOrderID:       gwOrder.ID,
		Amount:               amount,
		Currency:             price.Currency,
		PlanTier:             plan.Tier,
		PlanDuration:         plan.Duration,
		Type:                 model.TransactionTypeCreation,
		Status:               model.TransactionStatusPending,
		Plan:                 snap,
		OrderProrationCredit: quote.CreditMinor,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if live != nil {
		id := live.ID
		order.ExistingSubscriptionID = &id
		txn.PriorSubscriptionID = &id
		txn.Type = model.TransactionTypeUpgrade
	}
	if amount == 0 {
		paymentID := gwOrder.ID
		txn.GatewayPaymentID = &paymentID
	}

	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.orders.Create(ctx, tx, order); err != nil {
			return err
		}
		return u.txns.Create(ctx, tx, txn)
	})
	if err != nil {
		log.Error().Err(err).Str("gateway_order_id", gwOrder.ID).Msg("persist order failed")
		return nil, err
	}

	if amount == 0 {
		return u.settleByCredit(ctx, order, txn, quote, log)
	}

	token, exp, err := u.tokens.Mint(in.UserID, orderID)
	if err != nil {
		return nil, err
	}
	log.Info().Str("gateway_order_id", gwOrder.ID).Str("type", string(txn.Type)).
		Int64("credit", quote.CreditMinor).Msg("order created")

	return &CreateOrderResult{
		Order:          order,
		Transaction:    txn,
		Quote:          quote,
		GatewayKeyID:   u.gateway.KeyID(),
		PaymentURL:     u.paymentURL(orderID, token),
		TokenExpiresAt: exp,
	}, nil
}

func (u *orderUC) PaymentPage(ctx context.Context, orderID, token string) (*PaymentPage, error) {
	claims, err := u.tokens.Verify(token)
	if err != nil {
		return nil, domain.ErrInvalidToken
	}
	if claims.OrderID != "" && claims.OrderID != orderID {
		return nil, domain.ErrOrderNotFound
	}
	order, err := u.orders.FindByID(ctx, repository.NoTX, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	if order.UserID != claims.UserID {
		return nil, domain.ErrOrderNotFound
	}
	if order.Status == model.OrderStatusExpired {
		return nil, domain.ErrOrderExpired
	}
	if !order.IsOpen() {
		return nil, domain.ErrOrderNotFound
	}

	now := u.clock.Now()
	if order.IsExpiredAt(now) {
		if _, err := u.orders.TransitionStatus(ctx, repository.NoTX, order.ID,
			[]model.OrderStatus{model.OrderStatusCreated, model.OrderStatusProcessing},
			model.OrderStatusExpired, model.FailureOrderExpired); err != nil {
			u.log.Error().Err(err).Str("order_id", order.ID).Msg("persist order expiry failed")
		}
		return nil, domain.ErrOrderExpired
	}

	if order.Status == model.OrderStatusCreated {
		if ok, err := u.orders.TransitionStatus(ctx, repository.NoTX, order.ID,
			[]model.OrderStatus{model.OrderStatusCreated}, model.OrderStatusProcessing, ""); err == nil && ok {
			order.Status = model.OrderStatusProcessing
		}
	}
	return &PaymentPage{Order: order, GatewayKeyID: u.gateway.KeyID(), ExpiresAt: order.ExpiresAt()}, nil
}

// quote rejects same-or-lower tier purchases while a subscription is live.
func (u *orderUC) quote(ctx context.Context, live *model.Subscription, plan pricing.Plan, currency string) (*UpgradeQuote, error) {
	if live == nil {
		return &UpgradeQuote{Currency: currency, Credit: decimal.Zero}, nil
	}
	q, err := u.prorate.CalculateUpgrade(live, plan, currency)
	if err != nil {
		if errors.Is(err, domain.ErrImplausiblePricing) {
			u.log.Error().Err(err).Str("user_id", live.UserID).Str("subscription_id", live.ID).Msg("refusing to quote upgrade")
			alert(ctx, u.notifier, u.log, "Implausible subscription pricing",
				fmt.Sprintf("user %s subscription %s: %v", live.UserID, live.ID, err))
		}
		return nil, err
	}
	if !q.IsUpgrade {
		return nil, domain.ErrDowngradeNotAllowedMidCycle
	}
	if q.Repair != "" {
		u.log.Warn().Str("subscription_id", live.ID).Str("repair", q.Repair).Msg("stored subscription amount reinterpreted")
	}
	return q, nil
}

func (u *orderUC) allow(ctx context.Context, userID string) error {
	if u.limiter == nil {
		return nil
	}
	ok, err := u.limiter.Allow(ctx, "rate_limit:create_order:"+userID, u.opts.RateLimit, u.opts.RateWindow)
	if err != nil {
		// fail open: the limiter only guards double taps
		u.log.Warn().Err(err).Str("user_id", userID).Msg("rate limiter unavailable")
		return nil
	}
	if !ok {
		return domain.ErrRateLimited
	}
	return nil
}

func (u *orderUC) paymentURL(orderID, token string) string {
	base := strings.TrimRight(u.opts.PublicBaseURL, "/")
	return fmt.Sprintf("%s/api/v1/subscriptions/payment-page/%s?token=%s", base, url.PathEscape(orderID), url.QueryEscape(token))
}

// settleByCredit activates a purchase the proration credit fully paid for.
// A failed activation leaves the pending transaction to the recovery sweep.
func (u *orderUC) settleByCredit(ctx context.Context, order *model.PaymentOrder, txn *model.PaymentTransaction,
	quote *UpgradeQuote, log zerolog.Logger) (*CreateOrderResult, error) {
	res := &CreateOrderResult{Order: order, Transaction: txn, Quote: quote}
	if u.activation == nil {
		log.Info().Int64("credit", quote.CreditMinor).Msg("credit-settled order queued for recovery")
		return res, nil
	}
	act, err := u.activation.Activate(ctx, txn.ID)
	if err != nil {
		log.Error().Err(err).Msg("credit-settled activation failed")
		return nil, err
	}
	order.Status = model.OrderStatusPaid
	res.Transaction = act.Transaction
	res.Activation = act
	log.Info().Int64("credit", quote.CreditMinor).Str("subscription_id", act.Subscription.ID).
		Msg("order settled by proration credit")
	return res, nil
}

// payableMinor is max(0, price - credit).
func payableMinor(price, credit int64) int64 {
	if p := price - credit; p > 0 {
		return p
	}
	return 0
}

// newOrderID is time-sortable and carries a user suffix for support lookups.
func newOrderID(now time.Time, userID string) string {
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy())
	suffix := userID
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return "ord_" + id.String() + "_" + suffix
}

// liveSubscription returns the user's subscription if it currently grants
// entitlement, nil otherwise.
func liveSubscription(ctx context.Context, subs repository.SubscriptionRepository, tx repository.Tx, userID string, now time.Time) (*model.Subscription, error) {
	s, err := subs.FindByUser(ctx, tx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !s.ActiveAt(now) {
		return nil, nil
	}
	return s, nil
}

func alert(ctx context.Context, n adapter.Notifier, log *zerolog.Logger, subject, text string) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, subject, text); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("ops alert failed")
	}
}
