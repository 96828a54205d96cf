// File: internal/usecase/activation_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"korean-tutor-billing/internal/domain"
	"korean-tutor-billing/internal/domain/model"
	"korean-tutor-billing/internal/domain/ports/adapter"
	"korean-tutor-billing/internal/domain/ports/repository"
	"korean-tutor-billing/internal/pricing"
)

type ActivationUseCase interface {
	// Activate turns a paid transaction into the user's subscription. Calling it
	// again for the same transaction returns the existing subscription.
	Activate(ctx context.Context, txnID string) (*ActivationResult, error)
	// VerifyPayment handles the checkout callback: checks the signature, records
	// the payment id and activates.
	VerifyPayment(ctx context.Context, in VerifyPaymentInput) (*ActivationResult, error)
}

type VerifyPaymentInput struct {
	UserID           string
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

type ActivationResult struct {
	Subscription    *model.Subscription
	Transaction     *model.PaymentTransaction
	ProrationCredit int64
	// AlreadyActive is true when nothing was written.
	AlreadyActive bool
}

var _ ActivationUseCase = (*activationUC)(nil)

type activationUC struct {
	orders   repository.OrderRepository
	txns     repository.TransactionRepository
	subs     repository.SubscriptionRepository
	users    repository.UserRepository
	tm       repository.TransactionManager
	catalog  *pricing.Catalog
	prorate  *ProrationCalculator
	gateway  adapter.PaymentGateway
	notifier adapter.Notifier
	clock    adapter.Clock
	log      *zerolog.Logger
}

func NewActivationUseCase(
	orders repository.OrderRepository,
	txns repository.TransactionRepository,
	subs repository.SubscriptionRepository,
	users repository.UserRepository,
	tm repository.TransactionManager,
	catalog *pricing.Catalog,
	prorate *ProrationCalculator,
	gateway adapter.PaymentGateway,
	notifier adapter.Notifier,
	clock adapter.Clock,
	logger *zerolog.Logger,
) ActivationUseCase {
	if clock == nil {
		clock = adapter.SystemClock
	}
	l := logger.With().Str("component", "ActivationUseCase").Logger()
	return &activationUC{
		orders: orders, txns: txns, subs: subs, users: users, tm: tm,
		catalog: catalog, prorate: prorate, gateway: gateway, notifier: notifier,
		clock: clock, log: &l,
	}
}

func (u *activationUC) VerifyPayment(ctx context.Context, in VerifyPaymentInput) (*ActivationResult, error) {
	if strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.GatewayOrderID) == "" ||
		strings.TrimSpace(in.GatewayPaymentID) == "" || strings.TrimSpace(in.Signature) == "" {
		return nil, domain.ErrInvalidArgument
	}
	log := u.log.With().Str("user_id", in.UserID).Str("gateway_order_id", in.GatewayOrderID).
		Str("gateway_payment_id", in.GatewayPaymentID).Logger()

	txn, err := u.txns.FindByGatewayOrderID(ctx, repository.NoTX, in.GatewayOrderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	if txn.UserID != in.UserID {
		return nil, domain.ErrOrderNotFound
	}

	if err := u.gateway.VerifyPayment(ctx, in.GatewayPaymentID, in.GatewayOrderID, in.Signature); err != nil {
		if errors.Is(err, domain.ErrSignatureMismatch) {
			// order stays pending for a genuine callback or the sweeper
			log.Warn().Str("transaction_id", txn.ID).Msg("payment signature mismatch")
		}
		return nil, err
	}

	attached, err := u.txns.AttachPayment(ctx, repository.NoTX, txn.ID, in.GatewayPaymentID, in.Signature)
	if err != nil {
		return nil, err
	}
	if !attached {
		log.Warn().Msg("order already carries a different payment id; activating with the recorded one")
	}
	return u.Activate(ctx, txn.ID)
}

func (u *activationUC) Activate(ctx context.Context, txnID string) (*ActivationResult, error) {
	var res *ActivationResult
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		txn, err := u.txns.FindByID(ctx, tx, txnID)
		if err != nil {
			return err
		}
		if err := u.subs.LockUser(ctx, tx, txn.UserID); err != nil {
			return err
		}
		res, err = u.activate(ctx, tx, txn)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateActivation) {
			u.log.Warn().Str("transaction_id", txnID).Msg("lost activation race")
		}
		return nil, err
	}
	if !res.AlreadyActive {
		u.log.Info().Str("transaction_id", txnID).Str("user_id", res.Subscription.UserID).
			Str("subscription_id", res.Subscription.ID).Str("plan_id", res.Subscription.PlanID).
			Int64("credit", res.ProrationCredit).Msg("subscription activated")
	}
	return res, nil
}

// activate runs under the per-user lock inside one storage transaction.
func (u *activationUC) activate(ctx context.Context, tx repository.Tx, txn *model.PaymentTransaction) (*ActivationResult, error) {
	now := u.clock.Now()
	log := u.log.With().Str("transaction_id", txn.ID).Str("user_id", txn.UserID).Logger()

	current, err := u.subs.FindByUser(ctx, tx, txn.UserID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if txn.Activated() {
		if current == nil {
			return nil, fmt.Errorf("%w: transaction %s completed without a subscription", domain.ErrNotFound, txn.ID)
		}
		return &ActivationResult{Subscription: current, Transaction: txn, AlreadyActive: true}, nil
	}
	if txn.GatewayPaymentID == nil {
		return nil, fmt.Errorf("%w: transaction %s has no captured payment", domain.ErrInvalidArgument, txn.ID)
	}
	if txn.Status == model.TransactionStatusFailed {
		log.Warn().Str("reason", txn.FailureReason).Msg("activating a transaction previously marked failed")
	}

	plan, err := u.catalog.Plan(txn.PlanID)
	if err != nil {
		return nil, err
	}
	var live *model.Subscription
	if current.ActiveAt(now) {
		live = current
	}

	// Same plan already live: a replay of a purchase that was applied by
	// another path. Link and stop.
	if live != nil && live.PlanID == txn.PlanID && !txn.IsUpgrade() {
		log.Warn().Str("subscription_id", live.ID).Msg("plan already active; linking transaction without changes")
		if err := u.complete(ctx, tx, txn, live.ID); err != nil {
			return nil, err
		}
		return &ActivationResult{Subscription: live, Transaction: txn, AlreadyActive: true}, nil
	}

	credit := txn.OrderProrationCredit
	if live != nil {
		q, err := u.prorate.CalculateUpgrade(live, plan, txn.Currency)
		switch {
		case err != nil:
			// The user has already paid; keep the credit recorded at order time.
			log.Error().Err(err).Msg("proration at activation failed; using order credit")
			alert(ctx, u.notifier, &log, "Proration failed at activation",
				fmt.Sprintf("transaction %s user %s: %v", txn.ID, txn.UserID, err))
		case q.CreditMinor > credit:
			credit = q.CreditMinor
		}

		archived := live.Clone()
		archived.Status = model.SubscriptionStatusCancelled
		archived.CancelReason = model.CancelReasonReplaced
		archived.CancelledAt = &now
		archived.AutoRenew = false
		archived.UpdatedAt = now
		if err := u.subs.Archive(ctx, tx, archived); err != nil {
			return nil, err
		}
	} else if current != nil {
		archived := current.Clone()
		if archived.IsLive() {
			// lapsed but never expired by the job
			archived.Status = model.SubscriptionStatusExpired
		}
		archived.UpdatedAt = now
		if err := u.subs.Archive(ctx, tx, archived); err != nil {
			return nil, err
		}
	}

	sub := u.buildSubscription(txn, plan, live, credit)
	if current != nil {
		sub.Version = current.Version
		sub.CreatedAt = current.CreatedAt
		if d := current.ScheduledDowngrade; live == nil && d != nil && d.PlanID == plan.ID {
			sub.DowngradedFromPlanID = current.PlanID
			sub.PriorPlanID = current.PlanID
		}
	}
	if err := u.subs.Save(ctx, tx, sub); err != nil {
		return nil, err
	}
	if err := u.users.UpdateEntitlement(ctx, tx, txn.UserID, sub.PlanTier, sub.Status, sub.PlanID); err != nil {
		return nil, err
	}
	if err := u.complete(ctx, tx, txn, sub.ID); err != nil {
		return nil, err
	}
	return &ActivationResult{Subscription: sub, Transaction: txn, ProrationCredit: credit}, nil
}

func (u *activationUC) buildSubscription(txn *model.PaymentTransaction, plan pricing.Plan, live *model.Subscription, credit int64) *model.Subscription {
	now := u.clock.Now()
	end := plan.Duration.AddTo(now)
	txnID := txn.ID

	amount := txn.Plan.OriginalAmount
	if amount <= 0 {
		if p, err := u.catalog.PriceIn(plan.ID, txn.Currency); err == nil {
			amount = pricing.ToMinor(p, txn.Currency)
		}
	}

	sub := &model.Subscription{
		ID:                     uuid.NewString(),
		UserID:                 txn.UserID,
		PlanID:                 plan.ID,
		PlanName:               plan.Name,
		PlanTier:               plan.Tier,
		PlanDuration:           plan.Duration,
		IntervalCount:          plan.IntervalCount(),
		Status:                 model.SubscriptionStatusActive,
		Amount:                 amount,
		Currency:               txn.Currency,
		Features:               plan.Features,
		CurrentPeriodStart:     now,
		CurrentPeriodEnd:       end,
		NextBillingDate:        &end,
		AutoRenew:              true,
		SourceTransactionID:    &txnID,
		AppliedProrationCredit: credit,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if live != nil {
		prior := live.ID
		sub.PriorSubscriptionID = &prior
		sub.PriorPlanID = live.PlanID
	}
	return sub
}

// complete marks the transaction done and the order paid, inside tx.
func (u *activationUC) complete(ctx context.Context, tx repository.Tx, txn *model.PaymentTransaction, subID string) error {
	now := u.clock.Now()
	if err := u.txns.MarkCompleted(ctx, tx, txn.ID, subID, now); err != nil {
		return err
	}
	if _, err := u.orders.TransitionStatus(ctx, tx, txn.PaymentOrderID, []model.OrderStatus{
		model.OrderStatusCreated, model.OrderStatusProcessing, model.OrderStatusFailed, model.OrderStatusExpired,
	}, model.OrderStatusPaid, ""); err != nil {
		return err
	}
	txn.Status = model.TransactionStatusCompleted
	txn.SubscriptionID = &subID
	txn.CompletedAt = &now
	return nil
}
