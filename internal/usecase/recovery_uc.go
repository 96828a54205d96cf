// File: internal/usecase/recovery_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"korean-tutor-billing/internal/domain"
	"korean-tutor-billing/internal/domain/model"
	"korean-tutor-billing/internal/domain/ports/adapter"
	"korean-tutor-billing/internal/domain/ports/repository"
)

const (
	sweepLockKey = "lock:recovery:sweep"
	txnLockKey   = "lock:recovery:txn:"
)

type RecoveryOutcome string

const (
	OutcomeRecovered        RecoveryOutcome = "recovered"
	OutcomeFailed           RecoveryOutcome = "failed"
	OutcomePending          RecoveryOutcome = "pending"
	OutcomeAlreadyCompleted RecoveryOutcome = "already_completed"
	OutcomeInProgress       RecoveryOutcome = "in_progress"
)

type SweepError struct {
	TransactionID string `json:"transactionId"`
	Error         string `json:"error"`
}

type SweepResult struct {
	Checked   int          `json:"checked"`
	Recovered int          `json:"recovered"`
	Failed    int          `json:"failed"`
	Errors    []SweepError `json:"errors"`
}

type RecoveryResult struct {
	Outcome      RecoveryOutcome
	Transaction  *model.PaymentTransaction
	Subscription *model.Subscription
}

type RecoveryUseCase interface {
	// Sweep re-checks pending transactions older than the grace period. One
	// item failing never aborts the batch.
	Sweep(ctx context.Context, batchSize int) (*SweepResult, error)
	// RecoverOrder re-checks a single order of the caller, by local or gateway order id.
	RecoverOrder(ctx context.Context, userID, orderID string) (*RecoveryResult, error)
}

// Submitter runs tasks with bounded concurrency and waits for them.
type Submitter interface {
	Go(task func(ctx context.Context))
	Wait()
}

type RecoveryOptions struct {
	GracePeriod time.Duration
	BatchSize   int
	LockTTL     time.Duration
	// NewPool returns a bounded runner for one sweep; nil runs items sequentially.
	NewPool func(ctx context.Context) Submitter
}

var _ RecoveryUseCase = (*recoveryUC)(nil)

type recoveryUC struct {
	orders     repository.OrderRepository
	txns       repository.TransactionRepository
	tm         repository.TransactionManager
	activation ActivationUseCase
	gateway    adapter.PaymentGateway
	statuses   adapter.OrderStatusSource
	locker     adapter.Locker
	clock      adapter.Clock
	opts       RecoveryOptions
	log        *zerolog.Logger
}

// NewRecoveryUseCase wires the sweeper. statuses may be a cached view of the
// gateway used only by Sweep; locker may be nil for single-instance setups.
func NewRecoveryUseCase(
	orders repository.OrderRepository,
	txns repository.TransactionRepository,
	tm repository.TransactionManager,
	activation ActivationUseCase,
	gateway adapter.PaymentGateway,
	statuses adapter.OrderStatusSource,
	locker adapter.Locker,
	clock adapter.Clock,
	opts RecoveryOptions,
	logger *zerolog.Logger,
) RecoveryUseCase {
	if clock == nil {
		clock = adapter.SystemClock
	}
	if statuses == nil {
		statuses = gateway
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 5 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}
	l := logger.With().Str("component", "RecoveryUseCase").Logger()
	return &recoveryUC{
		orders: orders, txns: txns, tm: tm, activation: activation,
		gateway: gateway, statuses: statuses, locker: locker, clock: clock,
		opts: opts, log: &l,
	}
}

func (u *recoveryUC) Sweep(ctx context.Context, batchSize int) (*SweepResult, error) {
	if batchSize <= 0 {
		batchSize = u.opts.BatchSize
	}
	unlock, err := u.lock(ctx, sweepLockKey)
	if err != nil {
		return nil, err
	}
	defer unlock()

	cutoff := u.clock.Now().Add(-u.opts.GracePeriod)
	pending, err := u.txns.ListPendingOlderThan(ctx, repository.NoTX, cutoff, batchSize)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	res := &SweepResult{Checked: len(pending), Errors: []SweepError{}}
	var mu sync.Mutex
	record := func(txn *model.PaymentTransaction, r *RecoveryResult, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			res.Errors = append(res.Errors, SweepError{TransactionID: txn.ID, Error: err.Error()})
			u.log.Error().Err(err).Str("transaction_id", txn.ID).Str("gateway_order_id", txn.GatewayOrderID).Msg("recovery failed")
			return
		}
		switch r.Outcome {
		case OutcomeRecovered:
			res.Recovered++
		case OutcomeFailed:
			res.Failed++
		}
	}

	if u.opts.NewPool == nil {
		for _, txn := range pending {
			r, err := u.recover(ctx, txn, u.statuses)
			record(txn, r, err)
		}
	} else {
		pool := u.opts.NewPool(ctx)
		for _, txn := range pending {
			txn := txn
			pool.Go(func(ctx context.Context) {
				r, err := u.recover(ctx, txn, u.statuses)
				record(txn, r, err)
			})
		}
		pool.Wait()
	}

	u.log.Info().Int("checked", res.Checked).Int("recovered", res.Recovered).
		Int("failed", res.Failed).Int("errors", len(res.Errors)).Msg("sweep finished")
	return res, nil
}

func (u *recoveryUC) RecoverOrder(ctx context.Context, userID, orderID string) (*RecoveryResult, error) {
	if userID == "" || orderID == "" {
		return nil, domain.ErrInvalidArgument
	}
	gatewayOrderID := orderID
	if o, err := u.orders.FindByID(ctx, repository.NoTX, orderID); err == nil {
		if o.UserID != userID {
			return nil, domain.ErrOrderNotFound
		}
		gatewayOrderID = o.GatewayOrderID
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	txn, err := u.txns.FindByGatewayOrderID(ctx, repository.NoTX, gatewayOrderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	if txn.UserID != userID {
		return nil, domain.ErrOrderNotFound
	}
	// a user asking wants a fresh answer, not the sweeper's cache
	return u.recover(ctx, txn, u.gateway)
}

// recover reconciles one transaction against the gateway.
func (u *recoveryUC) recover(ctx context.Context, txn *model.PaymentTransaction, statuses adapter.OrderStatusSource) (*RecoveryResult, error) {
	if txn.Status == model.TransactionStatusCompleted {
		return &RecoveryResult{Outcome: OutcomeAlreadyCompleted, Transaction: txn}, nil
	}
	unlock, err := u.lock(ctx, txnLockKey+txn.ID)
	if err != nil {
		if errors.Is(err, domain.ErrLocked) {
			return &RecoveryResult{Outcome: OutcomeInProgress, Transaction: txn}, nil
		}
		return nil, err
	}
	defer unlock()

	log := u.log.With().Str("transaction_id", txn.ID).Str("gateway_order_id", txn.GatewayOrderID).Logger()

	if txn.SettledByCredit() {
		act, err := u.activation.Activate(ctx, txn.ID)
		if err != nil {
			return nil, err
		}
		log.Info().Str("subscription_id", act.Subscription.ID).Msg("recovered credit-settled order")
		return &RecoveryResult{Outcome: OutcomeRecovered, Transaction: act.Transaction, Subscription: act.Subscription}, nil
	}

	order, err := statuses.GetOrder(ctx, txn.GatewayOrderID)
	if err != nil {
		return nil, fmt.Errorf("fetch gateway order: %w", err)
	}

	switch order.Status {
	case adapter.GatewayOrderPaid:
		paymentID := ""
		if txn.GatewayPaymentID != nil {
			paymentID = *txn.GatewayPaymentID
		} else {
			payments, err := u.gateway.GetOrderPayments(ctx, txn.GatewayOrderID)
			if err != nil {
				return nil, fmt.Errorf("fetch gateway payments: %w", err)
			}
			for _, p := range payments {
				if p.Status == adapter.GatewayPaymentCaptured {
					paymentID = p.ID
					break
				}
			}
		}
		if paymentID == "" {
			log.Warn().Msg("order paid but no captured payment yet")
			return &RecoveryResult{Outcome: OutcomePending, Transaction: txn}, nil
		}
		if _, err := u.txns.AttachPayment(ctx, repository.NoTX, txn.ID, paymentID, ""); err != nil {
			return nil, err
		}
		act, err := u.activation.Activate(ctx, txn.ID)
		if err != nil {
			return nil, err
		}
		log.Info().Str("gateway_payment_id", paymentID).Str("subscription_id", act.Subscription.ID).Msg("recovered payment")
		return &RecoveryResult{Outcome: OutcomeRecovered, Transaction: act.Transaction, Subscription: act.Subscription}, nil

	case adapter.GatewayOrderFailed:
		if err := u.fail(ctx, txn, model.FailureGatewayFailed, model.OrderStatusFailed); err != nil {
			return nil, err
		}
		return &RecoveryResult{Outcome: OutcomeFailed, Transaction: txn}, nil
	}

	if !u.clock.Now().Before(txn.CreatedAt.Add(model.OrderTTL)) {
		if err := u.fail(ctx, txn, model.FailureOrderExpired, model.OrderStatusExpired); err != nil {
			return nil, err
		}
		return &RecoveryResult{Outcome: OutcomeFailed, Transaction: txn}, nil
	}
	return &RecoveryResult{Outcome: OutcomePending, Transaction: txn}, nil
}

func (u *recoveryUC) fail(ctx context.Context, txn *model.PaymentTransaction, reason string, orderStatus model.OrderStatus) error {
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if _, err := u.txns.MarkFailed(ctx, tx, txn.ID, reason); err != nil {
			return err
		}
		_, err := u.orders.TransitionStatus(ctx, tx, txn.PaymentOrderID,
			[]model.OrderStatus{model.OrderStatusCreated, model.OrderStatusProcessing}, orderStatus, reason)
		return err
	})
	if err != nil {
		return err
	}
	txn.Status = model.TransactionStatusFailed
	txn.FailureReason = reason
	return nil
}

func (u *recoveryUC) lock(ctx context.Context, key string) (func(), error) {
	if u.locker == nil {
		return func() {}, nil
	}
	token, err := u.locker.TryLock(ctx, key, u.opts.LockTTL)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := u.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			u.log.Warn().Err(err).Str("key", key).Msg("unlock failed")
		}
	}, nil
}
