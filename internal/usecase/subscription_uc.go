// File: internal/usecase/subscription_uc.go
package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"korean-tutor-billing/internal/domain"
	"korean-tutor-billing/internal/domain/model"
	"korean-tutor-billing/internal/domain/ports/adapter"
	"korean-tutor-billing/internal/domain/ports/repository"
	"korean-tutor-billing/internal/pricing"
)

type SubscriptionUseCase interface {
	// Current returns the user's subscription, expiring it first if its period ended.
	Current(ctx context.Context, userID string) (*model.Subscription, error)
	History(ctx context.Context, userID string) ([]*model.Subscription, error)
	// Cancel stops renewal; the subscription stays usable until period end.
	Cancel(ctx context.Context, userID, reason string) (*model.Subscription, error)
	// Reactivate undoes a pending cancellation.
	Reactivate(ctx context.Context, userID string) (*model.Subscription, error)
	// ScheduleDowngrade records a lower-tier plan to take over at period end.
	ScheduleDowngrade(ctx context.Context, userID, planID string) (*model.Subscription, error)
	// ApplyDueLifecycle settles subscriptions whose period has ended.
	ApplyDueLifecycle(ctx context.Context, batchSize int) (*LifecycleResult, error)
}

// LifecycleResult counts one pass. DowngradesDue counts expiries that carry a
// pending lower plan.
type LifecycleResult struct {
	Checked       int
	Expired       int
	DowngradesDue int
	Errors        int
}

var _ SubscriptionUseCase = (*subscriptionUC)(nil)

type subscriptionUC struct {
	subs    repository.SubscriptionRepository
	users   repository.UserRepository
	tm      repository.TransactionManager
	catalog *pricing.Catalog
	clock   adapter.Clock
	log     *zerolog.Logger
}

func NewSubscriptionUseCase(
	subs repository.SubscriptionRepository,
	users repository.UserRepository,
	tm repository.TransactionManager,
	catalog *pricing.Catalog,
	clock adapter.Clock,
	logger *zerolog.Logger,
) SubscriptionUseCase {
	if clock == nil {
		clock = adapter.SystemClock
	}
	l := logger.With().Str("component", "SubscriptionUseCase").Logger()
	return &subscriptionUC{subs: subs, users: users, tm: tm, catalog: catalog, clock: clock, log: &l}
}

func (u *subscriptionUC) Current(ctx context.Context, userID string) (*model.Subscription, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	s, err := u.subs.FindByUser(ctx, repository.NoTX, userID)
	if err != nil {
		return nil, err
	}
	if !s.LapsedAt(u.clock.Now()) {
		return s, nil
	}
	// lazy settlement; the lifecycle job does the same on schedule
	var out *model.Subscription
	err = u.mutate(ctx, userID, func(ctx context.Context, tx repository.Tx, s *model.Subscription) (bool, error) {
		changed, err := u.settle(ctx, tx, s)
		out = s
		return changed, err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (u *subscriptionUC) History(ctx context.Context, userID string) ([]*model.Subscription, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrInvalidArgument
	}
	return u.subs.ListHistory(ctx, repository.NoTX, userID)
}

func (u *subscriptionUC) Cancel(ctx context.Context, userID, reason string) (*model.Subscription, error) {
	if strings.TrimSpace(reason) == "" {
		reason = model.CancelReasonUserRequested
	}
	var out *model.Subscription
	err := u.mutate(ctx, userID, func(ctx context.Context, tx repository.Tx, s *model.Subscription) (bool, error) {
		out = s
		if !s.ActiveAt(u.clock.Now()) {
			return false, domain.ErrNoActiveSubscription
		}
		if s.CancelAtPeriodEnd {
			return false, nil
		}
		now := u.clock.Now()
		s.CancelAtPeriodEnd = true
		s.CancelReason = reason
		s.CancelledAt = &now
		s.AutoRenew = false
		s.ScheduledDowngrade = nil
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	u.log.Info().Str("user_id", userID).Str("subscription_id", out.ID).Str("reason", reason).Msg("subscription set to cancel at period end")
	return out, nil
}

func (u *subscriptionUC) Reactivate(ctx context.Context, userID string) (*model.Subscription, error) {
	var out *model.Subscription
	err := u.mutate(ctx, userID, func(ctx context.Context, tx repository.Tx, s *model.Subscription) (bool, error) {
		out = s
		if !s.ActiveAt(u.clock.Now()) {
			return false, domain.ErrNoActiveSubscription
		}
		if s.Status != model.SubscriptionStatusActive || !s.CancelAtPeriodEnd {
			return false, domain.ErrNotCancelled
		}
		s.CancelAtPeriodEnd = false
		s.CancelReason = ""
		s.CancelledAt = nil
		s.AutoRenew = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (u *subscriptionUC) ScheduleDowngrade(ctx context.Context, userID, planID string) (*model.Subscription, error) {
	target, err := u.catalog.Plan(planID)
	if err != nil {
		return nil, err
	}
	var out *model.Subscription
	err = u.mutate(ctx, userID, func(ctx context.Context, tx repository.Tx, s *model.Subscription) (bool, error) {
		out = s
		now := u.clock.Now()
		if !s.ActiveAt(now) {
			return false, domain.ErrNoActiveSubscription
		}
		if target.Tier.Rank() >= currentTier(s).Rank() {
			return false, domain.ErrInvalidDowngrade
		}
		if s.CancelAtPeriodEnd {
			// nothing renews, so there is nothing to downgrade into
			return false, domain.ErrInvalidDowngrade
		}
		s.ScheduledDowngrade = &model.ScheduledDowngrade{
			PlanID:      target.ID,
			EffectiveAt: s.CurrentPeriodEnd,
			RequestedAt: now,
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	u.log.Info().Str("user_id", userID).Str("plan_id", planID).Time("effective_at", out.CurrentPeriodEnd).Msg("downgrade scheduled")
	return out, nil
}

func (u *subscriptionUC) ApplyDueLifecycle(ctx context.Context, batchSize int) (*LifecycleResult, error) {
	if batchSize <= 0 {
		batchSize = 200
	}
	due, err := u.subs.ListDue(ctx, repository.NoTX, u.clock.Now(), batchSize)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	res := &LifecycleResult{Checked: len(due)}
	for _, d := range due {
		var after model.SubscriptionStatus
		var downgradeDue bool
		err := u.mutate(ctx, d.UserID, func(ctx context.Context, tx repository.Tx, s *model.Subscription) (bool, error) {
			changed, err := u.settle(ctx, tx, s)
			after = s.Status
			downgradeDue = changed && s.ScheduledDowngrade != nil
			return changed, err
		})
		if err != nil {
			res.Errors++
			u.log.Error().Err(err).Str("user_id", d.UserID).Str("subscription_id", d.ID).Msg("lifecycle settle failed")
			continue
		}
		if after == model.SubscriptionStatusExpired {
			res.Expired++
		}
		if downgradeDue {
			res.DowngradesDue++
		}
	}
	return res, nil
}

// mutate loads the user's slot under the user lock, applies fn and saves when
// fn reports a change.
func (u *subscriptionUC) mutate(ctx context.Context, userID string, fn func(ctx context.Context, tx repository.Tx, s *model.Subscription) (bool, error)) error {
	if strings.TrimSpace(userID) == "" {
		return domain.ErrInvalidArgument
	}
	return u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.subs.LockUser(ctx, tx, userID); err != nil {
			return err
		}
		s, err := u.subs.FindByUser(ctx, tx, userID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrNoActiveSubscription
			}
			return err
		}
		changed, err := fn(ctx, tx, s)
		if err != nil || !changed {
			return err
		}
		s.UpdatedAt = u.clock.Now()
		return u.subs.Save(ctx, tx, s)
	})
}

// settle expires a lapsed subscription and resets the profile tier in the same
// tx. A due downgrade stays on the expired row as the plan to renew onto; the
// lower plan starts only once its order is paid.
func (u *subscriptionUC) settle(ctx context.Context, tx repository.Tx, s *model.Subscription) (bool, error) {
	now := u.clock.Now()
	if !s.LapsedAt(now) {
		return false, nil
	}

	d := s.ScheduledDowngrade
	if d != nil && (!s.AutoRenew || s.CancelAtPeriodEnd || now.Before(d.EffectiveAt)) {
		d = nil
	}
	if d != nil {
		if _, err := u.catalog.Plan(d.PlanID); err != nil {
			u.log.Error().Err(err).Str("user_id", s.UserID).Str("plan_id", d.PlanID).Msg("scheduled downgrade target vanished; expiring")
			d = nil
		} else {
			u.log.Info().Str("user_id", s.UserID).Str("from_plan", s.PlanID).Str("to_plan", d.PlanID).Msg("scheduled downgrade due; awaiting renewal payment")
		}
	}

	s.Status = model.SubscriptionStatusExpired
	s.ScheduledDowngrade = d
	s.AutoRenew = false
	s.NextBillingDate = nil
	return true, u.users.UpdateEntitlement(ctx, tx, s.UserID, model.TierFree, model.SubscriptionStatusExpired, "")
}
