package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"korean-tutor-billing/internal/domain"
	"korean-tutor-billing/internal/domain/model"
	"korean-tutor-billing/internal/domain/ports/repository"
)

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subColumns = `id, user_id, plan_id, plan_name, plan_tier, plan_duration, interval_count, status, amount, currency,
  features, current_period_start, current_period_end, next_billing_date, auto_renew, cancel_at_period_end,
  cancel_reason, cancelled_at, scheduled_downgrade, source_transaction_id, prior_subscription_id, prior_plan_id,
  applied_proration_credit, downgraded_from_plan_id, version, created_at, updated_at`

// LockUser takes a transaction-scoped advisory lock on the user id. It must
// run inside a transaction, otherwise the lock is released immediately.
func (r *subscriptionRepo) LockUser(ctx context.Context, tx repository.Tx, userID string) error {
	if _, ok := tx.(pgx.Tx); !ok {
		return domain.ErrInvalidExecContext
	}
	_, err := execSQL(ctx, r.pool, tx, `SELECT pg_advisory_xact_lock($1)`, hashToInt64("subscription:"+userID))
	return mapWriteErr(err, nil)
}

func (r *subscriptionRepo) FindByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Subscription, error) {
	q := forUpdate(`SELECT `+subColumns+` FROM subscriptions WHERE user_id=$1`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, err
	}
	return scanSubscription(row)
}

func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	features, err := json.Marshal(s.Features)
	if err != nil {
		return domain.ErrInvalidArgument
	}
	var downgrade []byte
	if s.ScheduledDowngrade != nil {
		if downgrade, err = json.Marshal(s.ScheduledDowngrade); err != nil {
			return domain.ErrInvalidArgument
		}
	}
	args := []interface{}{
		s.ID, s.UserID, s.PlanID, s.PlanName, s.PlanTier, s.PlanDuration, s.IntervalCount, s.Status, s.Amount,
		s.Currency, features, s.CurrentPeriodStart, s.CurrentPeriodEnd, s.NextBillingDate, s.AutoRenew,
		s.CancelAtPeriodEnd, s.CancelReason, s.CancelledAt, downgrade, s.SourceTransactionID, s.PriorSubscriptionID,
		s.PriorPlanID, s.AppliedProrationCredit, s.DowngradedFromPlanID, s.Version + 1, s.CreatedAt, s.UpdatedAt,
	}

	if s.Version == 0 {
		const ins = `INSERT INTO subscriptions (` + subColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27);`
		if _, err := execSQL(ctx, r.pool, tx, ins, args...); err != nil {
			return mapWriteErr(err, domain.ErrDuplicateActivation)
		}
		s.Version++
		return nil
	}

	const upd = `
UPDATE subscriptions SET
  id=$1, plan_id=$3, plan_name=$4, plan_tier=$5, plan_duration=$6, interval_count=$7, status=$8, amount=$9,
  currency=$10, features=$11, current_period_start=$12, current_period_end=$13, next_billing_date=$14,
  auto_renew=$15, cancel_at_period_end=$16, cancel_reason=$17, cancelled_at=$18, scheduled_downgrade=$19,
  source_transaction_id=$20, prior_subscription_id=$21, prior_plan_id=$22, applied_proration_credit=$23,
  downgraded_from_plan_id=$24, version=$25, created_at=$26, updated_at=$27
WHERE user_id=$2 AND version=$28;`
	cmd, err := execSQL(ctx, r.pool, tx, upd, append(args, s.Version)...)
	if err != nil {
		return mapWriteErr(err, domain.ErrDuplicateActivation)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrDuplicateActivation
	}
	s.Version++
	return nil
}

func (r *subscriptionRepo) Archive(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	snapshot, err := json.Marshal(s)
	if err != nil {
		return domain.ErrInvalidArgument
	}
	const q = `INSERT INTO subscription_history (subscription_id, user_id, snapshot, archived_at) VALUES ($1,$2,$3,NOW());`
	_, err = execSQL(ctx, r.pool, tx, q, s.ID, s.UserID, snapshot)
	return mapWriteErr(err, nil)
}

func (r *subscriptionRepo) ListHistory(ctx context.Context, tx repository.Tx, userID string) ([]*model.Subscription, error) {
	const q = `SELECT snapshot FROM subscription_history WHERE user_id=$1 ORDER BY seq DESC;`
	rows, err := queryRows(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, mapWriteErr(err, nil)
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		var s model.Subscription
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, &s)
	}
	if rows.Err() != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *subscriptionRepo) ListDue(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	if limit <= 0 {
		limit = 200
	}
	const q = `SELECT ` + subColumns + ` FROM subscriptions
 WHERE status IN ('active','trialing') AND current_period_end <= $1
 ORDER BY current_period_end ASC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, now, limit)
	if err != nil {
		return nil, mapWriteErr(err, nil)
	}
	defer rows.Close()

	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if rows.Err() != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	var (
		s         model.Subscription
		features  []byte
		downgrade []byte
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.PlanID, &s.PlanName, &s.PlanTier, &s.PlanDuration, &s.IntervalCount,
		&s.Status, &s.Amount, &s.Currency, &features, &s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.NextBillingDate,
		&s.AutoRenew, &s.CancelAtPeriodEnd, &s.CancelReason, &s.CancelledAt, &downgrade, &s.SourceTransactionID,
		&s.PriorSubscriptionID, &s.PriorPlanID, &s.AppliedProrationCredit, &s.DowngradedFromPlanID, &s.Version,
		&s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, mapReadErr(err)
	}
	if err := json.Unmarshal(features, &s.Features); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	if len(downgrade) > 0 {
		var d model.ScheduledDowngrade
		if err := json.Unmarshal(downgrade, &d); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		s.ScheduledDowngrade = &d
	}
	return &s, nil
}
