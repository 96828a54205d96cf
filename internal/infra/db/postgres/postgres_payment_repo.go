package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"korean-tutor-billing/internal/domain"
	"korean-tutor-billing/internal/domain/model"
	"korean-tutor-billing/internal/domain/ports/repository"
)

// ContactSealer encrypts the checkout contact snapshot at rest.
type ContactSealer interface {
	EncryptContact(c model.ContactSnapshot) (string, error)
	DecryptContact(s string) (model.ContactSnapshot, error)
}

// ---- payment_orders ----

var _ repository.OrderRepository = (*orderRepo)(nil)

type orderRepo struct {
	pool   *pgxpool.Pool
	sealer ContactSealer
}

// NewOrderRepo stores contact snapshots sealed when sealer is non-nil, as JSON otherwise.
func NewOrderRepo(pool *pgxpool.Pool, sealer ContactSealer) *orderRepo {
	return &orderRepo{pool: pool, sealer: sealer}
}

const orderColumns = `id, user_id, plan_id, gateway_order_id, amount, original_amount, currency, proration_credit,
  existing_subscription_id, plan_snapshot, contact, user_agent, status, failure_reason, created_at, updated_at, paid_at`

func (r *orderRepo) Create(ctx context.Context, tx repository.Tx, o *model.PaymentOrder) error {
	const q = `INSERT INTO payment_orders (` + orderColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17);`

	plan, err := json.Marshal(o.Plan)
	if err != nil {
		return domain.ErrInvalidArgument
	}
	contact, err := r.sealContact(o.Contact)
	if err != nil {
		return err
	}
	_, err = execSQL(ctx, r.pool, tx, q, o.ID, o.UserID, o.PlanID, o.GatewayOrderID, o.Amount, o.OriginalAmount,
		o.Currency, o.ProrationCredit, o.ExistingSubscriptionID, plan, contact, o.UserAgent, o.Status,
		o.FailureReason, o.CreatedAt, o.UpdatedAt, o.PaidAt)
	return mapWriteErr(err, domain.ErrAlreadyExists)
}

func (r *orderRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentOrder, error) {
	q := forUpdate(`SELECT `+orderColumns+` FROM payment_orders WHERE id=$1`, tx)
	return r.queryOne(ctx, tx, q, id)
}

func (r *orderRepo) FindByGatewayOrderID(ctx context.Context, tx repository.Tx, gatewayOrderID string) (*model.PaymentOrder, error) {
	q := forUpdate(`SELECT `+orderColumns+` FROM payment_orders WHERE gateway_order_id=$1 LIMIT 1`, tx)
	return r.queryOne(ctx, tx, q, gatewayOrderID)
}

// TransitionStatus is a compare-and-set on status; paid_at is stamped on the move to paid.
func (r *orderRepo) TransitionStatus(ctx context.Context, tx repository.Tx, id string, from []model.OrderStatus, to model.OrderStatus, reason string) (bool, error) {
	const q = `
UPDATE payment_orders
   SET status = $2,
       failure_reason = CASE WHEN $3 <> '' THEN $3 ELSE failure_reason END,
       paid_at = CASE WHEN $2 = 'paid' THEN NOW() ELSE paid_at END,
       updated_at = NOW()
 WHERE id = $1
   AND status = ANY($4);`

	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	cmd, err := execSQL(ctx, r.pool, tx, q, id, string(to), reason, states)
	if err != nil {
		return false, mapWriteErr(err, nil)
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *orderRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.PaymentOrder, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	var (
		o       model.PaymentOrder
		plan    []byte
		contact string
	)
	if err := row.Scan(&o.ID, &o.UserID, &o.PlanID, &o.GatewayOrderID, &o.Amount, &o.OriginalAmount, &o.Currency,
		&o.ProrationCredit, &o.ExistingSubscriptionID, &plan, &contact, &o.UserAgent, &o.Status, &o.FailureReason,
		&o.CreatedAt, &o.UpdatedAt, &o.PaidAt); err != nil {
		return nil, mapReadErr(err)
	}
	if err := json.Unmarshal(plan, &o.Plan); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	c, err := r.openContact(contact)
	if err != nil {
		return nil, err
	}
	o.Contact = c
	return &o, nil
}

func (r *orderRepo) sealContact(c model.ContactSnapshot) (string, error) {
	if r.sealer != nil {
		return r.sealer.EncryptContact(c)
	}
	b, err := json.Marshal(c)
	return string(b), err
}

func (r *orderRepo) openContact(s string) (model.ContactSnapshot, error) {
	var c model.ContactSnapshot
	if s == "" {
		return c, nil
	}
	if r.sealer != nil {
		return r.sealer.DecryptContact(s)
	}
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return c, domain.ErrReadDatabaseRow
	}
	return c, nil
}

// ---- payment_transactions ----

var _ repository.TransactionRepository = (*transactionRepo)(nil)

type transactionRepo struct{ pool *pgxpool.Pool }

func NewTransactionRepo(pool *pgxpool.Pool) *transactionRepo {
	return &transactionRepo{pool: pool}
}

const txnColumns = `id, user_id, plan_id, payment_order_id, gateway_order_id, gateway_payment_id, gateway_signature,
  amount, currency, plan_tier, plan_duration, type, status, failure_reason, plan_snapshot, prior_subscription_id,
  order_proration_credit, subscription_id, created_at, updated_at, completed_at`

func (r *transactionRepo) Create(ctx context.Context, tx repository.Tx, t *model.PaymentTransaction) error {
	const q = `INSERT INTO payment_transactions (` + txnColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21);`

	plan, err := json.Marshal(t.Plan)
	if err != nil {
		return domain.ErrInvalidArgument
	}
	_, err = execSQL(ctx, r.pool, tx, q, t.ID, t.UserID, t.PlanID, t.PaymentOrderID, t.GatewayOrderID, t.GatewayPaymentID,
		t.GatewaySignature, t.Amount, t.Currency, t.PlanTier, t.PlanDuration, t.Type, t.Status, t.FailureReason, plan,
		t.PriorSubscriptionID, t.OrderProrationCredit, t.SubscriptionID, t.CreatedAt, t.UpdatedAt, t.CompletedAt)
	return mapWriteErr(err, domain.ErrAlreadyExists)
}

func (r *transactionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentTransaction, error) {
	return r.queryOne(ctx, tx, forUpdate(`SELECT `+txnColumns+` FROM payment_transactions WHERE id=$1`, tx), id)
}

func (r *transactionRepo) FindByGatewayOrderID(ctx context.Context, tx repository.Tx, gatewayOrderID string) (*model.PaymentTransaction, error) {
	return r.queryOne(ctx, tx, forUpdate(`SELECT `+txnColumns+` FROM payment_transactions WHERE gateway_order_id=$1`, tx), gatewayOrderID)
}

func (r *transactionRepo) FindByGatewayPaymentID(ctx context.Context, tx repository.Tx, paymentID string) (*model.PaymentTransaction, error) {
	return r.queryOne(ctx, tx, forUpdate(`SELECT `+txnColumns+` FROM payment_transactions WHERE gateway_payment_id=$1`, tx), paymentID)
}

// AttachPayment writes the payment id only while the column is empty or
// already holds the same id. The unique index rejects reuse across rows.
func (r *transactionRepo) AttachPayment(ctx context.Context, tx repository.Tx, id, paymentID, signature string) (bool, error) {
	const q = `
UPDATE payment_transactions
   SET gateway_payment_id = $2,
       gateway_signature = CASE WHEN $3 <> '' THEN $3 ELSE gateway_signature END,
       updated_at = NOW()
 WHERE id = $1
   AND (gateway_payment_id IS NULL OR gateway_payment_id = $2);`

	cmd, err := execSQL(ctx, r.pool, tx, q, id, paymentID, signature)
	if err != nil {
		return false, mapWriteErr(err, domain.ErrAlreadyExists)
	}
	if cmd.RowsAffected() >= 1 {
		return true, nil
	}
	if _, err := r.FindByID(ctx, tx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *transactionRepo) MarkCompleted(ctx context.Context, tx repository.Tx, id, subscriptionID string, at time.Time) error {
	const q = `
UPDATE payment_transactions
   SET status = 'completed', subscription_id = $2, completed_at = $3, failure_reason = '', updated_at = $3
 WHERE id = $1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, subscriptionID, at)
	if err != nil {
		return mapWriteErr(err, nil)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *transactionRepo) MarkFailed(ctx context.Context, tx repository.Tx, id, reason string) (bool, error) {
	const q = `
UPDATE payment_transactions
   SET status = 'failed', failure_reason = $2, updated_at = NOW()
 WHERE id = $1 AND status = 'pending';`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, reason)
	if err != nil {
		return false, mapWriteErr(err, nil)
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *transactionRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + txnColumns + ` FROM payment_transactions
 WHERE status = 'pending' AND created_at < $1 ORDER BY created_at ASC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, olderThan, limit)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, domain.ErrNotFound
		case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidExecContext):
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.PaymentTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if rows.Err() != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *transactionRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.PaymentTransaction, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanTransaction(row)
}

func scanTransaction(row pgx.Row) (*model.PaymentTransaction, error) {
	var (
		t    model.PaymentTransaction
		plan []byte
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.PlanID, &t.PaymentOrderID, &t.GatewayOrderID, &t.GatewayPaymentID,
		&t.GatewaySignature, &t.Amount, &t.Currency, &t.PlanTier, &t.PlanDuration, &t.Type, &t.Status,
		&t.FailureReason, &plan, &t.PriorSubscriptionID, &t.OrderProrationCredit, &t.SubscriptionID,
		&t.CreatedAt, &t.UpdatedAt, &t.CompletedAt); err != nil {
		return nil, mapReadErr(err)
	}
	if err := json.Unmarshal(plan, &t.Plan); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return &t, nil
}
