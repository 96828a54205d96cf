package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"korean-tutor-billing/internal/domain"
	"korean-tutor-billing/internal/domain/model"
	"korean-tutor-billing/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*PostgresUserRepo)(nil)

type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool}
}

func (r *PostgresUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
INSERT INTO users (
  id, name, email, phone, tier, subscription_status, plan_id, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
) ON CONFLICT (id) DO UPDATE SET
  name=$2, email=$3, phone=$4, tier=$5, subscription_status=$6, plan_id=$7, updated_at=$9;
`
	_, err := execSQL(ctx, r.pool, tx, q, u.ID, u.Name, u.Email, u.Phone, u.Tier, u.SubscriptionStatus, u.PlanID,
		u.CreatedAt, u.UpdatedAt)
	return mapWriteErr(err, nil)
}

func (r *PostgresUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	q := forUpdate(`
SELECT id, name, email, phone, tier, subscription_status, plan_id, created_at, updated_at
  FROM users WHERE id=$1`, tx)
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	var u model.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.Tier, &u.SubscriptionStatus, &u.PlanID,
		&u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, mapReadErr(err)
	}
	return &u, nil
}

// UpdateEntitlement mirrors the subscription slot onto the profile.
func (r *PostgresUserRepo) UpdateEntitlement(ctx context.Context, tx repository.Tx, userID string, tier model.Tier, status model.SubscriptionStatus, planID string) error {
	const q = `
UPDATE users SET tier=$2, subscription_status=$3, plan_id=$4, updated_at=NOW()
 WHERE id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, userID, tier, status, planID)
	if err != nil {
		return mapWriteErr(err, nil)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
