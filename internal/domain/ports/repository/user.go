package repository

import (
	"context"

	"korean-tutor-billing/internal/domain/model"
)

type UserRepository interface {
	Save(ctx context.Context, tx Tx, u *model.User) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)
	UpdateEntitlement(ctx context.Context, tx Tx, userID string, tier model.Tier, status model.SubscriptionStatus, planID string) error
}
