package repository

import (
	"context"
	"time"

	"korean-tutor-billing/internal/domain/model"
)

// SubscriptionRepository stores one subscription slot per user.
type SubscriptionRepository interface {
	// LockUser serialises writers for one user until the tx ends.
	LockUser(ctx context.Context, tx Tx, userID string) error
	FindByUser(ctx context.Context, tx Tx, userID string) (*model.Subscription, error)
	// Save inserts when s.Version is 0, otherwise overwrites the user's slot only
	// if its version still equals s.Version. A lost race returns
	// domain.ErrDuplicateActivation. On success s.Version is bumped.
	Save(ctx context.Context, tx Tx, s *model.Subscription) error
	// Archive keeps a copy of a superseded subscription.
	Archive(ctx context.Context, tx Tx, s *model.Subscription) error
	ListHistory(ctx context.Context, tx Tx, userID string) ([]*model.Subscription, error)
	// ListDue returns live subscriptions whose period ended at or before now.
	ListDue(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.Subscription, error)
}
