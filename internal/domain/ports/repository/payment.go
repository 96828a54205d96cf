package repository

import (
	"context"
	"time"

	"korean-tutor-billing/internal/domain/model"
)

type OrderRepository interface {
	// Create fails with domain.ErrAlreadyExists on a duplicate (user, gateway order).
	Create(ctx context.Context, tx Tx, o *model.PaymentOrder) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.PaymentOrder, error)
	FindByGatewayOrderID(ctx context.Context, tx Tx, gatewayOrderID string) (*model.PaymentOrder, error)
	// TransitionStatus moves the order to `to` only if its status is one of `from`.
	TransitionStatus(ctx context.Context, tx Tx, id string, from []model.OrderStatus, to model.OrderStatus, reason string) (bool, error)
}

type TransactionRepository interface {
	Create(ctx context.Context, tx Tx, t *model.PaymentTransaction) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.PaymentTransaction, error)
	FindByGatewayOrderID(ctx context.Context, tx Tx, gatewayOrderID string) (*model.PaymentTransaction, error)
	FindByGatewayPaymentID(ctx context.Context, tx Tx, paymentID string) (*model.PaymentTransaction, error)
	// AttachPayment records the gateway payment id once. It reports false when a
	// different payment id is already attached, and returns domain.ErrAlreadyExists
	// when the payment id belongs to another transaction.
	AttachPayment(ctx context.Context, tx Tx, id, paymentID, signature string) (bool, error)
	MarkCompleted(ctx context.Context, tx Tx, id, subscriptionID string, at time.Time) error
	// MarkFailed only affects pending transactions.
	MarkFailed(ctx context.Context, tx Tx, id, reason string) (bool, error)
	ListPendingOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.PaymentTransaction, error)
}
