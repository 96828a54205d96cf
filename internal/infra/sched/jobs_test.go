//go:build !integration

package sched_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"korean-tutor-billing/internal/domain"
	"korean-tutor-billing/internal/infra/sched"
	"korean-tutor-billing/internal/usecase"
)

type mockRecoveryUC struct {
	SweepFunc func(ctx context.Context, batchSize int) (*usecase.SweepResult, error)
}

func (m *mockRecoveryUC) Sweep(ctx context.Context, batchSize int) (*usecase.SweepResult, error) {
	return m.SweepFunc(ctx, batchSize)
}
func (m *mockRecoveryUC) RecoverOrder(ctx context.Context, userID, orderID string) (*usecase.RecoveryResult, error) {
	return nil, nil
}

type mockSubscriptionUC struct {
	usecase.SubscriptionUseCase
	ApplyDueLifecycleFunc func(ctx context.Context, batchSize int) (*usecase.LifecycleResult, error)
}

func (m *mockSubscriptionUC) ApplyDueLifecycle(ctx context.Context, batchSize int) (*usecase.LifecycleResult, error) {
	return m.ApplyDueLifecycleFunc(ctx, batchSize)
}

func TestRecoveryJob(t *testing.T) {
	logger := zerolog.New(io.Discard)

	t.Run("should pass the batch size", func(t *testing.T) {
		var got int
		uc := &mockRecoveryUC{SweepFunc: func(ctx context.Context, n int) (*usecase.SweepResult, error) {
			got = n
			return &usecase.SweepResult{Checked: 2, Recovered: 1}, nil
		}}
		if err := sched.NewRecoveryJob(uc, 50, &logger).Run(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != 50 {
			t.Errorf("expected batch 50, got %d", got)
		}
	})

	t.Run("lock held elsewhere is not a failure", func(t *testing.T) {
		uc := &mockRecoveryUC{SweepFunc: func(ctx context.Context, n int) (*usecase.SweepResult, error) {
			return nil, domain.ErrLocked
		}}
		if err := sched.NewRecoveryJob(uc, 10, &logger).Run(context.Background()); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	})

	t.Run("other errors surface", func(t *testing.T) {
		uc := &mockRecoveryUC{SweepFunc: func(ctx context.Context, n int) (*usecase.SweepResult, error) {
			return nil, domain.ErrOperationFailed
		}}
		if err := sched.NewRecoveryJob(uc, 10, &logger).Run(context.Background()); !errors.Is(err, domain.ErrOperationFailed) {
			t.Errorf("expected ErrOperationFailed, got %v", err)
		}
	})
}

func TestLifecycleJob(t *testing.T) {
	logger := zerolog.New(io.Discard)

	t.Run("should run one pass", func(t *testing.T) {
		calls := 0
		uc := &mockSubscriptionUC{ApplyDueLifecycleFunc: func(ctx context.Context, n int) (*usecase.LifecycleResult, error) {
			calls++
			return &usecase.LifecycleResult{Checked: 3, Expired: 2, DowngradesDue: 1}, nil
		}}
		if err := sched.NewLifecycleJob(uc, 100, &logger).Run(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 1 {
			t.Errorf("expected one call, got %d", calls)
		}
	})

	t.Run("errors surface", func(t *testing.T) {
		uc := &mockSubscriptionUC{ApplyDueLifecycleFunc: func(ctx context.Context, n int) (*usecase.LifecycleResult, error) {
			return nil, domain.ErrNotFound
		}}
		if err := sched.NewLifecycleJob(uc, 100, &logger).Run(context.Background()); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

