//go:build !integration

package worker_test

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"korean-tutor-billing/internal/infra/worker"
)

func TestPool(t *testing.T) {
	logger := zerolog.New(io.Discard)

	t.Run("should bound concurrency and run every task", func(t *testing.T) {
		// --- Arrange ---
		pool := worker.NewPool(context.Background(), 2, &logger)
		var running, peak, done int32

		// --- Act ---
		for i := 0; i < 10; i++ {
			pool.Go(func(ctx context.Context) {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				atomic.AddInt32(&done, 1)
			})
		}
		pool.Wait()

		// --- Assert ---
		if done != 10 {
			t.Errorf("expected 10 tasks, got %d", done)
		}
		if peak > 2 {
			t.Errorf("expected at most 2 concurrent tasks, saw %d", peak)
		}
	})

	t.Run("should survive a panicking task", func(t *testing.T) {
		pool := worker.NewPool(context.Background(), 1, &logger)
		var ran int32
		pool.Go(func(ctx context.Context) { panic("boom") })
		pool.Go(func(ctx context.Context) { atomic.AddInt32(&ran, 1) })
		pool.Wait()
		if ran != 1 {
			t.Error("task after a panic should still run")
		}
	})

	t.Run("should skip tasks after cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		pool := worker.NewPool(ctx, 1, &logger)
		var ran int32
		pool.Go(func(ctx context.Context) { atomic.AddInt32(&ran, 1) })
		pool.Wait()
		if ran != 0 {
			t.Error("no task should run on a cancelled pool")
		}
	})
}
