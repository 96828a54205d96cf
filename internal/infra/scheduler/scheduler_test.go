//go:build !integration

package scheduler_test

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"korean-tutor-billing/internal/infra/scheduler"
)

type countingJob struct {
	runs int32
	err  error
	hold time.Duration
}

func (j *countingJob) Name() string { return "counting" }
func (j *countingJob) Run(ctx context.Context) error {
	atomic.AddInt32(&j.runs, 1)
	if j.hold > 0 {
		select {
		case <-time.After(j.hold):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return j.err
}

func TestScheduler(t *testing.T) {
	logger := zerolog.New(io.Discard)

	t.Run("should reject a bad spec", func(t *testing.T) {
		s := scheduler.NewScheduler(time.Second, &logger)
		if err := s.Add("not a spec", &countingJob{}); err == nil {
			t.Error("expected error for invalid spec")
		}
	})

	t.Run("should fire on schedule and stop cleanly", func(t *testing.T) {
		// --- Arrange ---
		s := scheduler.NewScheduler(time.Second, &logger)
		job := &countingJob{}
		if err := s.Add("@every 1s", job); err != nil {
			t.Fatalf("add: %v", err)
		}

		// --- Act ---
		s.Start(context.Background())
		time.Sleep(2500 * time.Millisecond)
		s.Stop()

		// --- Assert ---
		if n := atomic.LoadInt32(&job.runs); n < 1 {
			t.Errorf("expected at least one run, got %d", n)
		}
	})

	t.Run("RunNow should apply the timeout", func(t *testing.T) {
		// --- Arrange ---
		s := scheduler.NewScheduler(20*time.Millisecond, &logger)
		job := &countingJob{hold: time.Second}

		// --- Act ---
		start := time.Now()
		s.RunNow(job)

		// --- Assert ---
		if time.Since(start) > 500*time.Millisecond {
			t.Error("run should have been cut short by the timeout")
		}
	})

	t.Run("RunNow should swallow job errors", func(t *testing.T) {
		s := scheduler.NewScheduler(time.Second, &logger)
		job := &countingJob{err: errors.New("boom")}
		s.RunNow(job)
		if job.runs != 1 {
			t.Errorf("expected one run, got %d", job.runs)
		}
	})
}
