package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"korean-tutor-billing/internal/domain"
	"korean-tutor-billing/internal/infra/metrics"
	"korean-tutor-billing/internal/usecase"
)

// RecoveryJob sweeps pending transactions whose client-side verification
// never arrived. Another instance holding the sweep lock is not an error.
type RecoveryJob struct {
	uc        usecase.RecoveryUseCase
	batchSize int
	log       *zerolog.Logger
}

func NewRecoveryJob(uc usecase.RecoveryUseCase, batchSize int, logger *zerolog.Logger) *RecoveryJob {
	l := logger.With().Str("component", "RecoveryJob").Logger()
	return &RecoveryJob{uc: uc, batchSize: batchSize, log: &l}
}

func (j *RecoveryJob) Name() string { return "recovery_sweep" }

func (j *RecoveryJob) Run(ctx context.Context) error {
	start := time.Now()
	res, err := j.uc.Sweep(ctx, j.batchSize)
	if err != nil {
		if errors.Is(err, domain.ErrLocked) {
			j.log.Debug().Msg("sweep already running elsewhere")
			return nil
		}
		return err
	}
	metrics.ObserveSweep(res.Checked, res.Recovered, res.Failed, len(res.Errors), time.Since(start).Seconds())
	if res.Recovered > 0 || len(res.Errors) > 0 {
		j.log.Info().Int("checked", res.Checked).Int("recovered", res.Recovered).
			Int("failed", res.Failed).Int("errors", len(res.Errors)).Msg("recovery sweep")
	}
	return nil
}
