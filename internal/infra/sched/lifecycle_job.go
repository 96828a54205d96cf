package sched

import (
	"context"

	"github.com/rs/zerolog"

	"korean-tutor-billing/internal/infra/metrics"
	"korean-tutor-billing/internal/usecase"
)

// LifecycleJob settles subscriptions whose period has ended: scheduled
// downgrades take effect, lapsed or cancelled ones expire.
type LifecycleJob struct {
	subUC     usecase.SubscriptionUseCase
	batchSize int
	log       *zerolog.Logger
}

func NewLifecycleJob(subUC usecase.SubscriptionUseCase, batchSize int, logger *zerolog.Logger) *LifecycleJob {
	l := logger.With().Str("component", "LifecycleJob").Logger()
	return &LifecycleJob{subUC: subUC, batchSize: batchSize, log: &l}
}

func (j *LifecycleJob) Name() string { return "subscription_lifecycle" }

func (j *LifecycleJob) Run(ctx context.Context) error {
	res, err := j.subUC.ApplyDueLifecycle(ctx, j.batchSize)
	if err != nil {
		return err
	}
	metrics.AddLifecycle("checked", res.Checked)
	metrics.AddLifecycle("expired", res.Expired)
	metrics.AddLifecycle("downgrade_due", res.DowngradesDue)
	if res.Expired > 0 || res.Errors > 0 {
		j.log.Info().Int("checked", res.Checked).Int("downgrades_due", res.DowngradesDue).
			Int("expired", res.Expired).Int("errors", res.Errors).Msg("lifecycle pass")
	}
	return nil
}
