package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-retail/meridian-credit/internal/collections"
	jobmetrics "github.com/meridian-retail/meridian-credit/internal/jobs"
)

// OverdueSweepJob runs the daily aging batch and scheduled escalations.
type OverdueSweepJob struct {
	sweeper    *collections.Sweeper
	escalation *collections.Service
	logger     *slog.Logger
	metrics    *jobmetrics.Metrics
}

// NewOverdueSweepJob constructs the job.
func NewOverdueSweepJob(sweeper *collections.Sweeper, escalation *collections.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *OverdueSweepJob {
	return &OverdueSweepJob{
		sweeper:    sweeper,
		escalation: escalation,
		logger:     logger,
		metrics:    metrics,
	}
}

// HandleOverdueSweep processes TaskOverdueSweep tasks.
func (j *OverdueSweepJob) HandleOverdueSweep(ctx context.Context, _ *asynq.Task) error {
	tracker := j.metrics.Track("overdue_sweep")
	result, err := j.sweeper.Run(ctx)
	if err != nil {
		j.logger.Error("overdue sweep failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics.AddLatePayments(result.LatePaymentsCreated)
	return tracker.End(nil)
}

// HandleBulkEscalate processes TaskBulkEscalate tasks. Actor zero marks a
// system-initiated transition in the audit trail.
func (j *OverdueSweepJob) HandleBulkEscalate(ctx context.Context, t *asynq.Task) error {
	var payload BulkEscalatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track("bulk_escalate")
	count, err := j.escalation.BulkEscalate(ctx, collections.BulkEscalateRequest{
		DaysThreshold: payload.DaysThreshold,
	}, 0)
	if err != nil {
		j.logger.Error("bulk escalate failed",
			slog.Int("days_threshold", payload.DaysThreshold), slog.Any("error", err))
		return tracker.End(err)
	}
	j.logger.Info("bulk escalate finished",
		slog.Int("days_threshold", payload.DaysThreshold), slog.Int("escalated", count))
	return tracker.End(nil)
}
