package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sherpa-saas/sherpa/internal/authz"
	jobmetrics "github.com/sherpa-saas/sherpa/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SweepRunner deactivates past-due assignments as of the given instant.
type SweepRunner interface {
	ExpireDue(ctx context.Context, now time.Time) (authz.Report, error)
}

// ExpireSweepJob runs the assignment expiry sweep on the worker.
type ExpireSweepJob struct {
	Sweeper SweepRunner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewExpireSweepJob wires dependencies for the sweep handler.
func NewExpireSweepJob(sweeper SweepRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExpireSweepJob {
	return &ExpireSweepJob{
		Sweeper: sweeper,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskAuthzExpireSweep tasks. A run with per-record failures
// still succeeds; those records stay due and the next run retries them.
func (j *ExpireSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Sweeper == nil {
		return errors.New("expire sweep: handler not configured")
	}
	var payload ExpireSweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics().Track(TaskAuthzExpireSweep)
	logger := j.logger()
	if payload.RequestedBy != "" {
		logger = logger.With(slog.String("requested_by", payload.RequestedBy))
	}

	now := j.now()
	report, err := j.Sweeper.ExpireDue(ctx, now)
	if err != nil {
		logger.Error("expiry sweep aborted",
			slog.Int("expired", report.Expired),
			slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("expiry sweep run",
		slog.Int("expired", report.Expired),
		slog.Int("failures", len(report.Failures)),
		slog.Duration("duration", time.Since(now)))
	return tracker.End(nil)
}

func (j *ExpireSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAuthzExpireSweep))
	}
	return slog.Default().With(slog.String("job", TaskAuthzExpireSweep))
}

func (j *ExpireSweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ExpireSweepJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
