package authz

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sherpa-saas/sherpa/internal/observability"
)

const defaultSweepBatchSize = 200

// Sweeper deactivates past-due assignments. It is invoked by an external
// scheduler; ExpireDue is the pure entry point and carries no cadence of
// its own.
type Sweeper struct {
	store     Store
	cache     Cache
	logger    *slog.Logger
	metrics   *observability.Metrics
	batchSize int
}

// NewSweeper constructs a Sweeper. A nil cache disables invalidation.
func NewSweeper(store Store, cache Cache, logger *slog.Logger, metrics *observability.Metrics) *Sweeper {
	if cache == nil {
		cache = NopCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: store, cache: cache, logger: logger, metrics: metrics, batchSize: defaultSweepBatchSize}
}

// ExpireFailure records one assignment the sweep could not process.
type ExpireFailure struct {
	AssignmentID uuid.UUID
	Err          error
}

// Report summarises one sweep run.
type Report struct {
	Expired  int
	Failures []ExpireFailure
}

// ExpireDue deactivates every assignment with is_active and ends_at < now,
// stamping revoked_at and revoke_reason "expired" and writing one audit
// event per record, atomically with the deactivation.
//
// The run is idempotent: already-processed rows no longer match the due
// filter. Failures are record-isolated, so one bad record never aborts the
// rest. Cancellation is honoured between records so a shutdown never
// leaves a record half-updated.
func (s *Sweeper) ExpireDue(ctx context.Context, now time.Time) (Report, error) {
	var report Report
	failed := make(map[uuid.UUID]struct{})
	for {
		if err := ctx.Err(); err != nil {
			s.observe(report)
			return report, err
		}
		// Failed records stay due, so widen the window by the failed count
		// to keep them from shadowing records behind them.
		limit := s.batchSize + len(failed)
		due, err := s.store.ListDueAssignments(ctx, now, limit)
		if err != nil {
			s.observe(report)
			return report, err
		}
		remaining := 0
		for _, assignment := range due {
			if _, ok := failed[assignment.ID]; ok {
				// Already failed this run; retrying now would spin.
				continue
			}
			remaining++
			if err := ctx.Err(); err != nil {
				s.observe(report)
				return report, err
			}
			if err := s.store.ExpireAssignment(ctx, assignment.ID, now); err != nil {
				s.logger.Error("expire assignment",
					slog.String("assignment_id", assignment.ID.String()),
					slog.Int64("subject_id", assignment.SubjectID),
					slog.Any("error", err))
				failed[assignment.ID] = struct{}{}
				report.Failures = append(report.Failures, ExpireFailure{AssignmentID: assignment.ID, Err: err})
				continue
			}
			report.Expired++
			if err := s.cache.InvalidateSubject(ctx, assignment.SubjectID); err != nil {
				s.logger.Warn("invalidate after expiry",
					slog.Int64("subject_id", assignment.SubjectID),
					slog.Any("error", err))
			}
		}
		if remaining == 0 || len(due) < limit {
			break
		}
	}
	s.observe(report)
	return report, nil
}

func (s *Sweeper) observe(report Report) {
	s.metrics.ObserveSweep(report.Expired, len(report.Failures))
	if report.Expired > 0 || len(report.Failures) > 0 {
		s.logger.Info("expiry sweep finished",
			slog.Int("expired", report.Expired),
			slog.Int("failures", len(report.Failures)))
	}
}
