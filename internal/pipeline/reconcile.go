package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultReconcileBatch is the number of entities re-projected per page.
const DefaultReconcileBatch = 200

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Scanned  int           `json:"scanned"`
	Indexed  int           `json:"indexed"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Reconcile re-projects every stored entity into the search index.
//
// It is idempotent and safe to run while writes continue. Per-entity index
// failures are logged and counted; a store failure or cancellation stops
// the pass and is returned together with the partial report.
func (s *Service) Reconcile(ctx context.Context, batchSize int) (ReconcileReport, error) {
	if batchSize <= 0 {
		batchSize = DefaultReconcileBatch
	}

	start := time.Now()
	var report ReconcileReport
	var cursor int64
	for {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(start)
			return report, err
		}

		page, next, err := s.entities.ScanEntities(ctx, cursor, batchSize)
		if err != nil {
			report.Duration = time.Since(start)
			return report, fmt.Errorf("reconcile: %w", err)
		}
		if len(page) == 0 {
			break
		}

		for _, e := range page {
			report.Scanned++
			if err := s.index.Index(ctx, documentID(e.Type, e.ID), e.Data); err != nil {
				report.Failed++
				slog.Warn("reconcile: projection failed",
					"type", e.Type,
					"id", e.ID,
					"error", err,
				)
				continue
			}
			report.Indexed++
		}
		cursor = next
	}

	report.Duration = time.Since(start)
	slog.Info("reconcile complete",
		"scanned", report.Scanned,
		"indexed", report.Indexed,
		"failed", report.Failed,
		"duration", report.Duration,
	)
	return report, nil
}

// ReconcileJob runs Reconcile on a schedule. It implements the Run method
// expected by github.com/bamzi/jobrunner.
type ReconcileJob struct {
	// ctx bounds every run; jobrunner gives Run no context of its own.
	ctx       context.Context
	service   *Service
	batchSize int
}

// NewReconcileJob creates a job that reconciles svc until ctx is done.
func NewReconcileJob(ctx context.Context, svc *Service, batchSize int) *ReconcileJob {
	return &ReconcileJob{ctx: ctx, service: svc, batchSize: batchSize}
}

// Run performs one reconciliation pass. Errors are logged.
func (j *ReconcileJob) Run() {
	if j.ctx.Err() != nil {
		return
	}
	if _, err := j.service.Reconcile(j.ctx, j.batchSize); err != nil {
		slog.Error("scheduled reconcile failed", "error", err)
	}
}
