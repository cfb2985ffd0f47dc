// Package retention enforces the free tier's column-store retention window:
// hourly, it pages every free-plan user from the control plane and deletes
// their rows older than 7 days from the column store.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hookline/gateway/internal/telemetry"
	"github.com/hookline/gateway/internal/types"
)

const (
	sweepInterval     = time.Hour
	freeRetentionDays = 7
	userPageSize      = 250
	deleteChunkSize   = 200
	freePlan          = "free"
)

// planUserSource is the subset of *cpclient.Client the retention worker
// depends on.
type planUserSource interface {
	ListUsersByPlan(ctx context.Context, plan string, cursor string, limit int) (*types.UsersByPlanResponse, error)
}

// requestDeleter is the subset of *csclient.Client the retention worker
// depends on.
type requestDeleter interface {
	DeleteOldRequests(ctx context.Context, userIDs []string, retentionDays int) error
}

// Worker runs the hourly free-tier retention sweep. It is a no-op if cs is
// nil (the column store is not configured).
type Worker struct {
	cp     planUserSource
	cs     requestDeleter
	logger *slog.Logger
}

func New(cp planUserSource, cs requestDeleter, logger *slog.Logger) *Worker {
	return &Worker{cp: cp, cs: cs, logger: logger}
}

// Run sweeps every sweepInterval until ctx is canceled. It is a no-op if the
// column store was never configured.
func (w *Worker) Run(ctx context.Context) {
	if w.cs == nil {
		w.logger.Info("retention worker disabled: column store not configured")
		return
	}

	w.logger.Info("retention worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("retention worker shutting down")
			return
		default:
		}

		if err := w.sweep(ctx); err != nil {
			w.logger.Warn("retention sweep failed", "error", err)
			telemetry.RetentionSweepsTotal.WithLabelValues("error").Inc()
		} else {
			telemetry.RetentionSweepsTotal.WithLabelValues("success").Inc()
		}

		select {
		case <-time.After(sweepInterval):
		case <-ctx.Done():
		}
	}
}

// sweep pages every free-plan user and deletes their stale rows in
// deleteChunkSize-sized batches, returning an error if the control plane's
// pagination response is malformed.
func (w *Worker) sweep(ctx context.Context) error {
	cursor := ""
	totalUsers := 0
	totalBatches := 0

	for {
		page, err := w.cp.ListUsersByPlan(ctx, freePlan, cursor, userPageSize)
		if err != nil {
			return fmt.Errorf("fetch free users: %w", err)
		}
		if page.Error != "" {
			return fmt.Errorf("control plane users-by-plan returned error: %s", page.Error)
		}

		totalUsers += len(page.UserIDs)

		for start := 0; start < len(page.UserIDs); start += deleteChunkSize {
			end := start + deleteChunkSize
			if end > len(page.UserIDs) {
				end = len(page.UserIDs)
			}
			if err := w.cs.DeleteOldRequests(ctx, page.UserIDs[start:end], freeRetentionDays); err != nil {
				return fmt.Errorf("column store delete mutation failed: %w", err)
			}
			totalBatches++
			telemetry.RetentionUsersDeleted.Add(float64(end - start))
		}

		if page.Done {
			break
		}
		if page.NextCursor == nil {
			return fmt.Errorf("control plane users-by-plan returned done=false without nextCursor")
		}
		cursor = *page.NextCursor
	}

	w.logger.Info("free-tier retention sweep complete",
		"free_users", totalUsers,
		"delete_batches", totalBatches,
		"retention_days", freeRetentionDays,
	)
	return nil
}
