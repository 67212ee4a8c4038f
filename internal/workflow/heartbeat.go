package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"minutes/internal/jobs"
	"minutes/internal/logging"
)

// HeartbeatMonitor manages job heartbeats and stale job reclamation.
type HeartbeatMonitor struct {
	store             *jobs.Store
	logger            *slog.Logger
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	now               func() time.Time
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(store *jobs.Store, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		store:             store,
		logger:            logger,
		heartbeatInterval: interval,
		heartbeatTimeout:  timeout,
		now:               time.Now,
	}
}

// ReclaimStale fails jobs whose worker stopped sending heartbeats.
func (h *HeartbeatMonitor) ReclaimStale(ctx context.Context, logger *slog.Logger) (int64, error) {
	if h.heartbeatTimeout <= 0 {
		return 0, nil
	}
	cutoff := h.now().Add(-h.heartbeatTimeout)
	reclaimed, err := h.store.ReclaimStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if reclaimed > 0 {
		logging.WarnWithContext(logger, "reclaimed stale jobs", "heartbeat_reclaimed",
			logging.Int64("count", reclaimed),
			logging.String(logging.FieldImpact, "interrupted jobs were marked failed and must be resubmitted"),
		)
	}
	return reclaimed, nil
}

// StartLoop refreshes a job's heartbeat until ctx is cancelled.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, jobID string) {
	defer wg.Done()
	if h.heartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, logging.NewComponentLogger(h.logger, "workflow-heartbeat"))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := h.store.Heartbeat(ctx, jobID)
			switch {
			case err == nil:
			case errors.Is(err, context.Canceled):
				logger.Debug("daemon shutting down, heartbeat update cancelled")
			case errors.Is(err, jobs.ErrConflict):
				// The job left the pipeline between ticks.
				logger.Debug("heartbeat skipped, job no longer active")
			default:
				logger.Warn("heartbeat update failed", logging.Error(err))
			}
		}
	}
}
