package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"minutes/internal/jobs"
	"minutes/internal/logging"
	"minutes/internal/staging"
)

// Start reclaims stale work, sweeps orphaned workspaces and launches the
// workers.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(m.workers)
	m.mu.Unlock()

	m.recoverStale(runCtx)

	for i := 0; i < m.workers; i++ {
		logger := m.logger.With(logging.Int("worker", i+1))
		go m.runWorker(runCtx, logger, i == 0)
	}
	m.logger.Info("workflow started",
		logging.String(logging.FieldEventType, "workflow_started"),
		logging.Int("workers", m.workers),
	)
	return nil
}

// Stop terminates background processing and waits for the workers. Jobs that
// were mid-stage stay in their status and are reclaimed on the next start.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) recoverStale(ctx context.Context) {
	if _, err := m.heartbeat.ReclaimStale(ctx, m.logger); err != nil {
		m.setLastError(err)
		logging.WarnWithContext(m.logger, "startup reclaim failed; stuck jobs may remain", "heartbeat_reclaim_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check job database access"),
		)
	}

	held, err := m.store.List(ctx, jobs.StatusValidating, jobs.StatusChunking, jobs.StatusTranscribing, jobs.StatusSummarizing)
	if err != nil {
		logging.WarnWithContext(m.logger, "workspace sweep skipped", "workspace_cleanup",
			logging.Error(err),
			logging.String(logging.FieldImpact, "orphaned temp directories stay on disk"),
		)
		return
	}
	active := make(map[string]struct{}, len(held))
	for _, job := range held {
		active[job.ID] = struct{}{}
	}
	staging.CleanOrphaned(ctx, m.cfg.Paths.TempDir, active, m.logger)
}

func (m *Manager) runWorker(ctx context.Context, logger *slog.Logger, reclaimer bool) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if reclaimer {
			if _, err := m.heartbeat.ReclaimStale(ctx, logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("reclaim stale jobs failed; stuck jobs may remain",
					logging.Error(err),
					logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
					logging.String(logging.FieldErrorHint, "check job database access"),
				)
			}
		}

		job, err := m.store.ClaimNext(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.handleClaimError(ctx, logger, err)
			continue
		}
		if job == nil {
			m.waitForJobOrShutdown(ctx)
			continue
		}

		m.processJob(ctx, job)
	}
}

func (m *Manager) handleClaimError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logger.Error("failed to claim next job",
		logging.Error(err),
		logging.String(logging.FieldEventType, "job_claim_failed"),
		logging.String(logging.FieldErrorHint, "check job database access"),
	)
	select {
	case <-ctx.Done():
	case <-time.After(m.retryInterval):
	}
}

func (m *Manager) waitForJobOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-m.wake:
	case <-time.After(m.pollInterval):
	}
}
