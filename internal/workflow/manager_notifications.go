package workflow

import (
	"context"
	"errors"
	"time"

	"minutes/internal/jobs"
	"minutes/internal/logging"
	"minutes/internal/notifications"
)

func (m *Manager) handleCompletion(ctx context.Context, r *jobRun) {
	logger := logging.WithContext(ctx, m.logger)
	logger.Info("job completed",
		logging.String(logging.FieldEventType, "job_completed"),
		logging.String("template", r.job.ResolvedTemplate),
		logging.Int("chunks", r.job.ChunkCount),
		logging.Duration("job_duration", time.Since(r.started)),
	)
	m.notify(ctx, notifications.EventJobCompleted, notifications.Payload{
		"job_id":   r.job.ID,
		"filename": r.job.Filename,
		"template": r.job.ResolvedTemplate,
	})
	m.autoPublish(ctx, r.job)
}

// autoPublish hands a completed job to the publication service when the
// owner asked for it or auto_publish is on. Failures are recorded on the
// publication row; the job itself stays completed or moves to
// publish_failed.
func (m *Manager) autoPublish(ctx context.Context, job *jobs.Job) {
	if !job.PublishRequested && !m.cfg.Publication.AutoPublish {
		return
	}
	logger := logging.WithContext(ctx, m.logger)
	if m.pipeline.Publisher == nil {
		logging.WarnWithContext(logger, "publication requested but not configured", "publication_skipped",
			logging.String(logging.FieldErrorHint, "set publication.enabled, base_url and space_key"),
			logging.String(logging.FieldImpact, "minutes stay local until published manually"),
		)
		return
	}
	pub, err := m.pipeline.Publisher.Publish(ctx, job)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, publication interrupted")
			return
		}
		logger.Info("automatic publication did not succeed", logging.Error(err))
		return
	}
	logger.Info("automatic publication finished",
		logging.Int64(logging.FieldPublicationID, pub.ID),
		logging.String("page_url", pub.TargetPageURL),
	)
}

func (m *Manager) notifyFailure(ctx context.Context, job *jobs.Job, message string) {
	m.notify(ctx, notifications.EventJobFailed, notifications.Payload{
		"job_id":   job.ID,
		"filename": job.Filename,
		"error":    message,
	})
}

func (m *Manager) notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Publish(ctx, event, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debug("daemon shutting down, could not send notification", logging.String("event", string(event)))
			return
		}
		logging.WarnWithContext(logging.WithContext(ctx, m.logger), "notification failed", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access"),
			logging.String(logging.FieldImpact, "the user is not told about this job outcome"),
		)
	}
}
