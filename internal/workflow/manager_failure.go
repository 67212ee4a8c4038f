package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"minutes/internal/jobs"
	"minutes/internal/logging"
	"minutes/internal/services"
)

func (m *Manager) handleFailure(ctx context.Context, r *jobRun, stageErr error) {
	message := classifyFailure(string(r.job.Status), stageErr)
	details := services.Details(stageErr)

	attrs := append([]logging.Attr{
		logging.String("failed_status", string(r.job.Status)),
		logging.String("error_message", message),
		logging.Alert("job_failure"),
		logging.String(logging.FieldEventType, "job_failure"),
	}, logging.ErrorDetails(stageErr)...)
	r.log.Error("stage failed", logging.Args(attrs...)...)

	updated, err := m.store.Transition(ctx, r.job.ID, r.job.Status, jobs.StatusError, func(j *jobs.Job) {
		j.SetFailed(message)
		j.SetMetadata("error_kind", details.Kind)
	})
	if err != nil {
		m.setLastError(err)
		if errors.Is(err, context.Canceled) {
			r.log.Debug("daemon shutting down, could not persist job failure")
		} else {
			r.log.Error("failed to persist job failure", logging.Error(err))
		}
		return
	}
	m.setLastError(stageErr)
	m.setLastJob(updated)

	logging.ErrorWithContext(logging.WithContext(ctx, m.logger), "job failed", "job_failed",
		logging.String(logging.FieldErrorKind, details.Kind),
		logging.String("error_message", message),
		logging.String(logging.FieldErrorHint, details.Hint),
	)
	m.notifyFailure(ctx, updated, message)
}

func (m *Manager) handleCancellation(ctx context.Context, r *jobRun) {
	updated, err := m.store.Transition(ctx, r.job.ID, r.job.Status, jobs.StatusCancelled, func(j *jobs.Job) {
		j.Message = "Cancelled"
	})
	if err != nil {
		r.log.Error("failed to persist cancellation", logging.Error(err))
		m.setLastError(err)
		return
	}
	m.setLastJob(updated)
	logging.WithContext(ctx, m.logger).Info("job cancelled",
		logging.String(logging.FieldEventType, "job_cancelled"),
		logging.String("cancelled_at", string(r.job.Status)),
	)
}

// classifyFailure derives the user-facing error message stored on the job.
func classifyFailure(stage string, stageErr error) string {
	if stageErr == nil {
		return failureMessage(stage, "failed without error detail")
	}
	message := strings.TrimSpace(services.Details(stageErr).Message)
	if message == "" {
		message = strings.TrimSpace(stageErr.Error())
	}
	if message == "" {
		message = failureMessage(stage, "failed")
	}
	return message
}

func failureMessage(stage, defaultMsg string) string {
	if stage != "" {
		return fmt.Sprintf("%s %s", stage, defaultMsg)
	}
	return fmt.Sprintf("workflow %s", defaultMsg)
}
