package workflow

import (
	"log/slog"

	"minutes/internal/jobs"
	"minutes/internal/logging"
)

// jobLogger returns the logger for one job's stage output. Stage logs go
// only to the job's own file; the daemon log keeps the job-level events.
func (m *Manager) jobLogger(job *jobs.Job) (*slog.Logger, func()) {
	logger, closeFn, err := m.jobLogs.Open(job)
	if err != nil {
		m.logger.Warn("job log unavailable", logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		return m.logger, func() {}
	}
	return logger.With(logging.String(logging.FieldComponent, "workflow")), func() {
		if err := closeFn(); err != nil {
			m.logger.Debug("close job log", logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		}
	}
}
