package workflow

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"minutes/internal/config"
	"minutes/internal/jobs"
	"minutes/internal/logging"
)

// JobLogger manages dedicated log files for individual jobs.
type JobLogger struct {
	baseDir string
	cfg     *config.Config
}

// NewJobLogger creates a job logger rooted at <log_dir>/jobs.
func NewJobLogger(cfg *config.Config) *JobLogger {
	dir := ""
	if cfg != nil && strings.TrimSpace(cfg.Paths.LogDir) != "" {
		dir = filepath.Join(cfg.Paths.LogDir, "jobs")
	}
	return &JobLogger{baseDir: dir, cfg: cfg}
}

// Path returns the log file location for a job.
func (l *JobLogger) Path(jobID string) string {
	if l == nil || l.baseDir == "" || strings.TrimSpace(jobID) == "" {
		return ""
	}
	return filepath.Join(l.baseDir, jobID+".log")
}

// Open prepares the log directory and returns a logger writing to the job's
// file. The returned close func releases the file.
func (l *JobLogger) Open(job *jobs.Job) (*slog.Logger, func() error, error) {
	if job == nil {
		return nil, nil, fmt.Errorf("job is nil")
	}
	path := l.Path(job.ID)
	if path == "" {
		return nil, nil, fmt.Errorf("job log directory not configured")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("ensure job log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open job log: %w", err)
	}
	level := "info"
	if strings.TrimSpace(l.cfg.Logging.Level) != "" {
		level = l.cfg.Logging.Level
	}
	logger, err := logging.NewForWriter(file, logging.Options{Level: level, Format: "json"})
	if err != nil {
		_ = file.Close()
		return nil, nil, err
	}
	return logger, file.Close, nil
}
