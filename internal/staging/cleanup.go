// Package staging manages per-job scratch directories under paths.temp_dir.
//
// Each running job owns <temp_dir>/<job_id> for converted audio and chunk
// files. The workflow creates the directory before chunking and removes it
// on every terminal outcome; CleanOrphaned sweeps what a crashed daemon
// left behind.
package staging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"minutes/internal/logging"
)

// Workspace is one job's scratch directory.
type Workspace struct {
	path string
}

// Create makes (or reuses) the scratch directory for jobID under root.
func Create(root, jobID string) (*Workspace, error) {
	root = strings.TrimSpace(root)
	jobID = strings.TrimSpace(jobID)
	if root == "" || jobID == "" {
		return nil, errors.New("staging: temp dir and job id are required")
	}
	if strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return nil, fmt.Errorf("staging: invalid job id %q", jobID)
	}
	path := filepath.Join(root, jobID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("staging: create workspace: %w", err)
	}
	return &Workspace{path: path}, nil
}

// Path returns the workspace directory.
func (w *Workspace) Path() string {
	return w.path
}

// File returns a path inside the workspace.
func (w *Workspace) File(name string) string {
	return filepath.Join(w.path, name)
}

// Remove deletes the workspace and everything in it. It is safe to call
// more than once.
func (w *Workspace) Remove() error {
	if w == nil || w.path == "" {
		return nil
	}
	if err := os.RemoveAll(w.path); err != nil {
		return fmt.Errorf("staging: remove workspace: %w", err)
	}
	return nil
}

// CleanStaleResult contains the outcome of a cleanup sweep.
type CleanStaleResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanOrphaned removes workspaces whose name is not an active job id.
func CleanOrphaned(ctx context.Context, root string, activeJobs map[string]struct{}, logger *slog.Logger) CleanStaleResult {
	return sweep(ctx, root, logger, "orphaned", func(name string, _ os.FileInfo) bool {
		_, active := activeJobs[name]
		return !active
	})
}

func sweep(ctx context.Context, root string, logger *slog.Logger, reason string, remove func(string, os.FileInfo) bool) CleanStaleResult {
	result := CleanStaleResult{}

	root = strings.TrimSpace(root)
	if root == "" {
		return result
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: root, Error: err})
		}
		return result
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return result
		}
		if !entry.IsDir() {
			continue
		}
		dirPath := filepath.Join(root, entry.Name())
		info, err := entry.Info()
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			continue
		}
		if !remove(entry.Name(), info) {
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			if logger != nil {
				logging.WarnWithContext(logger, "failed to remove "+reason+" job workspace", "workspace_cleanup_failed",
					logging.String("path", dirPath),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check paths.temp_dir permissions"),
					logging.String(logging.FieldImpact, "disk space not reclaimed"),
				)
			}
			continue
		}
		result.Removed = append(result.Removed, dirPath)
		if logger != nil {
			logger.Info("removed "+reason+" job workspace",
				logging.String("path", dirPath),
				logging.Duration("age", time.Since(info.ModTime())),
				logging.String(logging.FieldEventType, "workspace_cleanup"),
			)
		}
	}
	return result
}

