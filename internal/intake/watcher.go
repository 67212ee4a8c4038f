package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"minutes/internal/api"
	"minutes/internal/config"
	"minutes/internal/fileutil"
	"minutes/internal/logging"
	"minutes/internal/media"
	"minutes/internal/services"
)

const (
	// ProcessedDir receives files that became jobs.
	ProcessedDir = ".processed"
	// RejectedDir receives files the API refused as invalid.
	RejectedDir = ".rejected"

	defaultSettle = 500 * time.Millisecond
)

// Submitter creates jobs from picked-up files.
type Submitter interface {
	CreateJob(ctx context.Context, req api.CreateJobRequest) (api.JobView, error)
}

// Watcher monitors a directory and submits stable recordings.
type Watcher struct {
	dir      string
	userID   string
	template string
	publish  bool
	settle   time.Duration
	submit   Submitter
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	wg      sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithSettle overrides how long a file must stay unchanged before pickup.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// New constructs a watcher for cfg.Intake.
func New(cfg *config.Config, submit Submitter, logger *slog.Logger, opts ...Option) (*Watcher, error) {
	if cfg == nil || submit == nil {
		return nil, errors.New("intake: config and submitter are required")
	}
	dir := strings.TrimSpace(cfg.Intake.WatchDir)
	if dir == "" {
		return nil, errors.New("intake: watch_dir is not configured")
	}
	if strings.TrimSpace(cfg.Intake.UserID) == "" {
		return nil, errors.New("intake: user_id is required when watch_dir is set")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	w := &Watcher{
		dir:      dir,
		userID:   cfg.Intake.UserID,
		template: cfg.Intake.Template,
		publish:  cfg.Intake.Publish,
		settle:   defaultSettle,
		submit:   submit,
		logger:   logging.NewComponentLogger(logger, "intake"),
		pending:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run watches until ctx ends. Files already present are submitted first.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("intake: create watch dir: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("intake: create watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("intake: watch %s: %w", w.dir, err)
	}
	defer w.wg.Wait()

	w.logger.Info("watch folder started",
		logging.String(logging.FieldEventType, "intake_started"),
		logging.String("dir", w.dir),
		logging.String(logging.FieldUserID, w.userID),
	)
	w.scan(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return errors.New("intake: watcher events channel closed")
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.schedule(ctx, event.Name)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return errors.New("intake: watcher errors channel closed")
			}
			logging.WarnWithContext(w.logger, "watch folder error", "intake_watch_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "some dropped files may be picked up late"),
			)
		}
	}
}

func (w *Watcher) scan(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("watch folder scan failed", logging.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			w.schedule(ctx, filepath.Join(w.dir, entry.Name()))
		}
	}
}

// schedule starts one settle-and-submit goroutine per path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || filepath.Dir(path) != filepath.Clean(w.dir) {
		return
	}
	if _, _, err := media.CheckName(name); err != nil {
		w.logger.Debug("ignoring unsupported file", logging.String("file", name))
		return
	}
	w.mu.Lock()
	if _, busy := w.pending[path]; busy {
		w.mu.Unlock()
		return
	}
	w.pending[path] = struct{}{}
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.pending, path)
			w.mu.Unlock()
		}()
		if !w.awaitStable(ctx, path) {
			return
		}
		w.handle(ctx, path)
	}()
}

// awaitStable reports whether path still exists once its size and mtime
// held for the settle window.
func (w *Watcher) awaitStable(ctx context.Context, path string) bool {
	prev, err := os.Stat(path)
	if err != nil {
		return false
	}
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(w.settle):
		}
		cur, err := os.Stat(path)
		if err != nil || !cur.Mode().IsRegular() {
			return false
		}
		if cur.Size() == prev.Size() && cur.ModTime().Equal(prev.ModTime()) {
			return true
		}
		prev = cur
	}
}

func (w *Watcher) handle(ctx context.Context, path string) {
	name := filepath.Base(path)
	job, err := w.submit.CreateJob(ctx, api.CreateJobRequest{
		UserID:     w.userID,
		Filename:   name,
		SourcePath: path,
		Template:   w.template,
		Publish:    w.publish,
		Metadata:   map[string]string{"source": "watch_folder"},
	})
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			logging.WarnWithContext(w.logger, "watch folder file rejected", "intake_rejected",
				logging.String("file", name),
				logging.Error(err),
				logging.String(logging.FieldImpact, "file moved to "+RejectedDir),
			)
			w.move(path, filepath.Join(w.dir, RejectedDir, name))
			return
		}
		if ctx.Err() == nil {
			logging.ErrorWithContext(w.logger, "watch folder submit failed", "intake_submit_failed",
				logging.String("file", name),
				logging.Error(err),
			)
		}
		return
	}
	w.logger.Info("watch folder file queued",
		logging.String(logging.FieldEventType, "intake_queued"),
		logging.String(logging.FieldJobID, job.ID),
		logging.String("file", name),
	)
	w.move(path, filepath.Join(w.dir, ProcessedDir, job.ID+"-"+name))
}

func (w *Watcher) move(src, dst string) {
	if err := fileutil.MoveFile(src, dst); err != nil {
		logging.WarnWithContext(w.logger, "failed to move watch folder file", "intake_move_failed",
			logging.String("file", src),
			logging.Error(err),
			logging.String(logging.FieldImpact, "file may be submitted again on restart"),
		)
	}
}
