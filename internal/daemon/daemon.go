package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"minutes/internal/api"
	"minutes/internal/config"
	"minutes/internal/deps"
	"minutes/internal/intake"
	"minutes/internal/jobs"
	"minutes/internal/logging"
	"minutes/internal/preflight"
	"minutes/internal/workflow"
)

// LockFileName is created in the data directory while a daemon runs.
const LockFileName = "minutesd.lock"

// Daemon coordinates the background processing services and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *jobs.Store
	workflow *workflow.Manager
	service  *api.Service
	server   *apiServer
	intake   *intake.Watcher

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Workflow     workflow.StatusSummary
	DatabasePath string
	LockFilePath string
	Dependencies []deps.Status
	Checks       []preflight.Result
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *jobs.Store, logger *slog.Logger, wf *workflow.Manager) (*Daemon, error) {
	if cfg == nil || store == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	opts := []api.Option{api.WithWaker(wf)}
	if publisher, ok := wf.Publisher().(api.Publisher); ok {
		opts = append(opts, api.WithPublisher(publisher))
	}
	svc, err := api.NewService(cfg, store, logger, opts...)
	if err != nil {
		return nil, err
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, LockFileName)
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		workflow: wf,
		service:  svc,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	if cfg.Intake.WatchDir != "" {
		watcher, err := intake.New(cfg, svc, logger)
		if err != nil {
			return nil, err
		}
		d.intake = watcher
	}
	d.server = newAPIServer(cfg, svc, d, logger)
	return d, nil
}

// Start acquires the daemon lock and launches the workflow manager, the
// watch folder and the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another minutes daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.server.start(runCtx); err != nil {
		cancel()
		d.workflow.Stop()
		_ = d.lock.Unlock()
		return err
	}
	if d.intake != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.intake.Run(runCtx); err != nil {
				logging.ErrorWithContext(d.logger, "watch folder stopped", "intake_stopped",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check intake.watch_dir permissions"),
				)
			}
		}()
	}
	for _, failed := range preflight.Failed(preflight.RunAll(d.cfg)) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", failed.Name),
			logging.String("detail", failed.Detail),
			logging.String(logging.FieldImpact, "jobs needing this will fail"),
		)
	}
	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("minutes daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("api", d.server.Addr()),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Swap(false) {
		return
	}
	d.server.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.logger.Info("minutes daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Addr returns the bound API address once started.
func (d *Daemon) Addr() string {
	return d.server.Addr()
}

// Handler exposes the HTTP API routes.
func (d *Daemon) Handler() http.Handler {
	return d.server.router
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Workflow:     d.workflow.Status(ctx),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		Dependencies: deps.CheckBinaries(deps.MediaRequirements(d.cfg)),
		Checks:       preflight.RunAll(d.cfg),
	}
}

// DatabaseHealth returns detailed database diagnostics.
func (d *Daemon) DatabaseHealth(ctx context.Context) (jobs.DatabaseHealth, error) {
	return d.store.CheckHealth(ctx)
}
