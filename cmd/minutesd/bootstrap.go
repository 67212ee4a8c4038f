package main

import (
	"fmt"
	"log/slog"

	"minutes/internal/config"
	"minutes/internal/daemon"
	"minutes/internal/jobs"
	"minutes/internal/workflow"
)

// bootstrap opens the job store and assembles the workflow and daemon. The
// store is closed with the daemon.
func bootstrap(cfg *config.Config, logger *slog.Logger, opts ...workflow.Option) (*daemon.Daemon, error) {
	store, err := jobs.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	mgr, err := workflow.NewManager(cfg, store, logger, opts...)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build workflow: %w", err)
	}
	d, err := daemon.New(cfg, store, logger, mgr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build daemon: %w", err)
	}
	return d, nil
}
