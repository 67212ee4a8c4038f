package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"minutes/internal/ipc"
	"minutes/internal/logging"
	"minutes/internal/testsupport"
)

func TestBootstrapServesAPI(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	d, err := bootstrap(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	client, err := ipc.Dial(ipc.Options{Address: d.Addr(), UserID: "alice"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	health, err := client.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Status != "ok" {
		t.Fatalf("health status = %q", health.Status)
	}
	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running || status.Workflow.Workers != cfg.Workflow.MaxConcurrentJobs {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[paths\ndata_dir = \n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := run(context.Background(), path); err == nil {
		t.Fatal("expected malformed config to fail")
	}
}
