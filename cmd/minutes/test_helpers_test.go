package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"minutes/internal/api"
	"minutes/internal/config"
	"minutes/internal/daemon"
	"minutes/internal/jobs"
	"minutes/internal/testsupport"
	"minutes/internal/workflow"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      *jobs.Store
	server     *httptest.Server
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	base := testsupport.BaseDir(cfg)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	t.Setenv(userEnv, "")

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	store := testsupport.MustOpenStore(t, cfg)
	mgr, err := workflow.NewManager(cfg, store, nil)
	if err != nil {
		t.Fatalf("workflow.NewManager: %v", err)
	}
	d, err := daemon.New(cfg, store, nil, mgr)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	srv := httptest.NewServer(d.Handler())
	t.Cleanup(srv.Close)

	return &cliTestEnv{cfg: cfg, store: store, server: srv, configPath: configPath, baseDir: base}
}

func (env *cliTestEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return runCLI(t, append([]string{"--api", env.server.URL, "--config", env.configPath, "--user", "alice"}, args...))
}

func (env *cliTestEnv) recording(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(env.baseDir, name)
	if err := os.WriteFile(path, []byte("fake audio"), 0o644); err != nil {
		t.Fatalf("write recording: %v", err)
	}
	return path
}

func (env *cliTestEnv) submit(t *testing.T, name string) api.JobView {
	t.Helper()
	stdout, _, err := env.run(t, "--json", "submit", env.recording(t, name))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	var job api.JobView
	if err := json.Unmarshal([]byte(stdout), &job); err != nil {
		t.Fatalf("decode submit output %q: %v", stdout, err)
	}
	return job
}

func runCLI(t *testing.T, args []string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\ndata_dir = %q\nlog_dir = %q\ntemp_dir = %q\napi_bind = %q\n",
		cfg.Paths.DataDir,
		cfg.Paths.LogDir,
		cfg.Paths.TempDir,
		cfg.Paths.APIBind,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
