package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"minutes/internal/config"
)

func TestLoadDefaultConfigUsesEnvKeysAndExpandsPaths(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "dg-key")
	t.Setenv("OPENROUTER_API_KEY", "or-key")
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "minutes")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Transcription.APIKey != "dg-key" {
		t.Fatalf("expected Deepgram key from env, got %q", cfg.Transcription.APIKey)
	}
	if cfg.Summary.APIKey != "or-key" {
		t.Fatalf("expected OpenRouter key from env, got %q", cfg.Summary.APIKey)
	}
	if cfg.Media.ChunkDurationMinutes != 15 {
		t.Fatalf("unexpected chunk duration: %d", cfg.Media.ChunkDurationMinutes)
	}
	if cfg.Summary.MaxTokens != 2000 || cfg.Summary.Temperature != 0.7 {
		t.Fatalf("unexpected summary defaults: %+v", cfg.Summary)
	}
	if cfg.Templates.Default != "auto" || cfg.Templates.Fallback != "standard" {
		t.Fatalf("unexpected template defaults: %+v", cfg.Templates)
	}
	if cfg.Workflow.MaxConcurrentJobs != config.Default().Workflow.MaxConcurrentJobs {
		t.Fatalf("unexpected max concurrent jobs: %d", cfg.Workflow.MaxConcurrentJobs)
	}
	if cfg.PublicationConfigured() {
		t.Fatal("expected publication disabled by default")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir, cfg.Paths.TempDir, cfg.UploadDir(), cfg.OutputDir()} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "minutes.toml")

	type payload struct {
		Media struct {
			ChunkDurationMinutes int `toml:"chunk_duration_minutes"`
		} `toml:"media"`
		Summary struct {
			Provider string `toml:"provider"`
			APIKey   string `toml:"api_key"`
		} `toml:"summary"`
		Templates struct {
			Priority []string `toml:"priority"`
		} `toml:"templates"`
		Workflow struct {
			MaxConcurrentJobs int `toml:"max_concurrent_jobs"`
			HeartbeatInterval int `toml:"heartbeat_interval"`
			HeartbeatTimeout  int `toml:"heartbeat_timeout"`
		} `toml:"workflow"`
	}
	custom := payload{}
	custom.Media.ChunkDurationMinutes = 10
	custom.Summary.Provider = "Gemini"
	custom.Summary.APIKey = "gm-key"
	custom.Templates.Priority = []string{" Review ", "standup", "review"}
	custom.Workflow.MaxConcurrentJobs = 4
	custom.Workflow.HeartbeatInterval = 20
	custom.Workflow.HeartbeatTimeout = 200
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Media.ChunkDurationMinutes != 10 {
		t.Fatalf("expected chunk duration override, got %d", cfg.Media.ChunkDurationMinutes)
	}
	if cfg.Summary.Provider != config.ProviderGemini {
		t.Fatalf("expected provider to be normalized, got %q", cfg.Summary.Provider)
	}
	if cfg.Summary.Model == "" || strings.Contains(cfg.Summary.Model, "claude") {
		t.Fatalf("expected gemini default model, got %q", cfg.Summary.Model)
	}
	if got := strings.Join(cfg.Templates.Priority, ","); got != "review,standup" {
		t.Fatalf("unexpected priority normalization: %q", got)
	}
	if cfg.Workflow.MaxConcurrentJobs != 4 {
		t.Fatalf("expected max concurrent jobs override, got %d", cfg.Workflow.MaxConcurrentJobs)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "zero chunk duration",
			mutate:  func(c *config.Config) { c.Media.ChunkDurationMinutes = 0 },
			wantErr: "media.chunk_duration_minutes",
		},
		{
			name:    "negative retries",
			mutate:  func(c *config.Config) { c.Transcription.MaxRetries = -1 },
			wantErr: "transcription.max_retries",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *config.Config) { c.Summary.Provider = "mystery" },
			wantErr: "summary.provider",
		},
		{
			name:    "auto fallback",
			mutate:  func(c *config.Config) { c.Templates.Fallback = "auto" },
			wantErr: "templates.fallback",
		},
		{
			name: "publication without space",
			mutate: func(c *config.Config) {
				c.Publication.Enabled = true
				c.Publication.BaseURL = "https://wiki.example.com"
			},
			wantErr: "publication.space_key",
		},
		{
			name: "heartbeat ordering",
			mutate: func(c *config.Config) {
				c.Workflow.HeartbeatInterval = 30
				c.Workflow.HeartbeatTimeout = 30
			},
			wantErr: "heartbeat_timeout",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *config.Config) { c.Workflow.MaxConcurrentJobs = 0 },
			wantErr: "workflow.max_concurrent_jobs",
		},
		{
			name:    "watch dir without user",
			mutate:  func(c *config.Config) { c.Intake.WatchDir = "/tmp/inbox" },
			wantErr: "intake.user_id",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error to mention %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample failed: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}
	if cfg.Transcription.Model != "nova-2" {
		t.Fatalf("unexpected sample model: %q", cfg.Transcription.Model)
	}
	if cfg.Templates.MinKeywordMatches != 2 {
		t.Fatalf("unexpected sample min_keyword_matches: %d", cfg.Templates.MinKeywordMatches)
	}
}
