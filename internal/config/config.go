package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	TempDir  string `toml:"temp_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Media contains intake limits and the external tools used to inspect and
// split recordings.
type Media struct {
	ChunkDurationMinutes int    `toml:"chunk_duration_minutes"`
	MaxFileSizeMB        int    `toml:"max_file_size_mb"`
	MaxDurationMinutes   int    `toml:"max_duration_minutes"`
	FFmpegBinary         string `toml:"ffmpeg_binary"`
	FFprobeBinary        string `toml:"ffprobe_binary"`
}

// Transcription contains speech-to-text service settings.
type Transcription struct {
	APIKey              string `toml:"api_key"`
	BaseURL             string `toml:"base_url"`
	Model               string `toml:"model"`
	Language            string `toml:"language"`
	TimeoutSeconds      int    `toml:"timeout_seconds"`
	MaxRetries          int    `toml:"max_retries"`
	RequestPauseSeconds int    `toml:"request_pause_seconds"`
	ChunkConcurrency    int    `toml:"chunk_concurrency"`
	Diarize             bool   `toml:"diarize"`
	Punctuate           bool   `toml:"punctuate"`
	SmartFormat         bool   `toml:"smart_format"`
	Paragraphs          bool   `toml:"paragraphs"`
	SpeakerLabelFormat  string `toml:"speaker_label_format"`
}

// Summary contains text-generation settings for the minutes writer.
type Summary struct {
	Provider            string  `toml:"provider"`
	APIKey              string  `toml:"api_key"`
	BaseURL             string  `toml:"base_url"`
	Model               string  `toml:"model"`
	MaxTokens           int     `toml:"max_tokens"`
	Temperature         float64 `toml:"temperature"`
	TimeoutSeconds      int     `toml:"timeout_seconds"`
	MaxRetries          int     `toml:"max_retries"`
	RequestPauseSeconds int     `toml:"request_pause_seconds"`
	SystemPrompt        string  `toml:"system_prompt"`
	Referer             string  `toml:"referer"`
	Title               string  `toml:"title"`
}

// Templates contains prompt template selection settings.
//
// ConfidenceThreshold is accepted so older config files still load, but
// selection only looks at integer keyword counts.
type Templates struct {
	CatalogFile         string   `toml:"catalog_file"`
	Default             string   `toml:"default"`
	Fallback            string   `toml:"fallback"`
	MinKeywordMatches   int      `toml:"min_keyword_matches"`
	ConfidenceThreshold float64  `toml:"confidence_threshold"`
	Priority            []string `toml:"priority"`
}

// Speakers contains the label to display name mapping sources.
type Speakers struct {
	MappingFile string            `toml:"mapping_file"`
	Names       map[string]string `toml:"names"`
}

// Publication contains wiki publishing settings.
type Publication struct {
	Enabled           bool   `toml:"enabled"`
	AutoPublish       bool   `toml:"auto_publish"`
	BaseURL           string `toml:"base_url"`
	APIToken          string `toml:"api_token"`
	SpaceKey          string `toml:"space_key"`
	ParentPageID      string `toml:"parent_page_id"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	MaxRetries        int    `toml:"max_retries"`
	RetryDelaySeconds int    `toml:"retry_delay_seconds"`
}

// Workflow contains configuration for daemon timing and intervals.
type Workflow struct {
	MaxConcurrentJobs  int `toml:"max_concurrent_jobs"`
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	JobCompleted   bool   `toml:"job_completed"`
	JobFailed      bool   `toml:"job_failed"`
	Publication    bool   `toml:"publication"`
}

// Intake contains the optional watch folder settings.
type Intake struct {
	WatchDir string `toml:"watch_dir"`
	UserID   string `toml:"user_id"`
	Template string `toml:"template"`
	Publish  bool   `toml:"publish"`
}

// Config encapsulates all configuration values for the minutes daemon.
//
// Configuration sections by subsystem:
//   - Paths: data, log and temp directories plus the API bind address
//   - Media: upload limits, chunk length and ffmpeg/ffprobe binaries
//   - Transcription: speech-to-text credentials, retries and options
//   - Summary: text-generation provider, model and retry pacing
//   - Templates: prompt catalog and auto-detection thresholds
//   - Speakers: label to name mappings
//   - Publication: wiki target and retry limits
//   - Workflow: concurrency bound and polling intervals
//   - Logging: log format and level
//   - Notifications: ntfy push notification settings
//   - Intake: watch folder intake
type Config struct {
	Paths         Paths         `toml:"paths"`
	Media         Media         `toml:"media"`
	Transcription Transcription `toml:"transcription"`
	Summary       Summary       `toml:"summary"`
	Templates     Templates     `toml:"templates"`
	Speakers      Speakers      `toml:"speakers"`
	Publication   Publication   `toml:"publication"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
	Intake        Intake        `toml:"intake"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/minutes/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/minutes/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("minutes.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.TempDir, c.UploadDir(), c.OutputDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Intake.WatchDir) != "" {
		if err := os.MkdirAll(c.Intake.WatchDir, 0o755); err != nil {
			return fmt.Errorf("create watch directory %q: %w", c.Intake.WatchDir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the job database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "minutes.db")
}

// UploadDir returns the root under which accepted uploads are stored.
func (c *Config) UploadDir() string {
	return filepath.Join(c.Paths.DataDir, "uploads")
}

// OutputDir returns the root under which transcripts and minutes are written.
func (c *Config) OutputDir() string {
	return filepath.Join(c.Paths.DataDir, "results")
}

// MaxFileSizeBytes converts the configured size limit to bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	return int64(c.Media.MaxFileSizeMB) * 1024 * 1024
}

// ChunkDuration returns the per-request audio duration bound.
func (c *Config) ChunkDuration() time.Duration {
	return time.Duration(c.Media.ChunkDurationMinutes) * time.Minute
}

// MaxDuration returns the longest accepted recording.
func (c *Config) MaxDuration() time.Duration {
	return time.Duration(c.Media.MaxDurationMinutes) * time.Minute
}

// PublicationConfigured reports whether the wiki target is fully specified.
func (c *Config) PublicationConfigured() bool {
	return c.Publication.Enabled &&
		strings.TrimSpace(c.Publication.BaseURL) != "" &&
		strings.TrimSpace(c.Publication.SpaceKey) != ""
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
