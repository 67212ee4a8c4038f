package config

import (
	"errors"
	"fmt"
	"strings"
)

// Supported summary providers.
const (
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateMedia(); err != nil {
		return err
	}
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validateSummary(); err != nil {
		return err
	}
	if err := c.validateTemplates(); err != nil {
		return err
	}
	if err := c.validatePublication(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateIntake(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateMedia() error {
	return ensurePositiveMap(map[string]int{
		"media.chunk_duration_minutes": c.Media.ChunkDurationMinutes,
		"media.max_file_size_mb":       c.Media.MaxFileSizeMB,
		"media.max_duration_minutes":   c.Media.MaxDurationMinutes,
	})
}

func (c *Config) validateTranscription() error {
	if err := ensurePositiveMap(map[string]int{
		"transcription.timeout_seconds":   c.Transcription.TimeoutSeconds,
		"transcription.chunk_concurrency": c.Transcription.ChunkConcurrency,
	}); err != nil {
		return err
	}
	if c.Transcription.MaxRetries < 0 {
		return errors.New("transcription.max_retries must be zero or greater")
	}
	if c.Transcription.RequestPauseSeconds < 0 {
		return errors.New("transcription.request_pause_seconds must be zero or greater")
	}
	return nil
}

func (c *Config) validateSummary() error {
	switch c.Summary.Provider {
	case ProviderOpenRouter, ProviderGemini:
	default:
		return fmt.Errorf("summary.provider %q is not supported (use %q or %q)", c.Summary.Provider, ProviderOpenRouter, ProviderGemini)
	}
	if err := ensurePositiveMap(map[string]int{
		"summary.max_tokens":      c.Summary.MaxTokens,
		"summary.timeout_seconds": c.Summary.TimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.Summary.Temperature < 0 || c.Summary.Temperature > 2 {
		return errors.New("summary.temperature must be between 0 and 2")
	}
	if c.Summary.MaxRetries < 0 {
		return errors.New("summary.max_retries must be zero or greater")
	}
	if c.Summary.RequestPauseSeconds < 0 {
		return errors.New("summary.request_pause_seconds must be zero or greater")
	}
	return nil
}

func (c *Config) validateTemplates() error {
	if c.Templates.MinKeywordMatches <= 0 {
		return errors.New("templates.min_keyword_matches must be positive")
	}
	if c.Templates.Fallback == "auto" {
		return errors.New("templates.fallback must name a concrete template")
	}
	if c.Templates.ConfidenceThreshold < 0 || c.Templates.ConfidenceThreshold > 1 {
		return errors.New("templates.confidence_threshold must be between 0 and 1")
	}
	return nil
}

func (c *Config) validatePublication() error {
	if c.Publication.MaxRetries < 0 {
		return errors.New("publication.max_retries must be zero or greater")
	}
	if c.Publication.TimeoutSeconds <= 0 {
		return errors.New("publication.timeout_seconds must be positive")
	}
	if !c.Publication.Enabled {
		return nil
	}
	if c.Publication.BaseURL == "" {
		return errors.New("publication.base_url is required when publication is enabled")
	}
	if !strings.HasPrefix(c.Publication.BaseURL, "http://") && !strings.HasPrefix(c.Publication.BaseURL, "https://") {
		return fmt.Errorf("publication.base_url %q must be an http(s) URL", c.Publication.BaseURL)
	}
	if c.Publication.SpaceKey == "" {
		return errors.New("publication.space_key is required when publication is enabled")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.max_concurrent_jobs":  c.Workflow.MaxConcurrentJobs,
		"workflow.queue_poll_interval":  c.Workflow.QueuePollInterval,
		"workflow.error_retry_interval": c.Workflow.ErrorRetryInterval,
		"workflow.heartbeat_interval":   c.Workflow.HeartbeatInterval,
		"workflow.heartbeat_timeout":    c.Workflow.HeartbeatTimeout,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (use console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateIntake() error {
	if c.Intake.WatchDir != "" && c.Intake.UserID == "" {
		return errors.New("intake.user_id is required when intake.watch_dir is set")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
