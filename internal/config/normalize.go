package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeMedia()
	c.normalizeTranscription()
	c.normalizeSummary()
	if err := c.normalizeTemplates(); err != nil {
		return err
	}
	if err := c.normalizeSpeakers(); err != nil {
		return err
	}
	c.normalizePublication()
	if err := c.normalizeIntake(); err != nil {
		return err
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.TempDir) == "" {
		c.Paths.TempDir = defaultTempDir
	}
	if c.Paths.TempDir, err = expandPath(c.Paths.TempDir); err != nil {
		return fmt.Errorf("paths.temp_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("MINUTES_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeMedia() {
	c.Media.FFmpegBinary = strings.TrimSpace(c.Media.FFmpegBinary)
	if c.Media.FFmpegBinary == "" {
		c.Media.FFmpegBinary = defaultFFmpegBinary
	}
	c.Media.FFprobeBinary = strings.TrimSpace(c.Media.FFprobeBinary)
	if c.Media.FFprobeBinary == "" {
		c.Media.FFprobeBinary = defaultFFprobeBinary
	}
}

func (c *Config) normalizeTranscription() {
	t := &c.Transcription
	t.APIKey = strings.TrimSpace(t.APIKey)
	if t.APIKey == "" {
		if value, ok := os.LookupEnv("DEEPGRAM_API_KEY"); ok {
			t.APIKey = strings.TrimSpace(value)
		}
	}
	t.BaseURL = strings.TrimRight(strings.TrimSpace(t.BaseURL), "/")
	if t.BaseURL == "" {
		t.BaseURL = defaultDeepgramBaseURL
	}
	t.Model = strings.TrimSpace(t.Model)
	if t.Model == "" {
		t.Model = defaultDeepgramModel
	}
	t.Language = strings.ToLower(strings.TrimSpace(t.Language))
	if t.Language == "" {
		t.Language = defaultDeepgramLanguage
	}
	if t.ChunkConcurrency <= 0 {
		t.ChunkConcurrency = 1
	}
	if strings.TrimSpace(t.SpeakerLabelFormat) == "" || !strings.Contains(t.SpeakerLabelFormat, "%d") {
		t.SpeakerLabelFormat = defaultSpeakerLabelFormat
	}
}

func (c *Config) normalizeSummary() {
	s := &c.Summary
	s.Provider = strings.ToLower(strings.TrimSpace(s.Provider))
	if s.Provider == "" {
		s.Provider = defaultSummaryProvider
	}
	s.APIKey = strings.TrimSpace(s.APIKey)
	if s.APIKey == "" {
		envKey := "OPENROUTER_API_KEY"
		if s.Provider == ProviderGemini {
			envKey = "GEMINI_API_KEY"
		}
		if value, ok := os.LookupEnv(envKey); ok {
			s.APIKey = strings.TrimSpace(value)
		}
	}
	s.BaseURL = strings.TrimSpace(s.BaseURL)
	if s.BaseURL == "" && s.Provider == ProviderOpenRouter {
		s.BaseURL = defaultOpenRouterBaseURL
	}
	s.Model = strings.TrimSpace(s.Model)
	if s.Model == "" {
		switch s.Provider {
		case ProviderGemini:
			s.Model = defaultGeminiModel
		default:
			s.Model = defaultOpenRouterModel
		}
	}
	s.Referer = strings.TrimSpace(s.Referer)
	s.Title = strings.TrimSpace(s.Title)
	s.SystemPrompt = strings.TrimSpace(s.SystemPrompt)
}

func (c *Config) normalizeTemplates() error {
	t := &c.Templates
	t.Default = strings.ToLower(strings.TrimSpace(t.Default))
	if t.Default == "" {
		t.Default = defaultTemplateName
	}
	t.Fallback = strings.ToLower(strings.TrimSpace(t.Fallback))
	if t.Fallback == "" {
		t.Fallback = defaultFallbackTemplate
	}
	priority := make([]string, 0, len(t.Priority))
	seen := make(map[string]struct{}, len(t.Priority))
	for _, name := range t.Priority {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		priority = append(priority, name)
	}
	t.Priority = priority
	if strings.TrimSpace(t.CatalogFile) == "" {
		t.CatalogFile = ""
		return nil
	}
	var err error
	if t.CatalogFile, err = expandPath(strings.TrimSpace(t.CatalogFile)); err != nil {
		return fmt.Errorf("templates.catalog_file: %w", err)
	}
	return nil
}

func (c *Config) normalizeSpeakers() error {
	if len(c.Speakers.Names) > 0 {
		names := make(map[string]string, len(c.Speakers.Names))
		for label, name := range c.Speakers.Names {
			label = strings.TrimSpace(label)
			name = strings.TrimSpace(name)
			if label == "" || name == "" {
				continue
			}
			names[label] = name
		}
		c.Speakers.Names = names
	}
	if strings.TrimSpace(c.Speakers.MappingFile) == "" {
		c.Speakers.MappingFile = ""
		return nil
	}
	var err error
	if c.Speakers.MappingFile, err = expandPath(strings.TrimSpace(c.Speakers.MappingFile)); err != nil {
		return fmt.Errorf("speakers.mapping_file: %w", err)
	}
	return nil
}

func (c *Config) normalizePublication() {
	p := &c.Publication
	p.BaseURL = strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
	p.APIToken = strings.TrimSpace(p.APIToken)
	if p.APIToken == "" {
		if value, ok := os.LookupEnv("CONFLUENCE_TOKEN"); ok {
			p.APIToken = strings.TrimSpace(value)
		}
	}
	p.SpaceKey = strings.TrimSpace(p.SpaceKey)
	p.ParentPageID = strings.TrimSpace(p.ParentPageID)
}

func (c *Config) normalizeIntake() error {
	c.Intake.UserID = strings.TrimSpace(c.Intake.UserID)
	c.Intake.Template = strings.ToLower(strings.TrimSpace(c.Intake.Template))
	if strings.TrimSpace(c.Intake.WatchDir) == "" {
		c.Intake.WatchDir = ""
		return nil
	}
	var err error
	if c.Intake.WatchDir, err = expandPath(strings.TrimSpace(c.Intake.WatchDir)); err != nil {
		return fmt.Errorf("intake.watch_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
		c.Logging.Format = "json"
	default:
		c.Logging.Format = format
	}
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = "info"
	}
	c.Logging.Level = level
}
