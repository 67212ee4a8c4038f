// Package summary turns a rendered template prompt into written minutes
// through a text-generation backend.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"minutes/internal/config"
	"minutes/internal/logging"
	"minutes/internal/services"
	"minutes/internal/services/gemini"
	"minutes/internal/services/llm"
)

// DefaultSystemPrompt frames the minutes writer when none is configured.
const DefaultSystemPrompt = "Ты опытный секретарь. Составляй точные структурированные протоколы встреч на русском языке в формате Markdown. Не выдумывай факты, которых нет в транскрипте."

// Request is one generation call.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Generator is a text-generation backend. Implementations issue a single
// request; the orchestrator owns retries.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// SummarizationError reports a prompt that produced no usable minutes after
// every permitted attempt.
type SummarizationError struct {
	Attempts int
	Cause    error
}

func (e *SummarizationError) Error() string {
	return fmt.Sprintf("%s: failed after %d attempts: %v", services.ErrSummarization, e.Attempts, e.Cause)
}

func (e *SummarizationError) Unwrap() []error {
	return []error{services.ErrSummarization, e.Cause}
}

// errEmptyOutput marks whitespace-only output from a backend.
var errEmptyOutput = fmt.Errorf("%w: empty minutes", services.ErrTransient)

// Orchestrator applies the retry policy around a Generator.
type Orchestrator struct {
	generator   Generator
	policy      services.RetryPolicy
	system      string
	maxTokens   int
	temperature float64
	logger      *slog.Logger
}

// Option customizes the orchestrator.
type Option func(*Orchestrator)

// WithSleeper replaces the pause between attempts (for testing).
func WithSleeper(sleep services.Sleeper) Option {
	return func(o *Orchestrator) {
		o.policy.Sleep = sleep
	}
}

// NewOrchestrator wires generator with the summary config.
func NewOrchestrator(cfg *config.Config, generator Generator, logger *slog.Logger, opts ...Option) *Orchestrator {
	system := cfg.Summary.SystemPrompt
	if system == "" {
		system = DefaultSystemPrompt
	}
	o := &Orchestrator{
		generator: generator,
		policy: services.RetryPolicy{
			MaxRetries: cfg.Summary.MaxRetries,
			Pause:      time.Duration(cfg.Summary.RequestPauseSeconds) * time.Second,
		},
		system:      system,
		maxTokens:   cfg.Summary.MaxTokens,
		temperature: cfg.Summary.Temperature,
		logger:      logging.NewComponentLogger(logger, "summary"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Summarize sends prompt to the backend and returns the minutes text.
// Empty output is retried like a transient failure.
func (o *Orchestrator) Summarize(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", services.Wrap(services.ErrSummarization, "summary", "summarize", "empty prompt", nil)
	}
	logger := logging.WithContext(ctx, o.logger)
	req := Request{
		System:      o.system,
		Prompt:      prompt,
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	}

	var minutes string
	attempts, err := o.policy.Do(ctx, func(attempt int) error {
		text, genErr := o.generator.Generate(ctx, req)
		if genErr == nil && strings.TrimSpace(text) == "" {
			genErr = errEmptyOutput
		}
		if genErr != nil {
			if _, retry := services.RetryDecision(genErr); retry && attempt <= o.policy.MaxRetries {
				logging.WarnWithContext(logger, "minutes generation failed; retrying", "summary_retry",
					logging.Int(logging.FieldAttempt, attempt),
					logging.Error(genErr),
					logging.String(logging.FieldImpact, "prompt will be resubmitted after a pause"),
				)
			}
			return genErr
		}
		minutes = strings.TrimSpace(text)
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", &SummarizationError{Attempts: attempts, Cause: err}
	}
	logger.Info("minutes generated",
		logging.String(logging.FieldEventType, "summary_completed"),
		logging.Int(logging.FieldAttempt, attempts),
		logging.Int("prompt_chars", len([]rune(prompt))),
		logging.Int("minutes_chars", len([]rune(minutes))),
	)
	return minutes, nil
}

// NewGenerator builds the backend selected by summary.provider.
func NewGenerator(ctx context.Context, cfg *config.Config) (Generator, error) {
	timeout := time.Duration(cfg.Summary.TimeoutSeconds) * time.Second
	switch cfg.Summary.Provider {
	case config.ProviderGemini:
		client, err := gemini.NewClient(ctx, gemini.Config{
			APIKey:  cfg.Summary.APIKey,
			BaseURL: cfg.Summary.BaseURL,
			Model:   cfg.Summary.Model,
			Timeout: timeout,
		})
		if err != nil {
			return nil, err
		}
		return GeminiGenerator(client), nil
	case config.ProviderOpenRouter, "":
		return LLMGenerator(llm.NewClient(llm.Config{
			APIKey:         cfg.Summary.APIKey,
			BaseURL:        cfg.Summary.BaseURL,
			Model:          cfg.Summary.Model,
			Referer:        cfg.Summary.Referer,
			Title:          cfg.Summary.Title,
			TimeoutSeconds: cfg.Summary.TimeoutSeconds,
		})), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "summary", "provider",
			fmt.Sprintf("unsupported provider %q", cfg.Summary.Provider), nil)
	}
}

// LLMGenerator adapts the OpenRouter client.
func LLMGenerator(client *llm.Client) Generator {
	return GeneratorFunc(func(ctx context.Context, req Request) (string, error) {
		resp, err := client.Complete(ctx, llm.Request{
			System:      req.System,
			Prompt:      req.Prompt,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		})
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	})
}

// GeminiGenerator adapts the Gemini client.
func GeminiGenerator(client *gemini.Client) Generator {
	return GeneratorFunc(func(ctx context.Context, req Request) (string, error) {
		return client.Generate(ctx, gemini.Request{
			System:      req.System,
			Prompt:      req.Prompt,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		})
	})
}
