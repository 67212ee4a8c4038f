// Package gemini writes minutes through the Google Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"minutes/internal/services"
)

// Config captures the Gemini settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Request is one generation call.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// StatusError is an API failure reported by the service.
type StatusError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini request: http %d %s: %s", e.StatusCode, e.Status, services.Snippet(e.Message, 200))
}

// Retryable reports whether the status is transient (408, 429 or 5xx).
func (e *StatusError) Retryable() bool {
	return services.StatusRetryable(e.StatusCode)
}

// RetryDelay returns zero; the API does not send Retry-After.
func (e *StatusError) RetryDelay() time.Duration { return 0 }

// ErrEmptyResponse means no candidate carried text.
var ErrEmptyResponse = fmt.Errorf("%w: gemini returned no text", services.ErrTransient)

// Client issues single generation requests. It never retries.
type Client struct {
	cfg    Config
	models *genai.Models
}

// Option customizes the client.
type Option func(*genai.ClientConfig)

// WithHTTPClient overrides the HTTP client used by the SDK.
func WithHTTPClient(client *http.Client) Option {
	return func(cc *genai.ClientConfig) {
		if client != nil {
			cc.HTTPClient = client
		}
	}
}

// NewClient constructs a Gemini API client.
func NewClient(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.APIKey == "" {
		return nil, services.Wrap(services.ErrConfiguration, "summary", "gemini", "api key required", nil)
	}
	if cfg.Model == "" {
		return nil, services.Wrap(services.ErrConfiguration, "summary", "gemini", "model required", nil)
	}
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	for _, opt := range opts {
		opt(clientCfg)
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Client{cfg: cfg, models: client.Models}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Generate runs one GenerateContent call and concatenates the text parts of
// the first candidate.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", errors.New("gemini generate: prompt required")
	}
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if system := strings.TrimSpace(req.System); system != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	result, err := c.models.GenerateContent(ctx, c.cfg.Model, genai.Text(req.Prompt), genCfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", &StatusError{StatusCode: apiErr.Code, Status: apiErr.Status, Message: apiErr.Message}
		}
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}
	var text strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			text.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(text.String()), nil
}
