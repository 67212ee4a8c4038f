package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"minutes/internal/config"
)

const userAgent = "Minutes-Go/0.1.0"

// Event names a notification trigger.
type Event string

const (
	EventJobCompleted      Event = "job_completed"
	EventJobFailed         Event = "job_failed"
	EventPublished         Event = "published"
	EventPublicationFailed Event = "publication_failed"
	EventTest              Event = "test"
)

// Payload carries event fields such as filename, template, error, title and url.
type Payload map[string]any

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventJobCompleted:      cfg.Notifications.JobCompleted,
			EventJobFailed:         cfg.Notifications.JobFailed,
			EventPublished:         cfg.Notifications.Publication,
			EventPublicationFailed: cfg.Notifications.Publication,
			EventTest:              true,
		},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, data Payload) error {
	if n == nil || !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, data)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, data Payload) (payload, bool) {
	filename := data.str("filename")
	switch event {
	case EventJobCompleted:
		message := fmt.Sprintf("📝 Minutes ready: %s", filename)
		if template := data.str("template"); template != "" {
			message = fmt.Sprintf("%s\nTemplate: %s", message, template)
		}
		return payload{
			title:   "Minutes - Ready",
			message: message,
			tags:    []string{"minutes", "job", "completed"},
		}, true
	case EventJobFailed:
		return payload{
			title:    "Minutes - Failed",
			message:  withError(fmt.Sprintf("❌ Processing failed for %s", filename), data),
			tags:     []string{"minutes", "job", "error"},
			priority: "high",
		}, true
	case EventPublished:
		message := fmt.Sprintf("📤 Published: %s", data.str("title"))
		if url := data.str("url"); url != "" {
			message = fmt.Sprintf("%s\n%s", message, url)
		}
		return payload{
			title:   "Minutes - Published",
			message: message,
			tags:    []string{"minutes", "publication", "published"},
		}, true
	case EventPublicationFailed:
		return payload{
			title:    "Minutes - Publication Failed",
			message:  withError(fmt.Sprintf("⚠️ Publication failed for %s", filename), data),
			tags:     []string{"minutes", "publication", "error"},
			priority: "high",
		}, true
	case EventTest:
		return payload{
			title:    "Minutes - Test",
			message:  "🧪 Notification system test",
			tags:     []string{"minutes", "test"},
			priority: "low",
		}, true
	default:
		return payload{}, false
	}
}

func withError(message string, data Payload) string {
	if reason := data.str("error"); reason != "" {
		return message + ": " + reason
	}
	return message
}

func (p Payload) str(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
