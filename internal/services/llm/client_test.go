package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"minutes/internal/services"
)

func completionServer(t *testing.T, handler func(w http.ResponseWriter, payload chatCompletionRequest)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test" {
			t.Errorf("unexpected authorization header %q", got)
		}
		var payload chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		handler(w, payload)
	}))
	t.Cleanup(server.Close)
	return server
}

func writeChoice(w http.ResponseWriter, field, content string) {
	payload := map[string]any{
		"model": "served-model",
		"choices": []any{
			map[string]any{
				field:           map[string]any{"content": content},
				"finish_reason": "stop",
			},
		},
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func TestCompleteSendsGenerationParameters(t *testing.T) {
	var seen chatCompletionRequest
	server := completionServer(t, func(w http.ResponseWriter, payload chatCompletionRequest) {
		seen = payload
		writeChoice(w, "message", "## Протокол")
	})

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model", Title: "Minutes"})
	resp, err := client.Complete(context.Background(), Request{
		System:      "Ты секретарь.",
		Prompt:      "Транскрипт",
		MaxTokens:   2000,
		Temperature: 0.7,
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp.Content != "## Протокол" || resp.Model != "served-model" || resp.FinishReason != "stop" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if seen.Model != "demo-model" || seen.MaxTokens != 2000 || seen.Temperature != 0.7 {
		t.Fatalf("unexpected request %+v", seen)
	}
	if len(seen.Messages) != 2 || seen.Messages[0].Role != "system" || seen.Messages[1].Content != "Транскрипт" {
		t.Fatalf("unexpected messages %+v", seen.Messages)
	}
}

func TestCompleteAcceptsDeltaSchema(t *testing.T) {
	server := completionServer(t, func(w http.ResponseWriter, _ chatCompletionRequest) {
		writeChoice(w, "delta", "текст")
	})
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
	resp, err := client.Complete(context.Background(), Request{Prompt: "p"})
	if err != nil || resp.Content != "текст" {
		t.Fatalf("expected delta content, got %+v, %v", resp, err)
	}
}

func TestCompleteEmptyContentIsRetryable(t *testing.T) {
	server := completionServer(t, func(w http.ResponseWriter, _ chatCompletionRequest) {
		writeChoice(w, "message", "   ")
	})
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
	_, err := client.Complete(context.Background(), Request{Prompt: "p"})

	var empty *EmptyContentError
	if !errors.As(err, &empty) {
		t.Fatalf("expected EmptyContentError, got %v", err)
	}
	if _, retry := services.RetryDecision(err); !retry {
		t.Fatal("expected empty content to be retryable")
	}
}

func TestCompleteStatusErrors(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusUnauthorized, false},
		{http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
		}))
		client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
		_, err := client.Complete(context.Background(), Request{Prompt: "p"})
		server.Close()

		var statusErr *StatusError
		if !errors.As(err, &statusErr) || statusErr.StatusCode != tt.status {
			t.Fatalf("status %d: expected StatusError, got %v", tt.status, err)
		}
		delay, retry := services.RetryDecision(err)
		if retry != tt.retryable {
			t.Fatalf("status %d: expected retryable=%v", tt.status, tt.retryable)
		}
		if delay != 7*time.Second {
			t.Fatalf("status %d: expected Retry-After 7s, got %v", tt.status, delay)
		}
	}
}

func TestCompleteRequiresKeyAndPrompt(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:0"})
	if _, err := client.Complete(context.Background(), Request{Prompt: "p"}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	client = NewClient(Config{APIKey: "test", BaseURL: "http://127.0.0.1:0"})
	if _, err := client.Complete(context.Background(), Request{Prompt: "  "}); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

func TestHealthCheck(t *testing.T) {
	server := completionServer(t, func(w http.ResponseWriter, payload chatCompletionRequest) {
		if payload.MaxTokens != 5 {
			t.Errorf("expected tiny health request, got max_tokens=%d", payload.MaxTokens)
		}
		writeChoice(w, "message", "ok")
	})
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}
