package services_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"syscall"
	"testing"
	"time"

	"minutes/internal/services"
)

type statusErr struct {
	retry bool
	after time.Duration
}

func (e *statusErr) Error() string { return fmt.Sprintf("status retry=%v", e.retry) }
func (e *statusErr) Retryable() bool { return e.retry }
func (e *statusErr) RetryDelay() time.Duration { return e.after }

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestRetryPolicyRetriesTransientFailures(t *testing.T) {
	var slept []time.Duration
	policy := services.RetryPolicy{
		MaxRetries: 3,
		Pause:      5 * time.Second,
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}

	calls := 0
	attempts, err := policy.Do(context.Background(), func(attempt int) error {
		calls++
		switch attempt {
		case 1:
			return &statusErr{retry: true}
		case 2:
			return &statusErr{retry: true, after: 30 * time.Second}
		default:
			return nil
		}
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if attempts != 3 || calls != 3 {
		t.Fatalf("expected 3 attempts, got %d (calls %d)", attempts, calls)
	}
	if len(slept) != 2 || slept[0] != 5*time.Second || slept[1] != 30*time.Second {
		t.Fatalf("unexpected pauses: %v", slept)
	}
}

func TestRetryPolicyStopsOnPermanentFailure(t *testing.T) {
	policy := services.RetryPolicy{MaxRetries: 5, Sleep: func(context.Context, time.Duration) error { return nil }}
	attempts, err := policy.Do(context.Background(), func(int) error {
		return &statusErr{retry: false}
	})
	if attempts != 1 || err == nil {
		t.Fatalf("expected single failed attempt, got %d, %v", attempts, err)
	}
}

func TestRetryPolicyExhaustion(t *testing.T) {
	policy := services.RetryPolicy{MaxRetries: 2, Sleep: func(context.Context, time.Duration) error { return nil }}
	attempts, err := policy.Do(context.Background(), func(int) error {
		return services.ErrTransient
	})
	if attempts != 3 || !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected 3 attempts ending in transient error, got %d, %v", attempts, err)
	}
}

func TestRetryPolicyHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := services.RetryPolicy{MaxRetries: 3, Sleep: func(context.Context, time.Duration) error { return nil }}
	attempts, err := policy.Do(ctx, func(int) error {
		cancel()
		return services.ErrTransient
	})
	if attempts != 1 || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation after first attempt, got %d, %v", attempts, err)
	}
}

func TestRetryDecision(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		retry bool
	}{
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"transient marker", fmt.Errorf("wrap: %w", services.ErrTransient), true},
		{"validation", services.ErrValidation, false},
		{"classified", &statusErr{retry: true}, true},
		{"unsupported scheme", &url.Error{Op: "Post", URL: "ftp://api", Err: errors.New(`unsupported protocol scheme "ftp"`)}, false},
		{"transport timeout", &url.Error{Op: "Post", URL: "https://api", Err: timeoutErr{}}, true},
		{"connection refused", &url.Error{Op: "Post", URL: "https://api", Err: &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}}, true},
		{"connection reset", fmt.Errorf("read body: %w", &net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", syscall.ECONNRESET)}), true},
		{"server hung up", &url.Error{Op: "Post", URL: "https://api", Err: io.EOF}, true},
		{"truncated body", fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), true},
		{"unknown host", &url.Error{Op: "Post", URL: "https://api", Err: &net.OpError{Op: "dial", Net: "tcp", Err: &net.DNSError{Err: "no such host", Name: "api", IsNotFound: true}}}, false},
		{"dns timeout", &url.Error{Op: "Post", URL: "https://api", Err: &net.DNSError{Err: "timeout", Name: "api", IsTimeout: true}}, true},
		{"non-timeout net error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("network is unreachable")}, false},
	}
	for _, tc := range cases {
		if _, retry := services.RetryDecision(tc.err); retry != tc.retry {
			t.Errorf("%s: RetryDecision = %v, want %v", tc.name, retry, tc.retry)
		}
	}
	for status, want := range map[int]bool{400: false, 401: false, 408: true, 429: true, 500: true, 503: true} {
		if got := services.StatusRetryable(status); got != want {
			t.Errorf("StatusRetryable(%d) = %v, want %v", status, got, want)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d, ok := services.ParseRetryAfter("12"); !ok || d != 12*time.Second {
		t.Fatalf("unexpected seconds parse: %v %v", d, ok)
	}
	if _, ok := services.ParseRetryAfter("soon"); ok {
		t.Fatal("expected invalid header to be rejected")
	}
}

func TestTransportRetryableWithRealTransport(t *testing.T) {
	if _, err := http.Get("ftp://example.invalid/file"); services.TransportRetryable(err) {
		t.Fatalf("unsupported scheme should not be retryable: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := server.URL
	server.Close()
	_, err := http.Get(addr)
	if err == nil {
		t.Fatal("expected dial error against closed server")
	}
	if !services.TransportRetryable(err) {
		t.Fatalf("refused connection should be retryable: %v", err)
	}
}
