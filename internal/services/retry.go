package services

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// RetryClassifier is implemented by client errors that know whether the
// failed request may be repeated and how long the server asked to wait.
type RetryClassifier interface {
	error
	Retryable() bool
	RetryDelay() time.Duration
}

// Sleeper waits for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryPolicy repeats an operation up to MaxRetries extra times with a fixed
// Pause between attempts. A server-provided delay replaces Pause when it is
// longer.
type RetryPolicy struct {
	MaxRetries int
	Pause      time.Duration
	Sleep      Sleeper
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// retries run out. It returns the number of attempts made and the last error.
// op receives the 1-based attempt number.
func (p RetryPolicy) Do(ctx context.Context, op func(attempt int) error) (int, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	attempts := p.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op(attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt, ctxErr
		}
		delay, retry := RetryDecision(lastErr)
		if !retry || attempt == attempts {
			return attempt, lastErr
		}
		if delay < p.Pause {
			delay = p.Pause
		}
		if err := sleep(ctx, delay); err != nil {
			return attempt, err
		}
	}
	return attempts, lastErr
}

// RetryDecision reports whether err describes a transient failure and the
// minimum wait the server requested. Timeouts, throttling, server errors and
// the transport failures accepted by TransportRetryable are transient.
func RetryDecision(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) {
		return 0, false
	}
	var classified RetryClassifier
	if errors.As(err, &classified) {
		return classified.RetryDelay(), classified.Retryable()
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return 0, true
	}
	return 0, TransportRetryable(err)
}

// TransportRetryable reports whether a failure below HTTP is worth repeating:
// timeouts, refused, reset or aborted connections, a connection dropped
// mid-response and temporary DNS failures. A bad URL, an unsupported scheme
// or a certificate error is permanent.
func TransportRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true
		}
		// The transport reports a server that hung up before answering as
		// a bare EOF.
		if errors.Is(urlErr.Err, io.EOF) {
			return true
		}
		err = urlErr.Err
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// StatusRetryable reports whether an HTTP status is worth retrying.
func StatusRetryable(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= http.StatusInternalServerError
}

// ParseRetryAfter decodes a Retry-After header in seconds or HTTP-date form.
func ParseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

// Snippet collapses whitespace and truncates body text for error messages.
func Snippet(content string, limit int) string {
	clean := strings.Join(strings.Fields(content), " ")
	if clean == "" {
		return "<empty>"
	}
	runes := []rune(clean)
	if limit > 0 && len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return clean
}

