package confluence

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"minutes/internal/services"
)

// Error kinds.
var (
	ErrAuth       = errors.New("confluence: authentication failed")
	ErrPermission = errors.New("confluence: permission denied")
	ErrNotFound   = errors.New("confluence: resource not found")
	ErrValidation = errors.New("confluence: request rejected")
	ErrServer     = errors.New("confluence: server error")
	ErrNetwork    = errors.New("confluence: network error")
)

// Kind names used in publication records.
const (
	KindAuth       = "auth"
	KindPermission = "permission"
	KindNotFound   = "not_found"
	KindValidation = "validation"
	KindServer     = "server"
	KindNetwork    = "network"
)

// APIError is a non-2xx response or a transport failure.
type APIError struct {
	Kind       error
	StatusCode int
	Method     string
	Path       string
	Body       string
	Cause      error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%v: %s %s: %v", e.Kind, e.Method, e.Path, e.Cause)
	}
	return fmt.Sprintf("%v: %s %s: http %d: %s", e.Kind, e.Method, e.Path, e.StatusCode, services.Snippet(e.Body, 200))
}

func (e *APIError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Retryable reports whether the request may be repeated: transient network
// failures and 5xx responses.
func (e *APIError) Retryable() bool {
	if e.Kind == ErrNetwork {
		return e.Cause == nil || services.TransportRetryable(e.Cause)
	}
	return e.Kind == ErrServer
}

// RetryDelay returns zero so the configured delay applies.
func (e *APIError) RetryDelay() time.Duration { return 0 }

func kindForStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized:
		return ErrAuth
	case status == http.StatusForbidden:
		return ErrPermission
	case status == http.StatusNotFound:
		return ErrNotFound
	case status >= http.StatusInternalServerError:
		return ErrServer
	default:
		return ErrValidation
	}
}

// KindName returns the publication error kind for err, or "server" when
// err did not come from this client.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrPermission):
		return KindPermission
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	default:
		return KindServer
	}
}
