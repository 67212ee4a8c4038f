package ipc

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"minutes/internal/api"
	"minutes/internal/services"
)

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode  int
	Kind        string
	Message     string
	Hint        string
	Publication *api.PublicationView
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Hint != "" {
		return fmt.Sprintf("daemon: %s (%s)", msg, e.Hint)
	}
	return "daemon: " + msg
}

// Unwrap maps the response kind back to a services marker.
func (e *APIError) Unwrap() error {
	if marker := services.MarkerForKind(e.Kind); marker != nil {
		return marker
	}
	switch e.StatusCode {
	case http.StatusNotFound:
		return services.ErrNotFound
	case http.StatusConflict:
		return services.ErrConflict
	case http.StatusBadRequest:
		return services.ErrValidation
	}
	return nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var payload api.ErrorResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		apiErr.Kind = payload.Kind
		apiErr.Message = payload.Error
		apiErr.Hint = payload.Hint
		apiErr.Publication = payload.Publication
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(body))
	return apiErr
}
