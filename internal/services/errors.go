package services

import (
	"errors"
	"fmt"
	"strings"
)

// Pipeline error markers. Failures are tagged with exactly one marker so the
// workflow can decide between retrying, failing the job, and surfacing a
// publication failure.
var (
	ErrValidation    = errors.New("validation error")
	ErrChunking      = errors.New("chunking error")
	ErrTranscription = errors.New("transcription error")
	ErrSummarization = errors.New("summarization error")
	ErrPublication   = errors.New("publication error")
	ErrStorage       = errors.New("storage error")

	ErrExternalTool  = errors.New("external tool error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrCancelled     = errors.New("cancelled")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

var markerKinds = []struct {
	marker error
	kind   string
}{
	{ErrValidation, "validation"},
	{ErrChunking, "chunking"},
	{ErrTranscription, "transcription"},
	{ErrSummarization, "summarization"},
	{ErrPublication, "publication"},
	{ErrStorage, "storage"},
	{ErrConfiguration, "configuration"},
	{ErrNotFound, "not_found"},
	{ErrConflict, "conflict"},
	{ErrCancelled, "cancelled"},
	{ErrExternalTool, "external_tool"},
	{ErrTimeout, "timeout"},
	{ErrTransient, "transient"},
}

// MarkerForKind returns the sentinel registered under kind, or nil.
func MarkerForKind(kind string) error {
	for _, entry := range markerKinds {
		if entry.kind == kind {
			return entry.marker
		}
	}
	return nil
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later status classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ErrorDetails summarizes an error for structured logs and user messages.
type ErrorDetails struct {
	Kind    string
	Message string
	Hint    string
	Cause   error
}

// Details classifies err by its marker and derives a human-readable message
// with the marker prefix stripped.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Kind: "unknown", Message: strings.TrimSpace(err.Error()), Cause: err}
	for _, entry := range markerKinds {
		if errors.Is(err, entry.marker) {
			details.Kind = entry.kind
			details.Message = strings.TrimSpace(strings.TrimPrefix(details.Message, entry.marker.Error()+":"))
			break
		}
	}
	details.Hint = hintFor(details.Kind)
	return details
}

// Kind returns the marker name attached to err, or "unknown".
func Kind(err error) string {
	return Details(err).Kind
}

func hintFor(kind string) string {
	switch kind {
	case "validation":
		return "check the uploaded file format, size and length"
	case "chunking", "external_tool":
		return "verify ffmpeg/ffprobe are installed and the media is not corrupt"
	case "transcription":
		return "check the speech-to-text API key, quota and network"
	case "summarization":
		return "check the text-generation API key, model name and quota"
	case "publication":
		return "check the wiki token, space permissions and parent page"
	case "storage":
		return "check job database access and disk space"
	case "configuration":
		return "review config.toml"
	default:
		return ""
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
