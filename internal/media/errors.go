package media

import (
	"fmt"

	"minutes/internal/services"
)

// ValidationError rejects an upload. It is never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", services.ErrValidation, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return services.ErrValidation
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ChunkingError reports an ffmpeg or ffprobe failure while preparing
// segments. Index is -1 when the failure happened before splitting.
type ChunkingError struct {
	Index int
	Cause error
}

func (e *ChunkingError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: prepare audio: %v", services.ErrChunking, e.Cause)
	}
	return fmt.Sprintf("%s: segment %d: %v", services.ErrChunking, e.Index, e.Cause)
}

func (e *ChunkingError) Unwrap() []error {
	if e.Cause == nil {
		return []error{services.ErrChunking, services.ErrExternalTool}
	}
	return []error{services.ErrChunking, services.ErrExternalTool, e.Cause}
}
