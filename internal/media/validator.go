package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"minutes/internal/config"
	"minutes/internal/services"
)

// Classification is the validated description of an upload.
type Classification struct {
	Kind      Kind
	Extension string
	SizeBytes int64
	Duration  time.Duration
}

// Validator rejects uploads that cannot be processed.
type Validator struct {
	maxSize     int64
	maxDuration time.Duration
	probe       prober
}

// NewValidator builds a validator with limits from cfg.
func NewValidator(cfg *config.Config) *Validator {
	return &Validator{
		maxSize:     cfg.MaxFileSizeBytes(),
		maxDuration: cfg.MaxDuration(),
		probe:       prober{binary: cfg.Media.FFprobeBinary},
	}
}

// WithCommandRunner replaces the ffprobe invocation (for testing).
func (v *Validator) WithCommandRunner(run CommandRunner) {
	v.probe.run = run
}

// CheckName validates the declared file name without touching the file.
func CheckName(declaredName string) (Kind, string, error) {
	kind, ext, ok := Classify(declaredName)
	if !ok {
		if ext == "" {
			return "", "", validationErrorf("cannot determine file type of %q", declaredName)
		}
		return "", ext, validationErrorf("unsupported format %s (supported: %s)", ext, supportedList())
	}
	return kind, ext, nil
}

// Validate checks the declared name, the size limit, and the duration limit.
// A size of zero or less is read from the file.
func (v *Validator) Validate(ctx context.Context, path, declaredName string, size int64) (Classification, error) {
	if declaredName == "" {
		declaredName = path
	}
	kind, ext, err := CheckName(declaredName)
	if err != nil {
		return Classification{}, err
	}

	if size <= 0 {
		info, err := os.Stat(path)
		if err != nil {
			return Classification{}, validationErrorf("cannot read upload: %v", err)
		}
		size = info.Size()
	}
	if size <= 0 {
		return Classification{}, validationErrorf("file is empty")
	}
	if v.maxSize > 0 && size > v.maxSize {
		return Classification{}, validationErrorf("file is %s, limit is %s", formatMiB(size), formatMiB(v.maxSize))
	}

	result := Classification{Kind: kind, Extension: ext, SizeBytes: size}

	probe, err := v.probe.probe(ctx, path)
	if err != nil {
		if errors.Is(err, errToolMissing) {
			return Classification{}, services.Wrap(services.ErrExternalTool, "validation", "ffprobe", "", err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Classification{}, ctxErr
		}
		return Classification{}, validationErrorf("media is unreadable: %v", err)
	}
	if len(probe.Streams) > 0 && probe.AudioStreamCount() == 0 {
		return Classification{}, validationErrorf("media has no audio stream")
	}
	result.Duration = probe.Duration()
	if v.maxDuration > 0 && result.Duration > v.maxDuration {
		return Classification{}, validationErrorf("recording is %s long, limit is %s",
			FormatDuration(result.Duration), FormatDuration(v.maxDuration))
	}
	return result, nil
}

func formatMiB(size int64) string {
	return fmt.Sprintf("%.1f MiB", float64(size)/(1024*1024))
}

// FormatDuration renders a duration as H:MM:SS, or M:SS under an hour.
func FormatDuration(d time.Duration) string {
	total := int(d.Round(time.Second) / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
