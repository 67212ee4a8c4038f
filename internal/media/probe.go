package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// CommandRunner executes an external tool and returns its standard output.
// Failures carry the tool's stderr.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func defaultCommandRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return output, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return output, nil
}

// ProbeResult is the subset of ffprobe JSON output the pipeline reads.
type ProbeResult struct {
	Streams []ProbeStream `json:"streams"`
	Format  ProbeFormat   `json:"format"`
}

// ProbeStream describes one stream in the container.
type ProbeStream struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// ProbeFormat captures container-level metadata.
type ProbeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// Duration returns the container duration, or zero when ffprobe did not
// report one.
func (r ProbeResult) Duration() time.Duration {
	seconds, err := strconv.ParseFloat(strings.TrimSpace(r.Format.Duration), 64)
	if err != nil || math.IsNaN(seconds) || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// AudioStreamCount returns the number of audio streams discovered.
func (r ProbeResult) AudioStreamCount() int {
	count := 0
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "audio") {
			count++
		}
	}
	return count
}

// errToolMissing marks a probe failure caused by the binary itself.
var errToolMissing = errors.New("tool not found")

// prober runs ffprobe.
type prober struct {
	binary string
	run    CommandRunner
}

func (p prober) probe(ctx context.Context, path string) (ProbeResult, error) {
	binary := strings.TrimSpace(p.binary)
	if binary == "" {
		binary = "ffprobe"
	}
	run := p.run
	if run == nil {
		run = defaultCommandRunner
	}
	output, err := run(ctx, binary, "-v", "error", "-hide_banner", "-print_format", "json", "-show_format", "-show_streams", "--", path)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return ProbeResult{}, fmt.Errorf("%w: %s", errToolMissing, binary)
		}
		return ProbeResult{}, err
	}
	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return result, nil
}
