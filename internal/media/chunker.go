package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"minutes/internal/config"
)

// minSegmentBytes is the size below which the last of several segments is
// dropped. ffmpeg writes such a file without audio when the probed duration
// overshoots.
const minSegmentBytes = 1000

// Segment is a planned cut of the timeline.
type Segment struct {
	Start    time.Duration
	Duration time.Duration
}

// Chunk is one transcribable piece of a job's audio. It lives only in memory
// for the duration of the job.
type Chunk struct {
	JobID     string
	Index     int
	Start     time.Duration
	Duration  time.Duration
	Path      string
	Attempts  int
	LastError string
}

// Prepared is the chunker output for one job.
type Prepared struct {
	AudioPath string
	Duration  time.Duration
	Chunks    []Chunk
}

// Plan splits total into consecutive segments of at most chunk. Segment i
// covers [i*chunk, min((i+1)*chunk, total)). A total of zero yields nothing.
func Plan(total, chunk time.Duration) []Segment {
	if total <= 0 {
		return nil
	}
	if chunk <= 0 || total <= chunk {
		return []Segment{{Start: 0, Duration: total}}
	}
	count := int((total + chunk - 1) / chunk)
	segments := make([]Segment, 0, count)
	for i := 0; i < count; i++ {
		start := time.Duration(i) * chunk
		end := start + chunk
		if end > total {
			end = total
		}
		segments = append(segments, Segment{Start: start, Duration: end - start})
	}
	return segments
}

// Chunker converts and splits recordings with ffmpeg.
type Chunker struct {
	ffmpeg string
	chunk  time.Duration
	probe  prober
	run    CommandRunner
}

// NewChunker builds a chunker with the configured binaries and chunk length.
func NewChunker(cfg *config.Config) *Chunker {
	return &Chunker{
		ffmpeg: cfg.Media.FFmpegBinary,
		chunk:  cfg.ChunkDuration(),
		probe:  prober{binary: cfg.Media.FFprobeBinary},
		run:    defaultCommandRunner,
	}
}

// WithCommandRunner replaces ffmpeg and ffprobe invocations (for testing).
func (c *Chunker) WithCommandRunner(run CommandRunner) {
	c.run = run
	c.probe.run = run
}

// Prepare normalizes source into workdir and splits it into chunks. The
// caller owns workdir and removes it when the job ends.
func (c *Chunker) Prepare(ctx context.Context, jobID, workdir, source string, cls Classification) (Prepared, error) {
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return Prepared{}, &ChunkingError{Index: -1, Cause: fmt.Errorf("create workdir: %w", err)}
	}

	audio := source
	ext := strings.ToLower(filepath.Ext(source))
	if ext == "" {
		ext = cls.Extension
	}
	stem := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	if cls.Kind.NeedsConversion() {
		audio = filepath.Join(workdir, stem+".wav")
		if err := c.toWAV(ctx, source, audio, cls.Kind == KindVideo); err != nil {
			return Prepared{}, &ChunkingError{Index: -1, Cause: err}
		}
		ext = ".wav"
	}

	probe, err := c.probe.probe(ctx, audio)
	if err != nil {
		return Prepared{}, &ChunkingError{Index: -1, Cause: fmt.Errorf("probe duration: %w", err)}
	}
	total := probe.Duration()
	if total <= 0 {
		return Prepared{}, &ChunkingError{Index: -1, Cause: errors.New("media reports no duration")}
	}

	segments := Plan(total, c.chunk)
	prepared := Prepared{AudioPath: audio, Duration: total}
	if len(segments) == 1 {
		prepared.Chunks = []Chunk{{JobID: jobID, Index: 0, Start: 0, Duration: total, Path: audio}}
		return prepared, nil
	}

	for i, seg := range segments {
		if err := ctx.Err(); err != nil {
			return Prepared{}, err
		}
		target := filepath.Join(workdir, fmt.Sprintf("%s_part_%02d%s", stem, i+1, ext))
		if err := c.split(ctx, audio, target, seg, ext); err != nil {
			return Prepared{}, &ChunkingError{Index: i, Cause: err}
		}
		info, err := os.Stat(target)
		if err != nil {
			return Prepared{}, &ChunkingError{Index: i, Cause: fmt.Errorf("segment missing: %w", err)}
		}
		if info.Size() < minSegmentBytes && i == len(segments)-1 && i > 0 {
			_ = os.Remove(target)
			continue
		}
		prepared.Chunks = append(prepared.Chunks, Chunk{
			JobID:    jobID,
			Index:    i,
			Start:    seg.Start,
			Duration: seg.Duration,
			Path:     target,
		})
	}
	return prepared, nil
}

func (c *Chunker) toWAV(ctx context.Context, source, dest string, dropVideo bool) error {
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", source}
	if dropVideo {
		args = append(args, "-vn")
	}
	args = append(args, pcmArgs()...)
	args = append(args, dest)
	if _, err := c.runner()(ctx, c.binary(), args...); err != nil {
		return fmt.Errorf("convert to wav: %w", err)
	}
	return nil
}

func (c *Chunker) split(ctx context.Context, source, dest string, seg Segment, ext string) error {
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-ss", formatSeconds(seg.Start),
		"-t", formatSeconds(seg.Duration),
		"-i", source,
	}
	if ext == ".wav" {
		args = append(args, pcmArgs()...)
	} else {
		args = append(args, "-c:a", "copy")
	}
	args = append(args, dest)
	if _, err := c.runner()(ctx, c.binary(), args...); err != nil {
		return fmt.Errorf("split: %w", err)
	}
	return nil
}

func (c *Chunker) binary() string {
	if strings.TrimSpace(c.ffmpeg) == "" {
		return "ffmpeg"
	}
	return c.ffmpeg
}

func (c *Chunker) runner() CommandRunner {
	if c.run == nil {
		return defaultCommandRunner
	}
	return c.run
}

func pcmArgs() []string {
	return []string{"-acodec", "pcm_s16le", "-ar", "44100", "-ac", "2"}
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
