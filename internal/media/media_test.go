package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"minutes/internal/services"
	"minutes/internal/testsupport"
)

type fakeTools struct {
	duration string
	streams  string
	probeErr error
	fail     map[string]error
	sizes    map[string]int
	calls    [][]string
}

func (f *fakeTools) run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if strings.Contains(name, "ffprobe") {
		if f.probeErr != nil {
			return nil, f.probeErr
		}
		streams := f.streams
		if streams == "" {
			streams = `[{"index":0,"codec_type":"audio","codec_name":"mp3"}]`
		}
		return []byte(fmt.Sprintf(`{"streams":%s,"format":{"duration":%q}}`, streams, f.duration)), nil
	}
	dest := args[len(args)-1]
	if err := f.fail[filepath.Base(dest)]; err != nil {
		return nil, err
	}
	size, ok := f.sizes[filepath.Base(dest)]
	if !ok {
		size = 4096
	}
	if err := os.WriteFile(dest, make([]byte, size), 0o644); err != nil {
		return nil, err
	}
	return nil, nil
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		kind Kind
		ext  string
		ok   bool
	}{
		{"meeting.mp3", KindNative, ".mp3", true},
		{"MEETING.M4A", KindNative, ".m4a", true},
		{"call.opus", KindConvertible, ".opus", true},
		{"screen.MKV", KindVideo, ".mkv", true},
		{"recordingmp3", KindNative, ".mp3", true},
		{"voicememowebm", KindVideo, ".webm", true},
		{"notes.txt", "", ".txt", false},
		{"noextension", "", "", false},
	}
	for _, tc := range cases {
		kind, ext, ok := Classify(tc.name)
		if kind != tc.kind || ext != tc.ext || ok != tc.ok {
			t.Errorf("Classify(%q) = (%q, %q, %v), want (%q, %q, %v)", tc.name, kind, ext, ok, tc.kind, tc.ext, tc.ok)
		}
	}
}

func TestPlan(t *testing.T) {
	minute := time.Minute
	cases := []struct {
		name   string
		total  time.Duration
		chunk  time.Duration
		starts []time.Duration
		last   time.Duration
	}{
		{"shorter than chunk", 7 * minute, 15 * minute, []time.Duration{0}, 7 * minute},
		{"exact multiple", 30 * minute, 15 * minute, []time.Duration{0, 15 * minute}, 15 * minute},
		{"remainder", 40 * minute, 15 * minute, []time.Duration{0, 15 * minute, 30 * minute}, 10 * minute},
		{"equal to chunk", 15 * minute, 15 * minute, []time.Duration{0}, 15 * minute},
		{"47 minutes in 15 minute chunks", 47 * minute, 15 * minute, []time.Duration{0, 15 * minute, 30 * minute, 45 * minute}, 2 * minute},
	}
	for _, tc := range cases {
		segments := Plan(tc.total, tc.chunk)
		if len(segments) != len(tc.starts) {
			t.Fatalf("%s: expected %d segments, got %d", tc.name, len(tc.starts), len(segments))
		}
		var covered time.Duration
		for i, seg := range segments {
			if seg.Start != tc.starts[i] {
				t.Fatalf("%s: segment %d starts at %v, want %v", tc.name, i, seg.Start, tc.starts[i])
			}
			covered += seg.Duration
		}
		if covered != tc.total {
			t.Fatalf("%s: segments cover %v, want %v", tc.name, covered, tc.total)
		}
		if got := segments[len(segments)-1].Duration; got != tc.last {
			t.Fatalf("%s: last segment %v, want %v", tc.name, got, tc.last)
		}
	}
	if Plan(0, time.Minute) != nil {
		t.Fatal("expected no segments for empty media")
	}
}

func TestValidatorAcceptsNativeAudio(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := filepath.Join(t.TempDir(), "standup.mp3")
	testsupport.WriteRecording(t, path, 2048)

	tools := &fakeTools{duration: "600.5"}
	v := NewValidator(cfg)
	v.WithCommandRunner(tools.run)

	cls, err := v.Validate(context.Background(), path, "standup.mp3", 0)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cls.Kind != KindNative || cls.SizeBytes != 2048 {
		t.Fatalf("unexpected classification: %+v", cls)
	}
	if cls.Duration != 600500*time.Millisecond {
		t.Fatalf("unexpected duration: %v", cls.Duration)
	}
}

func TestValidatorRejections(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Media.MaxFileSizeMB = 1
	cfg.Media.MaxDurationMinutes = 10
	dir := t.TempDir()
	audio := filepath.Join(dir, "call.mp3")
	testsupport.WriteRecording(t, audio, 1024)

	cases := []struct {
		name   string
		file   string
		size   int64
		tools  *fakeTools
		reason string
	}{
		{"unsupported", "notes.txt", 1024, &fakeTools{duration: "60"}, "unsupported format"},
		{"too large", "call.mp3", 2 * 1024 * 1024, &fakeTools{duration: "60"}, "limit is 1.0 MiB"},
		{"too long", "call.mp3", 1024, &fakeTools{duration: "601"}, "limit is 10:00"},
		{"unreadable", "call.mp3", 1024, &fakeTools{probeErr: errors.New("invalid data")}, "unreadable"},
		{"no audio", "call.mp3", 1024, &fakeTools{duration: "60", streams: `[{"index":0,"codec_type":"video"}]`}, "no audio stream"},
	}
	for _, tc := range cases {
		v := NewValidator(cfg)
		v.WithCommandRunner(tc.tools.run)
		_, err := v.Validate(context.Background(), audio, tc.file, tc.size)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: expected ValidationError, got %v", tc.name, err)
		}
		if !strings.Contains(verr.Reason, tc.reason) {
			t.Fatalf("%s: reason %q does not mention %q", tc.name, verr.Reason, tc.reason)
		}
		if !errors.Is(err, services.ErrValidation) {
			t.Fatalf("%s: expected validation marker", tc.name)
		}
	}
}

func TestChunkerSplitsLongNativeAudio(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Media.ChunkDurationMinutes = 15
	source := filepath.Join(t.TempDir(), "Board Review.mp3")
	testsupport.WriteRecording(t, source, 4096)
	workdir := filepath.Join(t.TempDir(), "job")

	tools := &fakeTools{duration: "2400"}
	c := NewChunker(cfg)
	c.WithCommandRunner(tools.run)

	prepared, err := c.Prepare(context.Background(), "job-1", workdir, source, Classification{Kind: KindNative, Extension: ".mp3"})
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if len(prepared.Chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(prepared.Chunks))
	}
	last := prepared.Chunks[2]
	if last.Start != 30*time.Minute || last.Duration != 10*time.Minute {
		t.Fatalf("unexpected last chunk: %+v", last)
	}
	if filepath.Base(last.Path) != "Board Review_part_03.mp3" {
		t.Fatalf("unexpected chunk name %q", filepath.Base(last.Path))
	}
	split := tools.calls[len(tools.calls)-1]
	if !containsSeq(split, "-ss", "1800.000") || !containsSeq(split, "-c:a", "copy") {
		t.Fatalf("expected stream copy from 1800s, got %v", split)
	}
}

func TestChunkerDropsEmptyTrailingSegment(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Media.ChunkDurationMinutes = 15
	source := filepath.Join(t.TempDir(), "sync.mp3")
	testsupport.WriteRecording(t, source, 4096)
	workdir := t.TempDir()

	tools := &fakeTools{duration: "2820", sizes: map[string]int{"sync_part_04.mp3": 200}}
	c := NewChunker(cfg)
	c.WithCommandRunner(tools.run)

	prepared, err := c.Prepare(context.Background(), "job-4", workdir, source, Classification{Kind: KindNative, Extension: ".mp3"})
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if len(prepared.Chunks) != 3 {
		t.Fatalf("expected trailing segment to be dropped, got %d chunks", len(prepared.Chunks))
	}
	if _, err := os.Stat(filepath.Join(workdir, "sync_part_04.mp3")); !os.IsNotExist(err) {
		t.Fatalf("expected dropped segment removed, stat err = %v", err)
	}

	// A small middle segment is kept.
	tools = &fakeTools{duration: "2820", sizes: map[string]int{"sync_part_02.mp3": 200}}
	c.WithCommandRunner(tools.run)
	prepared, err = c.Prepare(context.Background(), "job-5", t.TempDir(), source, Classification{Kind: KindNative, Extension: ".mp3"})
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if len(prepared.Chunks) != 4 {
		t.Fatalf("expected middle segment kept, got %d chunks", len(prepared.Chunks))
	}
}

func TestChunkerConvertsVideo(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	source := filepath.Join(t.TempDir(), "demo.mp4")
	testsupport.WriteRecording(t, source, 4096)
	workdir := t.TempDir()

	tools := &fakeTools{duration: "120"}
	c := NewChunker(cfg)
	c.WithCommandRunner(tools.run)

	prepared, err := c.Prepare(context.Background(), "job-2", workdir, source, Classification{Kind: KindVideo, Extension: ".mp4"})
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if prepared.AudioPath != filepath.Join(workdir, "demo.wav") {
		t.Fatalf("unexpected audio path %q", prepared.AudioPath)
	}
	if len(prepared.Chunks) != 1 || prepared.Chunks[0].Path != prepared.AudioPath {
		t.Fatalf("expected a single chunk of the converted audio, got %+v", prepared.Chunks)
	}
	convert := tools.calls[0]
	if !containsSeq(convert, "-vn") || !containsSeq(convert, "-acodec", "pcm_s16le", "-ar", "44100", "-ac", "2") {
		t.Fatalf("unexpected conversion args: %v", convert)
	}
}

func TestChunkerReportsSegmentFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Media.ChunkDurationMinutes = 1
	source := filepath.Join(t.TempDir(), "call.mp3")
	testsupport.WriteRecording(t, source, 4096)

	tools := &fakeTools{duration: "150", fail: map[string]error{"call_part_02.mp3": errors.New("boom")}}
	c := NewChunker(cfg)
	c.WithCommandRunner(tools.run)

	_, err := c.Prepare(context.Background(), "job-3", t.TempDir(), source, Classification{Kind: KindNative, Extension: ".mp3"})
	var cerr *ChunkingError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ChunkingError, got %v", err)
	}
	if cerr.Index != 1 {
		t.Fatalf("expected failure at segment 1, got %d", cerr.Index)
	}
	if !errors.Is(err, services.ErrExternalTool) || !errors.Is(err, services.ErrChunking) {
		t.Fatalf("expected chunking and external tool markers, got %v", err)
	}
}

func containsSeq(args []string, seq ...string) bool {
	for i := 0; i+len(seq) <= len(args); i++ {
		match := true
		for j, want := range seq {
			if args[i+j] != want {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
