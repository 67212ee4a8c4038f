package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// WriteRecording writes a fake recording of exactly size bytes (at least
// one) to path, creating parent directories. The content only has to pass
// size checks; ffprobe and ffmpeg are stubbed in tests that read it.
func WriteRecording(t testing.TB, path string, size int64) {
	t.Helper()
	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	data := bytes.Repeat([]byte("RIFF"), int(size/4)+1)[:size]
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write recording %s: %v", path, err)
	}
}
