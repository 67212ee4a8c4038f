package media

import (
	"path/filepath"
	"sort"
	"strings"
)

// Kind describes how a recording must be handled before transcription.
type Kind string

const (
	// KindNative audio is sent as is.
	KindNative Kind = "native"
	// KindConvertible audio is converted to WAV first.
	KindConvertible Kind = "convertible"
	// KindVideo has its audio track extracted to WAV first.
	KindVideo Kind = "video"
)

var (
	nativeExtensions      = []string{".mp3", ".wav", ".flac", ".aac", ".m4a", ".ogg"}
	convertibleExtensions = []string{".wma", ".opus"}
	videoExtensions       = []string{".mp4", ".avi", ".mov", ".mkv", ".wmv", ".webm"}
)

var extensionKinds = buildExtensionKinds()

// suffixOrder holds every extension without its dot, longest first, so a
// dotless name such as "recordingmp3" resolves deterministically.
var suffixOrder = buildSuffixOrder()

func buildExtensionKinds() map[string]Kind {
	kinds := make(map[string]Kind)
	for _, ext := range nativeExtensions {
		kinds[ext] = KindNative
	}
	for _, ext := range convertibleExtensions {
		kinds[ext] = KindConvertible
	}
	for _, ext := range videoExtensions {
		kinds[ext] = KindVideo
	}
	return kinds
}

func buildSuffixOrder() []string {
	out := make([]string, 0, len(extensionKinds))
	for ext := range extensionKinds {
		out = append(out, ext)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

// Classify resolves the media kind and normalized extension for name.
// Matching is case-insensitive. A name without an extension is matched by
// its trailing characters.
func Classify(name string) (Kind, string, bool) {
	base := strings.ToLower(filepath.Base(strings.TrimSpace(name)))
	ext := filepath.Ext(base)
	if ext != "" {
		kind, ok := extensionKinds[ext]
		return kind, ext, ok
	}
	for _, candidate := range suffixOrder {
		if strings.HasSuffix(base, strings.TrimPrefix(candidate, ".")) {
			return extensionKinds[candidate], candidate, true
		}
	}
	return "", "", false
}

// SupportedExtensions lists every accepted extension grouped by kind.
func SupportedExtensions() map[Kind][]string {
	return map[Kind][]string{
		KindNative:      append([]string(nil), nativeExtensions...),
		KindConvertible: append([]string(nil), convertibleExtensions...),
		KindVideo:       append([]string(nil), videoExtensions...),
	}
}

func supportedList() string {
	var all []string
	for _, exts := range SupportedExtensions() {
		all = append(all, exts...)
	}
	sort.Strings(all)
	return strings.Join(all, ", ")
}

// NeedsConversion reports whether the kind must be rewritten to WAV before
// splitting.
func (k Kind) NeedsConversion() bool {
	return k == KindConvertible || k == KindVideo
}
