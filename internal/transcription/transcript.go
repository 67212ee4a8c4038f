package transcription

import (
	"fmt"
	"strings"
	"time"
)

// SilenceText stands in for a recording without recognizable speech.
const SilenceText = "[silence]"

// DefaultLabelFormat renders speaker numbers when no format is configured.
const DefaultLabelFormat = "Speaker %d"

// Utterance is one speaker turn on the recording's timeline.
type Utterance struct {
	Speaker    string
	Text       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Transcript is the reassembled transcription of a whole recording.
type Transcript struct {
	Utterances []Utterance
	Duration   time.Duration
}

// Text renders the transcript as "<speaker>: text" paragraphs. Consecutive
// utterances of one speaker share a paragraph.
func (t Transcript) Text() string {
	var (
		b       strings.Builder
		speaker string
		started bool
	)
	for _, u := range t.Utterances {
		text := strings.TrimSpace(u.Text)
		if text == "" {
			continue
		}
		if started && u.Speaker == speaker {
			b.WriteByte(' ')
			b.WriteString(text)
			continue
		}
		if started {
			b.WriteString("\n\n")
		}
		speaker = u.Speaker
		started = true
		if speaker != "" {
			b.WriteString(speaker)
			b.WriteString(": ")
		}
		b.WriteString(text)
	}
	if !started {
		return SilenceText
	}
	return b.String()
}

// Speakers lists the distinct speaker labels in order of first appearance.
func (t Transcript) Speakers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, u := range t.Utterances {
		if u.Speaker == "" || seen[u.Speaker] {
			continue
		}
		seen[u.Speaker] = true
		out = append(out, u.Speaker)
	}
	return out
}

// WordCount returns the number of whitespace-separated words spoken.
func (t Transcript) WordCount() int {
	count := 0
	for _, u := range t.Utterances {
		count += len(strings.Fields(u.Text))
	}
	return count
}

// SpeakerLabel renders a numeric speaker with format, falling back to
// DefaultLabelFormat when format has no %d verb.
func SpeakerLabel(format string, speaker int) string {
	if !strings.Contains(format, "%d") {
		format = DefaultLabelFormat
	}
	return fmt.Sprintf(format, speaker)
}
