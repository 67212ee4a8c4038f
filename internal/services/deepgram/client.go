package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"minutes/internal/services"
)

const defaultBaseURL = "https://api.deepgram.com/v1"

// ErrEmptyAudio rejects zero-byte chunks before they are uploaded.
var ErrEmptyAudio = errors.New("deepgram: empty audio")

// Config captures the settings for the listen endpoint.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Language    string
	Timeout     time.Duration
	Diarize     bool
	Punctuate   bool
	SmartFormat bool
	Paragraphs  bool
}

// Client talks to the Deepgram REST API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a client. The per-request timeout is applied through
// the request context so the caller's deadline still wins when shorter.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	client := &Client{cfg: cfg, httpClient: &http.Client{}}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Utterance is one speaker turn as returned by the service. Times are
// seconds from the start of the submitted audio.
type Utterance struct {
	Speaker    int
	Transcript string
	Start      float64
	End        float64
	Confidence float64
}

// Result is the decoded transcription of one request.
type Result struct {
	Utterances []Utterance
	Duration   float64
	RequestID  string
}

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("deepgram request: http %d: %s", e.StatusCode, services.Snippet(e.Body, 200))
}

// Retryable reports whether the status is transient (408, 429 or 5xx).
func (e *StatusError) Retryable() bool {
	return services.StatusRetryable(e.StatusCode)
}

// RetryDelay returns the Retry-After delay requested by the service.
func (e *StatusError) RetryDelay() time.Duration {
	return e.RetryAfter
}

// TranscribeFile uploads the audio at path and returns its utterances.
func (c *Client) TranscribeFile(ctx context.Context, path string) (Result, error) {
	if c.cfg.APIKey == "" {
		return Result{}, services.Wrap(services.ErrConfiguration, "transcription", "deepgram", "api key required", nil)
	}
	file, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("deepgram request: open audio: %w", err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return Result{}, fmt.Errorf("deepgram request: stat audio: %w", err)
	}
	if info.Size() == 0 {
		return Result{}, ErrEmptyAudio
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), file)
	if err != nil {
		return Result{}, fmt.Errorf("deepgram request: new request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Authorization", "Token "+c.cfg.APIKey)
	req.Header.Set("Content-Type", ContentType(path))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("deepgram request: http error (timeout=%s): %w", c.cfg.Timeout, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("deepgram request: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := services.ParseRetryAfter(resp.Header.Get("Retry-After"))
		return Result{}, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: retryAfter,
		}
	}
	return decodeResponse(body)
}

func (c *Client) endpoint() string {
	query := url.Values{}
	if c.cfg.Model != "" {
		query.Set("model", c.cfg.Model)
	}
	if c.cfg.Language != "" {
		query.Set("language", c.cfg.Language)
	}
	query.Set("punctuate", strconv.FormatBool(c.cfg.Punctuate))
	query.Set("diarize", strconv.FormatBool(c.cfg.Diarize))
	query.Set("smart_format", strconv.FormatBool(c.cfg.SmartFormat))
	query.Set("paragraphs", strconv.FormatBool(c.cfg.Paragraphs))
	query.Set("utterances", "true")
	return c.cfg.BaseURL + "/listen?" + query.Encode()
}

// ContentType maps an audio extension to the MIME type sent to the service.
func ContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	case ".aac":
		return "audio/aac"
	case ".m4a":
		return "audio/mp4"
	case ".ogg":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

type listenResponse struct {
	Metadata struct {
		RequestID string  `json:"request_id"`
		Duration  float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Utterances []struct {
			Speaker    *int    `json:"speaker"`
			Transcript string  `json:"transcript"`
			Start      float64 `json:"start"`
			End        float64 `json:"end"`
			Confidence float64 `json:"confidence"`
		} `json:"utterances"`
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				Words      []word  `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

type word struct {
	Word           string  `json:"word"`
	PunctuatedWord string  `json:"punctuated_word"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Confidence     float64 `json:"confidence"`
	Speaker        *int    `json:"speaker"`
}

func decodeResponse(body []byte) (Result, error) {
	var payload listenResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Result{}, fmt.Errorf("deepgram request: decode response: %w", err)
	}
	result := Result{Duration: payload.Metadata.Duration, RequestID: payload.Metadata.RequestID}

	for _, u := range payload.Results.Utterances {
		text := strings.TrimSpace(u.Transcript)
		if text == "" {
			continue
		}
		result.Utterances = append(result.Utterances, Utterance{
			Speaker:    speakerOf(u.Speaker),
			Transcript: text,
			Start:      u.Start,
			End:        u.End,
			Confidence: u.Confidence,
		})
	}
	if len(result.Utterances) > 0 || len(payload.Results.Channels) == 0 {
		return result, nil
	}

	alternatives := payload.Results.Channels[0].Alternatives
	if len(alternatives) == 0 {
		return result, nil
	}
	best := alternatives[0]
	if len(best.Words) > 0 {
		result.Utterances = groupWords(best.Words)
		return result, nil
	}
	if text := strings.TrimSpace(best.Transcript); text != "" {
		result.Utterances = []Utterance{{Speaker: 0, Transcript: text, Confidence: best.Confidence}}
	}
	return result, nil
}

// groupWords folds consecutive words of one speaker into utterances.
func groupWords(words []word) []Utterance {
	var (
		out     []Utterance
		current *Utterance
		parts   []string
		confSum float64
	)
	flush := func() {
		if current == nil || len(parts) == 0 {
			return
		}
		current.Transcript = strings.Join(parts, " ")
		current.Confidence = confSum / float64(len(parts))
		out = append(out, *current)
	}
	for _, w := range words {
		text := strings.TrimSpace(w.PunctuatedWord)
		if text == "" {
			text = strings.TrimSpace(w.Word)
		}
		if text == "" {
			continue
		}
		speaker := speakerOf(w.Speaker)
		if current == nil || current.Speaker != speaker {
			flush()
			current = &Utterance{Speaker: speaker, Start: w.Start}
			parts = nil
			confSum = 0
		}
		parts = append(parts, text)
		confSum += w.Confidence
		current.End = w.End
	}
	flush()
	return out
}

func speakerOf(value *int) int {
	if value == nil {
		return 0
	}
	return *value
}
