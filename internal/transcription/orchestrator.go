package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"minutes/internal/config"
	"minutes/internal/logging"
	"minutes/internal/media"
	"minutes/internal/services"
	"minutes/internal/services/deepgram"
)

// Client is the speech-to-text backend.
type Client interface {
	TranscribeFile(ctx context.Context, path string) (deepgram.Result, error)
}

// CancelSource reports whether a job has been cancelled by its owner.
type CancelSource interface {
	IsCancelRequested(ctx context.Context, jobID string) (bool, error)
}

// ErrCancelled stops transcription of a job its owner cancelled.
var ErrCancelled = fmt.Errorf("%w: job cancelled during transcription", services.ErrCancelled)

// TranscriptionError reports a chunk that failed after every permitted
// attempt. Partial results are discarded.
type TranscriptionError struct {
	ChunkIndex int
	Attempts   int
	Cause      error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("%s: chunk %d failed after %d attempts: %v", services.ErrTranscription, e.ChunkIndex, e.Attempts, e.Cause)
}

func (e *TranscriptionError) Unwrap() []error {
	return []error{services.ErrTranscription, e.Cause}
}

// Orchestrator transcribes the chunks of one job.
type Orchestrator struct {
	client      Client
	cancel      CancelSource
	policy      services.RetryPolicy
	concurrency int
	labelFormat string
	logger      *slog.Logger
}

// Option customizes the orchestrator.
type Option func(*Orchestrator)

// WithSleeper replaces the pause between attempts (for testing).
func WithSleeper(sleep services.Sleeper) Option {
	return func(o *Orchestrator) {
		o.policy.Sleep = sleep
	}
}

// WithConcurrency overrides the number of chunks transcribed in parallel.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// NewOrchestrator builds an orchestrator from the transcription config.
func NewOrchestrator(cfg *config.Config, client Client, cancel CancelSource, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client: client,
		cancel: cancel,
		policy: services.RetryPolicy{
			MaxRetries: cfg.Transcription.MaxRetries,
			Pause:      time.Duration(cfg.Transcription.RequestPauseSeconds) * time.Second,
		},
		concurrency: cfg.Transcription.ChunkConcurrency,
		labelFormat: cfg.Transcription.SpeakerLabelFormat,
		logger:      logging.NewComponentLogger(logger, "transcription"),
	}
	if o.concurrency <= 0 {
		o.concurrency = 1
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewDeepgramClient builds the speech-to-text client from config.
func NewDeepgramClient(cfg *config.Config) *deepgram.Client {
	return deepgram.NewClient(deepgram.Config{
		APIKey:      cfg.Transcription.APIKey,
		BaseURL:     cfg.Transcription.BaseURL,
		Model:       cfg.Transcription.Model,
		Language:    cfg.Transcription.Language,
		Timeout:     time.Duration(cfg.Transcription.TimeoutSeconds) * time.Second,
		Diarize:     cfg.Transcription.Diarize,
		Punctuate:   cfg.Transcription.Punctuate,
		SmartFormat: cfg.Transcription.SmartFormat,
		Paragraphs:  cfg.Transcription.Paragraphs,
	})
}

// Transcribe processes chunks and returns the reassembled transcript.
// progress, when set, is called with the number of completed chunks; calls
// are serialized and the count only increases.
func (o *Orchestrator) Transcribe(ctx context.Context, jobID string, chunks []media.Chunk, progress func(completed int)) (Transcript, error) {
	if len(chunks) == 0 {
		return Transcript{}, fmt.Errorf("%w: no chunks to transcribe", services.ErrTranscription)
	}
	logger := logging.WithContext(ctx, o.logger)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	var (
		mu        sync.Mutex
		results   = make([][]Utterance, len(chunks))
		firstErr  error
		completed int
		wg        sync.WaitGroup
		slots     = make(chan struct{}, o.concurrency)
	)
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
			stop()
		}
	}

	for i := range chunks {
		select {
		case slots <- struct{}{}:
		case <-runCtx.Done():
		}
		if runCtx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(pos int, chunk media.Chunk) {
			defer wg.Done()
			defer func() { <-slots }()

			utterances, err := o.transcribeChunk(runCtx, jobID, chunk, logger)
			if err != nil {
				fail(err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if firstErr != nil || runCtx.Err() != nil {
				return
			}
			results[pos] = utterances
			completed++
			if progress != nil {
				progress(completed)
			}
		}(i, chunks[i])
	}
	wg.Wait()

	if firstErr != nil {
		return Transcript{}, firstErr
	}
	if err := ctx.Err(); err != nil {
		return Transcript{}, err
	}

	transcript := Transcript{}
	for i, chunk := range chunks {
		transcript.Utterances = append(transcript.Utterances, results[i]...)
		if end := chunk.Start + chunk.Duration; end > transcript.Duration {
			transcript.Duration = end
		}
	}
	logger.Info("transcription completed",
		logging.String(logging.FieldEventType, "transcription_completed"),
		logging.Int("chunks", len(chunks)),
		logging.Int("utterances", len(transcript.Utterances)),
		logging.Int("speakers", len(transcript.Speakers())),
	)
	return transcript, nil
}

func (o *Orchestrator) transcribeChunk(ctx context.Context, jobID string, chunk media.Chunk, logger *slog.Logger) ([]Utterance, error) {
	var result deepgram.Result
	attempts, err := o.policy.Do(ctx, func(attempt int) error {
		if err := o.checkCancelled(ctx, jobID); err != nil {
			return err
		}
		chunk.Attempts = attempt
		var callErr error
		result, callErr = o.client.TranscribeFile(ctx, chunk.Path)
		if callErr != nil {
			chunk.LastError = callErr.Error()
			if attempt <= o.policy.MaxRetries {
				if _, retry := services.RetryDecision(callErr); retry {
					logging.WarnWithContext(logger, "chunk transcription failed; retrying", "transcription_retry",
						logging.Int(logging.FieldChunkIndex, chunk.Index),
						logging.Int(logging.FieldAttempt, attempt),
						logging.Error(callErr),
						logging.String(logging.FieldImpact, "chunk will be resubmitted after a pause"),
					)
				}
			}
		}
		return callErr
	})
	if err != nil {
		if errors.Is(err, services.ErrCancelled) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &TranscriptionError{ChunkIndex: chunk.Index, Attempts: attempts, Cause: err}
	}

	utterances := make([]Utterance, 0, len(result.Utterances))
	for _, u := range result.Utterances {
		utterances = append(utterances, Utterance{
			Speaker:    SpeakerLabel(o.labelFormat, u.Speaker),
			Text:       u.Transcript,
			Start:      chunk.Start + seconds(u.Start),
			End:        chunk.Start + seconds(u.End),
			Confidence: u.Confidence,
		})
	}
	logger.Debug("chunk transcribed",
		logging.Int(logging.FieldChunkIndex, chunk.Index),
		logging.Int(logging.FieldAttempt, attempts),
		logging.Int("utterances", len(utterances)),
	)
	return utterances, nil
}

func (o *Orchestrator) checkCancelled(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if o.cancel == nil {
		return nil
	}
	cancelled, err := o.cancel.IsCancelRequested(ctx, jobID)
	if err != nil {
		return err
	}
	if cancelled {
		return ErrCancelled
	}
	return nil
}

func seconds(value float64) time.Duration {
	return time.Duration(value * float64(time.Second))
}
