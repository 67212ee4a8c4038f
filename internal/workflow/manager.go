package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"minutes/internal/config"
	"minutes/internal/jobs"
	"minutes/internal/logging"
	"minutes/internal/media"
	"minutes/internal/notifications"
	"minutes/internal/publication"
	"minutes/internal/speakers"
	"minutes/internal/summary"
	"minutes/internal/templates"
	"minutes/internal/transcription"
)

// Validator checks an upload before any work is spent on it.
type Validator interface {
	Validate(ctx context.Context, path, declaredName string, size int64) (media.Classification, error)
}

// Chunker normalizes a recording and splits it into transcribable chunks.
type Chunker interface {
	Prepare(ctx context.Context, jobID, workdir, source string, cls media.Classification) (media.Prepared, error)
}

// Transcriber turns chunks into a speaker-attributed transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, jobID string, chunks []media.Chunk, progress func(completed int)) (transcription.Transcript, error)
}

// Summarizer writes the minutes for a rendered prompt.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Publisher pushes a completed job to the wiki.
type Publisher interface {
	Publish(ctx context.Context, job *jobs.Job) (*jobs.Publication, error)
}

// Pipeline bundles the collaborators a job passes through. Nil fields are
// built from config by NewManager.
type Pipeline struct {
	Validator   Validator
	Chunker     Chunker
	Transcriber Transcriber
	Summarizer  Summarizer
	Resolver    *speakers.Resolver
	Selector    *templates.Selector
	Publisher   Publisher
}

// Manager coordinates job processing across a fixed set of workers.
type Manager struct {
	cfg           *config.Config
	store         *jobs.Store
	logger        *slog.Logger
	notifier      notifications.Service
	pipeline      Pipeline
	workers       int
	pollInterval  time.Duration
	retryInterval time.Duration

	heartbeat *HeartbeatMonitor
	jobLogs   *JobLogger
	wake      chan struct{}

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	active  map[string]time.Time
	owners  map[string]string
	lastErr error
	lastJob *jobs.Job
}

// Option configures optional Manager behavior.
type Option func(*Manager)

// WithNotifier replaces the ntfy notifier built from config.
func WithNotifier(notifier notifications.Service) Option {
	return func(m *Manager) {
		if notifier != nil {
			m.notifier = notifier
		}
	}
}

// WithPipeline supplies pipeline collaborators. Fields left nil are built
// from config.
func WithPipeline(p Pipeline) Option {
	return func(m *Manager) {
		m.pipeline = p
	}
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, store *jobs.Store, logger *slog.Logger, opts ...Option) (*Manager, error) {
	if cfg == nil || store == nil {
		return nil, fmt.Errorf("workflow manager: config and store are required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "workflow")
	m := &Manager{
		cfg:           cfg,
		store:         store,
		logger:        logger,
		workers:       cfg.Workflow.MaxConcurrentJobs,
		pollInterval:  time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		retryInterval: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
		jobLogs: NewJobLogger(cfg),
		wake:    make(chan struct{}, 1),
		active:  make(map[string]time.Time),
		owners:  make(map[string]string),
	}
	if m.workers <= 0 {
		m.workers = 1
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.notifier == nil {
		m.notifier = notifications.NewService(cfg)
	}
	if err := m.buildPipeline(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) buildPipeline() error {
	p := &m.pipeline
	if p.Validator == nil {
		p.Validator = media.NewValidator(m.cfg)
	}
	if p.Chunker == nil {
		p.Chunker = media.NewChunker(m.cfg)
	}
	if p.Transcriber == nil {
		p.Transcriber = transcription.NewOrchestrator(m.cfg, transcription.NewDeepgramClient(m.cfg), m.store, m.logger)
	}
	if p.Summarizer == nil {
		gen, err := summary.NewGenerator(context.Background(), m.cfg)
		if err != nil {
			return fmt.Errorf("summary backend: %w", err)
		}
		p.Summarizer = summary.NewOrchestrator(m.cfg, gen, m.logger)
	}
	if p.Resolver == nil {
		resolver, err := speakers.NewResolverFromConfig(m.cfg)
		if err != nil {
			return fmt.Errorf("speaker mapping: %w", err)
		}
		p.Resolver = resolver
	}
	if p.Selector == nil {
		catalog, err := templates.LoadCatalog(m.cfg.Templates.CatalogFile)
		if err != nil {
			return fmt.Errorf("template catalog: %w", err)
		}
		selector, err := templates.NewSelector(catalog, m.cfg.Templates)
		if err != nil {
			return fmt.Errorf("template selector: %w", err)
		}
		p.Selector = selector
	}
	if p.Publisher == nil && m.cfg.PublicationConfigured() {
		svc, err := publication.NewFromConfig(m.cfg, m.store, m.logger, publication.WithNotifier(m.notifier))
		if err != nil {
			return fmt.Errorf("publication: %w", err)
		}
		p.Publisher = svc
	}
	return nil
}

// Wake short-circuits the poll wait of idle workers, typically after a job
// was created.
func (m *Manager) Wake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
