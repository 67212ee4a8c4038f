package publication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"minutes/internal/config"
	"minutes/internal/jobs"
	"minutes/internal/logging"
	"minutes/internal/notifications"
	"minutes/internal/services"
	"minutes/internal/services/confluence"
)

// Metadata keys written to the job on publication.
const (
	MetadataURL   = "publication_url"
	MetadataID    = "publication_id"
	MetadataError = "publication_error"
)

// PageClient is the part of the Confluence client the service needs.
type PageClient interface {
	GetPage(ctx context.Context, id string) (*confluence.Page, error)
	CreatePage(ctx context.Context, title, storage, parentID string) (*confluence.Page, error)
	UpdatePage(ctx context.Context, id, title, storage string, currentVersion int) (*confluence.Page, error)
	URL(page *confluence.Page) string
	SpaceKey() string
	ParentPageID() string
}

// PublicationError reports a failed publication attempt. Kind is one of
// auth, permission, not_found, network, validation or server.
type PublicationError struct {
	Kind  string
	Cause error
}

func (e *PublicationError) Error() string {
	return fmt.Sprintf("publication failed (%s): %v", e.Kind, e.Cause)
}

func (e *PublicationError) Unwrap() []error {
	return []error{services.ErrPublication, e.Cause}
}

// Service publishes minutes and tracks every attempt in the job store.
type Service struct {
	store      *jobs.Store
	client     PageClient
	notifier   notifications.Service
	maxRetries int
	heartbeat  time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// defaultHeartbeatInterval matches workflow.heartbeat_interval's default.
const defaultHeartbeatInterval = 15 * time.Second

// Option customizes a Service.
type Option func(*Service)

// WithNotifier reports publication outcomes through n.
func WithNotifier(n notifications.Service) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithClock overrides the time source for retry timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithHeartbeatInterval sets how often a job's liveness is refreshed while
// its minutes are being pushed. Zero or less disables the refresh.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(s *Service) {
		s.heartbeat = d
	}
}

// NewService wires a page client to the store. maxRetries bounds Retry.
func NewService(store *jobs.Store, client PageClient, maxRetries int, logger *slog.Logger, opts ...Option) *Service {
	svc := &Service{
		store:      store,
		client:     client,
		notifier:   notifications.NewService(nil),
		maxRetries: maxRetries,
		heartbeat:  defaultHeartbeatInterval,
		now:        time.Now,
		logger:     logging.NewComponentLogger(logger, "publication"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// NewFromConfig builds a Service backed by the Confluence REST client.
func NewFromConfig(cfg *config.Config, store *jobs.Store, logger *slog.Logger, opts ...Option) (*Service, error) {
	if !cfg.PublicationConfigured() {
		return nil, services.Wrap(services.ErrConfiguration, "publication", "configure", "publication is disabled or incomplete", nil)
	}
	client, err := confluence.NewClient(confluence.Config{
		BaseURL:      cfg.Publication.BaseURL,
		Token:        cfg.Publication.APIToken,
		SpaceKey:     cfg.Publication.SpaceKey,
		ParentPageID: cfg.Publication.ParentPageID,
		Timeout:      time.Duration(cfg.Publication.TimeoutSeconds) * time.Second,
		MaxRetries:   cfg.Publication.MaxRetries,
		RetryDelay:   time.Duration(cfg.Publication.RetryDelaySeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithHeartbeatInterval(time.Duration(cfg.Workflow.HeartbeatInterval) * time.Second)}, opts...)
	return NewService(store, client, cfg.Publication.MaxRetries, logger, opts...), nil
}

// MaxRetries returns the retry bound applied to failed publications.
func (s *Service) MaxRetries() int {
	return s.maxRetries
}

// Publish pushes a completed job's minutes. The job's latest publication
// record is reused: a published page is updated, a failed record is
// updated in place, and a job without records gets a new page. Republishing
// a published job updates its page and leaves the job published.
func (s *Service) Publish(ctx context.Context, job *jobs.Job) (*jobs.Publication, error) {
	if job == nil {
		return nil, services.Wrap(services.ErrValidation, "publication", "publish", "job required", nil)
	}
	current, err := s.store.Get(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if !publishable(current.Status) {
		return nil, fmt.Errorf("%w: job is %s, only completed jobs can be published", jobs.ErrInvalidTransition, current.Status)
	}

	pub, err := s.store.LatestPublication(ctx, current.ID)
	switch {
	case errors.Is(err, jobs.ErrPublicationNotFound):
		pub = &jobs.Publication{
			JobID:        current.ID,
			SpaceKey:     s.client.SpaceKey(),
			ParentPageID: s.client.ParentPageID(),
			Status:       jobs.PublicationPending,
		}
	case err != nil:
		return nil, err
	case pub.Status == jobs.PublicationFailed && pub.RetryCount >= s.maxRetries:
		return nil, fmt.Errorf("%w: %d of %d retries used", jobs.ErrRetryLimit, pub.RetryCount, s.maxRetries)
	}
	return s.run(ctx, current, pub)
}

// Retry re-attempts a failed publication owned by userID. Exhausted records
// stay failed and ErrRetryLimit is returned.
func (s *Service) Retry(ctx context.Context, userID string, publicationID int64) (*jobs.Publication, error) {
	pub, err := s.store.PublicationForUser(ctx, userID, publicationID)
	if err != nil {
		return nil, err
	}
	job, err := s.store.GetForUser(ctx, userID, pub.JobID)
	if err != nil {
		return nil, err
	}
	if !publishable(job.Status) {
		return nil, fmt.Errorf("%w: job is %s", jobs.ErrInvalidTransition, job.Status)
	}
	pub, err = s.store.BeginPublicationRetry(ctx, pub.ID, s.maxRetries)
	if err != nil {
		return nil, err
	}
	s.logger.Info("publication retry started",
		logging.String(logging.FieldJobID, job.ID),
		logging.Int64(logging.FieldPublicationID, pub.ID),
		logging.Int(logging.FieldAttempt, pub.RetryCount+1),
		logging.String(logging.FieldEventType, "publication_retry"),
	)
	return s.run(ctx, job, pub)
}

func publishable(status jobs.Status) bool {
	switch status {
	case jobs.StatusCompleted, jobs.StatusPublishFailed, jobs.StatusPublished:
		return true
	default:
		return false
	}
}

func (s *Service) run(ctx context.Context, job *jobs.Job, pub *jobs.Publication) (*jobs.Publication, error) {
	// Bookkeeping writes must land even when the caller's context is done.
	bookkeeping := context.WithoutCancel(ctx)

	a := &attempt{job: job, republish: job.Status == jobs.StatusPublished}
	if !a.republish {
		publishing, err := s.store.Transition(ctx, job.ID, job.Status, jobs.StatusPublishing, func(j *jobs.Job) {
			j.PublishRequested = true
			j.Message = "Publishing minutes"
		})
		if err != nil {
			if pub.Status == jobs.PublicationRetrying {
				pub.Status = jobs.PublicationFailed
				if saveErr := s.store.SavePublication(bookkeeping, pub); saveErr != nil {
					s.logStorageFailure(job, pub, saveErr)
				}
			}
			return nil, err
		}
		a.job = publishing
	}

	logger := logging.WithContext(ctx, s.logger).With(
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldUserID, job.UserID),
	)

	stopHeartbeat := s.keepAlive(ctx, logger, a)
	page, title, pushErr := s.push(ctx, a.job, pub)
	stopHeartbeat()
	if pushErr != nil {
		return s.fail(bookkeeping, logger, a, pub, title, pushErr)
	}

	pageURL := s.client.URL(page)
	pub.TargetPageID = page.ID
	pub.TargetPageURL = pageURL
	pub.Title = title
	if page.Title != "" {
		pub.Title = page.Title
	}
	if pub.SpaceKey == "" {
		pub.SpaceKey = s.client.SpaceKey()
	}
	pub.Status = jobs.PublicationPublished
	pub.ErrorMessage = ""
	if err := s.store.SavePublication(bookkeeping, pub); err != nil {
		return s.fail(bookkeeping, logger, a, pub, title, err)
	}

	if err := s.finish(bookkeeping, a, jobs.StatusPublished, func(j *jobs.Job) {
		j.SetMetadata(MetadataURL, pageURL)
		j.SetMetadata(MetadataID, strconv.FormatInt(pub.ID, 10))
		delete(j.Metadata, MetadataError)
		j.Message = "Published"
	}); err != nil {
		return pub, err
	}

	logger.Info("minutes published",
		logging.Int64(logging.FieldPublicationID, pub.ID),
		logging.String("page_id", pub.TargetPageID),
		logging.String("page_url", pageURL),
		logging.String("page_title", pub.Title),
		logging.Bool("republish", a.republish),
		logging.String(logging.FieldEventType, "publication_completed"),
	)
	s.notify(bookkeeping, logger, notifications.EventPublished, notifications.Payload{
		"filename": job.Filename,
		"title":    pub.Title,
		"url":      pageURL,
	})
	return pub, nil
}

// attempt is one pass of run. A republish never moves the job out of
// published.
type attempt struct {
	job       *jobs.Job
	republish bool
}

// finish moves the job out of publishing. A slow push can outlive the
// heartbeat timeout, in which case the reclaimer has already moved the job
// to publish_failed; the outcome of the push then still wins.
func (s *Service) finish(ctx context.Context, a *attempt, to jobs.Status, mutate func(*jobs.Job)) error {
	if a.republish {
		mutate(a.job)
		return s.store.Update(ctx, a.job)
	}
	_, err := s.store.Transition(ctx, a.job.ID, jobs.StatusPublishing, to, mutate)
	if !errors.Is(err, jobs.ErrConflict) {
		return err
	}
	current, getErr := s.store.Get(ctx, a.job.ID)
	if getErr != nil || current.Status != jobs.StatusPublishFailed {
		return err
	}
	if to == jobs.StatusPublishFailed {
		mutate(current)
		return s.store.Update(ctx, current)
	}
	s.logger.Info("publication finished after the job was reclaimed",
		logging.String(logging.FieldJobID, a.job.ID),
		logging.String(logging.FieldEventType, "publication_reclaim_recovered"),
	)
	if _, err := s.store.Transition(ctx, a.job.ID, jobs.StatusPublishFailed, jobs.StatusPublishing, nil); err != nil {
		return err
	}
	_, err = s.store.Transition(ctx, a.job.ID, jobs.StatusPublishing, to, mutate)
	return err
}

// keepAlive refreshes the job's heartbeat until the returned stop function
// is called. Republishing leaves the job published, which carries no
// heartbeat.
func (s *Service) keepAlive(ctx context.Context, logger *slog.Logger, a *attempt) func() {
	if a.republish || s.heartbeat <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := s.store.Heartbeat(ctx, a.job.ID)
				switch {
				case err == nil, errors.Is(err, context.Canceled):
				case errors.Is(err, jobs.ErrConflict):
					logger.Debug("publication heartbeat skipped, job no longer publishing")
				default:
					logging.WarnWithContext(logger, "publication heartbeat failed", "publication_heartbeat_failed",
						logging.String(logging.FieldJobID, a.job.ID),
						logging.Error(err),
						logging.String(logging.FieldImpact, "job may be reclaimed during a slow push"),
					)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (s *Service) push(ctx context.Context, job *jobs.Job, pub *jobs.Publication) (*confluence.Page, string, error) {
	if strings.TrimSpace(job.SummaryPath) == "" {
		return nil, "", services.Wrap(services.ErrValidation, "publication", "read minutes", "job has no minutes file", nil)
	}
	data, err := os.ReadFile(job.SummaryPath)
	if err != nil {
		return nil, "", services.Wrap(services.ErrValidation, "publication", "read minutes", job.SummaryPath, err)
	}
	minutes := string(data)
	title := PageTitle(ExtractMeetingInfo(minutes), job.CreatedAt, job.Filename)
	storage := MarkdownToStorage(minutes)

	if pub.TargetPageID != "" {
		existing, err := s.client.GetPage(ctx, pub.TargetPageID)
		switch {
		case err == nil:
			page, err := s.client.UpdatePage(ctx, existing.ID, title, storage, existing.Version.Number)
			return page, title, err
		case !errors.Is(err, confluence.ErrNotFound):
			return nil, title, err
		}
		s.logger.Info("published page no longer exists, creating a new one",
			logging.String(logging.FieldJobID, job.ID),
			logging.String("page_id", pub.TargetPageID),
		)
	}
	parent := pub.ParentPageID
	if parent == "" {
		parent = s.client.ParentPageID()
		pub.ParentPageID = parent
	}
	page, err := s.client.CreatePage(ctx, title, storage, parent)
	return page, title, err
}

func (s *Service) fail(ctx context.Context, logger *slog.Logger, a *attempt, pub *jobs.Publication, title string, cause error) (*jobs.Publication, error) {
	job := a.job
	pubErr := &PublicationError{Kind: kindOf(cause), Cause: cause}
	now := s.now().UTC()
	pub.Status = jobs.PublicationFailed
	pub.RetryCount++
	pub.ErrorMessage = cause.Error()
	pub.LastRetryAt = &now
	if pub.Title == "" {
		pub.Title = title
	}
	if pub.SpaceKey == "" {
		pub.SpaceKey = s.client.SpaceKey()
	}
	if err := s.store.SavePublication(ctx, pub); err != nil {
		s.logStorageFailure(job, pub, err)
	}
	if err := s.finish(ctx, a, jobs.StatusPublishFailed, func(j *jobs.Job) {
		j.SetMetadata(MetadataError, pubErr.Kind)
		j.Message = "Publication failed"
	}); err != nil {
		s.logStorageFailure(job, pub, err)
	}

	details := services.Details(cause)
	logging.WarnWithContext(logger, "publication failed", "publication_failed",
		logging.Int64(logging.FieldPublicationID, pub.ID),
		logging.String(logging.FieldErrorKind, pubErr.Kind),
		logging.Int("retry_count", pub.RetryCount),
		logging.Int("max_retries", s.maxRetries),
		logging.String(logging.FieldErrorHint, hintFor(pubErr.Kind, details.Hint)),
		logging.String(logging.FieldImpact, "minutes were not published"),
		logging.Error(cause),
	)
	s.notify(ctx, logger, notifications.EventPublicationFailed, notifications.Payload{
		"filename": job.Filename,
		"error":    pubErr.Kind,
	})
	return pub, pubErr
}

func (s *Service) notify(ctx context.Context, logger *slog.Logger, event notifications.Event, payload notifications.Payload) {
	if err := s.notifier.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(logger, "publication notification failed", "notification_failed",
			logging.String("event", string(event)),
			logging.String(logging.FieldImpact, "user was not notified"),
			logging.Error(err),
		)
	}
}

func (s *Service) logStorageFailure(job *jobs.Job, pub *jobs.Publication, err error) {
	logging.ErrorWithContext(s.logger, "publication bookkeeping failed", "publication_storage_error",
		logging.String(logging.FieldJobID, job.ID),
		logging.Int64(logging.FieldPublicationID, pub.ID),
		logging.String(logging.FieldErrorHint, "check the job database"),
		logging.Error(err),
	)
}

func kindOf(err error) string {
	switch {
	case errors.Is(err, services.ErrValidation):
		return confluence.KindValidation
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return confluence.KindNetwork
	default:
		return confluence.KindName(err)
	}
}

func hintFor(kind, fallback string) string {
	switch kind {
	case confluence.KindAuth:
		return "check publication.api_token"
	case confluence.KindPermission:
		return "grant the token write access to publication.space_key"
	case confluence.KindNotFound:
		return "check publication.space_key and publication.parent_page_id"
	case confluence.KindNetwork:
		return "check connectivity to publication.base_url and retry"
	}
	if fallback != "" {
		return fallback
	}
	return "retry the publication"
}
