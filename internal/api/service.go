package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"minutes/internal/config"
	"minutes/internal/export"
	"minutes/internal/fileutil"
	"minutes/internal/jobs"
	"minutes/internal/logging"
	"minutes/internal/media"
	"minutes/internal/publication"
	"minutes/internal/services"
	"minutes/internal/templates"
	"minutes/internal/workflow"
)

// Publisher is the publication collaborator used by Service.
type Publisher interface {
	Publish(ctx context.Context, job *jobs.Job) (*jobs.Publication, error)
	Retry(ctx context.Context, userID string, publicationID int64) (*jobs.Publication, error)
}

// Waker is notified after a job is queued.
type Waker interface {
	Wake()
}

// CreateJobRequest describes an upload. Exactly one of SourcePath or Reader
// supplies the recording; the service always copies it into the upload
// area.
type CreateJobRequest struct {
	UserID     string
	Filename   string
	SourcePath string
	Reader     io.Reader
	Template   string
	Metadata   map[string]string
	Publish    bool
}

// Artifact names a per-job output file.
type Artifact string

const (
	ArtifactTranscript Artifact = "transcript"
	ArtifactMinutes    Artifact = "minutes"
)

// Service implements the operations shared by every front end.
type Service struct {
	cfg       *config.Config
	store     *jobs.Store
	selector  *templates.Selector
	publisher Publisher
	waker     Waker
	logger    *slog.Logger
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithPublisher enables RequestPublication and RetryPublication.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithWaker wakes idle workers after CreateJob.
func WithWaker(w Waker) Option {
	return func(s *Service) {
		s.waker = w
	}
}

// WithSelector replaces the template selector built from config.
func WithSelector(selector *templates.Selector) Option {
	return func(s *Service) {
		s.selector = selector
	}
}

// NewService constructs the API service.
func NewService(cfg *config.Config, store *jobs.Store, logger *slog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil || store == nil {
		return nil, fmt.Errorf("api service: config and store are required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Service{
		cfg:    cfg,
		store:  store,
		logger: logging.NewComponentLogger(logger, "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.selector == nil {
		catalog, err := templates.LoadCatalog(cfg.Templates.CatalogFile)
		if err != nil {
			return nil, fmt.Errorf("template catalog: %w", err)
		}
		selector, err := templates.NewSelector(catalog, cfg.Templates)
		if err != nil {
			return nil, fmt.Errorf("template selector: %w", err)
		}
		s.selector = selector
	}
	return s, nil
}

// Templates lists the catalog available to CreateJob.
func (s *Service) Templates() []templates.Template {
	return s.selector.Catalog().List()
}

// UploadLimit returns the maximum accepted recording size in bytes.
func (s *Service) UploadLimit() int64 {
	return s.cfg.MaxFileSizeBytes()
}

// PublicationEnabled reports whether publication requests are served.
func (s *Service) PublicationEnabled() bool {
	return s.publisher != nil
}

// CreateJob validates and stores an upload and queues a job for it.
func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (JobView, error) {
	userID := strings.TrimSpace(req.UserID)
	if err := checkUserID(userID); err != nil {
		return JobView{}, err
	}
	filename := filepath.Base(strings.TrimSpace(req.Filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		filename = filepath.Base(req.SourcePath)
	}
	if _, _, err := media.CheckName(filename); err != nil {
		return JobView{}, err
	}
	template := strings.ToLower(strings.TrimSpace(req.Template))
	if template == "" {
		template = s.cfg.Templates.Default
	}
	if err := s.selector.Validate(template); err != nil {
		return JobView{}, err
	}
	if req.Publish && !s.cfg.PublicationConfigured() {
		return JobView{}, services.Wrap(services.ErrValidation, "api", "create job", "publication is not configured", nil)
	}
	if req.Reader == nil && strings.TrimSpace(req.SourcePath) == "" {
		return JobView{}, services.Wrap(services.ErrValidation, "api", "create job", "no recording supplied", nil)
	}

	jobID := uuid.NewString()
	dir := filepath.Join(s.cfg.UploadDir(), userID, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return JobView{}, services.Wrap(services.ErrStorage, "api", "create job", "create upload directory", err)
	}
	dest := filepath.Join(dir, filename)
	if err := s.storeUpload(req, dest); err != nil {
		_ = os.RemoveAll(dir)
		return JobView{}, err
	}

	job := &jobs.Job{
		ID:               jobID,
		UserID:           userID,
		Filename:         filename,
		Template:         template,
		SourcePath:       dest,
		Metadata:         req.Metadata,
		PublishRequested: req.Publish,
	}
	if err := s.store.Create(ctx, job); err != nil {
		_ = os.RemoveAll(dir)
		return JobView{}, services.Wrap(services.ErrStorage, "api", "create job", "insert job", err)
	}
	s.logger.Info("job created",
		logging.String(logging.FieldEventType, "job_created"),
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldUserID, userID),
		logging.String("filename", filename),
		logging.String("template", template),
		logging.Bool("publish", req.Publish),
	)
	if s.waker != nil {
		s.waker.Wake()
	}
	return FromJob(job), nil
}

func (s *Service) storeUpload(req CreateJobRequest, dest string) error {
	limit := s.cfg.MaxFileSizeBytes()
	if req.Reader != nil {
		if _, err := fileutil.CopyReader(req.Reader, dest, limit); err != nil {
			if errors.Is(err, fileutil.ErrTooLarge) {
				return services.Wrap(services.ErrValidation, "api", "create job",
					fmt.Sprintf("file exceeds the %d MB limit", s.cfg.Media.MaxFileSizeMB), nil)
			}
			return services.Wrap(services.ErrStorage, "api", "create job", "store upload", err)
		}
		return nil
	}
	info, err := os.Stat(req.SourcePath)
	if err != nil {
		return services.Wrap(services.ErrValidation, "api", "create job", "source file is not readable", err)
	}
	if info.IsDir() {
		return services.Wrap(services.ErrValidation, "api", "create job", "source is a directory", nil)
	}
	if limit > 0 && info.Size() > limit {
		return services.Wrap(services.ErrValidation, "api", "create job",
			fmt.Sprintf("file exceeds the %d MB limit", s.cfg.Media.MaxFileSizeMB), nil)
	}
	if err := fileutil.CopyFileVerified(req.SourcePath, dest); err != nil {
		return services.Wrap(services.ErrStorage, "api", "create job", "copy upload", err)
	}
	return nil
}

// GetJob returns a job owned by userID together with its latest publication.
func (s *Service) GetJob(ctx context.Context, userID, jobID string) (JobView, error) {
	job, err := s.store.GetForUser(ctx, userID, jobID)
	if err != nil {
		return JobView{}, err
	}
	return s.view(ctx, job), nil
}

// ListJobs returns every job owned by userID, newest first.
func (s *Service) ListJobs(ctx context.Context, userID string) ([]JobView, error) {
	list, err := s.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return SortJobsNewestFirst(FromJobs(list)), nil
}

// CancelJob cancels a queued job or flags a running one. The worker honours
// the flag at its next checkpoint.
func (s *Service) CancelJob(ctx context.Context, userID, jobID string) (JobView, error) {
	job, err := s.store.RequestCancel(ctx, userID, jobID)
	if err != nil {
		return JobView{}, err
	}
	s.logger.Info("job cancel requested",
		logging.String(logging.FieldEventType, "job_cancel_requested"),
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldUserID, userID),
		logging.String("status", string(job.Status)),
	)
	return FromJob(job), nil
}

// RetryJob requeues a failed job from its original upload. Artifacts from the
// failed attempt stay in place and are overwritten as the pipeline reruns.
func (s *Service) RetryJob(ctx context.Context, userID, jobID string) (JobView, error) {
	current, err := s.store.GetForUser(ctx, userID, jobID)
	if err != nil {
		return JobView{}, err
	}
	if current.Status == jobs.StatusError {
		if _, err := os.Stat(current.SourcePath); err != nil {
			return JobView{}, services.Wrap(services.ErrValidation, "api", "retry job", "original upload is no longer available", err)
		}
	}
	job, err := s.store.RetryFailed(ctx, userID, jobID)
	if err != nil {
		return JobView{}, err
	}
	s.logger.Info("job retry requested",
		logging.String(logging.FieldEventType, "job_retry_requested"),
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldUserID, userID),
		logging.Int("attempt", job.Attempt),
	)
	if s.waker != nil {
		s.waker.Wake()
	}
	return FromJob(job), nil
}

// RemoveJob deletes a finished or queued-but-cancelled job and its files.
func (s *Service) RemoveJob(ctx context.Context, userID, jobID string) (JobView, error) {
	job, err := s.store.RemoveForUser(ctx, userID, jobID)
	if err != nil {
		return JobView{}, err
	}
	for _, dir := range []string{
		filepath.Join(s.cfg.UploadDir(), job.UserID, job.ID),
		filepath.Join(s.cfg.OutputDir(), job.UserID, job.ID),
	} {
		if err := os.RemoveAll(dir); err != nil {
			logging.WarnWithContext(s.logger, "failed to remove job files", "job_files_cleanup",
				logging.String(logging.FieldJobID, job.ID),
				logging.String("path", dir),
				logging.Error(err),
				logging.String(logging.FieldImpact, "job files stay on disk"),
			)
		}
	}
	s.logger.Info("job removed",
		logging.String(logging.FieldEventType, "job_removed"),
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldUserID, userID),
	)
	return FromJob(job), nil
}

// RequestPublication publishes a completed job, updates a published one, or
// re-attempts a failed one while retries remain.
func (s *Service) RequestPublication(ctx context.Context, userID, jobID string) (PublicationView, error) {
	if s.publisher == nil {
		return PublicationView{}, services.Wrap(services.ErrConfiguration, "api", "publish", "publication is not configured", nil)
	}
	job, err := s.store.GetForUser(ctx, userID, jobID)
	if err != nil {
		return PublicationView{}, err
	}
	switch job.Status {
	case jobs.StatusCompleted, jobs.StatusPublishFailed, jobs.StatusPublished:
	default:
		return PublicationView{}, fmt.Errorf("%w: job is %s, only completed jobs can be published", jobs.ErrInvalidTransition, job.Status)
	}
	pub, err := s.publisher.Publish(ctx, job)
	return publicationResult(pub, err)
}

// RetryPublication re-attempts a failed publication record.
func (s *Service) RetryPublication(ctx context.Context, userID string, publicationID int64) (PublicationView, error) {
	if s.publisher == nil {
		return PublicationView{}, services.Wrap(services.ErrConfiguration, "api", "retry publication", "publication is not configured", nil)
	}
	pub, err := s.publisher.Retry(ctx, userID, publicationID)
	return publicationResult(pub, err)
}

// publicationResult keeps the failed record alongside the error so callers
// can show which record to retry.
func publicationResult(pub *jobs.Publication, err error) (PublicationView, error) {
	if pub == nil {
		return PublicationView{}, err
	}
	return FromPublication(pub), err
}

// ListPublications returns the publication records of a job owned by userID.
func (s *Service) ListPublications(ctx context.Context, userID, jobID string) ([]PublicationView, error) {
	if _, err := s.store.GetForUser(ctx, userID, jobID); err != nil {
		return nil, err
	}
	list, err := s.store.ListPublications(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return FromPublications(list), nil
}

// ReadArtifact returns the transcript or minutes of a job owned by userID.
func (s *Service) ReadArtifact(ctx context.Context, userID, jobID string, artifact Artifact) ([]byte, error) {
	job, err := s.store.GetForUser(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	var path string
	switch artifact {
	case ArtifactTranscript:
		path = job.TranscriptPath
	case ArtifactMinutes:
		path = job.SummaryPath
	default:
		return nil, services.Wrap(services.ErrValidation, "api", "read artifact", fmt.Sprintf("unknown artifact %q", artifact), nil)
	}
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: job has no %s yet", services.ErrNotFound, artifact)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s file is missing", services.ErrNotFound, artifact)
		}
		return nil, services.Wrap(services.ErrStorage, "api", "read artifact", string(artifact), err)
	}
	return data, nil
}

// ExportDocx returns the path of the job's DOCX minutes, generating the file
// when the pipeline did not leave one behind.
func (s *Service) ExportDocx(ctx context.Context, userID, jobID string) (string, error) {
	job, err := s.store.GetForUser(ctx, userID, jobID)
	if err != nil {
		return "", err
	}
	if job.DocxPath != "" {
		if _, err := os.Stat(job.DocxPath); err == nil {
			return job.DocxPath, nil
		}
	}
	if strings.TrimSpace(job.SummaryPath) == "" {
		return "", fmt.Errorf("%w: job has no minutes yet", services.ErrNotFound)
	}
	markdown, err := os.ReadFile(job.SummaryPath)
	if err != nil {
		return "", services.Wrap(services.ErrStorage, "api", "export docx", "read minutes", err)
	}
	title := publication.PageTitle(publication.ExtractMeetingInfo(string(markdown)), job.CreatedAt, job.Filename)
	path := filepath.Join(filepath.Dir(job.SummaryPath), workflow.DocxFile)
	if err := export.Minutes(title, string(markdown), path); err != nil {
		return "", services.Wrap(services.ErrStorage, "api", "export docx", "render document", err)
	}
	return path, nil
}

// ExportTranscriptDocx renders the speaker-attributed transcript as DOCX
// next to the other results and returns its path.
func (s *Service) ExportTranscriptDocx(ctx context.Context, userID, jobID string) (string, error) {
	job, err := s.store.GetForUser(ctx, userID, jobID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(job.TranscriptPath) == "" {
		return "", fmt.Errorf("%w: job has no transcript yet", services.ErrNotFound)
	}
	text, err := os.ReadFile(job.TranscriptPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: transcript file is missing", services.ErrNotFound)
		}
		return "", services.Wrap(services.ErrStorage, "api", "export transcript", "read transcript", err)
	}
	path := filepath.Join(filepath.Dir(job.TranscriptPath), workflow.TranscriptDocxFile)
	title := "Transcript: " + job.Filename
	if err := export.Transcript(title, string(text), path); err != nil {
		return "", services.Wrap(services.ErrStorage, "api", "export transcript", "render document", err)
	}
	return path, nil
}

func (s *Service) view(ctx context.Context, job *jobs.Job) JobView {
	dto := FromJob(job)
	pub, err := s.store.LatestPublication(ctx, job.ID)
	switch {
	case err == nil:
		view := FromPublication(pub)
		dto.Publication = &view
	case !errors.Is(err, jobs.ErrPublicationNotFound):
		s.logger.Warn("failed to load publication for job",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err),
		)
	}
	return dto
}

func checkUserID(userID string) error {
	switch {
	case userID == "":
		return services.Wrap(services.ErrValidation, "api", "user", "user id is required", nil)
	case userID == "." || userID == "..", strings.ContainsAny(userID, `/\`):
		return services.Wrap(services.ErrValidation, "api", "user", fmt.Sprintf("invalid user id %q", userID), nil)
	}
	return nil
}
