package jobs

import (
	"fmt"
	"strings"
	"time"

	"minutes/internal/services"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	StatusUploaded      Status = "uploaded"
	StatusValidating    Status = "validating"
	StatusChunking      Status = "chunking"
	StatusTranscribing  Status = "transcribing"
	StatusSummarizing   Status = "summarizing"
	StatusCompleted     Status = "completed"
	StatusPublishing    Status = "publishing"
	StatusPublished     Status = "published"
	StatusError         Status = "error"
	StatusPublishFailed Status = "publish_failed"
	StatusCancelled     Status = "cancelled"
)

var allStatuses = []Status{
	StatusUploaded,
	StatusValidating,
	StatusChunking,
	StatusTranscribing,
	StatusSummarizing,
	StatusCompleted,
	StatusPublishing,
	StatusPublished,
	StatusError,
	StatusPublishFailed,
	StatusCancelled,
}

// pipelineStatuses are held by a worker while the job is processed.
var pipelineStatuses = []Status{
	StatusValidating,
	StatusChunking,
	StatusTranscribing,
	StatusSummarizing,
}

// transitions lists the permitted successor states. Error leaves only for
// uploaded, which is how RetryFailed requeues a job.
var transitions = map[Status][]Status{
	StatusUploaded:      {StatusValidating, StatusCancelled, StatusError},
	StatusValidating:    {StatusChunking, StatusError, StatusCancelled},
	StatusChunking:      {StatusTranscribing, StatusError, StatusCancelled},
	StatusTranscribing:  {StatusSummarizing, StatusError, StatusCancelled},
	StatusSummarizing:   {StatusCompleted, StatusError, StatusCancelled},
	StatusCompleted:     {StatusPublishing},
	StatusPublishing:    {StatusPublished, StatusPublishFailed},
	StatusPublishFailed: {StatusPublishing},
	StatusError:         {StatusUploaded},
}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a string into a known status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsInPipeline reports whether a worker currently owns a job in this status.
func (s Status) IsInPipeline() bool {
	for _, status := range pipelineStatuses {
		if status == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no automatic transition leaves this status.
// Completed and publish_failed still accept publication requests.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusPublished, StatusError, StatusPublishFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

var (
	// ErrJobNotFound is returned for missing jobs and for jobs owned by another user.
	ErrJobNotFound = fmt.Errorf("%w: job", services.ErrNotFound)
	// ErrPublicationNotFound mirrors ErrJobNotFound for publication records.
	ErrPublicationNotFound = fmt.Errorf("%w: publication", services.ErrNotFound)
	// ErrConflict means the row changed between read and write.
	ErrConflict = fmt.Errorf("%w: job changed concurrently", services.ErrConflict)
	// ErrInvalidTransition rejects a status change the lifecycle does not allow.
	ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", services.ErrConflict)
	// ErrRetryLimit means a failed publication has used every permitted retry.
	ErrRetryLimit = fmt.Errorf("%w: publication retry limit reached", services.ErrConflict)
)

// Job is one request to turn a recording into minutes.
type Job struct {
	ID               string
	UserID           string
	Filename         string
	Template         string
	ResolvedTemplate string
	Status           Status
	Progress         int
	Message          string
	SourcePath       string
	TranscriptPath   string
	SummaryPath      string
	DocxPath         string
	MediaKind        string
	DurationSeconds  float64
	ChunkCount       int
	Error            string
	Metadata         map[string]string
	PublishRequested bool
	CancelRequested  bool
	Attempt          int
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
	LastHeartbeat    *time.Time
}

// SetProgress raises progress and replaces the step message. Progress never
// moves backwards within an attempt.
func (j *Job) SetProgress(percent int, message string) {
	if percent > 100 {
		percent = 100
	}
	if percent > j.Progress {
		j.Progress = percent
	}
	if message = strings.TrimSpace(message); message != "" {
		j.Message = message
	}
}

// SetFailed records a pipeline failure.
func (j *Job) SetFailed(message string) {
	j.Status = StatusError
	j.Error = strings.TrimSpace(message)
	j.Message = "Failed"
	j.LastHeartbeat = nil
}

// MetadataValue returns a metadata entry or the empty string.
func (j *Job) MetadataValue(key string) string {
	if j == nil || j.Metadata == nil {
		return ""
	}
	return j.Metadata[key]
}

// SetMetadata stores a metadata entry.
func (j *Job) SetMetadata(key, value string) {
	if j.Metadata == nil {
		j.Metadata = make(map[string]string)
	}
	j.Metadata[key] = value
}

// PublicationStatus tracks one wiki publication record.
type PublicationStatus string

const (
	PublicationPending   PublicationStatus = "pending"
	PublicationPublished PublicationStatus = "published"
	PublicationFailed    PublicationStatus = "failed"
	PublicationRetrying  PublicationStatus = "retrying"
)

// Publication is a tracked attempt to push a job's minutes to a wiki page.
// Records are unique per (JobID, TargetPageID); a failed first attempt keeps
// an empty page id until a later attempt creates the page.
type Publication struct {
	ID            int64
	JobID         string
	TargetPageID  string
	TargetPageURL string
	SpaceKey      string
	ParentPageID  string
	Title         string
	Status        PublicationStatus
	ErrorMessage  string
	RetryCount    int
	LastRetryAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HealthSummary aggregates job counts for status displays.
type HealthSummary struct {
	Total     int
	Queued    int
	Active    int
	Completed int
	Failed    int
	Cancelled int
	Published int
}

// DatabaseHealth reports detailed diagnostics for the job database.
type DatabaseHealth struct {
	DBPath         string
	DatabaseExists bool
	SchemaVersion  int
	TablesPresent  []string
	MissingTables  []string
	IntegrityCheck bool
	TotalJobs      int
	Error          string
}
