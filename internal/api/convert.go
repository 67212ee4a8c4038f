package api

import (
	"maps"
	"slices"
	"strings"
	"time"

	"minutes/internal/jobs"
	"minutes/internal/services"
	"minutes/internal/templates"
	"minutes/internal/workflow"
)

// FromJob converts a job record to its API representation.
func FromJob(job *jobs.Job) JobView {
	if job == nil {
		return JobView{}
	}
	dto := JobView{
		ID:               job.ID,
		Filename:         job.Filename,
		Template:         job.Template,
		ResolvedTemplate: job.ResolvedTemplate,
		Status:           string(job.Status),
		Progress: JobProgress{
			Percent: job.Progress,
			Message: job.Message,
		},
		Error:            job.Error,
		MediaKind:        job.MediaKind,
		DurationSeconds:  job.DurationSeconds,
		ChunkCount:       job.ChunkCount,
		PublishRequested: job.PublishRequested,
		CancelRequested:  job.CancelRequested,
		Attempt:          job.Attempt,
		HasTranscript:    strings.TrimSpace(job.TranscriptPath) != "",
		HasMinutes:       strings.TrimSpace(job.SummaryPath) != "",
		HasDocx:          strings.TrimSpace(job.DocxPath) != "",
		CreatedAt:        formatTime(job.CreatedAt),
		UpdatedAt:        formatTime(job.UpdatedAt),
	}
	if len(job.Metadata) > 0 {
		dto.Metadata = maps.Clone(job.Metadata)
	}
	if job.CompletedAt != nil {
		dto.CompletedAt = formatTime(*job.CompletedAt)
	}
	return dto
}

// FromJobs converts a slice of job records.
func FromJobs(list []*jobs.Job) []JobView {
	out := make([]JobView, 0, len(list))
	for _, job := range list {
		if job == nil {
			continue
		}
		out = append(out, FromJob(job))
	}
	return out
}

// FromPublication converts a publication record.
func FromPublication(pub *jobs.Publication) PublicationView {
	if pub == nil {
		return PublicationView{}
	}
	dto := PublicationView{
		ID:         pub.ID,
		JobID:      pub.JobID,
		Status:     string(pub.Status),
		PageID:     pub.TargetPageID,
		PageURL:    pub.TargetPageURL,
		SpaceKey:   pub.SpaceKey,
		Title:      pub.Title,
		Error:      pub.ErrorMessage,
		RetryCount: pub.RetryCount,
		CreatedAt:  formatTime(pub.CreatedAt),
		UpdatedAt:  formatTime(pub.UpdatedAt),
	}
	if pub.LastRetryAt != nil {
		dto.LastRetryAt = formatTime(*pub.LastRetryAt)
	}
	return dto
}

// FromPublications converts a slice of publication records.
func FromPublications(list []*jobs.Publication) []PublicationView {
	out := make([]PublicationView, 0, len(list))
	for _, pub := range list {
		if pub == nil {
			continue
		}
		out = append(out, FromPublication(pub))
	}
	return out
}

// FromHealthSummary converts store counters.
func FromHealthSummary(h jobs.HealthSummary) JobStats {
	return JobStats{
		Total:     h.Total,
		Queued:    h.Queued,
		Active:    h.Active,
		Completed: h.Completed,
		Failed:    h.Failed,
		Cancelled: h.Cancelled,
		Published: h.Published,
	}
}

// FromStatusSummary converts workflow status into its API representation.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	status := WorkflowStatus{
		Running:            summary.Running,
		Workers:            summary.Workers,
		Active:             make([]ActiveJobView, 0, len(summary.Active)),
		Stats:              FromHealthSummary(summary.Stats),
		LastError:          summary.LastError,
		PublicationEnabled: summary.PublicationEnabled,
	}
	for _, active := range summary.Active {
		status.Active = append(status.Active, ActiveJobView{
			ID:        active.ID,
			UserID:    active.UserID,
			StartedAt: formatTime(active.Started),
		})
	}
	slices.SortFunc(status.Active, func(a, b ActiveJobView) int {
		return strings.Compare(a.StartedAt+a.ID, b.StartedAt+b.ID)
	})
	if summary.LastJob != nil {
		last := FromJob(summary.LastJob)
		status.LastJob = &last
	}
	return status
}

// FromDatabaseHealth converts store diagnostics into the health payload.
func FromDatabaseHealth(h jobs.DatabaseHealth) HealthResponse {
	resp := HealthResponse{
		Status:        "ok",
		SchemaVersion: h.SchemaVersion,
		Integrity:     h.IntegrityCheck,
		MissingTables: h.MissingTables,
		Error:         h.Error,
	}
	if h.Error != "" || !h.IntegrityCheck || len(h.MissingTables) > 0 {
		resp.Status = "degraded"
	}
	return resp
}

// FromTemplates converts catalog templates.
func FromTemplates(list []templates.Template) []TemplateView {
	out := make([]TemplateView, 0, len(list))
	for _, tpl := range list {
		out = append(out, TemplateView{
			Name:              tpl.Name,
			DisplayName:       tpl.DisplayName,
			Description:       tpl.Description,
			Keywords:          slices.Clone(tpl.Keywords),
			MinKeywordMatches: tpl.MinKeywordMatches,
		})
	}
	return out
}

// FromError converts an error into the response body shared by transports.
func FromError(err error) ErrorResponse {
	details := services.Details(err)
	return ErrorResponse{
		Error: details.Message,
		Kind:  details.Kind,
		Hint:  details.Hint,
	}
}

// SortJobsNewestFirst orders jobs by CreatedAt descending, breaking ties by ID.
func SortJobsNewestFirst(views []JobView) []JobView {
	if len(views) == 0 {
		return nil
	}
	sorted := slices.Clone(views)
	slices.SortStableFunc(sorted, func(a, b JobView) int {
		ta, tb := ParseTime(a.CreatedAt), ParseTime(b.CreatedAt)
		if c := tb.Compare(ta); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return sorted
}

// ParseTime parses a payload timestamp, returning the zero time for empty or
// malformed values.
func ParseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
