package jobs

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

const jobColumns = "job_id, user_id, filename, template, resolved_template, status, progress, message, source_file_path, transcript_file_path, summary_file_path, docx_file_path, media_kind, duration_seconds, chunk_count, error, metadata_json, publish_requested, cancel_requested, attempt, created_at, updated_at, completed_at, last_heartbeat"

const publicationColumns = "publication_id, job_id, target_page_id, target_page_url, space_key, parent_page_id, title, status, error_message, retry_count, last_retry_at, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(scanner rowScanner) (*Job, error) {
	var (
		job              Job
		statusStr        string
		resolved         sql.NullString
		message          sql.NullString
		sourcePath       sql.NullString
		transcriptPath   sql.NullString
		summaryPath      sql.NullString
		docxPath         sql.NullString
		mediaKind        sql.NullString
		errorMessage     sql.NullString
		metadata         sql.NullString
		publishRequested int
		cancelRequested  int
		createdRaw       string
		updatedRaw       string
		completedRaw     sql.NullString
		heartbeatRaw     sql.NullString
	)
	if err := scanner.Scan(
		&job.ID,
		&job.UserID,
		&job.Filename,
		&job.Template,
		&resolved,
		&statusStr,
		&job.Progress,
		&message,
		&sourcePath,
		&transcriptPath,
		&summaryPath,
		&docxPath,
		&mediaKind,
		&job.DurationSeconds,
		&job.ChunkCount,
		&errorMessage,
		&metadata,
		&publishRequested,
		&cancelRequested,
		&job.Attempt,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
		&heartbeatRaw,
	); err != nil {
		return nil, err
	}

	job.Status = Status(statusStr)
	job.ResolvedTemplate = resolved.String
	job.Message = message.String
	job.SourcePath = sourcePath.String
	job.TranscriptPath = transcriptPath.String
	job.SummaryPath = summaryPath.String
	job.DocxPath = docxPath.String
	job.MediaKind = mediaKind.String
	job.Error = errorMessage.String
	job.Metadata = decodeMetadata(metadata.String)
	job.PublishRequested = publishRequested != 0
	job.CancelRequested = cancelRequested != 0

	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	job.CompletedAt = parseNullableTime(completedRaw)
	job.LastHeartbeat = parseNullableTime(heartbeatRaw)
	return &job, nil
}

func scanPublication(scanner rowScanner) (*Publication, error) {
	var (
		pub          Publication
		statusStr    string
		pageURL      sql.NullString
		parentID     sql.NullString
		errorMessage sql.NullString
		retryRaw     sql.NullString
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(
		&pub.ID,
		&pub.JobID,
		&pub.TargetPageID,
		&pageURL,
		&pub.SpaceKey,
		&parentID,
		&pub.Title,
		&statusStr,
		&errorMessage,
		&pub.RetryCount,
		&retryRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	pub.Status = PublicationStatus(statusStr)
	pub.TargetPageURL = pageURL.String
	pub.ParentPageID = parentID.String
	pub.ErrorMessage = errorMessage.String
	pub.LastRetryAt = parseNullableTime(retryRaw)
	if created, err := parseTimeString(createdRaw); err == nil {
		pub.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		pub.UpdatedAt = updated
	}
	return &pub, nil
}

func encodeMetadata(values map[string]string) string {
	if len(values) == 0 {
		return "{}"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func decodeMetadata(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "{}" {
		return nil
	}
	var values map[string]string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	return values
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &t
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}

func statusArgs(statuses []Status) []any {
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = string(status)
	}
	return args
}
