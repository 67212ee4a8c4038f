package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Create inserts a new job. Empty IDs are filled with a random UUID and the
// status defaults to uploaded.
func (s *Store) Create(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("create job: nil job")
	}
	if strings.TrimSpace(job.UserID) == "" {
		return errors.New("create job: user id is required")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = StatusUploaded
	}
	if job.Template == "" {
		job.Template = "auto"
	}
	if job.Attempt <= 0 {
		job.Attempt = 1
	}
	now := s.now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := s.execWithRetry(ctx, `INSERT INTO jobs (
		job_id, user_id, filename, template, resolved_template, status, progress, message,
		source_file_path, transcript_file_path, summary_file_path, docx_file_path,
		media_kind, duration_seconds, chunk_count, error, metadata_json,
		publish_requested, cancel_requested, attempt, created_at, updated_at, completed_at, last_heartbeat
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.UserID,
		job.Filename,
		job.Template,
		nullableString(job.ResolvedTemplate),
		string(job.Status),
		job.Progress,
		nullableString(job.Message),
		nullableString(job.SourcePath),
		nullableString(job.TranscriptPath),
		nullableString(job.SummaryPath),
		nullableString(job.DocxPath),
		nullableString(job.MediaKind),
		job.DurationSeconds,
		job.ChunkCount,
		nullableString(job.Error),
		encodeMetadata(job.Metadata),
		boolToInt(job.PublishRequested),
		boolToInt(job.CancelRequested),
		job.Attempt,
		formatTime(now),
		formatTime(now),
		nullableTime(job.CompletedAt),
		nullableTime(job.LastHeartbeat),
	)
	if err != nil {
		return storageErr("create job", err)
	}
	return nil
}

// Get fetches a job by id regardless of owner. Workers use it; every path
// reachable by users goes through GetForUser.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		"SELECT "+jobColumns+" FROM jobs WHERE job_id = ?", id)
	return s.scanOne(row, "get job")
}

// GetForUser fetches a job owned by userID. Jobs of other users are reported
// as ErrJobNotFound.
func (s *Store) GetForUser(ctx context.Context, userID, id string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		"SELECT "+jobColumns+" FROM jobs WHERE job_id = ? AND user_id = ?", id, userID)
	return s.scanOne(row, "get job")
}

func (s *Store) scanOne(row rowScanner, op string) (*Job, error) {
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, storageErr(op, err)
	}
	return job, nil
}

// ListForUser returns the user's jobs newest first, optionally filtered by
// status.
func (s *Store) ListForUser(ctx context.Context, userID string, statuses ...Status) ([]*Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs WHERE user_id = ?"
	args := []any{userID}
	if len(statuses) > 0 {
		query += " AND status IN (" + makePlaceholders(len(statuses)) + ")"
		args = append(args, statusArgs(statuses)...)
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	return s.queryJobs(ctx, "list jobs", query, args...)
}

// List returns every job in the given statuses, oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs"
	var args []any
	if len(statuses) > 0 {
		query += " WHERE status IN (" + makePlaceholders(len(statuses)) + ")"
		args = statusArgs(statuses)
	}
	query += " ORDER BY created_at, rowid"
	return s.queryJobs(ctx, "list jobs", query, args...)
}

func (s *Store) queryJobs(ctx context.Context, op, query string, args ...any) ([]*Job, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return out, nil
}

// ClaimNext moves the oldest uploaded job to validating and returns it. It
// returns nil when nothing is waiting. Two concurrent callers never receive
// the same job.
func (s *Store) ClaimNext(ctx context.Context) (*Job, error) {
	ctx = ensureContext(ctx)
	var claimed *Job
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		claimed = nil
		row := tx.QueryRowContext(ctx,
			"SELECT "+jobColumns+" FROM jobs WHERE status = ? AND cancel_requested = 0 ORDER BY created_at, rowid LIMIT 1",
			string(StatusUploaded))
		job, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		now := s.now().UTC()
		res, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, message = ?, last_heartbeat = ?, updated_at = ?
			 WHERE job_id = ? AND status = ?`,
			string(StatusValidating), "Validating media", formatTime(now), formatTime(now),
			job.ID, string(StatusUploaded))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		job.Status = StatusValidating
		job.Message = "Validating media"
		job.LastHeartbeat = &now
		job.UpdatedAt = now
		claimed = job
		return nil
	})
	if err != nil {
		return nil, storageErr("claim job", err)
	}
	return claimed, nil
}

// Transition moves a job from one status to another inside a single
// transaction. mutate may adjust other fields of the loaded job before it is
// written back. ErrConflict is returned when the job is no longer in from;
// ErrInvalidTransition when the lifecycle forbids the move.
func (s *Store) Transition(ctx context.Context, id string, from, to Status, mutate func(*Job)) (*Job, error) {
	if !CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	ctx = ensureContext(ctx)
	var updated *Job
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE job_id = ?", id)
		job, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		if job.Status != from {
			return fmt.Errorf("%w: expected %s, found %s", ErrConflict, from, job.Status)
		}
		progress := job.Progress
		if mutate != nil {
			mutate(job)
		}
		if job.Progress < progress {
			job.Progress = progress
		}
		job.Status = to
		s.stampTransition(job)
		if err := updateJobTx(ctx, tx, job, from); err != nil {
			return err
		}
		updated = job
		return nil
	})
	if err != nil {
		return nil, storageErr("transition job", err)
	}
	return updated, nil
}

func (s *Store) stampTransition(job *Job) {
	now := s.now().UTC()
	job.UpdatedAt = now
	switch {
	case job.Status.IsInPipeline() || job.Status == StatusPublishing:
		job.LastHeartbeat = &now
	default:
		job.LastHeartbeat = nil
	}
	switch job.Status {
	case StatusCompleted, StatusError, StatusCancelled:
		if job.CompletedAt == nil {
			job.CompletedAt = &now
		}
	}
}

// updateJobTx writes every mutable column, guarded by the expected current
// status. Progress only ever increases.
func updateJobTx(ctx context.Context, tx *sql.Tx, job *Job, expected Status) error {
	res, err := tx.ExecContext(ctx, `UPDATE jobs SET
		resolved_template = ?, status = ?, progress = MAX(progress, ?), message = ?,
		source_file_path = ?, transcript_file_path = ?, summary_file_path = ?, docx_file_path = ?,
		media_kind = ?, duration_seconds = ?, chunk_count = ?, error = ?, metadata_json = ?,
		publish_requested = ?, cancel_requested = ?, attempt = ?, updated_at = ?, completed_at = ?, last_heartbeat = ?
		WHERE job_id = ? AND status = ?`,
		nullableString(job.ResolvedTemplate),
		string(job.Status),
		job.Progress,
		nullableString(job.Message),
		nullableString(job.SourcePath),
		nullableString(job.TranscriptPath),
		nullableString(job.SummaryPath),
		nullableString(job.DocxPath),
		nullableString(job.MediaKind),
		job.DurationSeconds,
		job.ChunkCount,
		nullableString(job.Error),
		encodeMetadata(job.Metadata),
		boolToInt(job.PublishRequested),
		boolToInt(job.CancelRequested),
		job.Attempt,
		formatTime(job.UpdatedAt),
		nullableTime(job.CompletedAt),
		nullableTime(job.LastHeartbeat),
		job.ID,
		string(expected),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// Update persists field changes that do not alter the status, such as
// metadata written mid-stage. The job must still be in job.Status.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("update job: nil job")
	}
	ctx = ensureContext(ctx)
	job.UpdatedAt = s.now().UTC()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		return updateJobTx(ctx, tx, job, job.Status)
	})
	return storageErr("update job", err)
}

// UpdateProgress raises the job's progress while it is still in status. A
// lower percent keeps the stored value and only replaces the message.
func (s *Store) UpdateProgress(ctx context.Context, id string, status Status, percent int, message string) error {
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET progress = MAX(progress, ?), message = COALESCE(?, message), updated_at = ?
		 WHERE job_id = ? AND status = ?`,
		percent, nullableString(strings.TrimSpace(message)), s.timestamp(), id, string(status))
	if err != nil {
		return storageErr("update progress", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// RequestCancel cancels a job on behalf of its owner. Jobs still waiting are
// cancelled immediately; jobs held by a worker are flagged and the worker
// stops at its next checkpoint.
func (s *Store) RequestCancel(ctx context.Context, userID, id string) (*Job, error) {
	ctx = ensureContext(ctx)
	var result *Job
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			"SELECT "+jobColumns+" FROM jobs WHERE job_id = ? AND user_id = ?", id, userID)
		job, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		expected := job.Status
		switch {
		case job.Status == StatusUploaded:
			job.Status = StatusCancelled
			job.Message = "Cancelled"
			job.CancelRequested = true
			s.stampTransition(job)
		case job.Status.IsInPipeline():
			job.CancelRequested = true
			job.UpdatedAt = s.now().UTC()
		default:
			return fmt.Errorf("%w: cannot cancel job in status %s", ErrInvalidTransition, job.Status)
		}
		if err := updateJobTx(ctx, tx, job, expected); err != nil {
			return err
		}
		result = job
		return nil
	})
	if err != nil {
		return nil, storageErr("cancel job", err)
	}
	return result, nil
}

// RetryFailed puts a failed job owned by userID back in the queue for a new
// attempt. The attempt counter increments, progress restarts at zero and the
// upload is reused. Jobs in any other status return ErrInvalidTransition;
// losing a race with another writer returns ErrConflict.
func (s *Store) RetryFailed(ctx context.Context, userID, id string) (*Job, error) {
	ctx = ensureContext(ctx)
	var result *Job
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			"SELECT "+jobColumns+" FROM jobs WHERE job_id = ? AND user_id = ?", id, userID)
		job, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		if !CanTransition(job.Status, StatusUploaded) {
			return fmt.Errorf("%w: cannot retry job in status %s", ErrInvalidTransition, job.Status)
		}
		// Progress is written directly: updateJobTx never lowers it.
		res, err := tx.ExecContext(ctx, `UPDATE jobs SET
			status = ?, progress = 0, message = ?, error = NULL, attempt = attempt + 1,
			cancel_requested = 0, completed_at = NULL, last_heartbeat = NULL, updated_at = ?
			WHERE job_id = ? AND status = ? AND attempt = ?`,
			string(StatusUploaded), "Retry requested", s.timestamp(),
			job.ID, string(StatusError), job.Attempt)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: job %s left error before retry", ErrConflict, job.ID)
		}
		result, err = scanJob(tx.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE job_id = ?", job.ID))
		return err
	})
	if err != nil {
		return nil, storageErr("retry job", err)
	}
	return result, nil
}

// IsCancelRequested reports whether the job was cancelled or flagged for
// cancellation.
func (s *Store) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	var (
		flag   int
		status string
	)
	err := s.db.QueryRowContext(ensureContext(ctx),
		"SELECT cancel_requested, status FROM jobs WHERE job_id = ?", id).Scan(&flag, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrJobNotFound
	}
	if err != nil {
		return false, storageErr("check cancel", err)
	}
	return flag != 0 || Status(status) == StatusCancelled, nil
}

// Heartbeat refreshes the liveness timestamp of a job held by a worker.
func (s *Store) Heartbeat(ctx context.Context, id string) error {
	active := append(append([]Status{}, pipelineStatuses...), StatusPublishing)
	args := []any{s.timestamp(), id}
	args = append(args, statusArgs(active)...)
	res, err := s.execWithRetry(ctx,
		"UPDATE jobs SET last_heartbeat = ? WHERE job_id = ? AND status IN ("+makePlaceholders(len(active))+")",
		args...)
	if err != nil {
		return storageErr("heartbeat", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// ReclaimStale fails jobs whose worker stopped heart-beating before cutoff.
// Pipeline jobs move to error because their chunk files live in a temporary
// workspace that did not survive; publishing jobs move to publish_failed so
// the publication can be retried.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx = ensureContext(ctx)
	var total int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		total = 0
		now := s.timestamp()
		limit := formatTime(cutoff)

		args := []any{string(StatusError), "worker lost", "Failed", now, now}
		args = append(args, statusArgs(pipelineStatuses)...)
		args = append(args, limit)
		res, err := tx.ExecContext(ctx, `UPDATE jobs SET
			status = ?, error = ?, message = ?, last_heartbeat = NULL, completed_at = COALESCE(completed_at, ?), updated_at = ?
			WHERE status IN (`+makePlaceholders(len(pipelineStatuses))+`)
			AND (last_heartbeat IS NULL OR last_heartbeat < ?)`, args...)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		total += n

		if _, err := tx.ExecContext(ctx, `UPDATE publications SET
			status = ?, error_message = ?, updated_at = ?
			WHERE status IN (?, ?) AND job_id IN (
				SELECT job_id FROM jobs WHERE status = ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)
			)`,
			string(PublicationFailed), "worker lost", now,
			string(PublicationPending), string(PublicationRetrying),
			string(StatusPublishing), limit); err != nil {
			return err
		}
		res, err = tx.ExecContext(ctx, `UPDATE jobs SET
			status = ?, message = ?, last_heartbeat = NULL, updated_at = ?
			WHERE status = ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)`,
			string(StatusPublishFailed), "Publication interrupted", now,
			string(StatusPublishing), limit)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		total += n
		return nil
	})
	if err != nil {
		return 0, storageErr("reclaim stale jobs", err)
	}
	return total, nil
}

// Stats returns job counts grouped for status displays.
func (s *Store) Stats(ctx context.Context) (HealthSummary, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), "SELECT status, COUNT(*) FROM jobs GROUP BY status")
	if err != nil {
		return HealthSummary{}, storageErr("job stats", err)
	}
	defer rows.Close()

	var summary HealthSummary
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return HealthSummary{}, storageErr("job stats", err)
		}
		summary.Total += count
		switch st := Status(status); {
		case st == StatusUploaded:
			summary.Queued += count
		case st.IsInPipeline() || st == StatusPublishing:
			summary.Active += count
		case st == StatusCompleted:
			summary.Completed += count
		case st == StatusPublished:
			summary.Published += count
		case st == StatusCancelled:
			summary.Cancelled += count
		case st == StatusError || st == StatusPublishFailed:
			summary.Failed += count
		}
	}
	if err := rows.Err(); err != nil {
		return HealthSummary{}, storageErr("job stats", err)
	}
	return summary, nil
}

// ActiveCount returns how many jobs are held by workers.
func (s *Store) ActiveCount(ctx context.Context) (int, error) {
	active := append(append([]Status{}, pipelineStatuses...), StatusPublishing)
	var count int
	err := s.db.QueryRowContext(ensureContext(ctx),
		"SELECT COUNT(*) FROM jobs WHERE status IN ("+makePlaceholders(len(active))+")",
		statusArgs(active)...).Scan(&count)
	if err != nil {
		return 0, storageErr("active count", err)
	}
	return count, nil
}

// RemoveForUser deletes a job the user owns together with its publication
// records. Jobs held by a worker cannot be removed. The deleted job is
// returned so the caller can clean up its files.
func (s *Store) RemoveForUser(ctx context.Context, userID, id string) (*Job, error) {
	ctx = ensureContext(ctx)
	var removed *Job
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			"SELECT "+jobColumns+" FROM jobs WHERE job_id = ? AND user_id = ?", id, userID)
		job, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		if job.Status.IsInPipeline() || job.Status == StatusPublishing {
			return fmt.Errorf("%w: job is being processed", ErrInvalidTransition)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM jobs WHERE job_id = ?", id); err != nil {
			return err
		}
		removed = job
		return nil
	})
	if err != nil {
		return nil, storageErr("remove job", err)
	}
	return removed, nil
}

