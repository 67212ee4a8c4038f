package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SavePublication writes a publication record. New records (ID 0) are
// upserted on (job_id, target_page_id) so repeated attempts against the same
// page share one row; existing records are updated in place, which is how a
// failed first attempt receives its page id later.
func (s *Store) SavePublication(ctx context.Context, pub *Publication) error {
	if pub == nil {
		return errors.New("save publication: nil publication")
	}
	ctx = ensureContext(ctx)
	now := s.now().UTC()
	if pub.Status == "" {
		pub.Status = PublicationPending
	}
	pub.UpdatedAt = now

	if pub.ID != 0 {
		res, err := s.execWithRetry(ctx, `UPDATE publications SET
			target_page_id = ?, target_page_url = ?, space_key = ?, parent_page_id = ?, title = ?,
			status = ?, error_message = ?, retry_count = ?, last_retry_at = ?, updated_at = ?
			WHERE publication_id = ?`,
			pub.TargetPageID,
			nullableString(pub.TargetPageURL),
			pub.SpaceKey,
			nullableString(pub.ParentPageID),
			pub.Title,
			string(pub.Status),
			nullableString(pub.ErrorMessage),
			pub.RetryCount,
			nullableTime(pub.LastRetryAt),
			formatTime(now),
			pub.ID,
		)
		if err != nil {
			return storageErr("save publication", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrPublicationNotFound
		}
		return nil
	}

	pub.CreatedAt = now
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, `INSERT INTO publications (
			job_id, target_page_id, target_page_url, space_key, parent_page_id, title,
			status, error_message, retry_count, last_retry_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id, target_page_id) DO UPDATE SET
			target_page_url = excluded.target_page_url,
			space_key = excluded.space_key,
			parent_page_id = excluded.parent_page_id,
			title = excluded.title,
			status = excluded.status,
			error_message = excluded.error_message,
			retry_count = excluded.retry_count,
			last_retry_at = excluded.last_retry_at,
			updated_at = excluded.updated_at
		RETURNING publication_id, created_at`,
			pub.JobID,
			pub.TargetPageID,
			nullableString(pub.TargetPageURL),
			pub.SpaceKey,
			nullableString(pub.ParentPageID),
			pub.Title,
			string(pub.Status),
			nullableString(pub.ErrorMessage),
			pub.RetryCount,
			nullableTime(pub.LastRetryAt),
			formatTime(now),
			formatTime(now),
		).Scan(&pub.ID, new(string))
	})
	if err != nil {
		return storageErr("save publication", err)
	}
	return nil
}

// GetPublication fetches a publication by id regardless of owner.
func (s *Store) GetPublication(ctx context.Context, id int64) (*Publication, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		"SELECT "+publicationColumns+" FROM publications WHERE publication_id = ?", id)
	return scanOnePublication(row)
}

// PublicationForUser fetches a publication whose job belongs to userID.
func (s *Store) PublicationForUser(ctx context.Context, userID string, id int64) (*Publication, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+prefixedPublicationColumns+` FROM publications p
		 JOIN jobs j ON j.job_id = p.job_id
		 WHERE p.publication_id = ? AND j.user_id = ?`, id, userID)
	return scanOnePublication(row)
}

// ListPublications returns a job's publication records, oldest first.
func (s *Store) ListPublications(ctx context.Context, jobID string) ([]*Publication, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		"SELECT "+publicationColumns+" FROM publications WHERE job_id = ? ORDER BY created_at, publication_id", jobID)
	if err != nil {
		return nil, storageErr("list publications", err)
	}
	defer rows.Close()

	var out []*Publication
	for rows.Next() {
		pub, err := scanPublication(rows)
		if err != nil {
			return nil, storageErr("list publications", err)
		}
		out = append(out, pub)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list publications", err)
	}
	return out, nil
}

// LatestPublication returns the most recently updated publication for a job,
// or ErrPublicationNotFound.
func (s *Store) LatestPublication(ctx context.Context, jobID string) (*Publication, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		"SELECT "+publicationColumns+" FROM publications WHERE job_id = ? ORDER BY updated_at DESC, publication_id DESC LIMIT 1", jobID)
	return scanOnePublication(row)
}

// BeginPublicationRetry moves a failed publication to retrying when it still
// has retries left. Exhausted records stay failed and ErrRetryLimit is
// returned.
func (s *Store) BeginPublicationRetry(ctx context.Context, id int64, maxRetries int) (*Publication, error) {
	ctx = ensureContext(ctx)
	var result *Publication
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			"SELECT "+publicationColumns+" FROM publications WHERE publication_id = ?", id)
		pub, err := scanPublication(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPublicationNotFound
		}
		if err != nil {
			return err
		}
		if pub.Status != PublicationFailed {
			return fmt.Errorf("%w: publication is %s, only failed publications can be retried", ErrInvalidTransition, pub.Status)
		}
		if pub.RetryCount >= maxRetries {
			return fmt.Errorf("%w: %d of %d retries used", ErrRetryLimit, pub.RetryCount, maxRetries)
		}
		now := s.now().UTC()
		res, err := tx.ExecContext(ctx,
			"UPDATE publications SET status = ?, updated_at = ? WHERE publication_id = ? AND status = ?",
			string(PublicationRetrying), formatTime(now), id, string(PublicationFailed))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrConflict
		}
		pub.Status = PublicationRetrying
		pub.UpdatedAt = now
		result = pub
		return nil
	})
	if err != nil {
		return nil, storageErr("retry publication", err)
	}
	return result, nil
}

const prefixedPublicationColumns = "p.publication_id, p.job_id, p.target_page_id, p.target_page_url, p.space_key, p.parent_page_id, p.title, p.status, p.error_message, p.retry_count, p.last_retry_at, p.created_at, p.updated_at"

func scanOnePublication(row rowScanner) (*Publication, error) {
	pub, err := scanPublication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPublicationNotFound
	}
	if err != nil {
		return nil, storageErr("get publication", err)
	}
	return pub, nil
}
