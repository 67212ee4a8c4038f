package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"minutes/internal/jobs"
	"minutes/internal/logging"
)

// DefaultSubscribeInterval is how often Subscribe polls the store.
const DefaultSubscribeInterval = time.Second

// Subscribe streams a job's view whenever its state changes. The first value
// is the current state. The channel closes when ctx ends, the job is removed,
// or the job reaches a state nothing will move it out of on its own.
func (s *Service) Subscribe(ctx context.Context, userID, jobID string, interval time.Duration) (<-chan JobView, error) {
	job, err := s.store.GetForUser(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = DefaultSubscribeInterval
	}
	updates := make(chan JobView, 1)
	go s.watch(ctx, userID, job, interval, updates)
	return updates, nil
}

func (s *Service) watch(ctx context.Context, userID string, job *jobs.Job, interval time.Duration, updates chan<- JobView) {
	defer close(updates)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last string
	for {
		if key := changeKey(job); key != last {
			last = key
			select {
			case updates <- s.view(ctx, job):
			case <-ctx.Done():
				return
			}
		}
		if s.settled(job) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		next, err := s.store.GetForUser(ctx, userID, job.ID)
		switch {
		case errors.Is(err, jobs.ErrJobNotFound):
			return
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			s.logger.Debug("subscription poll failed",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err),
			)
			continue
		}
		job = next
	}
}

// settled reports whether a job will stay in its status until a user acts.
func (s *Service) settled(job *jobs.Job) bool {
	switch job.Status {
	case jobs.StatusError, jobs.StatusCancelled, jobs.StatusPublished, jobs.StatusPublishFailed:
		return true
	case jobs.StatusCompleted:
		autoPublish := s.publisher != nil && (job.PublishRequested || s.cfg.Publication.AutoPublish)
		return !autoPublish
	default:
		return false
	}
}

func changeKey(job *jobs.Job) string {
	return fmt.Sprintf("%s|%s|%d|%s|%t", job.UpdatedAt.UTC().Format(time.RFC3339Nano), job.Status, job.Progress, job.Message, job.CancelRequested)
}
