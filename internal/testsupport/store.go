package testsupport

import (
	"context"
	"testing"

	"minutes/internal/config"
	"minutes/internal/jobs"
)

// MustOpenStore opens a jobs.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()

	store, err := jobs.Open(cfg)
	if err != nil {
		t.Fatalf("jobs.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// MustCreateJob inserts an uploaded job for userID and returns it.
func MustCreateJob(t testing.TB, store *jobs.Store, userID, filename string) *jobs.Job {
	t.Helper()

	job := &jobs.Job{UserID: userID, Filename: filename, Status: jobs.StatusUploaded}
	if err := store.Create(context.Background(), job); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return job
}

// MustAdvance walks a job through the listed statuses in order.
func MustAdvance(t testing.TB, store *jobs.Store, job *jobs.Job, path ...jobs.Status) *jobs.Job {
	t.Helper()

	current := job
	for _, next := range path {
		updated, err := store.Transition(context.Background(), current.ID, current.Status, next, nil)
		if err != nil {
			t.Fatalf("Transition %s -> %s failed: %v", current.Status, next, err)
		}
		current = updated
	}
	return current
}
