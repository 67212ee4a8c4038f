package jobs_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"minutes/internal/jobs"
	"minutes/internal/services"
	"minutes/internal/testsupport"
)

func TestCreateAndGetForUser(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := &jobs.Job{
		UserID:   "alice",
		Filename: "weekly.mp3",
		Metadata: map[string]string{"source": "bot"},
	}
	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected job ID to be assigned")
	}
	if job.Status != jobs.StatusUploaded || job.Template != "auto" || job.Attempt != 1 {
		t.Fatalf("unexpected defaults: %#v", job)
	}

	fetched, err := store.GetForUser(ctx, "alice", job.ID)
	if err != nil {
		t.Fatalf("GetForUser failed: %v", err)
	}
	if fetched.Filename != "weekly.mp3" || fetched.MetadataValue("source") != "bot" {
		t.Fatalf("unexpected fetched job: %#v", fetched)
	}

	if _, err := store.GetForUser(ctx, "mallory", job.ID); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound for foreign user, got %v", err)
	}
	if !errors.Is(jobs.ErrJobNotFound, services.ErrNotFound) {
		t.Fatal("expected ErrJobNotFound to carry the not found marker")
	}
}

func TestListForUserIsolatesOwners(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tick := 0
	store.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})

	first := testsupport.MustCreateJob(t, store, "alice", "one.mp3")
	testsupport.MustCreateJob(t, store, "bob", "two.mp3")
	second := testsupport.MustCreateJob(t, store, "alice", "three.mp3")

	list, err := store.ListForUser(ctx, "alice")
	if err != nil {
		t.Fatalf("ListForUser failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 jobs for alice, got %d", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("expected newest first, got %s then %s", list[0].Filename, list[1].Filename)
	}

	filtered, err := store.ListForUser(ctx, "bob", jobs.StatusCompleted)
	if err != nil {
		t.Fatalf("ListForUser filtered failed: %v", err)
	}
	if len(filtered) != 0 {
		t.Fatalf("expected no completed jobs for bob, got %d", len(filtered))
	}
}

func TestClaimNextIsFIFO(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tick := 0
	store.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	})

	first := testsupport.MustCreateJob(t, store, "alice", "a.mp3")
	second := testsupport.MustCreateJob(t, store, "bob", "b.mp3")

	claimed, err := store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if claimed == nil || claimed.ID != first.ID {
		t.Fatalf("expected first job to be claimed, got %#v", claimed)
	}
	if claimed.Status != jobs.StatusValidating || claimed.LastHeartbeat == nil {
		t.Fatalf("expected validating job with heartbeat, got %#v", claimed)
	}

	claimed, err = store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if claimed == nil || claimed.ID != second.ID {
		t.Fatalf("expected second job to be claimed, got %#v", claimed)
	}

	claimed, err = store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if claimed != nil {
		t.Fatalf("expected empty queue, got %#v", claimed)
	}
}

func TestClaimNextConcurrentWorkersNeverShareJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	const total = 8
	for i := 0; i < total; i++ {
		testsupport.MustCreateJob(t, store, "alice", "call.mp3")
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := store.ClaimNext(ctx)
				if err != nil {
					t.Errorf("ClaimNext failed: %v", err)
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("expected %d distinct claims, got %d", total, len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("job %s claimed %d times", id, count)
		}
	}
}

func TestTransitionCompareAndSet(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.MustCreateJob(t, store, "alice", "a.mp3")
	job = testsupport.MustAdvance(t, store, job, jobs.StatusValidating)

	updated, err := store.Transition(ctx, job.ID, jobs.StatusValidating, jobs.StatusChunking, func(j *jobs.Job) {
		j.MediaKind = "native"
		j.SetProgress(5, "Splitting audio")
	})
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if updated.Status != jobs.StatusChunking || updated.MediaKind != "native" || updated.Progress != 5 {
		t.Fatalf("unexpected transition result: %#v", updated)
	}

	if _, err := store.Transition(ctx, job.ID, jobs.StatusValidating, jobs.StatusChunking, nil); !errors.Is(err, jobs.ErrConflict) {
		t.Fatalf("expected ErrConflict for stale from-status, got %v", err)
	}
	if _, err := store.Transition(ctx, job.ID, jobs.StatusChunking, jobs.StatusPublished, nil); !errors.Is(err, jobs.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := store.Transition(ctx, "missing", jobs.StatusChunking, jobs.StatusTranscribing, nil); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestTransitionSetsCompletedAt(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	job := testsupport.MustCreateJob(t, store, "alice", "a.mp3")
	job = testsupport.MustAdvance(t, store, job,
		jobs.StatusValidating, jobs.StatusChunking, jobs.StatusTranscribing, jobs.StatusSummarizing, jobs.StatusCompleted)

	if job.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}
	if job.LastHeartbeat != nil {
		t.Fatal("expected heartbeat to be cleared on completion")
	}
	fetched, err := store.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched.Status != jobs.StatusCompleted || fetched.CompletedAt == nil {
		t.Fatalf("unexpected stored job: %#v", fetched)
	}
}

func TestUpdateProgressIsMonotonic(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.MustCreateJob(t, store, "alice", "a.mp3")
	job = testsupport.MustAdvance(t, store, job, jobs.StatusValidating, jobs.StatusChunking, jobs.StatusTranscribing)

	if err := store.UpdateProgress(ctx, job.ID, jobs.StatusTranscribing, 40, "Chunk 2/4"); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}
	if err := store.UpdateProgress(ctx, job.ID, jobs.StatusTranscribing, 25, "Chunk 3/4"); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}
	fetched, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched.Progress != 40 {
		t.Fatalf("expected progress to stay at 40, got %d", fetched.Progress)
	}
	if fetched.Message != "Chunk 3/4" {
		t.Fatalf("expected message to update, got %q", fetched.Message)
	}

	if err := store.UpdateProgress(ctx, job.ID, jobs.StatusSummarizing, 80, "x"); !errors.Is(err, jobs.ErrConflict) {
		t.Fatalf("expected ErrConflict for wrong status, got %v", err)
	}

	moved, err := store.Transition(ctx, job.ID, jobs.StatusTranscribing, jobs.StatusSummarizing, func(j *jobs.Job) {
		j.Progress = 10
	})
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if moved.Progress != 40 {
		t.Fatalf("expected transition to keep progress at 40, got %d", moved.Progress)
	}
}

func TestRequestCancel(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	waiting := testsupport.MustCreateJob(t, store, "alice", "a.mp3")
	cancelled, err := store.RequestCancel(ctx, "alice", waiting.ID)
	if err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	if cancelled.Status != jobs.StatusCancelled {
		t.Fatalf("expected waiting job to be cancelled immediately, got %s", cancelled.Status)
	}

	running := testsupport.MustCreateJob(t, store, "alice", "b.mp3")
	running = testsupport.MustAdvance(t, store, running, jobs.StatusValidating, jobs.StatusChunking)
	flagged, err := store.RequestCancel(ctx, "alice", running.ID)
	if err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	if flagged.Status != jobs.StatusChunking || !flagged.CancelRequested {
		t.Fatalf("expected running job to be flagged, got %#v", flagged)
	}
	requested, err := store.IsCancelRequested(ctx, running.ID)
	if err != nil {
		t.Fatalf("IsCancelRequested failed: %v", err)
	}
	if !requested {
		t.Fatal("expected cancel to be requested")
	}

	if _, err := store.RequestCancel(ctx, "bob", running.ID); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound for foreign user, got %v", err)
	}
	if _, err := store.RequestCancel(ctx, "alice", waiting.ID); !errors.Is(err, jobs.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for cancelled job, got %v", err)
	}
}

func TestRetryFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.MustCreateJob(t, store, "alice", "a.mp3")
	job = testsupport.MustAdvance(t, store, job, jobs.StatusValidating, jobs.StatusChunking, jobs.StatusTranscribing)
	if err := store.UpdateProgress(ctx, job.ID, jobs.StatusTranscribing, 40, "Chunk 2/4"); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}
	failed, err := store.Transition(ctx, job.ID, jobs.StatusTranscribing, jobs.StatusError, func(j *jobs.Job) {
		j.SetFailed("transcription: quota exhausted")
	})
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if failed.Attempt != 1 {
		t.Fatalf("expected first attempt, got %d", failed.Attempt)
	}

	if _, err := store.RetryFailed(ctx, "bob", job.ID); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound for foreign user, got %v", err)
	}

	retried, err := store.RetryFailed(ctx, "alice", job.ID)
	if err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	if retried.Status != jobs.StatusUploaded || retried.Attempt != 2 {
		t.Fatalf("expected uploaded on attempt 2, got %s attempt %d", retried.Status, retried.Attempt)
	}
	if retried.Progress != 0 || retried.Error != "" || retried.CompletedAt != nil {
		t.Fatalf("expected progress and error cleared, got %#v", retried)
	}
	if retried.SourcePath != failed.SourcePath {
		t.Fatalf("expected source path kept, got %q want %q", retried.SourcePath, failed.SourcePath)
	}

	// A second retry races the first and loses.
	if _, err := store.RetryFailed(ctx, "alice", job.ID); !errors.Is(err, jobs.ErrInvalidTransition) || !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict retrying an uploaded job, got %v", err)
	}

	claimed, err := store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if claimed == nil || claimed.ID != job.ID {
		t.Fatalf("expected retried job to be claimable, got %#v", claimed)
	}
	if _, err := store.Transition(ctx, job.ID, jobs.StatusValidating, jobs.StatusError, func(j *jobs.Job) {
		j.SetFailed("validation: unreadable")
	}); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	again, err := store.RetryFailed(ctx, "alice", job.ID)
	if err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	if again.Attempt != 3 {
		t.Fatalf("expected attempt 3, got %d", again.Attempt)
	}
}

func TestReclaimStale(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	stale := testsupport.MustCreateJob(t, store, "alice", "a.mp3")
	stale = testsupport.MustAdvance(t, store, stale, jobs.StatusValidating, jobs.StatusChunking, jobs.StatusTranscribing)

	publishing := testsupport.MustCreateJob(t, store, "alice", "b.mp3")
	publishing = testsupport.MustAdvance(t, store, publishing,
		jobs.StatusValidating, jobs.StatusChunking, jobs.StatusTranscribing, jobs.StatusSummarizing,
		jobs.StatusCompleted, jobs.StatusPublishing)

	now = now.Add(10 * time.Minute)
	fresh := testsupport.MustCreateJob(t, store, "alice", "c.mp3")
	fresh = testsupport.MustAdvance(t, store, fresh, jobs.StatusValidating)

	reclaimed, err := store.ReclaimStale(ctx, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStale failed: %v", err)
	}
	if reclaimed != 2 {
		t.Fatalf("expected 2 reclaimed jobs, got %d", reclaimed)
	}

	cases := []struct {
		id       string
		expected jobs.Status
	}{
		{stale.ID, jobs.StatusError},
		{publishing.ID, jobs.StatusPublishFailed},
		{fresh.ID, jobs.StatusValidating},
	}
	for _, tc := range cases {
		job, err := store.Get(ctx, tc.id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if job.Status != tc.expected {
			t.Fatalf("job %s: expected %s, got %s", job.Filename, tc.expected, job.Status)
		}
	}
	failed, _ := store.Get(ctx, stale.ID)
	if failed.Error != "worker lost" {
		t.Fatalf("expected worker lost error, got %q", failed.Error)
	}
}

func TestStatsAndRemove(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	queued := testsupport.MustCreateJob(t, store, "alice", "a.mp3")
	active := testsupport.MustCreateJob(t, store, "alice", "b.mp3")
	testsupport.MustAdvance(t, store, active, jobs.StatusValidating)

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != 2 || stats.Queued != 1 || stats.Active != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	count, err := store.ActiveCount(ctx)
	if err != nil {
		t.Fatalf("ActiveCount failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 active job, got %d", count)
	}

	if _, err := store.RemoveForUser(ctx, "alice", active.ID); !errors.Is(err, jobs.ErrInvalidTransition) {
		t.Fatalf("expected active job removal to fail, got %v", err)
	}
	removed, err := store.RemoveForUser(ctx, "alice", queued.ID)
	if err != nil {
		t.Fatalf("RemoveForUser failed: %v", err)
	}
	if removed.ID != queued.ID {
		t.Fatalf("unexpected removed job: %#v", removed)
	}
	if _, err := store.Get(ctx, queued.ID); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Fatalf("expected removed job to be gone, got %v", err)
	}
}

func TestPublicationUpsertAndRetry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.MustCreateJob(t, store, "alice", "a.mp3")

	failed := &jobs.Publication{
		JobID:        job.ID,
		SpaceKey:     "MEET",
		Title:        "2026-03-01 - Weekly",
		Status:       jobs.PublicationFailed,
		ErrorMessage: "server error",
		RetryCount:   1,
	}
	if err := store.SavePublication(ctx, failed); err != nil {
		t.Fatalf("SavePublication failed: %v", err)
	}
	if failed.ID == 0 {
		t.Fatal("expected publication ID to be assigned")
	}

	again := &jobs.Publication{
		JobID:      job.ID,
		SpaceKey:   "MEET",
		Title:      "2026-03-01 - Weekly",
		Status:     jobs.PublicationFailed,
		RetryCount: 2,
	}
	if err := store.SavePublication(ctx, again); err != nil {
		t.Fatalf("SavePublication upsert failed: %v", err)
	}
	if again.ID != failed.ID {
		t.Fatalf("expected upsert to reuse publication %d, got %d", failed.ID, again.ID)
	}

	list, err := store.ListPublications(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListPublications failed: %v", err)
	}
	if len(list) != 1 || list[0].RetryCount != 2 {
		t.Fatalf("expected one deduplicated record with retry_count 2, got %#v", list)
	}

	if _, err := store.BeginPublicationRetry(ctx, failed.ID, 2); !errors.Is(err, jobs.ErrRetryLimit) {
		t.Fatalf("expected ErrRetryLimit, got %v", err)
	}
	retrying, err := store.BeginPublicationRetry(ctx, failed.ID, 3)
	if err != nil {
		t.Fatalf("BeginPublicationRetry failed: %v", err)
	}
	if retrying.Status != jobs.PublicationRetrying {
		t.Fatalf("expected retrying status, got %s", retrying.Status)
	}
	if _, err := store.BeginPublicationRetry(ctx, failed.ID, 3); !errors.Is(err, jobs.ErrInvalidTransition) {
		t.Fatalf("expected retrying record to reject another retry, got %v", err)
	}

	retrying.Status = jobs.PublicationPublished
	retrying.TargetPageID = "4242"
	retrying.TargetPageURL = "https://wiki.example/pages/4242"
	if err := store.SavePublication(ctx, retrying); err != nil {
		t.Fatalf("SavePublication update failed: %v", err)
	}
	got, err := store.PublicationForUser(ctx, "alice", failed.ID)
	if err != nil {
		t.Fatalf("PublicationForUser failed: %v", err)
	}
	if got.TargetPageID != "4242" || got.Status != jobs.PublicationPublished {
		t.Fatalf("unexpected publication: %#v", got)
	}
	if _, err := store.PublicationForUser(ctx, "bob", failed.ID); !errors.Is(err, jobs.ErrPublicationNotFound) {
		t.Fatalf("expected ErrPublicationNotFound for foreign user, got %v", err)
	}
}

func TestRemoveCascadesPublications(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.MustCreateJob(t, store, "alice", "a.mp3")
	pub := &jobs.Publication{JobID: job.ID, SpaceKey: "MEET", Title: "t", Status: jobs.PublicationFailed}
	if err := store.SavePublication(ctx, pub); err != nil {
		t.Fatalf("SavePublication failed: %v", err)
	}
	if _, err := store.RemoveForUser(ctx, "alice", job.ID); err != nil {
		t.Fatalf("RemoveForUser failed: %v", err)
	}
	if _, err := store.GetPublication(ctx, pub.ID); !errors.Is(err, jobs.ErrPublicationNotFound) {
		t.Fatalf("expected cascade delete, got %v", err)
	}
}

func TestCheckHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.MustCreateJob(t, store, "alice", "a.mp3")

	health, err := store.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !health.DatabaseExists || !health.IntegrityCheck || health.SchemaVersion != 1 {
		t.Fatalf("unexpected health: %+v", health)
	}
	if len(health.MissingTables) != 0 || health.TotalJobs != 1 {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestCanTransitionTable(t *testing.T) {
	cases := []struct {
		from, to jobs.Status
		allowed  bool
	}{
		{jobs.StatusUploaded, jobs.StatusValidating, true},
		{jobs.StatusUploaded, jobs.StatusChunking, false},
		{jobs.StatusSummarizing, jobs.StatusCompleted, true},
		{jobs.StatusTranscribing, jobs.StatusCancelled, true},
		{jobs.StatusCompleted, jobs.StatusPublishing, true},
		{jobs.StatusPublishFailed, jobs.StatusPublishing, true},
		{jobs.StatusPublished, jobs.StatusPublishing, false},
		{jobs.StatusError, jobs.StatusUploaded, true},
		{jobs.StatusError, jobs.StatusValidating, false},
		{jobs.StatusCancelled, jobs.StatusUploaded, false},
	}
	for _, tc := range cases {
		if got := jobs.CanTransition(tc.from, tc.to); got != tc.allowed {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}
