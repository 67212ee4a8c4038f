package api

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"minutes/internal/config"
	"minutes/internal/jobs"
	"minutes/internal/services"
	"minutes/internal/testsupport"
)

type countingWaker struct {
	mu    sync.Mutex
	count int
}

func (w *countingWaker) Wake() {
	w.mu.Lock()
	w.count++
	w.mu.Unlock()
}

func (w *countingWaker) calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

type stubPublisher struct {
	published []string
	retried   []int64
	pub       *jobs.Publication
	err       error
}

func (p *stubPublisher) Publish(_ context.Context, job *jobs.Job) (*jobs.Publication, error) {
	p.published = append(p.published, job.ID)
	return p.pub, p.err
}

func (p *stubPublisher) Retry(_ context.Context, _ string, id int64) (*jobs.Publication, error) {
	p.retried = append(p.retried, id)
	return p.pub, p.err
}

type fixture struct {
	cfg   *config.Config
	store *jobs.Store
	svc   *Service
	waker *countingWaker
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	waker := &countingWaker{}
	svc, err := NewService(cfg, store, nil, append([]Option{WithWaker(waker)}, opts...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &fixture{cfg: cfg, store: store, svc: svc, waker: waker}
}

func (f *fixture) completedJob(t *testing.T, userID string) *jobs.Job {
	t.Helper()
	job := testsupport.MustCreateJob(t, f.store, userID, "meeting.mp3")
	job = testsupport.MustAdvance(t, f.store, job,
		jobs.StatusValidating, jobs.StatusChunking, jobs.StatusTranscribing, jobs.StatusSummarizing)
	minutes := filepath.Join(f.cfg.OutputDir(), userID, job.ID, "minutes.md")
	if err := os.MkdirAll(filepath.Dir(minutes), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(minutes, []byte("# Протокол\n\n**Дата:** 12.03.2024\n\n- Решение принято\n"), 0o644); err != nil {
		t.Fatalf("write minutes: %v", err)
	}
	done, err := f.store.Transition(context.Background(), job.ID, jobs.StatusSummarizing, jobs.StatusCompleted, func(j *jobs.Job) {
		j.SummaryPath = minutes
		j.SetProgress(100, "Completed")
	})
	if err != nil {
		t.Fatalf("Transition to completed: %v", err)
	}
	return done
}

func TestCreateJobStoresUploadAndQueues(t *testing.T) {
	f := newFixture(t)

	view, err := f.svc.CreateJob(context.Background(), CreateJobRequest{
		UserID:   "u1",
		Filename: "../../planning.mp3",
		Reader:   strings.NewReader("audio-bytes"),
		Template: "Standup",
		Metadata: map[string]string{"source": "bot"},
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if view.Status != string(jobs.StatusUploaded) {
		t.Fatalf("status = %q, want uploaded", view.Status)
	}
	if view.Filename != "planning.mp3" {
		t.Fatalf("filename = %q, want path stripped", view.Filename)
	}
	if view.Template != "standup" {
		t.Fatalf("template = %q, want standup", view.Template)
	}

	job, err := f.store.GetForUser(context.Background(), "u1", view.ID)
	if err != nil {
		t.Fatalf("GetForUser: %v", err)
	}
	want := filepath.Join(f.cfg.UploadDir(), "u1", view.ID, "planning.mp3")
	if job.SourcePath != want {
		t.Fatalf("source path = %q, want %q", job.SourcePath, want)
	}
	data, err := os.ReadFile(want)
	if err != nil || string(data) != "audio-bytes" {
		t.Fatalf("upload content = %q, %v", data, err)
	}
	if job.MetadataValue("source") != "bot" {
		t.Fatalf("metadata = %v", job.Metadata)
	}
	if f.waker.calls() != 1 {
		t.Fatalf("waker called %d times, want 1", f.waker.calls())
	}
}

func TestCreateJobFromSourcePath(t *testing.T) {
	f := newFixture(t)
	src := filepath.Join(t.TempDir(), "call.m4a")
	testsupport.WriteRecording(t, src, 4096)

	view, err := f.svc.CreateJob(context.Background(), CreateJobRequest{UserID: "u1", SourcePath: src})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if view.Filename != "call.m4a" {
		t.Fatalf("filename = %q, want call.m4a", view.Filename)
	}
	if view.Template != "auto" {
		t.Fatalf("template = %q, want auto default", view.Template)
	}
	info, err := os.Stat(filepath.Join(f.cfg.UploadDir(), "u1", view.ID, "call.m4a"))
	if err != nil || info.Size() != 4096 {
		t.Fatalf("copied upload: %v, %v", info, err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("source should be left in place: %v", err)
	}
}

func TestCreateJobRejectsInvalidRequests(t *testing.T) {
	cases := []struct {
		name string
		req  CreateJobRequest
	}{
		{"missing user", CreateJobRequest{Filename: "a.mp3", Reader: strings.NewReader("x")}},
		{"path in user", CreateJobRequest{UserID: "../u", Filename: "a.mp3", Reader: strings.NewReader("x")}},
		{"unsupported extension", CreateJobRequest{UserID: "u1", Filename: "notes.txt", Reader: strings.NewReader("x")}},
		{"no extension", CreateJobRequest{UserID: "u1", Filename: "recording", Reader: strings.NewReader("x")}},
		{"unknown template", CreateJobRequest{UserID: "u1", Filename: "a.mp3", Template: "retro", Reader: strings.NewReader("x")}},
		{"publish without wiki", CreateJobRequest{UserID: "u1", Filename: "a.mp3", Publish: true, Reader: strings.NewReader("x")}},
		{"no content", CreateJobRequest{UserID: "u1", Filename: "a.mp3"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.CreateJob(context.Background(), tc.req)
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("CreateJob error = %v, want validation", err)
			}
			list, err := f.store.List(context.Background())
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(list) != 0 {
				t.Fatalf("expected no jobs, got %d", len(list))
			}
			if f.waker.calls() != 0 {
				t.Fatalf("waker should not be called")
			}
		})
	}
}

func TestCreateJobEnforcesSizeLimit(t *testing.T) {
	f := newFixture(t)
	f.cfg.Media.MaxFileSizeMB = 1

	_, err := f.svc.CreateJob(context.Background(), CreateJobRequest{
		UserID:   "u1",
		Filename: "long.wav",
		Reader:   bytes.NewReader(make([]byte, 1024*1024+1)),
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("CreateJob error = %v, want validation", err)
	}
	entries, err := os.ReadDir(filepath.Join(f.cfg.UploadDir(), "u1"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("rejected upload left %d entries behind", len(entries))
	}
}

func TestJobsAreScopedToOwner(t *testing.T) {
	f := newFixture(t)
	mine := testsupport.MustCreateJob(t, f.store, "u1", "a.mp3")
	testsupport.MustCreateJob(t, f.store, "u2", "b.mp3")

	if _, err := f.svc.GetJob(context.Background(), "u2", mine.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("GetJob other user error = %v, want not found", err)
	}
	if _, err := f.svc.CancelJob(context.Background(), "u2", mine.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("CancelJob other user error = %v, want not found", err)
	}
	list, err := f.svc.ListJobs(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(list) != 1 || list[0].ID != mine.ID {
		t.Fatalf("ListJobs = %+v, want only own job", list)
	}
}

func TestListJobsNewestFirst(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC)
	var ids []string
	for i := range 3 {
		at := base.Add(time.Duration(i) * time.Minute)
		f.store.SetClock(func() time.Time { return at })
		ids = append(ids, testsupport.MustCreateJob(t, f.store, "u1", "a.mp3").ID)
	}
	list, err := f.svc.ListJobs(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(list) != 3 || list[0].ID != ids[2] || list[2].ID != ids[0] {
		t.Fatalf("unexpected order: %+v", list)
	}
}

func TestCancelJobCancelsQueuedJob(t *testing.T) {
	f := newFixture(t)
	job := testsupport.MustCreateJob(t, f.store, "u1", "a.mp3")

	view, err := f.svc.CancelJob(context.Background(), "u1", job.ID)
	if err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if view.Status != string(jobs.StatusCancelled) {
		t.Fatalf("status = %q, want cancelled", view.Status)
	}
}

func TestRetryJobRequeuesFailedJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := testsupport.MustCreateJob(t, f.store, "u1", "a.mp3")
	job = testsupport.MustAdvance(t, f.store, job, jobs.StatusValidating)
	upload := filepath.Join(f.cfg.UploadDir(), "u1", job.ID, "a.mp3")
	if _, err := f.store.Transition(ctx, job.ID, jobs.StatusValidating, jobs.StatusError, func(j *jobs.Job) {
		j.SourcePath = upload
		j.SetFailed("validation: unreadable container")
	}); err != nil {
		t.Fatalf("Transition to error: %v", err)
	}

	if _, err := f.svc.RetryJob(ctx, "u1", job.ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("RetryJob without upload = %v, want validation error", err)
	}
	testsupport.WriteRecording(t, upload, 10)

	if _, err := f.svc.RetryJob(ctx, "u2", job.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("RetryJob other user = %v, want not found", err)
	}
	view, err := f.svc.RetryJob(ctx, "u1", job.ID)
	if err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	if view.Status != string(jobs.StatusUploaded) || view.Attempt != 2 || view.Error != "" {
		t.Fatalf("view = %#v, want uploaded attempt 2 without error", view)
	}
	if f.waker.calls() != 1 {
		t.Fatalf("waker called %d times, want 1", f.waker.calls())
	}
	if _, err := f.svc.RetryJob(ctx, "u1", job.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("RetryJob queued = %v, want conflict", err)
	}
}

func TestRemoveJobDeletesFiles(t *testing.T) {
	f := newFixture(t)
	job := f.completedJob(t, "u1")
	upload := filepath.Join(f.cfg.UploadDir(), "u1", job.ID, "meeting.mp3")
	testsupport.WriteRecording(t, upload, 10)

	if _, err := f.svc.RemoveJob(context.Background(), "u1", job.ID); err != nil {
		t.Fatalf("RemoveJob: %v", err)
	}
	for _, dir := range []string{filepath.Dir(upload), filepath.Dir(job.SummaryPath)} {
		if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("expected %s removed, stat err = %v", dir, err)
		}
	}
	if _, err := f.svc.GetJob(context.Background(), "u1", job.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("GetJob after remove = %v, want not found", err)
	}
}

func TestRemoveJobRefusesRunningJob(t *testing.T) {
	f := newFixture(t)
	job := testsupport.MustCreateJob(t, f.store, "u1", "a.mp3")
	testsupport.MustAdvance(t, f.store, job, jobs.StatusValidating)

	if _, err := f.svc.RemoveJob(context.Background(), "u1", job.ID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("RemoveJob running = %v, want conflict", err)
	}
}

func TestRequestPublicationWithoutPublisher(t *testing.T) {
	f := newFixture(t)
	job := f.completedJob(t, "u1")

	_, err := f.svc.RequestPublication(context.Background(), "u1", job.ID)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("RequestPublication error = %v, want configuration", err)
	}
	if f.svc.PublicationEnabled() {
		t.Fatalf("publication should be disabled")
	}
}

func TestRequestPublicationRequiresCompletedJob(t *testing.T) {
	pub := &stubPublisher{pub: &jobs.Publication{ID: 7, JobID: "x", Status: jobs.PublicationPublished}}
	f := newFixture(t, WithPublisher(pub))
	queued := testsupport.MustCreateJob(t, f.store, "u1", "a.mp3")

	if _, err := f.svc.RequestPublication(context.Background(), "u1", queued.ID); !errors.Is(err, jobs.ErrInvalidTransition) {
		t.Fatalf("RequestPublication queued = %v, want invalid transition", err)
	}
	if len(pub.published) != 0 {
		t.Fatalf("publisher should not be called for queued job")
	}

	done := f.completedJob(t, "u1")
	view, err := f.svc.RequestPublication(context.Background(), "u1", done.ID)
	if err != nil {
		t.Fatalf("RequestPublication: %v", err)
	}
	if view.ID != 7 || view.Status != "published" {
		t.Fatalf("view = %+v", view)
	}
	if len(pub.published) != 1 || pub.published[0] != done.ID {
		t.Fatalf("published = %v", pub.published)
	}
}

func TestRequestPublicationKeepsFailedRecord(t *testing.T) {
	failure := errors.New("wiki down")
	pub := &stubPublisher{
		pub: &jobs.Publication{ID: 3, Status: jobs.PublicationFailed, ErrorMessage: "wiki down"},
		err: failure,
	}
	f := newFixture(t, WithPublisher(pub))
	done := f.completedJob(t, "u1")

	view, err := f.svc.RequestPublication(context.Background(), "u1", done.ID)
	if !errors.Is(err, failure) {
		t.Fatalf("RequestPublication error = %v, want wiki failure", err)
	}
	if view.ID != 3 || view.Error != "wiki down" {
		t.Fatalf("failed record not returned: %+v", view)
	}

	if _, err := f.svc.RetryPublication(context.Background(), "u1", 3); !errors.Is(err, failure) {
		t.Fatalf("RetryPublication error = %v", err)
	}
	if len(pub.retried) != 1 || pub.retried[0] != 3 {
		t.Fatalf("retried = %v", pub.retried)
	}
}

func TestListPublicationsChecksOwnership(t *testing.T) {
	f := newFixture(t)
	done := f.completedJob(t, "u1")
	if err := f.store.SavePublication(context.Background(), &jobs.Publication{
		JobID:  done.ID,
		Status: jobs.PublicationFailed,
	}); err != nil {
		t.Fatalf("SavePublication: %v", err)
	}

	if _, err := f.svc.ListPublications(context.Background(), "u2", done.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("ListPublications other user = %v, want not found", err)
	}
	list, err := f.svc.ListPublications(context.Background(), "u1", done.ID)
	if err != nil {
		t.Fatalf("ListPublications: %v", err)
	}
	if len(list) != 1 || list[0].Status != "failed" {
		t.Fatalf("publications = %+v", list)
	}
	view, err := f.svc.GetJob(context.Background(), "u1", done.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if view.Publication == nil || view.Publication.ID != list[0].ID {
		t.Fatalf("job view should carry latest publication: %+v", view.Publication)
	}
}

func TestReadArtifactAndExportDocx(t *testing.T) {
	f := newFixture(t)
	done := f.completedJob(t, "u1")

	data, err := f.svc.ReadArtifact(context.Background(), "u1", done.ID, ArtifactMinutes)
	if err != nil {
		t.Fatalf("ReadArtifact: %v", err)
	}
	if !strings.Contains(string(data), "Решение принято") {
		t.Fatalf("minutes = %q", data)
	}
	if _, err := f.svc.ReadArtifact(context.Background(), "u1", done.ID, ArtifactTranscript); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("missing transcript error = %v, want not found", err)
	}

	path, err := f.svc.ExportDocx(context.Background(), "u1", done.ID)
	if err != nil {
		t.Fatalf("ExportDocx: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		t.Fatalf("docx not written: %v", err)
	}

	queued := testsupport.MustCreateJob(t, f.store, "u1", "b.mp3")
	if _, err := f.svc.ExportDocx(context.Background(), "u1", queued.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("ExportDocx queued = %v, want not found", err)
	}
}

func TestExportTranscriptDocx(t *testing.T) {
	f := newFixture(t)
	done := f.completedJob(t, "u1")
	if _, err := f.svc.ExportTranscriptDocx(context.Background(), "u1", done.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("export without transcript = %v, want not found", err)
	}

	transcript := filepath.Join(filepath.Dir(done.SummaryPath), "transcript.txt")
	if err := os.WriteFile(transcript, []byte("Speaker 1: Начинаем.\nSpeaker 2: Согласен.\n"), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}
	done.TranscriptPath = transcript
	if err := f.store.Update(context.Background(), done); err != nil {
		t.Fatalf("Update: %v", err)
	}

	path, err := f.svc.ExportTranscriptDocx(context.Background(), "u1", done.ID)
	if err != nil {
		t.Fatalf("ExportTranscriptDocx: %v", err)
	}
	if filepath.Base(path) != "transcript.docx" {
		t.Fatalf("path = %q", path)
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Fatalf("transcript docx not written: %v", err)
	}
	if _, err := f.svc.ExportTranscriptDocx(context.Background(), "u2", done.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("export for another user = %v, want not found", err)
	}
}

func TestSubscribeStreamsUntilSettled(t *testing.T) {
	f := newFixture(t)
	job := testsupport.MustCreateJob(t, f.store, "u1", "a.mp3")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	updates, err := f.svc.Subscribe(ctx, "u1", job.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	first := <-updates
	if first.Status != string(jobs.StatusUploaded) {
		t.Fatalf("first update = %q, want uploaded", first.Status)
	}

	testsupport.MustAdvance(t, f.store, job, jobs.StatusValidating)
	if _, err := f.store.Transition(ctx, job.ID, jobs.StatusValidating, jobs.StatusError, func(j *jobs.Job) {
		j.SetFailed("unsupported format .txt")
	}); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	var last JobView
	for view := range updates {
		last = view
	}
	if ctx.Err() != nil {
		t.Fatalf("subscription did not close before timeout")
	}
	if last.Status != string(jobs.StatusError) || last.Error != "unsupported format .txt" {
		t.Fatalf("last update = %+v, want error", last)
	}
}

func TestSubscribeUnknownJob(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Subscribe(context.Background(), "u1", "missing", 0); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("Subscribe error = %v, want not found", err)
	}
}
