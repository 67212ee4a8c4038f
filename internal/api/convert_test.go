package api

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"minutes/internal/jobs"
	"minutes/internal/services"
	"minutes/internal/workflow"
)

func TestFromJobHidesServerPaths(t *testing.T) {
	completed := time.Date(2024, 3, 12, 10, 30, 0, 0, time.UTC)
	job := &jobs.Job{
		ID:             "j1",
		Filename:       "call.mp3",
		Status:         jobs.StatusCompleted,
		Progress:       100,
		Message:        "Completed",
		SourcePath:     "/srv/data/uploads/u1/j1/call.mp3",
		TranscriptPath: "/srv/data/results/u1/j1/transcript.txt",
		SummaryPath:    "/srv/data/results/u1/j1/minutes.md",
		Metadata:       map[string]string{"template_chosen": "standup"},
		CreatedAt:      completed.Add(-time.Hour),
		CompletedAt:    &completed,
	}

	dto := FromJob(job)
	if !dto.HasTranscript || !dto.HasMinutes || dto.HasDocx {
		t.Fatalf("artefact flags = %v/%v/%v", dto.HasTranscript, dto.HasMinutes, dto.HasDocx)
	}
	if dto.CompletedAt != "2024-03-12T10:30:00.000Z" {
		t.Fatalf("completedAt = %q", dto.CompletedAt)
	}
	data, err := json.Marshal(dto)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "/srv/data") {
		t.Fatalf("payload leaks server paths: %s", data)
	}
	dto.Metadata["template_chosen"] = "changed"
	if job.Metadata["template_chosen"] != "standup" {
		t.Fatalf("metadata should be copied")
	}
}

func TestFromStatusSummary(t *testing.T) {
	now := time.Now()
	summary := workflow.StatusSummary{
		Running: true,
		Workers: 2,
		Active: []workflow.ActiveJob{
			{ID: "late", UserID: "u1", Started: now},
			{ID: "early", UserID: "u2", Started: now.Add(-time.Minute)},
		},
		Stats:   jobs.HealthSummary{Total: 5, Queued: 3, Active: 2},
		LastJob: &jobs.Job{ID: "last", Status: jobs.StatusCompleted},
	}

	status := FromStatusSummary(summary)
	if !status.Running || status.Workers != 2 {
		t.Fatalf("unexpected status: %+v", status)
	}
	if len(status.Active) != 2 || status.Active[0].ID != "early" {
		t.Fatalf("active jobs not ordered by start: %+v", status.Active)
	}
	if status.Stats.Queued != 3 || status.Stats.Total != 5 {
		t.Fatalf("stats = %+v", status.Stats)
	}
	if status.LastJob == nil || status.LastJob.ID != "last" {
		t.Fatalf("last job = %+v", status.LastJob)
	}
}

func TestSortJobsNewestFirst(t *testing.T) {
	views := []JobView{
		{ID: "a", CreatedAt: "2024-03-12T09:00:00.000Z"},
		{ID: "c", CreatedAt: "2024-03-12T11:00:00.000Z"},
		{ID: "b", CreatedAt: "2024-03-12T11:00:00.000Z"},
		{ID: "z"},
	}
	sorted := SortJobsNewestFirst(views)
	got := []string{sorted[0].ID, sorted[1].ID, sorted[2].ID, sorted[3].ID}
	want := []string{"c", "b", "a", "z"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	if views[0].ID != "a" {
		t.Fatalf("input slice should not be reordered")
	}
	if SortJobsNewestFirst(nil) != nil {
		t.Fatalf("expected nil for empty input")
	}
}

func TestFromError(t *testing.T) {
	resp := FromError(services.Wrap(services.ErrValidation, "api", "create job", "unsupported format .txt", nil))
	if resp.Kind != "validation" {
		t.Fatalf("kind = %q, want validation", resp.Kind)
	}
	if !strings.Contains(resp.Error, "unsupported format .txt") || resp.Hint == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
