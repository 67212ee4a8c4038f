package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"minutes/internal/export"
	"minutes/internal/fileutil"
	"minutes/internal/jobs"
	"minutes/internal/logging"
	"minutes/internal/media"
	"minutes/internal/publication"
	"minutes/internal/services"
	"minutes/internal/speakers"
	"minutes/internal/staging"
	"minutes/internal/templates"
	"minutes/internal/transcription"
)

// Output file names inside <data_dir>/results/<user>/<job>.
const (
	TranscriptFile     = "transcript.txt"
	MinutesFile        = "minutes.md"
	DocxFile           = "minutes.docx"
	TranscriptDocxFile = "transcript.docx"
)

// MetadataSpeakerNames records the names the minutes attached to speaker
// labels.
const MetadataSpeakerNames = "speaker_names"

var errJobCancelled = fmt.Errorf("%w: job cancelled by owner", services.ErrCancelled)

// Progress at which each status begins. Transcription fills the band up to
// summarizing chunk by chunk.
var statusProgress = map[jobs.Status]int{
	jobs.StatusValidating:   0,
	jobs.StatusChunking:     5,
	jobs.StatusTranscribing: 15,
	jobs.StatusSummarizing:  75,
	jobs.StatusCompleted:    100,
}

var statusMessages = map[jobs.Status]string{
	jobs.StatusChunking:     "Splitting audio",
	jobs.StatusTranscribing: "Transcribing",
	jobs.StatusSummarizing:  "Generating minutes",
	jobs.StatusCompleted:    "Completed",
}

// jobRun carries one job through the pipeline. The worker owns it; stage
// outputs stay in memory and only their summaries reach the store.
type jobRun struct {
	job        *jobs.Job
	base       *slog.Logger
	log        *slog.Logger
	workspace  *staging.Workspace
	media      media.Classification
	prepared   media.Prepared
	transcript transcription.Transcript
	started    time.Time
}

type pipelineStage struct {
	name   string
	status jobs.Status
	next   jobs.Status
	run    func(ctx context.Context, r *jobRun) error
}

func (m *Manager) stages() []pipelineStage {
	return []pipelineStage{
		{name: "validation", status: jobs.StatusValidating, next: jobs.StatusChunking, run: m.validate},
		{name: "chunking", status: jobs.StatusChunking, next: jobs.StatusTranscribing, run: m.chunk},
		{name: "transcription", status: jobs.StatusTranscribing, next: jobs.StatusSummarizing, run: m.transcribe},
		{name: "summarization", status: jobs.StatusSummarizing, next: jobs.StatusCompleted, run: m.summarize},
	}
}

func (m *Manager) processJob(ctx context.Context, job *jobs.Job) {
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithUserID(ctx, job.UserID)
	ctx = services.WithRequestID(ctx, uuid.NewString())

	base, closeLog := m.jobLogger(job)
	defer closeLog()

	m.trackStart(job)
	defer m.trackDone(job.ID)

	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, job.ID)
	defer func() {
		hbCancel()
		hbWG.Wait()
	}()

	run := &jobRun{job: job, base: base, log: logging.WithContext(ctx, base), started: time.Now()}
	defer m.removeWorkspace(run)

	logging.WithContext(ctx, m.logger).Info("job claimed",
		logging.String(logging.FieldEventType, "job_claimed"),
		logging.String("filename", job.Filename),
		logging.String("template", job.Template),
	)

	err := m.runStages(ctx, run)
	switch {
	case err == nil:
		m.handleCompletion(ctx, run)
	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		run.log.Info("job interrupted by shutdown", logging.String("status", string(run.job.Status)))
	case errors.Is(err, services.ErrCancelled):
		m.handleCancellation(ctx, run)
	default:
		m.handleFailure(ctx, run, err)
	}
}

func (m *Manager) runStages(ctx context.Context, r *jobRun) error {
	for _, stage := range m.stages() {
		if err := m.checkCancelled(ctx, r.job.ID); err != nil {
			return err
		}
		if r.job.Status != stage.status {
			return fmt.Errorf("%w: job is %s, %s expects %s", jobs.ErrConflict, r.job.Status, stage.name, stage.status)
		}
		if err := m.executeStage(ctx, r, stage); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) executeStage(ctx context.Context, r *jobRun, stage pipelineStage) error {
	stageCtx := services.WithStage(ctx, stage.name)
	r.log = logging.WithContext(stageCtx, r.base)
	stageStart := time.Now()
	r.log.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("status", string(stage.status)),
	)

	if err := stage.run(stageCtx, r); err != nil {
		return err
	}
	if err := m.checkCancelled(ctx, r.job.ID); err != nil {
		return err
	}

	updated, err := m.store.Transition(ctx, r.job.ID, stage.status, stage.next, r.carry(stage.next))
	if err != nil {
		return fmt.Errorf("persist %s result: %w", stage.name, err)
	}
	r.job = updated
	r.log.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("next_status", string(updated.Status)),
		logging.Int("progress", updated.Progress),
		logging.Duration("stage_duration", time.Since(stageStart)),
	)
	m.setLastJob(updated)
	return nil
}

// carry copies the worker-owned fields onto the freshly loaded row so a
// concurrent cancel flag is never overwritten.
func (r *jobRun) carry(next jobs.Status) func(*jobs.Job) {
	return func(j *jobs.Job) {
		j.ResolvedTemplate = r.job.ResolvedTemplate
		j.TranscriptPath = r.job.TranscriptPath
		j.SummaryPath = r.job.SummaryPath
		j.DocxPath = r.job.DocxPath
		j.MediaKind = r.job.MediaKind
		j.DurationSeconds = r.job.DurationSeconds
		j.ChunkCount = r.job.ChunkCount
		for key, value := range r.job.Metadata {
			j.SetMetadata(key, value)
		}
		j.SetProgress(statusProgress[next], statusMessages[next])
	}
}

func (m *Manager) validate(ctx context.Context, r *jobRun) error {
	cls, err := m.pipeline.Validator.Validate(ctx, r.job.SourcePath, r.job.Filename, 0)
	if err != nil {
		return err
	}
	r.media = cls
	r.job.MediaKind = string(cls.Kind)
	r.job.DurationSeconds = cls.Duration.Seconds()
	r.log.Info("media validated",
		logging.String("media_kind", string(cls.Kind)),
		logging.String("extension", cls.Extension),
		logging.Int64("size_bytes", cls.SizeBytes),
		logging.String("duration", media.FormatDuration(cls.Duration)),
	)
	return nil
}

func (m *Manager) chunk(ctx context.Context, r *jobRun) error {
	ws, err := staging.Create(m.cfg.Paths.TempDir, r.job.ID)
	if err != nil {
		return services.Wrap(services.ErrChunking, "chunking", "create workspace", "", err)
	}
	r.workspace = ws

	prepared, err := m.pipeline.Chunker.Prepare(ctx, r.job.ID, ws.Path(), r.job.SourcePath, r.media)
	if err != nil {
		return err
	}
	if len(prepared.Chunks) == 0 {
		return services.Wrap(services.ErrChunking, "chunking", "split", "no chunks produced", nil)
	}
	r.prepared = prepared
	r.job.ChunkCount = len(prepared.Chunks)
	if prepared.Duration > 0 {
		r.job.DurationSeconds = prepared.Duration.Seconds()
	}
	r.log.Info("audio chunked",
		logging.Int("chunks", len(prepared.Chunks)),
		logging.String("duration", media.FormatDuration(prepared.Duration)),
	)
	return nil
}

func (m *Manager) transcribe(ctx context.Context, r *jobRun) error {
	total := len(r.prepared.Chunks)
	from, to := statusProgress[jobs.StatusTranscribing], statusProgress[jobs.StatusSummarizing]
	transcript, err := m.pipeline.Transcriber.Transcribe(ctx, r.job.ID, r.prepared.Chunks, func(done int) {
		percent := from + (to-from)*done/total
		message := fmt.Sprintf("Transcribed %d of %d chunks", done, total)
		r.job.SetProgress(percent, message)
		if err := m.store.UpdateProgress(ctx, r.job.ID, jobs.StatusTranscribing, percent, message); err != nil {
			r.log.Debug("progress update skipped", logging.Error(err))
		}
	})
	if err != nil {
		return err
	}

	resolved := m.pipeline.Resolver.Resolve(transcript)
	r.transcript = resolved
	text := resolved.Text()
	path := filepath.Join(m.outputDir(r.job), TranscriptFile)
	if err := fileutil.WriteFileAtomic(path, []byte(text+"\n"), 0o644); err != nil {
		return services.Wrap(services.ErrStorage, "transcription", "write transcript", "", err)
	}
	r.job.TranscriptPath = path
	labels := resolved.Speakers()
	r.job.SetMetadata("speakers", strings.Join(labels, ", "))
	r.job.SetMetadata("word_count", strconv.Itoa(resolved.WordCount()))
	r.log.Info("transcript saved",
		logging.String("transcript_path", path),
		logging.Int("speakers", len(labels)),
		logging.Int("words", resolved.WordCount()),
	)
	return nil
}

func (m *Manager) summarize(ctx context.Context, r *jobRun) error {
	text := r.transcript.Text()
	tpl, sel, err := m.pipeline.Selector.Select(r.job.Template, text)
	if err != nil {
		return err
	}
	r.job.ResolvedTemplate = sel.Chosen
	for key, value := range sel.Metadata() {
		r.job.SetMetadata(key, value)
	}
	reason := "requested"
	switch {
	case sel.Fallback:
		reason = "no template reached its keyword threshold"
	case sel.Auto:
		reason = "highest keyword score"
	}
	r.log.Info("template selected", logging.Args(logging.DecisionAttrs("template_selection", sel.Chosen, reason)...)...)

	prompt := templates.Render(tpl, text, r.job.CreatedAt)
	minutes, err := m.pipeline.Summarizer.Summarize(ctx, prompt)
	if err != nil {
		return err
	}

	dir := m.outputDir(r.job)
	path := filepath.Join(dir, MinutesFile)
	if err := fileutil.WriteFileAtomic(path, []byte(minutes+"\n"), 0o644); err != nil {
		return services.Wrap(services.ErrStorage, "summarization", "write minutes", "", err)
	}
	r.job.SummaryPath = path

	title := publication.PageTitle(publication.ExtractMeetingInfo(minutes), r.job.CreatedAt, r.job.Filename)
	docxPath := filepath.Join(dir, DocxFile)
	if err := export.Minutes(title, minutes, docxPath); err != nil {
		logging.WarnWithContext(r.log, "docx export failed", "docx_export_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "minutes are available as markdown only"),
		)
	} else {
		r.job.DocxPath = docxPath
	}
	if names := speakers.ExtractFromMinutes(minutes); len(names) > 0 {
		r.job.SetMetadata(MetadataSpeakerNames, names.String())
	}
	r.log.Info("minutes saved",
		logging.String("summary_path", path),
		logging.String("title", title),
		logging.Int("minutes_chars", len([]rune(minutes))),
	)
	return nil
}

func (m *Manager) outputDir(job *jobs.Job) string {
	return filepath.Join(m.cfg.OutputDir(), job.UserID, job.ID)
}

func (m *Manager) checkCancelled(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cancelled, err := m.store.IsCancelRequested(ctx, jobID)
	if err != nil {
		return err
	}
	if cancelled {
		return errJobCancelled
	}
	return nil
}

func (m *Manager) removeWorkspace(r *jobRun) {
	if r.workspace == nil {
		return
	}
	if err := r.workspace.Remove(); err != nil {
		logging.WarnWithContext(r.log, "workspace cleanup failed", "workspace_cleanup",
			logging.Error(err),
			logging.String("workspace", r.workspace.Path()),
			logging.String(logging.FieldImpact, "chunk files stay on disk until the next startup sweep"),
		)
	}
}
