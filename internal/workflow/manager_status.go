package workflow

import (
	"context"
	"sort"
	"time"

	"minutes/internal/jobs"
	"minutes/internal/logging"
)

// ActiveJob is a job currently held by a worker.
type ActiveJob struct {
	ID      string
	UserID  string
	Started time.Time
}

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running            bool
	Workers            int
	Active             []ActiveJob
	LastError          string
	LastJob            *jobs.Job
	Stats              jobs.HealthSummary
	PublicationEnabled bool
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:            m.running,
		Workers:            m.workers,
		PublicationEnabled: m.pipeline.Publisher != nil,
	}
	for id, started := range m.active {
		summary.Active = append(summary.Active, ActiveJob{ID: id, UserID: m.owners[id], Started: started})
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastJob != nil {
		copy := *m.lastJob
		summary.LastJob = &copy
	}
	m.mu.RUnlock()

	sort.Slice(summary.Active, func(i, j int) bool {
		return summary.Active[i].Started.Before(summary.Active[j].Started)
	})

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read job stats", logging.Error(err))
	}
	summary.Stats = stats
	return summary
}

// Publisher returns the publication collaborator, or nil when publication
// is not configured.
func (m *Manager) Publisher() Publisher {
	return m.pipeline.Publisher
}

func (m *Manager) trackStart(job *jobs.Job) {
	m.mu.Lock()
	m.active[job.ID] = time.Now()
	m.owners[job.ID] = job.UserID
	m.mu.Unlock()
}

func (m *Manager) trackDone(id string) {
	m.mu.Lock()
	delete(m.active, id)
	delete(m.owners, id)
	m.mu.Unlock()
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastJob(job *jobs.Job) {
	m.mu.Lock()
	if job != nil {
		copy := *job
		m.lastJob = &copy
	} else {
		m.lastJob = nil
	}
	m.mu.Unlock()
}
