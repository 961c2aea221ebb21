// Package jobs tracks background batch and dataset runs in memory. Every
// accessor returns plain copies so the web layer can serialize job state
// freely while the run goroutine keeps mutating it.
package jobs

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job kinds.
const (
	KindBatch   = "batch"
	KindDataset = "dataset"
)

// Job statuses.
const (
	StatusQueued   = "queued"
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// Job is one tracked background run.
type Job struct {
	ID         string     `json:"job_id"`
	Kind       string     `json:"kind"`
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	Total      int        `json:"total"`
	Completed  int        `json:"completed"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	Result     any        `json:"result,omitempty"`
	Logs       []string   `json:"logs"`
}

// Manager is a mutex-guarded in-memory job registry.
type Manager struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

// NewManager creates an empty registry.
func NewManager() *Manager {
	return &Manager{jobs: map[string]*Job{}}
}

// Create registers a queued job and returns its snapshot.
func (m *Manager) Create(kind, name string) Job {
	job := &Job{
		ID:     newJobID(),
		Kind:   kind,
		Name:   name,
		Status: StatusQueued,
	}
	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()
	return *job
}

func newJobID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Get returns a snapshot of one job.
func (m *Manager) Get(id string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return snapshot(job), true
}

// List returns snapshots of every job, most recently started first.
func (m *Manager) List() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, snapshot(job))
	}
	sort.Slice(out, func(i, j int) bool {
		return startedAt(out[i]).After(startedAt(out[j]))
	})
	return out
}

func startedAt(job Job) time.Time {
	if job.StartedAt == nil {
		return time.Time{}
	}
	return *job.StartedAt
}

// MarkRunning flips a job to running with its expected total.
func (m *Manager) MarkRunning(id string, total int) {
	m.update(id, func(job *Job) {
		now := time.Now()
		job.Status = StatusRunning
		job.Total = total
		job.StartedAt = &now
		job.Logs = append(job.Logs, fmt.Sprintf("started, %d runs expected", total))
	})
}

// UpdateProgress records completed count and an optional log line.
func (m *Manager) UpdateProgress(id string, completed int, message string) {
	m.update(id, func(job *Job) {
		job.Completed = completed
		if message != "" {
			job.Logs = append(job.Logs, message)
		}
	})
}

// SetTotal corrects the expected total once the batch size is known.
func (m *Manager) SetTotal(id string, total int) {
	m.update(id, func(job *Job) {
		job.Total = total
	})
}

// AppendLog adds one log line.
func (m *Manager) AppendLog(id string, message string) {
	m.update(id, func(job *Job) {
		job.Logs = append(job.Logs, message)
	})
}

// MarkFinished completes a job with its result.
func (m *Manager) MarkFinished(id string, result any) {
	m.update(id, func(job *Job) {
		now := time.Now()
		job.Status = StatusFinished
		job.Completed = job.Total
		job.FinishedAt = &now
		job.Result = result
		job.Logs = append(job.Logs, "job completed")
	})
}

// MarkFailed fails a job with an error message.
func (m *Manager) MarkFailed(id string, errMsg string) {
	m.update(id, func(job *Job) {
		now := time.Now()
		job.Status = StatusFailed
		job.Error = errMsg
		job.FinishedAt = &now
		job.Logs = append(job.Logs, "job failed: "+errMsg)
	})
}

func (m *Manager) update(id string, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		fn(job)
	}
}

func snapshot(job *Job) Job {
	copied := *job
	copied.Logs = append([]string(nil), job.Logs...)
	return copied
}

// Progress adapts a job id to the dataset builder's progress callback.
type Progress struct {
	Manager *Manager
	JobID   string
}

// Update implements the builder's Progress interface.
func (p Progress) Update(completed, total int, message string) {
	p.Manager.SetTotal(p.JobID, total)
	p.Manager.UpdateProgress(p.JobID, completed, message)
}
