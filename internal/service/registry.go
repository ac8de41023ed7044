package service

import (
	"sort"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/mediagrab/pkg/models"
)

// Registry is the in-memory store of record for download jobs. Jobs are
// mutated only through Update so status transitions stay serialized and a
// terminal state is written at most once.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*models.DownloadJob
}

// NewRegistry creates an empty job registry
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*models.DownloadJob)}
}

// Put stores a new job
func (r *Registry) Put(job *models.DownloadJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
}

// Get returns a copy of the job, so callers cannot race the orchestrator's
// mutations
func (r *Registry) Get(jobID string) (models.DownloadJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return models.DownloadJob{}, false
	}
	return cloneJob(job), true
}

// Update applies fn to the job under the registry lock
func (r *Registry) Update(jobID string, fn func(*models.DownloadJob)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return false
	}
	fn(job)
	return true
}

// Finalize moves the job to a terminal state exactly once. It returns false
// when the job is unknown or already terminal, and the caller must skip its
// terminal side effects (progress publish, webhooks, metrics).
func (r *Registry) Finalize(jobID string, status models.JobStatus, jobErr *models.JobError) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok || job.Status.Terminal() {
		return false
	}
	if status == models.JobStatusFailed {
		job.RecordError(jobErr)
	} else {
		job.SetStatus(status, "")
	}
	return true
}

// List returns copies of all jobs, newest first
func (r *Registry) List() []models.DownloadJob {
	r.mu.RLock()
	defer r.mu.RUnlock()
	jobs := make([]models.DownloadJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, cloneJob(job))
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].RequestedAt.After(jobs[j].RequestedAt)
	})
	return jobs
}

// Delete removes a job, used when its artifacts have been cleaned up
func (r *Registry) Delete(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, jobID)
}

// SweepTerminal removes terminal jobs last updated before cutoff and returns
// their IDs. Running jobs are never touched.
func (r *Registry) SweepTerminal(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for id, job := range r.jobs {
		if job.Status.Terminal() && job.UpdatedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// cloneJob deep-copies the slices so the caller's view is stable
func cloneJob(job *models.DownloadJob) models.DownloadJob {
	out := *job
	if job.PlaylistItems != nil {
		out.PlaylistItems = append([]models.PlaylistItemResult(nil), job.PlaylistItems...)
	}
	if job.Artifacts != nil {
		out.Artifacts = append([]models.DownloadArtifact(nil), job.Artifacts...)
	}
	return out
}
