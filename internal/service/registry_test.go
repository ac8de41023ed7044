package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/mediagrab/pkg/models"
)

func newJob(id string) *models.DownloadJob {
	now := time.Now().UTC()
	return &models.DownloadJob{
		ID:          id,
		Status:      models.JobStatusPending,
		RequestedAt: now,
		UpdatedAt:   now,
	}
}

func TestRegistryFinalizeExactlyOnce(t *testing.T) {
	registry := NewRegistry()
	registry.Put(newJob("job-1"))

	assert.True(t, registry.Finalize("job-1", models.JobStatusCompleted, nil))
	// Second terminal transition is rejected, even to a different state.
	assert.False(t, registry.Finalize("job-1", models.JobStatusFailed, &models.JobError{Code: models.ErrTimeout}))

	job, ok := registry.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Nil(t, job.Error)
}

func TestRegistryFinalizeFailedRecordsError(t *testing.T) {
	registry := NewRegistry()
	registry.Put(newJob("job-1"))

	jobErr := &models.JobError{Code: models.ErrAuthRequired, Message: "login required"}
	assert.True(t, registry.Finalize("job-1", models.JobStatusFailed, jobErr))

	job, _ := registry.Get("job-1")
	assert.Equal(t, models.JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, models.ErrAuthRequired, job.Error.Code)
}

func TestRegistryFinalizeUnknownJob(t *testing.T) {
	registry := NewRegistry()
	assert.False(t, registry.Finalize("missing", models.JobStatusCompleted, nil))
}

func TestRegistryGetReturnsCopy(t *testing.T) {
	registry := NewRegistry()
	job := newJob("job-1")
	job.Artifacts = []models.DownloadArtifact{{ArtifactID: "a1"}}
	registry.Put(job)

	copy1, _ := registry.Get("job-1")
	copy1.Artifacts[0].ArtifactID = "mutated"
	copy1.Status = models.JobStatusFailed

	copy2, _ := registry.Get("job-1")
	assert.Equal(t, "a1", copy2.Artifacts[0].ArtifactID)
	assert.Equal(t, models.JobStatusPending, copy2.Status)
}

func TestRegistryUpdateMissing(t *testing.T) {
	registry := NewRegistry()
	assert.False(t, registry.Update("missing", func(j *models.DownloadJob) {}))
}

func TestRegistrySweepTerminal(t *testing.T) {
	registry := NewRegistry()
	now := time.Now().UTC()

	old := newJob("old")
	old.Status = models.JobStatusCompleted
	old.UpdatedAt = now.Add(-2 * time.Hour)
	registry.Put(old)

	fresh := newJob("fresh")
	fresh.Status = models.JobStatusFailed
	fresh.UpdatedAt = now.Add(-time.Minute)
	registry.Put(fresh)

	running := newJob("running")
	running.Status = models.JobStatusDownloading
	running.UpdatedAt = now.Add(-2 * time.Hour)
	registry.Put(running)

	removed := registry.SweepTerminal(now.Add(-time.Hour))

	// Only the terminal job past the cutoff goes; a stale running job is
	// never evicted out from under its goroutine.
	assert.Equal(t, []string{"old"}, removed)
	_, ok := registry.Get("old")
	assert.False(t, ok)
	_, ok = registry.Get("fresh")
	assert.True(t, ok)
	_, ok = registry.Get("running")
	assert.True(t, ok)
}
