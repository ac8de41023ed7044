package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/therealutkarshpriyadarshi/mediagrab/pkg/models"
)

func TestRendererLine(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, false)

	r.Render(models.ProgressState{
		JobID:      "j1",
		Status:     models.JobStatusDownloading,
		Stage:      "Downloading",
		Percent:    42.5,
		ETASeconds: models.Int64Ptr(12),
		Speed:      models.Float64Ptr(2 * 1024 * 1024),
	})

	out := buf.String()
	assert.Contains(t, out, "[DOWNLOADING]")
	assert.Contains(t, out, "42.5%")
	assert.Contains(t, out, "ETA: 12s")
	assert.Contains(t, out, "Speed: 2.0 MB/s")
}

func TestRendererHoldsPercentMonotonic(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, false)

	r.Render(models.ProgressState{Status: models.JobStatusDownloading, Percent: 50})
	buf.Reset()
	r.Render(models.ProgressState{Status: models.JobStatusDownloading, Percent: 30})

	assert.Contains(t, buf.String(), "50.0%")
	assert.NotContains(t, buf.String(), "30.0%")
}

func TestRendererQueuePosition(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, false)

	r.Render(models.ProgressState{
		Status:        models.JobStatusQueued,
		Stage:         "Waiting for ffmpeg (position 2/3)",
		QueuePosition: 2,
		QueueDepth:    3,
	})

	assert.Contains(t, buf.String(), "Queue: 2/3")
}

func TestRendererFailureSummary(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, false)

	r.Render(models.ProgressState{
		Status:      models.JobStatusFailed,
		Stage:       "Failed: auth_required",
		Message:     "login required",
		Remediation: models.StringPtr("Provide cookies for a logged-in session"),
	})

	out := buf.String()
	assert.Contains(t, out, "Failed: login required")
	assert.Contains(t, out, "Hint: Provide cookies for a logged-in session")
}

func TestRendererVerboseMessage(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, true)

	r.Render(models.ProgressState{
		Status:  models.JobStatusTranscoding,
		Stage:   "Transcoding (mobile-primary)",
		Message: "pass 1 of 1",
		Percent: 70,
	})

	assert.Contains(t, buf.String(), "pass 1 of 1")
}

func TestRenderItems(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, false)

	r.RenderItems([]models.PlaylistItemResult{
		{Index: 0, Title: "first", Status: models.ItemStatusSuccess},
		{Index: 1, Title: "second", Status: models.ItemStatusFailed, Error: &models.JobError{
			Code:    models.ErrAuthRequired,
			Message: "login required",
		}},
	})

	out := buf.String()
	assert.Contains(t, out, "1. first")
	assert.Contains(t, out, "ok")
	assert.Contains(t, out, "2. second")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "auth_required: login required")
}
