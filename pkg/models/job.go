package models

import (
	"time"
)

// Platform identifies the source platform of a download request
type Platform string

// Supported platforms
const (
	PlatformYouTube   Platform = "youtube"
	PlatformInstagram Platform = "instagram"
	PlatformFacebook  Platform = "facebook"
	PlatformX         Platform = "x"
)

// Valid reports whether the platform is one of the supported values
func (p Platform) Valid() bool {
	switch p {
	case PlatformYouTube, PlatformInstagram, PlatformFacebook, PlatformX:
		return true
	}
	return false
}

// Format is the output format requested by the caller
type Format string

// Supported output formats
const (
	FormatMP4 Format = "mp4"
	FormatMP3 Format = "mp3"
	FormatZIP Format = "zip"
)

// Valid reports whether the format is one of the supported values
func (f Format) Valid() bool {
	switch f {
	case FormatMP4, FormatMP3, FormatZIP:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a download job
type JobStatus string

// JobStatus values, in order of normal progression
const (
	JobStatusPending     JobStatus = "pending"
	JobStatusQueued      JobStatus = "queued"
	JobStatusDownloading JobStatus = "downloading"
	JobStatusTranscoding JobStatus = "transcoding"
	JobStatusPackaging   JobStatus = "packaging"
	JobStatusCompleted   JobStatus = "completed"
	JobStatusFailed      JobStatus = "failed"
)

// Terminal reports whether the status is a final state
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobError is the structured error payload shared by the CLI and REST surfaces
type JobError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Remediation string `json:"remediation,omitempty"`
}

// Error implements the error interface
func (e *JobError) Error() string {
	return e.Code + ": " + e.Message
}

// DownloadJob is the canonical representation of one download request,
// single-item or playlist
type DownloadJob struct {
	ID              string               `json:"jobId"`
	SourceURL       string               `json:"sourceUrl"`
	Platform        Platform             `json:"platform"`
	RequestedFormat Format               `json:"requestedFormat"`
	Status          JobStatus            `json:"status"`
	Stage           string               `json:"stage"`
	OutputDir       string               `json:"outputDir"`
	RequestedAt     time.Time            `json:"requestedAt"`
	UpdatedAt       time.Time            `json:"updatedAt"`
	Error           *JobError            `json:"error,omitempty"`
	PlaylistItems   []PlaylistItemResult `json:"playlistItems,omitempty"`
	Artifacts       []DownloadArtifact   `json:"artifacts"`
	RetryCount      int                  `json:"retryCount"`
	Progress        float64              `json:"progress"`
}

// Touch refreshes the UpdatedAt timestamp after mutating the job
func (j *DownloadJob) Touch() {
	j.UpdatedAt = time.Now().UTC()
}

// SetStatus moves the job to a new status and optionally a new stage.
// Terminal states are never overwritten.
func (j *DownloadJob) SetStatus(status JobStatus, stage string) {
	if j.Status.Terminal() {
		return
	}
	j.Status = status
	if stage != "" {
		j.Stage = stage
	}
	j.Touch()
}

// RecordError finalizes the job as failed with a structured error
func (j *DownloadJob) RecordError(err *JobError) {
	if j.Status.Terminal() {
		return
	}
	j.Error = err
	j.Status = JobStatusFailed
	j.Touch()
}

// AddArtifact appends a produced artifact to the job
func (j *DownloadJob) AddArtifact(artifact DownloadArtifact) {
	j.Artifacts = append(j.Artifacts, artifact)
	j.Touch()
}

// IsPlaylist reports whether the job carries multiple items
func (j *DownloadJob) IsPlaylist() bool {
	return len(j.PlaylistItems) > 0
}
