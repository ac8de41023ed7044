package models

import "time"

// ProgressState is one telemetry snapshot for a job. Every field is always
// present in the serialized payload (pointers where optional) so the CLI and
// REST surfaces observe an identical schema.
type ProgressState struct {
	JobID             string    `json:"jobId"`
	Status            JobStatus `json:"status"`
	Stage             string    `json:"stage"`
	Percent           float64   `json:"percent"`
	DownloadedBytes   int64     `json:"downloadedBytes"`
	TotalBytes        *int64    `json:"totalBytes"`
	Speed             *float64  `json:"speed"`
	ETASeconds        *int64    `json:"etaSeconds"`
	Message           string    `json:"message"`
	QueueDepth        int       `json:"queueDepth"`
	QueuePosition     int       `json:"queuePosition"`
	RetryAfterSeconds *int64    `json:"retryAfterSeconds"`
	AttemptsRemaining *int      `json:"attemptsRemaining"`
	Remediation       *string   `json:"remediation"`
	Timestamp         time.Time `json:"timestamp"`
}

// ClampPercent bounds Percent into [0, 100]
func (p *ProgressState) ClampPercent() {
	if p.Percent < 0 {
		p.Percent = 0
	}
	if p.Percent > 100 {
		p.Percent = 100
	}
}

// Int64Ptr returns a pointer to v, for optional telemetry fields
func Int64Ptr(v int64) *int64 { return &v }

// Float64Ptr returns a pointer to v, for optional telemetry fields
func Float64Ptr(v float64) *float64 { return &v }

// IntPtr returns a pointer to v, for optional telemetry fields
func IntPtr(v int) *int { return &v }

// StringPtr returns a pointer to v, for optional telemetry fields
func StringPtr(v string) *string { return &v }
