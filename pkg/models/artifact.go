package models

import "time"

// ArtifactType distinguishes artifact kinds exposed for retrieval
type ArtifactType string

// Artifact types
const (
	ArtifactTypeVideo   ArtifactType = "video"
	ArtifactTypeAudio   ArtifactType = "audio"
	ArtifactTypeArchive ArtifactType = "archive"
)

// DownloadArtifact is one produced file exposed for retrieval. Path always
// resolves inside the owning job's output directory.
type DownloadArtifact struct {
	JobID            string       `json:"jobId"`
	ArtifactID       string       `json:"artifactId"`
	Type             ArtifactType `json:"type"`
	Path             string       `json:"path"`
	SizeBytes        int64        `json:"sizeBytes"`
	CompressionRatio float64      `json:"compressionRatio,omitempty"`
	ExpiresAt        *time.Time   `json:"expiresAt,omitempty"`
}

// Expired reports whether the artifact's retention window has passed
func (a DownloadArtifact) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}
