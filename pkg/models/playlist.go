package models

// ItemStatus is the terminal state of one playlist item
type ItemStatus string

// Item states
const (
	ItemStatusSuccess ItemStatus = "success"
	ItemStatusFailed  ItemStatus = "failed"
)

// PlaylistItemResult is the outcome of one unit within a multi-item job.
// Items keep their original playlist position in every output.
type PlaylistItemResult struct {
	ItemID       string     `json:"itemId"`
	Index        int        `json:"index"`
	Title        string     `json:"title"`
	SourceURL    string     `json:"sourceUrl"`
	Status       ItemStatus `json:"status"`
	ArtifactPath *string    `json:"artifactPath"`
	SizeBytes    *int64     `json:"sizeBytes"`
	Error        *JobError  `json:"error,omitempty"`
}

// PlaylistSummary is the machine-readable record written into the archive
type PlaylistSummary struct {
	JobID           string               `json:"jobId"`
	CreatedAt       string               `json:"createdAt"`
	Items           []PlaylistItemResult `json:"items"`
	TotalItems      int                  `json:"totalItems"`
	SuccessCount    int                  `json:"successCount"`
	FailedCount     int                  `json:"failedCount"`
	Recommendations []string             `json:"recommendations"`
}
