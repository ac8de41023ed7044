package extractor

import (
	"context"

	"github.com/therealutkarshpriyadarshi/mediagrab/pkg/models"
)

// ProgressFunc receives byte-level download progress. total is -1 when the
// source does not report a size.
type ProgressFunc func(downloaded, total int64)

// MediaItem is one fetchable media entry resolved from a source URL
type MediaItem struct {
	ID              string
	Index           int
	Title           string
	URL             string
	DurationSeconds float64
	TotalBytes      int64
}

// Media is the resolved view of a source URL, single video or playlist
type Media struct {
	Title    string
	Platform models.Platform
	Playlist bool
	Items    []MediaItem
}

// FetchOptions carries per-request extractor inputs. CookiesPath points at a
// cookies file written into the job working dir; extractors treat it as
// opaque.
type FetchOptions struct {
	CookiesPath string
}

// Extractor resolves source URLs into media items and fetches their raw
// streams to local files
type Extractor interface {
	// Resolve inspects the source URL and returns the media it points at.
	Resolve(ctx context.Context, sourceURL string, opts FetchOptions) (*Media, error)

	// Fetch downloads one resolved item to destPath, reporting byte
	// progress through fn. The partial file is left in place on error so
	// callers can decide whether to resume or discard it.
	Fetch(ctx context.Context, item MediaItem, destPath string, opts FetchOptions, fn ProgressFunc) error
}
