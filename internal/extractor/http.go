package extractor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/mediagrab/pkg/models"
)

// HTTPExtractor fetches media over plain HTTP(S). It covers direct media
// URLs and serves as the default implementation behind the platform
// registry; platform-specific resolvers can replace it per platform.
type HTTPExtractor struct {
	client *http.Client
}

// NewHTTPExtractor creates an extractor backed by the given client. A nil
// client gets a default with a 30s dial-to-header timeout.
func NewHTTPExtractor(client *http.Client) *HTTPExtractor {
	if client == nil {
		client = &http.Client{Timeout: 0, Transport: &http.Transport{ResponseHeaderTimeout: 30 * time.Second}}
	}
	return &HTTPExtractor{client: client}
}

// Resolve issues a HEAD request to size the media and derives a title from
// the URL path. Platform routing already happened at the registry, so the
// URL is taken as-is.
func (e *HTTPExtractor) Resolve(ctx context.Context, sourceURL string, opts FetchOptions) (*Media, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building resolve request: %w", err)
	}

	var total int64 = -1
	resp, err := e.client.Do(req)
	if err == nil {
		resp.Body.Close()
		if statusErr := classifyStatus(resp.StatusCode, sourceURL); statusErr != nil {
			return nil, statusErr
		}
		if v := resp.Header.Get("Content-Length"); v != "" {
			if n, parseErr := strconv.ParseInt(v, 10, 64); parseErr == nil {
				total = n
			}
		}
	}

	return &Media{
		Title: titleFromURL(sourceURL),
		Items: []MediaItem{{
			ID:         "1",
			Index:      0,
			Title:      titleFromURL(sourceURL),
			URL:        sourceURL,
			TotalBytes: total,
		}},
	}, nil
}

// Fetch streams the item to destPath, reporting byte progress as chunks
// arrive
func (e *HTTPExtractor) Fetch(ctx context.Context, item MediaItem, destPath string, opts FetchOptions, fn ProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.URL, nil)
	if err != nil {
		return fmt.Errorf("building fetch request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return &models.JobError{
			Code:    models.ErrTransientNetwork,
			Message: fmt.Sprintf("fetching %s: %v", item.URL, err),
		}
	}
	defer resp.Body.Close()

	if statusErr := classifyStatus(resp.StatusCode, item.URL); statusErr != nil {
		return statusErr
	}

	total := resp.ContentLength
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", destPath, err)
	}
	defer out.Close()

	writer := &progressWriter{total: total, fn: fn}
	if _, err := io.Copy(io.MultiWriter(out, writer), resp.Body); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &models.JobError{
			Code:    models.ErrTransientNetwork,
			Message: fmt.Sprintf("stream interrupted for %s: %v", item.URL, err),
		}
	}
	return nil
}

// classifyStatus maps HTTP status codes onto the shared error classes
func classifyStatus(status int, sourceURL string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return &models.JobError{
			Code:    models.ErrPlatformThrottled,
			Message: fmt.Sprintf("%s returned 429", sourceURL),
		}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &models.JobError{
			Code:    models.ErrAuthRequired,
			Message: fmt.Sprintf("%s returned %d", sourceURL, status),
		}
	case status == http.StatusNotFound:
		return &models.JobError{
			Code:    models.ErrInvalidURL,
			Message: fmt.Sprintf("%s returned 404", sourceURL),
		}
	case status >= 500:
		return &models.JobError{
			Code:    models.ErrTransientNetwork,
			Message: fmt.Sprintf("%s returned %d", sourceURL, status),
		}
	case status >= 400:
		return &models.JobError{
			Code:    models.ErrInvalidURL,
			Message: fmt.Sprintf("%s returned %d", sourceURL, status),
		}
	}
	return nil
}

// titleFromURL uses the last path segment as a best-effort title
func titleFromURL(sourceURL string) string {
	parsed, err := url.Parse(sourceURL)
	if err != nil {
		return "media"
	}
	base := path.Base(parsed.Path)
	base = strings.TrimSuffix(base, path.Ext(base))
	if base == "" || base == "." || base == "/" {
		return "media"
	}
	return base
}

// progressWriter forwards byte counts to the progress callback
type progressWriter struct {
	total      int64
	downloaded int64
	fn         ProgressFunc
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.downloaded += int64(len(p))
	if w.fn != nil {
		w.fn(w.downloaded, w.total)
	}
	return len(p), nil
}
