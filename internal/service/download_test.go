package service

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/mediagrab/internal/config"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/extractor"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/output"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/packager"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/progress"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/retry"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/mediagrab/pkg/models"
)

const testURL = "https://www.youtube.com/watch?v=abc123"

// fakeExtractor scripts resolution and fetch outcomes per item and per
// attempt
type fakeExtractor struct {
	mu           sync.Mutex
	media        *extractor.Media
	resolveFails int
	resolveErr   error
	fetchErrs    map[string][]error // per item ID, consumed in attempt order
	fetchBytes   int64
	fetchCalls   map[string]int
	blockFetch   bool // park fetches until the context is cancelled
}

func newFakeExtractor(media *extractor.Media) *fakeExtractor {
	return &fakeExtractor{
		media:      media,
		fetchErrs:  map[string][]error{},
		fetchBytes: 4096,
		fetchCalls: map[string]int{},
	}
}

func (f *fakeExtractor) Resolve(ctx context.Context, sourceURL string, opts extractor.FetchOptions) (*extractor.Media, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveFails > 0 {
		f.resolveFails--
		return nil, f.resolveErr
	}
	return f.media, nil
}

func (f *fakeExtractor) Fetch(ctx context.Context, item extractor.MediaItem, destPath string, opts extractor.FetchOptions, fn extractor.ProgressFunc) error {
	f.mu.Lock()
	f.fetchCalls[item.ID]++
	var err error
	if queue := f.fetchErrs[item.ID]; len(queue) > 0 {
		err = queue[0]
		f.fetchErrs[item.ID] = queue[1:]
	}
	size := f.fetchBytes
	block := f.blockFetch
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	if fn != nil {
		fn(size/2, size)
		fn(size, size)
	}
	return os.WriteFile(destPath, make([]byte, size), 0o644)
}

func singleMedia(title string) *extractor.Media {
	return &extractor.Media{
		Title: title,
		Items: []extractor.MediaItem{{ID: "v1", Index: 0, Title: title, URL: testURL, TotalBytes: 4096}},
	}
}

func playlistMedia(titles ...string) *extractor.Media {
	items := make([]extractor.MediaItem, len(titles))
	for i, title := range titles {
		items[i] = extractor.MediaItem{
			ID:    fmt.Sprintf("v%d", i+1),
			Index: i,
			Title: title,
			URL:   fmt.Sprintf("%s&item=%d", testURL, i+1),
		}
	}
	return &extractor.Media{Title: "Test Playlist", Playlist: true, Items: items}
}

type harness struct {
	svc    *DownloadService
	bus    *progress.Bus
	ext    *fakeExtractor
	out    *output.Manager
	sleeps *[]time.Duration
}

func newHarness(t *testing.T, ext *fakeExtractor) *harness {
	return newHarnessOpts(t, ext, nil)
}

func newHarnessOpts(t *testing.T, ext *fakeExtractor, tweak func(*Options)) *harness {
	t.Helper()

	logger, err := logging.NewConsoleLogger()
	require.NoError(t, err)

	cfg := &config.Config{
		Output: config.OutputConfig{
			RootDir:      t.TempDir(),
			MinFreeBytes: 1,
			ArtifactTTL:  24 * time.Hour,
		},
		Transcoder: config.TranscoderConfig{WorkerCount: 2, EncodeTimeout: time.Minute, MaxFilesizeMB: 1},
		Retry:      config.RetryConfig{MaxAttempts: 3, BaseDelay: 3 * time.Second},
		Playlist:   config.PlaylistConfig{InterItemDelay: 3 * time.Second},
	}

	manager, err := output.New(cfg.Output, logger)
	require.NoError(t, err)

	bus := progress.NewBus(5 * time.Minute)

	fake := newFakeTranscoder()
	fake.sizeByProfile["mobile-primary"] = 1024
	fake.sizeByProfile["mobile-fallback"] = 512
	queue := transcoder.NewQueue(fake, bus, logger, cfg.Transcoder.WorkerCount, cfg.Transcoder.EncodeTimeout)

	registry := extractor.NewRegistry()
	registry.Register(models.PlatformYouTube, ext)

	var sleeps []time.Duration
	var sleepMu sync.Mutex

	opts := Options{
		Config:     cfg,
		Logger:     logger,
		Bus:        bus,
		Registry:   NewRegistry(),
		Output:     manager,
		Queue:      queue,
		Extractors: registry,
		Packager:   packager.New(logger),
		Policy:     retry.NewPolicy(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay),
		Sleep: func(ctx context.Context, d time.Duration) error {
			sleepMu.Lock()
			sleeps = append(sleeps, d)
			sleepMu.Unlock()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		},
	}
	if tweak != nil {
		tweak(&opts)
	}
	svc := NewDownloadService(opts)
	t.Cleanup(svc.Close)

	return &harness{svc: svc, bus: bus, ext: ext, out: manager, sleeps: &sleeps}
}

// fakeTranscoder writes outputs of a scripted size per profile
type fakeTranscoder struct {
	mu            sync.Mutex
	sizeByProfile map[string]int64
	calls         []string
}

func newFakeTranscoder() *fakeTranscoder {
	return &fakeTranscoder{sizeByProfile: map[string]int64{}}
}

func (f *fakeTranscoder) Encode(ctx context.Context, inputPath, outputPath string, profile models.TranscodeProfile, cb transcoder.ProgressCallback) error {
	f.mu.Lock()
	f.calls = append(f.calls, profile.Name)
	size := f.sizeByProfile[profile.Name]
	f.mu.Unlock()
	if cb != nil {
		cb(100)
	}
	return os.WriteFile(outputPath, make([]byte, size), 0o644)
}

func (f *fakeTranscoder) Duration(ctx context.Context, inputPath string) (float64, error) {
	return 60, nil
}

func waitTerminal(t *testing.T, h *harness, jobID string) models.DownloadJob {
	t.Helper()
	require.Eventually(t, func() bool {
		job, ok := h.svc.Job(jobID)
		return ok && job.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	job, _ := h.svc.Job(jobID)
	return job
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, newFakeExtractor(singleMedia("Clip")))

	tests := []struct {
		name string
		req  SubmitRequest
		code string
	}{
		{
			name: "unsupported host",
			req:  SubmitRequest{SourceURL: "https://vimeo.com/1", Format: models.FormatMP4},
			code: models.ErrInvalidURL,
		},
		{
			name: "not a url",
			req:  SubmitRequest{SourceURL: "not a url", Format: models.FormatMP4},
			code: models.ErrInvalidURL,
		},
		{
			name: "bad format",
			req:  SubmitRequest{SourceURL: testURL, Format: "wav"},
			code: models.ErrUnsupportedFormat,
		},
		{
			name: "empty selection",
			req:  SubmitRequest{SourceURL: testURL, Format: models.FormatMP4, ItemSelection: []int{}},
			code: models.ErrInvalidURL,
		},
		{
			name: "bad cookies",
			req:  SubmitRequest{SourceURL: testURL, Format: models.FormatMP4, CookiesB64: "%%%"},
			code: models.ErrInvalidURL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Submit(context.Background(), tt.req)
			var jobErr *models.JobError
			require.ErrorAs(t, err, &jobErr)
			assert.Equal(t, tt.code, jobErr.Code)
		})
	}
}

func TestSingleJobCompletes(t *testing.T) {
	h := newHarness(t, newFakeExtractor(singleMedia("My Clip")))

	job, err := h.svc.Submit(context.Background(), SubmitRequest{SourceURL: testURL, Format: models.FormatMP4})
	require.NoError(t, err)
	assert.Equal(t, models.PlatformYouTube, job.Platform)
	assert.Equal(t, models.JobStatusPending, job.Status)

	done := waitTerminal(t, h, job.ID)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	require.Len(t, done.Artifacts, 1)
	assert.Equal(t, models.ArtifactTypeVideo, done.Artifacts[0].Type)
	assert.NotNil(t, done.Artifacts[0].ExpiresAt)
	assert.FileExists(t, done.Artifacts[0].Path)

	state, ok := h.bus.Latest(job.ID)
	require.True(t, ok)
	assert.Equal(t, models.JobStatusCompleted, state.Status)
	assert.Equal(t, 100.0, state.Percent)

	// Scratch space is removed at terminal time; the artifact stays until
	// its retention expires.
	require.Eventually(t, func() bool {
		_, statErr := os.Stat(filepath.Join(h.out.JobDir(job.ID), "tmp"))
		return os.IsNotExist(statErr)
	}, time.Second, 5*time.Millisecond)
	assert.FileExists(t, done.Artifacts[0].Path)
}

func TestSingleJobMP3(t *testing.T) {
	h := newHarness(t, newFakeExtractor(singleMedia("Track")))

	job, err := h.svc.Submit(context.Background(), SubmitRequest{SourceURL: testURL, Format: models.FormatMP3})
	require.NoError(t, err)

	done := waitTerminal(t, h, job.ID)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	require.Len(t, done.Artifacts, 1)
	assert.Equal(t, models.ArtifactTypeAudio, done.Artifacts[0].Type)
	assert.Equal(t, ".mp3", filepath.Ext(done.Artifacts[0].Path))
}

func TestRetryRecoversWithBackoff(t *testing.T) {
	ext := newFakeExtractor(singleMedia("Flaky"))
	ext.fetchErrs["v1"] = []error{
		&models.JobError{Code: models.ErrPlatformThrottled, Message: "429"},
		&models.JobError{Code: models.ErrTransientNetwork, Message: "reset"},
	}
	h := newHarness(t, ext)

	job, err := h.svc.Submit(context.Background(), SubmitRequest{SourceURL: testURL, Format: models.FormatMP4})
	require.NoError(t, err)

	done := waitTerminal(t, h, job.ID)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	assert.Equal(t, 2, done.RetryCount)
	assert.Equal(t, 3, ext.fetchCalls["v1"])
	// Deterministic backoff: 3s then 6s.
	assert.Equal(t, []time.Duration{3 * time.Second, 6 * time.Second}, *h.sleeps)
}

func TestRetryBudgetExhausted(t *testing.T) {
	ext := newFakeExtractor(singleMedia("Throttled"))
	ext.fetchErrs["v1"] = []error{
		&models.JobError{Code: models.ErrPlatformThrottled, Message: "429"},
		&models.JobError{Code: models.ErrPlatformThrottled, Message: "429"},
		&models.JobError{Code: models.ErrPlatformThrottled, Message: "429"},
	}
	h := newHarness(t, ext)

	job, err := h.svc.Submit(context.Background(), SubmitRequest{SourceURL: testURL, Format: models.FormatMP4})
	require.NoError(t, err)

	done := waitTerminal(t, h, job.ID)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	require.NotNil(t, done.Error)
	assert.Equal(t, models.ErrPlatformThrottled, done.Error.Code)
	assert.NotEmpty(t, done.Error.Remediation)
	assert.Equal(t, 3, ext.fetchCalls["v1"])

	state, ok := h.bus.Latest(job.ID)
	require.True(t, ok)
	assert.Equal(t, models.JobStatusFailed, state.Status)
	require.NotNil(t, state.Remediation)
}

func TestNonRetryableFailsImmediately(t *testing.T) {
	ext := newFakeExtractor(singleMedia("Private"))
	ext.fetchErrs["v1"] = []error{
		&models.JobError{Code: models.ErrAuthRequired, Message: "login required"},
	}
	h := newHarness(t, ext)

	job, err := h.svc.Submit(context.Background(), SubmitRequest{SourceURL: testURL, Format: models.FormatMP4})
	require.NoError(t, err)

	done := waitTerminal(t, h, job.ID)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	assert.Equal(t, models.ErrAuthRequired, done.Error.Code)
	assert.Equal(t, 1, ext.fetchCalls["v1"])
	assert.Empty(t, *h.sleeps)
}

func TestResolveRetries(t *testing.T) {
	ext := newFakeExtractor(singleMedia("SlowStart"))
	ext.resolveFails = 1
	ext.resolveErr = &models.JobError{Code: models.ErrTransientNetwork, Message: "dns"}
	h := newHarness(t, ext)

	job, err := h.svc.Submit(context.Background(), SubmitRequest{SourceURL: testURL, Format: models.FormatMP4})
	require.NoError(t, err)

	done := waitTerminal(t, h, job.ID)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	assert.Equal(t, 1, done.RetryCount)
}

func TestPlaylistPartialSuccess(t *testing.T) {
	ext := newFakeExtractor(playlistMedia("One", "Two", "Three"))
	ext.fetchErrs["v2"] = []error{
		&models.JobError{Code: models.ErrAuthRequired, Message: "private video"},
	}
	h := newHarness(t, ext)

	job, err := h.svc.Submit(context.Background(), SubmitRequest{SourceURL: testURL, Format: models.FormatMP4})
	require.NoError(t, err)

	done := waitTerminal(t, h, job.ID)
	assert.Equal(t, models.JobStatusCompleted, done.Status)

	require.Len(t, done.PlaylistItems, 3)
	assert.Equal(t, models.ItemStatusSuccess, done.PlaylistItems[0].Status)
	assert.Equal(t, models.ItemStatusFailed, done.PlaylistItems[1].Status)
	assert.Equal(t, models.ItemStatusSuccess, done.PlaylistItems[2].Status)
	// Input order is preserved in the results.
	assert.Equal(t, []int{0, 1, 2}, []int{done.PlaylistItems[0].Index, done.PlaylistItems[1].Index, done.PlaylistItems[2].Index})
	require.NotNil(t, done.PlaylistItems[1].Error)
	assert.Equal(t, models.ErrAuthRequired, done.PlaylistItems[1].Error.Code)

	// Two item artifacts plus the archive.
	require.Len(t, done.Artifacts, 3)
	archive := done.Artifacts[2]
	assert.Equal(t, models.ArtifactTypeArchive, archive.Type)

	reader, err := zip.OpenReader(archive.Path)
	require.NoError(t, err)
	defer reader.Close()
	names := map[string]bool{}
	for _, f := range reader.File {
		names[f.Name] = true
	}
	assert.True(t, names["SUMMARY.json"])
	assert.True(t, names["COMPRESSION_REPORT.txt"])

	// Inter-item pacing between all three items.
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, *h.sleeps)
}

func TestPlaylistAllItemsFail(t *testing.T) {
	ext := newFakeExtractor(playlistMedia("One", "Two"))
	ext.fetchErrs["v1"] = []error{&models.JobError{Code: models.ErrAuthRequired, Message: "private"}}
	ext.fetchErrs["v2"] = []error{&models.JobError{Code: models.ErrAuthRequired, Message: "private"}}
	h := newHarness(t, ext)

	job, err := h.svc.Submit(context.Background(), SubmitRequest{SourceURL: testURL, Format: models.FormatMP4})
	require.NoError(t, err)

	done := waitTerminal(t, h, job.ID)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	require.NotNil(t, done.Error)
	assert.Equal(t, models.ErrAuthRequired, done.Error.Code)
	require.Len(t, done.PlaylistItems, 2)
}

func TestPlaylistSingleSuccessSkipsPackaging(t *testing.T) {
	ext := newFakeExtractor(playlistMedia("One", "Two"))
	ext.fetchErrs["v2"] = []error{&models.JobError{Code: models.ErrAuthRequired, Message: "private"}}
	h := newHarness(t, ext)

	job, err := h.svc.Submit(context.Background(), SubmitRequest{SourceURL: testURL, Format: models.FormatMP4})
	require.NoError(t, err)

	done := waitTerminal(t, h, job.ID)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	// One item artifact, no archive.
	require.Len(t, done.Artifacts, 1)
	assert.Equal(t, models.ArtifactTypeVideo, done.Artifacts[0].Type)
}

func TestPlaylistItemSelection(t *testing.T) {
	ext := newFakeExtractor(playlistMedia("One", "Two", "Three"))
	h := newHarness(t, ext)

	job, err := h.svc.Submit(context.Background(), SubmitRequest{
		SourceURL:     testURL,
		Format:        models.FormatMP4,
		ItemSelection: []int{1, 3},
	})
	require.NoError(t, err)

	done := waitTerminal(t, h, job.ID)
	assert.Equal(t, models.JobStatusCompleted, done.Status)
	require.Len(t, done.PlaylistItems, 2)
	assert.Equal(t, "One", done.PlaylistItems[0].Title)
	assert.Equal(t, "Three", done.PlaylistItems[1].Title)
	assert.Equal(t, 0, ext.fetchCalls["v2"])
}

func TestCancelRunningJob(t *testing.T) {
	ext := newFakeExtractor(singleMedia("Slow"))
	ext.blockFetch = true
	h := newHarness(t, ext)

	job, err := h.svc.Submit(context.Background(), SubmitRequest{SourceURL: testURL, Format: models.FormatMP4})
	require.NoError(t, err)

	// Wait for the fetch to start so the cancel lands mid-download.
	require.Eventually(t, func() bool {
		ext.mu.Lock()
		defer ext.mu.Unlock()
		return ext.fetchCalls["v1"] > 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.svc.Cancel(job.ID))

	done := waitTerminal(t, h, job.ID)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	require.NotNil(t, done.Error)
	assert.Equal(t, models.ErrCancelled, done.Error.Code)

	// A second cancel reports the terminal state.
	assert.Error(t, h.svc.Cancel(job.ID))

	// No artifacts were produced, so the entire job directory, including the
	// partial raw download, is removed.
	require.Eventually(t, func() bool {
		_, statErr := os.Stat(h.out.JobDir(job.ID))
		return os.IsNotExist(statErr)
	}, time.Second, 5*time.Millisecond)
}

func TestCancelUnknownJob(t *testing.T) {
	h := newHarness(t, newFakeExtractor(singleMedia("X")))
	assert.Error(t, h.svc.Cancel("no-such-job"))
}

func TestProgressPercentNeverDecreases(t *testing.T) {
	h := newHarness(t, newFakeExtractor(singleMedia("Monotonic")))

	job, err := h.svc.Submit(context.Background(), SubmitRequest{SourceURL: testURL, Format: models.FormatMP4})
	require.NoError(t, err)

	sub := h.bus.Subscribe(job.ID)
	defer h.bus.Unsubscribe(job.ID, sub)

	waitTerminal(t, h, job.ID)

	last := -1.0
	for {
		select {
		case state := <-sub:
			assert.GreaterOrEqual(t, state.Percent, last)
			last = state.Percent
			if state.Status.Terminal() {
				assert.Equal(t, 100.0, state.Percent)
				return
			}
		case <-time.After(time.Second):
			t.Fatal("terminal state never observed on subscription")
		}
	}
}

func TestJobsListNewestFirst(t *testing.T) {
	h := newHarness(t, newFakeExtractor(singleMedia("A")))

	first, err := h.svc.Submit(context.Background(), SubmitRequest{SourceURL: testURL, Format: models.FormatMP4})
	require.NoError(t, err)
	waitTerminal(t, h, first.ID)

	second, err := h.svc.Submit(context.Background(), SubmitRequest{SourceURL: testURL, Format: models.FormatMP4})
	require.NoError(t, err)
	waitTerminal(t, h, second.ID)

	jobs := h.svc.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID)
}

// fakeMirror records evictions so janitor tests can assert the mirror is
// kept in sync
type fakeMirror struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeMirror) MirrorJob(ctx context.Context, job models.DownloadJob) error { return nil }

func (f *fakeMirror) MirrorProgress(ctx context.Context, state models.ProgressState) error {
	return nil
}

func (f *fakeMirror) DeleteJob(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, jobID)
	return nil
}

func TestJanitorEvictsExpiredJobRecords(t *testing.T) {
	mirror := &fakeMirror{}
	h := newHarnessOpts(t, newFakeExtractor(singleMedia("Old")), func(o *Options) {
		o.Mirror = mirror
		// Clock past the artifact TTL so the finished job is eligible.
		o.Now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	})

	job, err := h.svc.Submit(context.Background(), SubmitRequest{SourceURL: testURL, Format: models.FormatMP4})
	require.NoError(t, err)
	waitTerminal(t, h, job.ID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.svc.StartJanitor(ctx, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, ok := h.svc.Job(job.ID)
		return !ok
	}, time.Second, 5*time.Millisecond)

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	assert.Contains(t, mirror.deleted, job.ID)
}
