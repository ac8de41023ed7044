package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"

	"github.com/therealutkarshpriyadarshi/mediagrab/internal/config"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/extractor"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/output"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/packager"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/progress"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/retry"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/mediagrab/pkg/models"
)

// Percent layout across job phases. Playlist jobs divide the work band per
// item; packaging and finalization own the tail.
const (
	downloadCeiling     = 60.0
	transcodeCeiling    = 95.0
	playlistWorkCeiling = 85.0
	downloadShare       = 0.7
)

// Notifier delivers terminal-state notifications out of band
type Notifier interface {
	NotifyTerminal(ctx context.Context, job models.DownloadJob)
}

// Mirror replicates job and progress state into an external cache for
// cross-instance reads
type Mirror interface {
	MirrorJob(ctx context.Context, job models.DownloadJob) error
	MirrorProgress(ctx context.Context, state models.ProgressState) error
	DeleteJob(ctx context.Context, jobID string) error
}

// ArtifactStore mirrors finished artifacts into object storage
type ArtifactStore interface {
	Upload(ctx context.Context, localPath, objectName string) error
}

// Options wires the orchestrator's collaborators. Notifier, Mirror, Store
// and Sleep are optional.
type Options struct {
	Config     *config.Config
	Logger     *logging.Logger
	Bus        *progress.Bus
	Registry   *Registry
	Output     *output.Manager
	Queue      *transcoder.Queue
	Extractors *extractor.Registry
	Packager   *packager.Packager
	Policy     retry.Policy
	Notifier   Notifier
	Mirror     Mirror
	Store      ArtifactStore
	Sleep      func(ctx context.Context, d time.Duration) error
	Now        func() time.Time
}

// DownloadService orchestrates the full job lifecycle: validation,
// extraction, retry, transcode admission, playlist iteration, packaging and
// terminal bookkeeping.
type DownloadService struct {
	cfg        *config.Config
	logger     *logging.Logger
	bus        *progress.Bus
	registry   *Registry
	output     *output.Manager
	queue      *transcoder.Queue
	extractors *extractor.Registry
	packager   *packager.Packager
	policy     retry.Policy
	notifier   Notifier
	mirror     Mirror
	store      ArtifactStore
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewDownloadService creates the orchestrator
func NewDownloadService(opts Options) *DownloadService {
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &DownloadService{
		cfg:        opts.Config,
		logger:     opts.Logger,
		bus:        opts.Bus,
		registry:   opts.Registry,
		output:     opts.Output,
		queue:      opts.Queue,
		extractors: opts.Extractors,
		packager:   opts.Packager,
		policy:     opts.Policy,
		notifier:   opts.Notifier,
		mirror:     opts.Mirror,
		store:      opts.Store,
		sleep:      sleep,
		now:        now,
		cancels:    make(map[string]context.CancelFunc),
	}
}

// SubmitRequest is one download submission from either front-end
type SubmitRequest struct {
	SourceURL      string
	Format         models.Format
	ItemSelection  []int // optional 1-based playlist positions
	InterItemDelay *time.Duration
	CookiesB64     string
}

// Submit validates the request synchronously, allocates the job and starts
// its pipeline in the background. Validation failures return a *models.JobError.
func (s *DownloadService) Submit(ctx context.Context, req SubmitRequest) (models.DownloadJob, error) {
	platform, err := extractor.PlatformFromURL(req.SourceURL)
	if err != nil {
		return models.DownloadJob{}, err
	}

	if !req.Format.Valid() {
		return models.DownloadJob{}, &models.JobError{
			Code:        models.ErrUnsupportedFormat,
			Message:     fmt.Sprintf("unsupported format %q", req.Format),
			Remediation: retry.Remediation(models.ErrUnsupportedFormat),
		}
	}

	if req.ItemSelection != nil && len(req.ItemSelection) == 0 {
		return models.DownloadJob{}, &models.JobError{
			Code:        models.ErrInvalidURL,
			Message:     "playlist item selection is empty",
			Remediation: "Select at least one playlist item",
		}
	}

	var cookies []byte
	if req.CookiesB64 != "" {
		cookies, err = base64.StdEncoding.DecodeString(req.CookiesB64)
		if err != nil {
			return models.DownloadJob{}, &models.JobError{
				Code:        models.ErrInvalidURL,
				Message:     "cookies payload is not valid base64",
				Remediation: "Re-export cookies and encode them as base64",
			}
		}
	}

	jobID := uuid.New().String()
	outputDir, err := s.output.Allocate(jobID)
	if err != nil {
		return models.DownloadJob{}, retry.AsJobError(err)
	}

	cookiesPath := ""
	if len(cookies) > 0 {
		cookiesPath, err = s.output.TempPath(jobID, "cookies.txt")
		if err == nil {
			err = os.WriteFile(cookiesPath, cookies, 0o600)
		}
		if err != nil {
			return models.DownloadJob{}, fmt.Errorf("writing cookies file: %w", err)
		}
	}

	now := time.Now().UTC()
	job := &models.DownloadJob{
		ID:              jobID,
		SourceURL:       req.SourceURL,
		Platform:        platform,
		RequestedFormat: req.Format,
		Status:          models.JobStatusPending,
		Stage:           "Queued for processing",
		OutputDir:       outputDir,
		RequestedAt:     now,
		UpdatedAt:       now,
		Artifacts:       []models.DownloadArtifact{},
	}
	s.registry.Put(job)

	metrics.JobsCreatedTotal.WithLabelValues(string(platform), string(req.Format)).Inc()
	metrics.JobsInProgress.Inc()

	s.publish(models.ProgressState{
		JobID:   jobID,
		Status:  models.JobStatusPending,
		Stage:   "Queued for processing",
		Message: "Job accepted",
	})

	jobCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[jobID] = cancel
	s.mu.Unlock()

	s.logger.WithJobID(jobID).WithPlatform(string(platform)).Infof("Job submitted for %s", req.SourceURL)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(jobCtx, jobID, req, extractor.FetchOptions{CookiesPath: cookiesPath})
	}()

	return cloneJob(job), nil
}

// Cancel stops a running job. Terminal jobs cannot be cancelled.
func (s *DownloadService) Cancel(jobID string) error {
	job, ok := s.registry.Get(jobID)
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s already finished as %s", jobID, job.Status)
	}

	s.mu.Lock()
	cancel := s.cancels[jobID]
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Job returns a copy of the job
func (s *DownloadService) Job(jobID string) (models.DownloadJob, bool) {
	return s.registry.Get(jobID)
}

// Jobs returns copies of all jobs, newest first
func (s *DownloadService) Jobs() []models.DownloadJob {
	return s.registry.List()
}

// StartJanitor periodically evicts terminal jobs older than the artifact TTL
// from the registry, and from the mirror when one is wired, until ctx is
// cancelled. Job directories are swept separately by the output manager.
func (s *DownloadService) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepJobs(ctx)
			}
		}
	}()
}

// sweepJobs garbage-collects expired terminal job records
func (s *DownloadService) sweepJobs(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.Output.ArtifactTTL)
	removed := s.registry.SweepTerminal(cutoff)
	for _, jobID := range removed {
		if s.mirror != nil {
			if err := s.mirror.DeleteJob(ctx, jobID); err != nil {
				s.logger.WithJobID(jobID).Warnf("Job mirror eviction failed: %v", err)
			}
		}
	}
	if len(removed) > 0 {
		s.logger.Infof("Janitor evicted %d expired job records", len(removed))
	}
}

// Close cancels all running jobs and waits for their goroutines
func (s *DownloadService) Close() {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// run drives one job to a terminal state
func (s *DownloadService) run(ctx context.Context, jobID string, req SubmitRequest, opts extractor.FetchOptions) {
	started := time.Now()
	span, ctx := opentracing.StartSpanFromContext(ctx, "job.run")
	span.SetTag("job.id", jobID)
	defer span.Finish()

	job, ok := s.registry.Get(jobID)
	if !ok {
		return
	}
	log := s.logger.WithJobID(jobID)

	defer func() {
		s.mu.Lock()
		delete(s.cancels, jobID)
		s.mu.Unlock()
		metrics.JobDurationSeconds.WithLabelValues(string(job.Platform)).Observe(time.Since(started).Seconds())
	}()

	ext, err := s.extractors.Get(job.Platform)
	if err != nil {
		s.fail(jobID, err)
		return
	}

	media, err := s.resolveMedia(ctx, jobID, ext, job.SourceURL, opts)
	if err != nil {
		s.fail(jobID, err)
		return
	}

	items := selectItems(media.Items, req.ItemSelection)
	if len(items) == 0 {
		s.fail(jobID, &models.JobError{
			Code:        models.ErrInvalidURL,
			Message:     "item selection matches no playlist entries",
			Remediation: "Select positions that exist in the playlist",
		})
		return
	}

	if len(items) > 1 {
		s.runPlaylist(ctx, jobID, ext, media, items, req, opts)
		return
	}

	if err := s.runSingle(ctx, jobID, ext, items[0], req, opts); err != nil {
		s.fail(jobID, err)
		return
	}

	log.Infof("Job completed")
}

// runSingle handles the one-item pipeline: fetch, transcode, register
func (s *DownloadService) runSingle(ctx context.Context, jobID string, ext extractor.Extractor, item extractor.MediaItem, req SubmitRequest, opts extractor.FetchOptions) error {
	rawPath, err := s.downloadOne(ctx, jobID, ext, item, opts, 0, downloadCeiling)
	if err != nil {
		return err
	}

	artifact, err := s.transcodeOne(ctx, jobID, rawPath, item, itemFormat(req.Format), downloadCeiling, transcodeCeiling)
	if err != nil {
		return err
	}

	s.complete(jobID, fmt.Sprintf("Saved %s", filepath.Base(artifact.Path)))
	return nil
}

// runPlaylist iterates items strictly in order with the configured delay
// between them, records per-item outcomes, and packages multi-artifact
// results into a single archive. The job completes when at least one item
// succeeded.
func (s *DownloadService) runPlaylist(ctx context.Context, jobID string, ext extractor.Extractor, media *extractor.Media, items []extractor.MediaItem, req SubmitRequest, opts extractor.FetchOptions) {
	log := s.logger.WithJobID(jobID)
	total := len(items)

	delay := s.cfg.Playlist.InterItemDelay
	if req.InterItemDelay != nil {
		delay = *req.InterItemDelay
	}

	results := make([]models.PlaylistItemResult, 0, total)
	for i, item := range items {
		if i > 0 && delay > 0 {
			if err := s.sleep(ctx, delay); err != nil {
				s.fail(jobID, err)
				return
			}
		}

		winStart := float64(i) / float64(total) * playlistWorkCeiling
		winEnd := float64(i+1) / float64(total) * playlistWorkCeiling
		downloadEnd := winStart + (winEnd-winStart)*downloadShare

		result := models.PlaylistItemResult{
			ItemID:    item.ID,
			Index:     item.Index,
			Title:     item.Title,
			SourceURL: item.URL,
		}

		rawPath, err := s.downloadOne(ctx, jobID, ext, item, opts, winStart, downloadEnd)
		var artifact models.DownloadArtifact
		if err == nil {
			artifact, err = s.transcodeOne(ctx, jobID, rawPath, item, itemFormat(req.Format), downloadEnd, winEnd)
		}

		if err != nil {
			if ctx.Err() != nil {
				s.fail(jobID, ctx.Err())
				return
			}
			jobErr := retry.AsJobError(err)
			result.Status = models.ItemStatusFailed
			result.Error = jobErr
			log.WithField("item", item.Index+1).Warnf("Playlist item failed: %s", jobErr.Message)
		} else {
			result.Status = models.ItemStatusSuccess
			result.ArtifactPath = &artifact.Path
			result.SizeBytes = &artifact.SizeBytes
		}

		results = append(results, result)
		snapshot := append([]models.PlaylistItemResult(nil), results...)
		s.registry.Update(jobID, func(j *models.DownloadJob) {
			j.PlaylistItems = snapshot
		})
	}

	summary := packager.BuildSummary(jobID, results, time.Now())
	if summary.SuccessCount == 0 {
		lastErr := results[len(results)-1].Error
		if lastErr == nil {
			lastErr = &models.JobError{Code: models.ErrTransientNetwork, Message: "all playlist items failed"}
		}
		s.fail(jobID, &models.JobError{
			Code:        lastErr.Code,
			Message:     fmt.Sprintf("all %d playlist items failed: %s", total, lastErr.Message),
			Remediation: retry.Remediation(lastErr.Code),
		})
		return
	}

	if summary.SuccessCount > 1 {
		if err := s.packageArchive(ctx, jobID, media.Title, summary); err != nil {
			s.fail(jobID, err)
			return
		}
	}

	s.complete(jobID, fmt.Sprintf("Completed %d/%d items", summary.SuccessCount, total))
}

// packageArchive zips the playlist artifacts with the summary and report
func (s *DownloadService) packageArchive(ctx context.Context, jobID, title string, summary models.PlaylistSummary) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.registry.Update(jobID, func(j *models.DownloadJob) {
		j.SetStatus(models.JobStatusPackaging, "Packaging archive")
	})
	s.publish(models.ProgressState{
		JobID:   jobID,
		Status:  models.JobStatusPackaging,
		Stage:   "Packaging archive",
		Percent: 90,
		Message: fmt.Sprintf("Archiving %d items", summary.SuccessCount),
	})

	archiveName := output.ArchiveName(title, "zip", time.Now())
	zipPath, err := s.output.ArtifactPath(jobID, archiveName)
	if err != nil {
		return err
	}

	size, err := s.packager.Package(summary, zipPath)
	if err != nil {
		return fmt.Errorf("packaging playlist: %w", err)
	}
	if _, err := s.packager.WriteReport(summary, filepath.Dir(zipPath)); err != nil {
		return err
	}

	return s.registerArtifact(ctx, jobID, models.DownloadArtifact{
		JobID:      jobID,
		ArtifactID: uuid.New().String(),
		Type:       models.ArtifactTypeArchive,
		Path:       zipPath,
		SizeBytes:  size,
	})
}

// resolveMedia resolves the source URL under the retry policy
func (s *DownloadService) resolveMedia(ctx context.Context, jobID string, ext extractor.Extractor, sourceURL string, opts extractor.FetchOptions) (*extractor.Media, error) {
	var media *extractor.Media
	err := s.withRetry(ctx, jobID, func() error {
		var rerr error
		media, rerr = ext.Resolve(ctx, sourceURL, opts)
		return rerr
	})
	return media, err
}

// downloadOne fetches a single item under the retry policy, reporting byte
// progress mapped onto [winStart, winEnd]
func (s *DownloadService) downloadOne(ctx context.Context, jobID string, ext extractor.Extractor, item extractor.MediaItem, opts extractor.FetchOptions, winStart, winEnd float64) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "job.download")
	span.SetTag("item.index", item.Index)
	defer span.Finish()

	rawPath, err := s.output.TempPath(jobID, fmt.Sprintf("raw_%03d", item.Index+1))
	if err != nil {
		return "", err
	}

	job, _ := s.registry.Get(jobID)
	stage := fmt.Sprintf("Downloading %s", item.Title)
	startedAt := time.Now()
	var lastDownloaded int64

	fn := func(downloaded, total int64) {
		lastDownloaded = downloaded
		state := models.ProgressState{
			JobID:           jobID,
			Status:          models.JobStatusDownloading,
			Stage:           stage,
			Percent:         winStart,
			DownloadedBytes: downloaded,
			Message:         stage,
		}
		if total > 0 {
			state.TotalBytes = models.Int64Ptr(total)
			state.Percent = winStart + (winEnd-winStart)*float64(downloaded)/float64(total)
		}
		if elapsed := time.Since(startedAt).Seconds(); elapsed > 0 {
			speed := float64(downloaded) / elapsed
			state.Speed = models.Float64Ptr(speed)
			if total > 0 && speed > 0 {
				state.ETASeconds = models.Int64Ptr(int64(float64(total-downloaded) / speed))
			}
		}
		s.publish(state)
	}

	s.registry.Update(jobID, func(j *models.DownloadJob) {
		j.SetStatus(models.JobStatusDownloading, stage)
	})

	err = s.withRetry(ctx, jobID, func() error {
		startedAt = time.Now()
		return ext.Fetch(ctx, item, rawPath, opts, fn)
	})
	if err != nil {
		return "", err
	}

	metrics.DownloadedBytesTotal.WithLabelValues(string(job.Platform)).Add(float64(lastDownloaded))
	return rawPath, nil
}

// withRetry runs op under the backoff policy, publishing retry telemetry
// between attempts. Non-retryable classes and exhausted budgets surface the
// final error unchanged.
func (s *DownloadService) withRetry(ctx context.Context, jobID string, op func() error) error {
	log := s.logger.WithJobID(jobID)

	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		class := retry.Classify(err)
		decision := s.policy.Decide(class, attempt)
		if !decision.Retry {
			return err
		}

		metrics.RetriesTotal.WithLabelValues(class).Inc()
		s.registry.Update(jobID, func(j *models.DownloadJob) {
			j.RetryCount++
			j.Touch()
		})

		retryStage := fmt.Sprintf("Retrying after %s (attempt %d/%d)", class, attempt+1, s.policy.MaxAttempts)
		log.WithField("class", class).Warnf("%s; backing off %s", retryStage, decision.Delay)

		state := models.ProgressState{
			JobID:             jobID,
			Status:            models.JobStatusDownloading,
			Stage:             retryStage,
			Message:           err.Error(),
			RetryAfterSeconds: models.Int64Ptr(int64(decision.Delay.Seconds())),
			AttemptsRemaining: models.IntPtr(decision.AttemptsRemaining),
		}
		if decision.Remediation != "" {
			state.Remediation = models.StringPtr(decision.Remediation)
		}
		if prev, ok := s.bus.Latest(jobID); ok {
			state.Percent = prev.Percent
		}
		s.publish(state)

		if serr := s.sleep(ctx, decision.Delay); serr != nil {
			return serr
		}
	}
}

// transcodeOne submits the raw download to the transcode queue, registers
// the produced artifact and removes the raw input
func (s *DownloadService) transcodeOne(ctx context.Context, jobID, rawPath string, item extractor.MediaItem, format models.Format, percent, ceiling float64) (models.DownloadArtifact, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "job.transcode")
	defer span.Finish()

	ext := "mp4"
	artifactType := models.ArtifactTypeVideo
	if format == models.FormatMP3 {
		ext = "mp3"
		artifactType = models.ArtifactTypeAudio
	}

	profiles := models.DefaultProfilePair(s.cfg.Transcoder.MaxFilesizeMB)
	if format == models.FormatMP3 {
		profiles.Primary.Container = "mp3"
		profiles.Fallback.Container = "mp3"
	}

	outName := output.ArchiveName(item.Title, ext, time.Now())
	outPath, err := s.output.ArtifactPath(jobID, outName)
	if err != nil {
		return models.DownloadArtifact{}, err
	}

	result, err := s.queue.Submit(ctx, transcoder.EncodeRequest{
		JobID:          jobID,
		InputPath:      rawPath,
		OutputPath:     outPath,
		Profiles:       profiles,
		Percent:        percent,
		PercentCeiling: ceiling,
		// Keep the job record in step with the queue's published states so
		// reads of the record and of the bus agree while waiting for a slot.
		StatusFunc: func(status models.JobStatus, stage string) {
			s.registry.Update(jobID, func(j *models.DownloadJob) {
				j.SetStatus(status, stage)
			})
		},
	})
	if err != nil {
		return models.DownloadArtifact{}, err
	}

	if rerr := os.Remove(rawPath); rerr != nil {
		s.logger.WithJobID(jobID).Warnf("Could not remove raw download %s: %v", rawPath, rerr)
	}

	artifact := models.DownloadArtifact{
		JobID:            jobID,
		ArtifactID:       uuid.New().String(),
		Type:             artifactType,
		Path:             result.OutputPath,
		SizeBytes:        result.SizeBytes,
		CompressionRatio: result.CompressionRatio,
	}
	if err := s.registerArtifact(ctx, jobID, artifact); err != nil {
		return models.DownloadArtifact{}, err
	}
	return artifact, nil
}

// registerArtifact stamps retention, records the artifact in the output
// manager and the registry, and mirrors it into object storage when enabled
func (s *DownloadService) registerArtifact(ctx context.Context, jobID string, artifact models.DownloadArtifact) error {
	expires := time.Now().UTC().Add(s.cfg.Output.ArtifactTTL)
	artifact.ExpiresAt = &expires

	if err := s.output.RegisterArtifact(jobID, artifact); err != nil {
		return err
	}
	s.registry.Update(jobID, func(j *models.DownloadJob) {
		j.AddArtifact(artifact)
	})

	if s.store != nil {
		objectName := jobID + "/" + filepath.Base(artifact.Path)
		if err := s.store.Upload(ctx, artifact.Path, objectName); err != nil {
			s.logger.WithJobID(jobID).Warnf("Artifact mirror upload failed: %v", err)
		}
	}
	return nil
}

// complete finalizes the job as completed exactly once
func (s *DownloadService) complete(jobID, message string) {
	if !s.registry.Finalize(jobID, models.JobStatusCompleted, nil) {
		return
	}
	s.registry.Update(jobID, func(j *models.DownloadJob) {
		j.Stage = "Completed"
		j.Progress = 100
	})
	s.publish(models.ProgressState{
		JobID:   jobID,
		Status:  models.JobStatusCompleted,
		Stage:   "Completed",
		Percent: 100,
		Message: message,
	})
	s.afterTerminal(jobID, models.JobStatusCompleted)
}

// fail finalizes the job as failed exactly once with a structured error
func (s *DownloadService) fail(jobID string, err error) {
	jobErr := retry.AsJobError(err)
	if !s.registry.Finalize(jobID, models.JobStatusFailed, jobErr) {
		return
	}

	percent := 0.0
	if prev, ok := s.bus.Latest(jobID); ok {
		percent = prev.Percent
	}
	state := models.ProgressState{
		JobID:   jobID,
		Status:  models.JobStatusFailed,
		Stage:   fmt.Sprintf("Failed: %s", jobErr.Code),
		Percent: percent,
		Message: jobErr.Message,
	}
	if jobErr.Remediation != "" {
		state.Remediation = models.StringPtr(jobErr.Remediation)
	}
	s.publish(state)

	s.logger.WithJobID(jobID).WithField("class", jobErr.Code).Errorf("Job failed: %s", jobErr.Message)
	s.afterTerminal(jobID, models.JobStatusFailed)
}

// afterTerminal runs the once-per-job terminal side effects
func (s *DownloadService) afterTerminal(jobID string, status models.JobStatus) {
	metrics.JobsCompletedTotal.WithLabelValues(string(status)).Inc()
	metrics.JobsInProgress.Dec()

	// Scratch space goes now; registered artifacts stay until ExpiresAt.
	if err := s.output.Cleanup(jobID); err != nil {
		s.logger.WithJobID(jobID).Warnf("Job cleanup failed: %v", err)
	}

	job, ok := s.registry.Get(jobID)
	if !ok {
		return
	}
	if s.mirror != nil {
		if err := s.mirror.MirrorJob(context.Background(), job); err != nil {
			s.logger.WithJobID(jobID).Warnf("Job mirror failed: %v", err)
		}
	}
	if s.notifier != nil {
		s.notifier.NotifyTerminal(context.Background(), job)
	}
}

// publish forwards a progress state to the bus and the optional mirror
func (s *DownloadService) publish(state models.ProgressState) {
	s.bus.Publish(state)
	if s.mirror != nil {
		if latest, ok := s.bus.Latest(state.JobID); ok {
			if err := s.mirror.MirrorProgress(context.Background(), latest); err != nil {
				s.logger.WithJobID(state.JobID).Debugf("Progress mirror failed: %v", err)
			}
		}
	}
}

// selectItems filters playlist items by 1-based position, preserving the
// original order. A nil selection keeps everything.
func selectItems(items []extractor.MediaItem, selection []int) []extractor.MediaItem {
	if selection == nil {
		return items
	}
	wanted := make(map[int]bool, len(selection))
	for _, pos := range selection {
		wanted[pos] = true
	}
	out := make([]extractor.MediaItem, 0, len(items))
	for _, item := range items {
		if wanted[item.Index+1] {
			out = append(out, item)
		}
	}
	return out
}

// itemFormat maps the requested job format to the per-item encode format.
// Archives are assembled from mp4 items.
func itemFormat(format models.Format) models.Format {
	if format == models.FormatMP3 {
		return models.FormatMP3
	}
	return models.FormatMP4
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
