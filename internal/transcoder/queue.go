package transcoder

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/mediagrab/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/progress"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/retry"
	"github.com/therealutkarshpriyadarshi/mediagrab/pkg/models"
)

// EncodeRequest describes one transcode run submitted to the queue
type EncodeRequest struct {
	JobID      string
	InputPath  string
	OutputPath string
	Profiles   models.ProfilePair
	// Percent is the job's progress when entering the queue; queued-state
	// publications keep it unchanged and encode progress advances from it.
	Percent float64
	// PercentCeiling bounds how far encode progress advances the overall
	// percent. Zero means the default ceiling of 95.
	PercentCeiling float64
	// StatusFunc, when set, observes the queued/transcoding transitions the
	// queue publishes so the caller's job record stays in step with the bus.
	StatusFunc func(status models.JobStatus, stage string)
}

// EncodeResult describes the finished transcode
type EncodeResult struct {
	OutputPath       string
	SizeBytes        int64
	ProfileName      string
	CompressionRatio float64
	FallbackUsed     bool
}

// Queue is a bounded-concurrency FIFO queue in front of the external
// transcoder. Exactly workerCount encodes run at once; everything else
// waits in admission order and is reported as queued with its position.
type Queue struct {
	transcoder  Transcoder
	bus         *progress.Bus
	logger      *logging.Logger
	slots       chan struct{}
	workerCount int
	timeout     time.Duration

	mu      sync.Mutex
	waiting []waitingJob
	active  int
}

type waitingJob struct {
	jobID    string
	percent  float64
	statusFn func(status models.JobStatus, stage string)
}

// NewQueue creates a transcode queue with the given number of worker slots
func NewQueue(transcoder Transcoder, bus *progress.Bus, logger *logging.Logger, workerCount int, timeout time.Duration) *Queue {
	if workerCount < 1 {
		workerCount = 2
	}
	return &Queue{
		transcoder:  transcoder,
		bus:         bus,
		logger:      logger,
		slots:       make(chan struct{}, workerCount),
		workerCount: workerCount,
		timeout:     timeout,
	}
}

// WorkerCount returns the configured number of concurrent slots
func (q *Queue) WorkerCount() int {
	return q.workerCount
}

// Depth returns the number of jobs waiting for a slot
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// ActiveWorkers returns the number of slots currently busy
func (q *Queue) ActiveWorkers() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Submit runs the encode once a worker slot frees up, blocking the calling
// job's goroutine. While waiting, the job is published as queued with its
// position; encode failures and oversized outputs are resolved here,
// including the single fallback attempt.
func (q *Queue) Submit(ctx context.Context, req EncodeRequest) (EncodeResult, error) {
	q.enqueue(req)

	select {
	case q.slots <- struct{}{}:
	case <-ctx.Done():
		q.dequeue(req.JobID)
		return EncodeResult{}, ctx.Err()
	}

	q.acquire(req.JobID)
	defer q.release()

	return q.encode(ctx, req)
}

// encode runs the primary profile and, only if its output violates the size
// cap, exactly one fallback attempt
func (q *Queue) encode(ctx context.Context, req EncodeRequest) (EncodeResult, error) {
	log := q.logger.WithJobID(req.JobID)

	result, err := q.runProfile(ctx, req, req.Profiles.Primary, false)
	if err != nil {
		metrics.TranscodesTotal.WithLabelValues(req.Profiles.Primary.Name, "error").Inc()
		return EncodeResult{}, err
	}

	sizeCap := req.Profiles.Primary.MaxFilesizeBytes()
	if result.SizeBytes <= sizeCap {
		metrics.TranscodesTotal.WithLabelValues(req.Profiles.Primary.Name, "ok").Inc()
		return result, nil
	}

	log.Infof("Primary output %d bytes exceeds cap %d, trying fallback profile", result.SizeBytes, sizeCap)
	metrics.TranscodesTotal.WithLabelValues(req.Profiles.Primary.Name, "oversized").Inc()

	result, err = q.runProfile(ctx, req, req.Profiles.Fallback, true)
	if err != nil {
		metrics.TranscodesTotal.WithLabelValues(req.Profiles.Fallback.Name, "error").Inc()
		return EncodeResult{}, err
	}

	if result.SizeBytes > req.Profiles.Fallback.MaxFilesizeBytes() {
		metrics.TranscodesTotal.WithLabelValues(req.Profiles.Fallback.Name, "oversized").Inc()
		return EncodeResult{}, &models.JobError{
			Code:        models.ErrOversizedOutput,
			Message:     fmt.Sprintf("fallback output is %d bytes, cap is %d", result.SizeBytes, req.Profiles.Fallback.MaxFilesizeBytes()),
			Remediation: retry.Remediation(models.ErrOversizedOutput),
		}
	}

	metrics.TranscodesTotal.WithLabelValues(req.Profiles.Fallback.Name, "ok").Inc()
	return result, nil
}

// runProfile executes one transcoder invocation under the encode timeout
func (q *Queue) runProfile(ctx context.Context, req EncodeRequest, profile models.TranscodeProfile, fallback bool) (EncodeResult, error) {
	encodeCtx := ctx
	if q.timeout > 0 {
		var cancel context.CancelFunc
		encodeCtx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	stage := "Transcoding (mobile-primary)"
	if fallback {
		stage = "Transcoding (mobile-fallback)"
	}
	if req.StatusFunc != nil {
		req.StatusFunc(models.JobStatusTranscoding, stage)
	}
	q.publishTranscoding(req, stage, req.Percent)

	ceiling := req.PercentCeiling
	if ceiling <= 0 {
		ceiling = 95
	}

	start := time.Now()
	err := q.transcoder.Encode(encodeCtx, req.InputPath, req.OutputPath, profile, func(encodePercent float64) {
		// Map encode progress onto the window between the percent at
		// admission and the ceiling.
		overall := req.Percent + (ceiling-req.Percent)*encodePercent/100
		q.publishTranscoding(req, stage, overall)
	})
	metrics.TranscodeDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		if encodeCtx.Err() == context.DeadlineExceeded {
			return EncodeResult{}, &models.JobError{
				Code:        models.ErrTimeout,
				Message:     fmt.Sprintf("transcode exceeded %s", q.timeout),
				Remediation: retry.Remediation(models.ErrTimeout),
			}
		}
		return EncodeResult{}, fmt.Errorf("transcode failed: %w", err)
	}

	info, err := os.Stat(req.OutputPath)
	if err != nil {
		return EncodeResult{}, fmt.Errorf("transcode output missing: %w", err)
	}

	result := EncodeResult{
		OutputPath:   req.OutputPath,
		SizeBytes:    info.Size(),
		ProfileName:  profile.Name,
		FallbackUsed: fallback,
	}
	if inputInfo, err := os.Stat(req.InputPath); err == nil && inputInfo.Size() > 0 {
		result.CompressionRatio = float64(info.Size()) / float64(inputInfo.Size())
	}
	return result, nil
}

// enqueue registers a job as waiting and publishes queued positions
func (q *Queue) enqueue(req EncodeRequest) {
	q.mu.Lock()
	q.waiting = append(q.waiting, waitingJob{jobID: req.JobID, percent: req.Percent, statusFn: req.StatusFunc})
	metrics.TranscodeQueueDepth.Set(float64(len(q.waiting)))
	waiters := append([]waitingJob(nil), q.waiting...)
	q.mu.Unlock()

	q.publishQueued(waiters)
}

// dequeue drops a job that gave up before acquiring a slot
func (q *Queue) dequeue(jobID string) {
	q.mu.Lock()
	for i, w := range q.waiting {
		if w.jobID == jobID {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			break
		}
	}
	metrics.TranscodeQueueDepth.Set(float64(len(q.waiting)))
	waiters := append([]waitingJob(nil), q.waiting...)
	q.mu.Unlock()

	q.publishQueued(waiters)
}

// acquire moves a job from waiting to active and refreshes positions for
// the jobs still in line
func (q *Queue) acquire(jobID string) {
	q.mu.Lock()
	for i, w := range q.waiting {
		if w.jobID == jobID {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			break
		}
	}
	q.active++
	metrics.TranscodeQueueDepth.Set(float64(len(q.waiting)))
	metrics.TranscodeActiveWorkers.Set(float64(q.active))
	waiters := append([]waitingJob(nil), q.waiting...)
	q.mu.Unlock()

	q.publishQueued(waiters)
}

func (q *Queue) release() {
	q.mu.Lock()
	q.active--
	metrics.TranscodeActiveWorkers.Set(float64(q.active))
	q.mu.Unlock()
	<-q.slots
}

// publishQueued publishes the queued snapshot for every waiting job with
// its current 1-based position
func (q *Queue) publishQueued(waiters []waitingJob) {
	depth := len(waiters)
	for i, w := range waiters {
		stage := fmt.Sprintf("Waiting for ffmpeg (position %d/%d)", i+1, depth)
		q.bus.Publish(models.ProgressState{
			JobID:         w.jobID,
			Status:        models.JobStatusQueued,
			Stage:         stage,
			Percent:       w.percent,
			Message:       stage,
			QueueDepth:    depth,
			QueuePosition: i + 1,
		})
		if w.statusFn != nil {
			w.statusFn(models.JobStatusQueued, stage)
		}
	}
}

func (q *Queue) publishTranscoding(req EncodeRequest, stage string, percent float64) {
	q.bus.Publish(models.ProgressState{
		JobID:   req.JobID,
		Status:  models.JobStatusTranscoding,
		Stage:   stage,
		Percent: percent,
		Message: stage,
	})
}
