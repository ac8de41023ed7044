package retry

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/mediagrab/pkg/models"
)

// Decision is the outcome of the retry policy for one failed attempt
type Decision struct {
	Retry             bool
	Delay             time.Duration
	AttemptsRemaining int
	Remediation       string
}

// Policy maps an error class and attempt number to a retry decision.
// Deterministic: delay = BaseDelay * 2^(attempt-1), no jitter.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// NewPolicy creates a retry policy. Zero values fall back to the defaults
// of 3 attempts with a 3s base delay.
func NewPolicy(maxAttempts int, baseDelay time.Duration) Policy {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 3 * time.Second
	}
	return Policy{MaxAttempts: maxAttempts, BaseDelay: baseDelay}
}

// Decide returns the retry decision for the given error class after the
// given 1-based attempt number.
func (p Policy) Decide(errorClass string, attempt int) Decision {
	remaining := p.MaxAttempts - attempt
	if remaining < 0 {
		remaining = 0
	}

	d := Decision{
		AttemptsRemaining: remaining,
		Remediation:       Remediation(errorClass),
	}

	if !Retryable(errorClass) || remaining == 0 {
		return d
	}

	d.Retry = true
	d.Delay = p.BaseDelay * (1 << (attempt - 1))
	return d
}

// Retryable reports whether an error class is subject to backoff retry.
// Oversized output is handled by the fallback profile, not by retry.
func Retryable(errorClass string) bool {
	switch errorClass {
	case models.ErrPlatformThrottled, models.ErrTransientNetwork, models.ErrTimeout:
		return true
	}
	return false
}

// remediations maps error classes to short actionable advice surfaced to
// the caller or operator.
var remediations = map[string]string{
	models.ErrPlatformThrottled: "Platform rate-limited; wait before resubmitting",
	models.ErrTransientNetwork:  "Check your network connection and try again",
	models.ErrTimeout:           "The operation timed out; try again later",
	models.ErrFFmpegMissing:     "Ensure ffmpeg is installed and in PATH",
	models.ErrOversizedOutput:   "Output exceeds the size cap even at fallback quality",
	models.ErrAuthRequired:      "Supply cookies or credentials and resubmit",
	models.ErrDiskSpaceLow:      "Free up disk space and try again",
	models.ErrInvalidURL:        "Provide a URL from a supported platform",
	models.ErrUnsupportedFormat: "Requested format is not available for this platform",
	models.ErrCancelled:         "Job was cancelled by request",
}

// Remediation returns the advice for an error class
func Remediation(errorClass string) string {
	if msg, ok := remediations[errorClass]; ok {
		return msg
	}
	return "Check logs and try again"
}

// Classify maps an error to one of the error class codes. Typed JobErrors
// keep their code; everything else is matched on content.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	var jobErr *models.JobError
	if errors.As(err, &jobErr) {
		return jobErr.Code
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrTimeout
	}
	if errors.Is(err, context.Canceled) {
		return models.ErrCancelled
	}
	if errors.Is(err, exec.ErrNotFound) {
		return models.ErrFFmpegMissing
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "too many requests"), strings.Contains(msg, "rate limit"):
		return models.ErrPlatformThrottled
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "login required"), strings.Contains(msg, "cookies"):
		return models.ErrAuthRequired
	case strings.Contains(msg, "no space"), strings.Contains(msg, "disk full"):
		return models.ErrDiskSpaceLow
	case strings.Contains(msg, "ffmpeg") && strings.Contains(msg, "not found"):
		return models.ErrFFmpegMissing
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return models.ErrTimeout
	}
	return models.ErrTransientNetwork
}

// AsJobError converts an error into the structured payload surfaced to both
// front-ends, classifying it if it is not already a JobError.
func AsJobError(err error) *models.JobError {
	var jobErr *models.JobError
	if errors.As(err, &jobErr) {
		if jobErr.Remediation == "" {
			jobErr.Remediation = Remediation(jobErr.Code)
		}
		return jobErr
	}

	class := Classify(err)
	return &models.JobError{
		Code:        class,
		Message:     err.Error(),
		Remediation: Remediation(class),
	}
}
