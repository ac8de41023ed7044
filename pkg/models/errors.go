package models

// Error class codes carried in JobError.Code and used by the retry policy.
// Both front-ends surface these verbatim.
const (
	ErrPlatformThrottled = "platform_throttled"
	ErrTransientNetwork  = "transient_network"
	ErrFFmpegMissing     = "ffmpeg_missing"
	ErrOversizedOutput   = "oversized_output"
	ErrAuthRequired      = "auth_required"
	ErrDiskSpaceLow      = "disk_space_low"
	ErrInvalidURL        = "invalid_url"
	ErrUnsupportedFormat = "unsupported_format"
	ErrTimeout           = "timeout"
	ErrCancelled         = "cancelled"
)
