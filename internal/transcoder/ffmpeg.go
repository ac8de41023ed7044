package transcoder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/therealutkarshpriyadarshi/mediagrab/pkg/models"
)

// ProgressCallback is called with encode progress in [0, 100]
type ProgressCallback func(percent float64)

// Transcoder is the external encoding capability the queue drives. The core
// only inspects output size against the profile's cap.
type Transcoder interface {
	Encode(ctx context.Context, inputPath, outputPath string, profile models.TranscodeProfile, progressCB ProgressCallback) error
	Duration(ctx context.Context, inputPath string) (float64, error)
}

// FFmpeg wraps ffmpeg/ffprobe invocations
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpeg creates a new FFmpeg instance
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}
}

// Duration returns the media duration in seconds via ffprobe
func (f *FFmpeg) Duration(ctx context.Context, inputPath string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath,
	}

	cmd := exec.CommandContext(ctx, f.ffprobePath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w, stderr: %s", classifyExecErr(err), stderr.String())
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe duration: %w", err)
	}
	return duration, nil
}

// Encode transcodes inputPath into outputPath using the given profile,
// reporting progress as the encode advances
func (f *FFmpeg) Encode(ctx context.Context, inputPath, outputPath string, profile models.TranscodeProfile, progressCB ProgressCallback) error {
	totalDuration, _ := f.Duration(ctx, inputPath)

	args := buildEncodeArgs(inputPath, outputPath, profile)

	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", classifyExecErr(err))
	}

	// ffmpeg emits key=value progress on stdout with -progress pipe:1
	progressRegex := regexp.MustCompile(`out_time_ms=(\d+)`)
	go func() {
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			matches := progressRegex.FindStringSubmatch(scanner.Text())
			if len(matches) < 2 {
				continue
			}
			timeMs, err := strconv.ParseFloat(matches[1], 64)
			if err != nil || totalDuration <= 0 {
				continue
			}
			percent := (timeMs / 1000000.0 / totalDuration) * 100
			if percent > 100 {
				percent = 100
			}
			if progressCB != nil {
				progressCB(percent)
			}
		}
	}()

	var stderrBuf bytes.Buffer
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			stderrBuf.WriteString(scanner.Text() + "\n")
		}
	}()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg interrupted: %w", ctx.Err())
		}
		return fmt.Errorf("ffmpeg failed: %w, stderr: %s", err, tail(stderrBuf.String(), 2048))
	}

	if progressCB != nil {
		progressCB(100)
	}
	return nil
}

// buildEncodeArgs assembles the ffmpeg argument list for a profile. Video
// output is scaled and padded to the profile resolution with faststart for
// progressive playback; mp3 output drops the video stream entirely.
func buildEncodeArgs(inputPath, outputPath string, profile models.TranscodeProfile) []string {
	args := []string{"-i", inputPath, "-y"}

	if profile.Container == "mp3" {
		args = append(args,
			"-vn",
			"-c:a", "libmp3lame",
			"-b:a", fmt.Sprintf("%dk", profile.AudioBitrateKbps),
			"-ac", "2",
		)
	} else {
		args = append(args,
			"-c:v", "libx264",
			"-profile:v", "baseline",
			"-level", "4.0",
			"-preset", "medium",
			"-crf", strconv.Itoa(profile.CRF),
			"-maxrate", fmt.Sprintf("%dk", profile.VideoBitrateKbps),
			"-bufsize", fmt.Sprintf("%dk", profile.VideoBitrateKbps*2),
			"-vf", fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
				profile.Width, profile.Height, profile.Width, profile.Height),
			"-r", "30",
			"-c:a", "aac",
			"-b:a", fmt.Sprintf("%dk", profile.AudioBitrateKbps),
			"-ac", "2",
			"-movflags", "+faststart",
		)
	}

	args = append(args, "-progress", "pipe:1")
	return append(args, outputPath)
}

// classifyExecErr surfaces a missing binary as the ffmpeg_missing class so
// the orchestrator can fail fast instead of retrying
func classifyExecErr(err error) error {
	var execErr *exec.Error
	if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
		return &models.JobError{
			Code:        models.ErrFFmpegMissing,
			Message:     fmt.Sprintf("%s not found in PATH", execErr.Name),
			Remediation: "Ensure ffmpeg is installed and in PATH",
		}
	}
	return err
}

// tail returns at most n trailing bytes of s
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
