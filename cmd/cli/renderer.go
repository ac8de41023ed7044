package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/therealutkarshpriyadarshi/mediagrab/pkg/models"
)

// Renderer writes live progress lines to the terminal. Lines are rewritten
// in place; terminal states end the line and print a summary.
type Renderer struct {
	mu          sync.Mutex
	out         io.Writer
	verbose     bool
	lastPercent float64
	lastWidth   int
}

// NewRenderer creates a renderer writing to out
func NewRenderer(out io.Writer, verbose bool) *Renderer {
	return &Renderer{out: out, verbose: verbose}
}

// Render draws one progress state. Percent is held monotonic locally so a
// late snapshot never walks the bar backwards.
func (r *Renderer) Render(state models.ProgressState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state.Percent < r.lastPercent {
		state.Percent = r.lastPercent
	} else {
		r.lastPercent = state.Percent
	}

	parts := []string{
		fmt.Sprintf("[%s]", strings.ToUpper(string(state.Status))),
		fmt.Sprintf("%5.1f%%", state.Percent),
		state.Stage,
	}
	if state.ETASeconds != nil {
		parts = append(parts, fmt.Sprintf("ETA: %ds", *state.ETASeconds))
	}
	if state.Speed != nil {
		parts = append(parts, fmt.Sprintf("Speed: %.1f MB/s", *state.Speed/(1024*1024)))
	}
	if state.QueuePosition > 0 {
		parts = append(parts, fmt.Sprintf("Queue: %d/%d", state.QueuePosition, state.QueueDepth))
	}
	if r.verbose && state.Message != "" && state.Message != state.Stage {
		parts = append(parts, state.Message)
	}

	line := strings.Join(parts, " | ")
	pad := r.lastWidth - len(line)
	if pad < 0 {
		pad = 0
	}
	r.lastWidth = len(line)

	fmt.Fprintf(r.out, "\r%s%s", line, strings.Repeat(" ", pad))

	if state.Status.Terminal() {
		fmt.Fprintln(r.out)
		r.renderSummary(state)
	}
}

// renderSummary prints the terminal outcome with remediation advice when
// the job failed
func (r *Renderer) renderSummary(state models.ProgressState) {
	if state.Status == models.JobStatusCompleted {
		fmt.Fprintf(r.out, "Done: %s\n", state.Message)
		return
	}
	fmt.Fprintf(r.out, "Failed: %s\n", state.Message)
	if state.Remediation != nil {
		fmt.Fprintf(r.out, "Hint: %s\n", *state.Remediation)
	}
	if state.AttemptsRemaining != nil {
		fmt.Fprintf(r.out, "Attempts remaining: %d\n", *state.AttemptsRemaining)
	}
}

// RenderItems prints the per-item outcome table for playlist jobs
func (r *Renderer) RenderItems(items []models.PlaylistItemResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, item := range items {
		marker := "ok"
		if item.Status != models.ItemStatusSuccess {
			marker = "failed"
		}
		fmt.Fprintf(r.out, "  %3d. %-40s %s\n", item.Index+1, item.Title, marker)
		if item.Error != nil {
			fmt.Fprintf(r.out, "       %s: %s\n", item.Error.Code, item.Error.Message)
		}
	}
}
