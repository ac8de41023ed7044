package packager

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/mediagrab/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediagrab/pkg/models"
)

const (
	summaryEntryName = "SUMMARY.json"
	reportEntryName  = "COMPRESSION_REPORT.txt"
)

// Packager assembles multi-item jobs into a single ZIP archive with a
// machine-readable summary and a human-readable compression report
type Packager struct {
	logger *logging.Logger
}

// New creates a packager
func New(logger *logging.Logger) *Packager {
	return &Packager{logger: logger}
}

// BuildSummary derives totals and recommendations from item results. Items
// keep their input order; recommendations are the sorted distinct
// remediations of the failed items.
func BuildSummary(jobID string, items []models.PlaylistItemResult, at time.Time) models.PlaylistSummary {
	summary := models.PlaylistSummary{
		JobID:           jobID,
		CreatedAt:       at.UTC().Format(time.RFC3339),
		Items:           items,
		TotalItems:      len(items),
		Recommendations: []string{},
	}

	seen := map[string]bool{}
	for _, item := range items {
		switch item.Status {
		case models.ItemStatusSuccess:
			summary.SuccessCount++
		default:
			summary.FailedCount++
			if item.Error != nil && item.Error.Remediation != "" && !seen[item.Error.Remediation] {
				seen[item.Error.Remediation] = true
				summary.Recommendations = append(summary.Recommendations, item.Error.Remediation)
			}
		}
	}
	sort.Strings(summary.Recommendations)
	return summary
}

// Package writes the archive to zipPath. Successful item artifacts are
// stored in input order, then SUMMARY.json and COMPRESSION_REPORT.txt.
// Returns the archive size in bytes.
func (p *Packager) Package(summary models.PlaylistSummary, zipPath string) (int64, error) {
	out, err := os.Create(zipPath)
	if err != nil {
		return 0, fmt.Errorf("creating archive %s: %w", zipPath, err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	for _, item := range summary.Items {
		if item.Status != models.ItemStatusSuccess || item.ArtifactPath == nil {
			continue
		}
		if err := addFile(zw, *item.ArtifactPath, item.Index); err != nil {
			zw.Close()
			return 0, err
		}
		if p.logger != nil {
			p.logger.WithJobID(summary.JobID).Debugf("Archived item %d: %s", item.Index, filepath.Base(*item.ArtifactPath))
		}
	}

	if err := writeSummary(zw, summary); err != nil {
		zw.Close()
		return 0, err
	}
	if err := writeReport(zw, summary); err != nil {
		zw.Close()
		return 0, err
	}

	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("finalizing archive: %w", err)
	}

	info, err := out.Stat()
	if err != nil {
		return 0, fmt.Errorf("sizing archive: %w", err)
	}
	return info.Size(), nil
}

// WriteReport writes the compression report next to the artifacts as a
// standalone file in addition to the copy inside the archive
func (p *Packager) WriteReport(summary models.PlaylistSummary, dir string) (string, error) {
	reportPath := filepath.Join(dir, reportEntryName)
	if err := os.WriteFile(reportPath, []byte(reportText(summary)), 0o644); err != nil {
		return "", fmt.Errorf("writing compression report: %w", err)
	}
	return reportPath, nil
}

// addFile stores one artifact under an index-prefixed entry name so archive
// listing order mirrors playlist order
func addFile(zw *zip.Writer, path string, index int) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening artifact %s: %w", path, err)
	}
	defer in.Close()

	entry, err := zw.Create(fmt.Sprintf("%03d_%s", index+1, filepath.Base(path)))
	if err != nil {
		return fmt.Errorf("adding archive entry for %s: %w", path, err)
	}
	if _, err := io.Copy(entry, in); err != nil {
		return fmt.Errorf("copying %s into archive: %w", path, err)
	}
	return nil
}

func writeSummary(zw *zip.Writer, summary models.PlaylistSummary) error {
	entry, err := zw.Create(summaryEntryName)
	if err != nil {
		return fmt.Errorf("adding %s: %w", summaryEntryName, err)
	}
	enc := json.NewEncoder(entry)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("encoding %s: %w", summaryEntryName, err)
	}
	return nil
}

func writeReport(zw *zip.Writer, summary models.PlaylistSummary) error {
	entry, err := zw.Create(reportEntryName)
	if err != nil {
		return fmt.Errorf("adding %s: %w", reportEntryName, err)
	}
	if _, err := io.WriteString(entry, reportText(summary)); err != nil {
		return fmt.Errorf("writing %s: %w", reportEntryName, err)
	}
	return nil
}

// reportText renders the human-readable per-batch report, including the
// size reduction achieved for every archived item
func reportText(summary models.PlaylistSummary) string {
	var b strings.Builder
	fmt.Fprintln(&b, "Playlist Compression Report")
	fmt.Fprintf(&b, "Job ID: %s\n", summary.JobID)
	fmt.Fprintf(&b, "Created: %s\n", summary.CreatedAt)
	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "Total items: %d\n", summary.TotalItems)
	fmt.Fprintf(&b, "Successful: %d\n", summary.SuccessCount)
	fmt.Fprintf(&b, "Failed: %d\n", summary.FailedCount)

	var totalBytes int64
	for _, item := range summary.Items {
		if item.Status != models.ItemStatusSuccess || item.SizeBytes == nil {
			continue
		}
		totalBytes += *item.SizeBytes
		fmt.Fprintf(&b, "  [%d] %s: %.1f MB\n", item.Index+1, item.Title, float64(*item.SizeBytes)/(1024*1024))
	}
	if totalBytes > 0 {
		fmt.Fprintf(&b, "Total archived: %.1f MB\n", float64(totalBytes)/(1024*1024))
	}

	if len(summary.Recommendations) > 0 {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "Recommendations:")
		for _, rec := range summary.Recommendations {
			fmt.Fprintf(&b, "  - %s\n", rec)
		}
	}
	return b.String()
}
