package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/mediagrab/internal/config"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediagrab/pkg/models"
)

// Manager owns per-job working directories under a single root. Every path
// it hands out resolves inside the owning job's directory.
type Manager struct {
	root      string
	cfg       config.OutputConfig
	logger    *logging.Logger
	mu        sync.Mutex
	artifacts map[string][]models.DownloadArtifact
	diskFree  func(path string) (int64, error)
	now       func() time.Time
}

// New creates the output manager and its root directory
func New(cfg config.OutputConfig, logger *logging.Logger) (*Manager, error) {
	root, err := filepath.Abs(cfg.RootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output root: %w", err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output root: %w", err)
	}

	return &Manager{
		root:      root,
		cfg:       cfg,
		logger:    logger,
		artifacts: make(map[string][]models.DownloadArtifact),
		diskFree:  freeBytes,
		now:       time.Now,
	}, nil
}

// Root returns the absolute output root directory
func (m *Manager) Root() string {
	return m.root
}

// JobDir returns the directory owned by a job
func (m *Manager) JobDir(jobID string) string {
	return filepath.Join(m.root, jobID)
}

// Allocate creates an isolated working directory for a job. It preflights
// available disk space, evicting expired job directories if needed, and
// fails with disk_space_low before anything is written.
func (m *Manager) Allocate(jobID string) (string, error) {
	if err := m.ensureFreeSpace(); err != nil {
		return "", err
	}

	dir := m.JobDir(jobID)
	for _, sub := range []string{"artifacts", "tmp"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return "", fmt.Errorf("failed to create job directory: %w", err)
		}
	}
	return dir, nil
}

// ArtifactPath returns the validated path for an artifact file inside a
// job's directory. Filenames that escape the directory are rejected.
func (m *Manager) ArtifactPath(jobID, filename string) (string, error) {
	return m.resolveInside(jobID, "artifacts", filename)
}

// TempPath returns the validated path for a scratch file inside a job's
// directory
func (m *Manager) TempPath(jobID, filename string) (string, error) {
	return m.resolveInside(jobID, "tmp", filename)
}

// resolveInside joins filename under the job's sub directory and verifies
// the result did not escape it. Guards against traversal from malformed
// extractor-supplied titles.
func (m *Manager) resolveInside(jobID, sub, filename string) (string, error) {
	if filepath.IsAbs(filename) {
		return "", fmt.Errorf("absolute artifact path %q rejected", filename)
	}

	base := filepath.Join(m.JobDir(jobID), sub)
	resolved := filepath.Clean(filepath.Join(base, filename))

	rel, err := filepath.Rel(base, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact path %q escapes job directory", filename)
	}
	return resolved, nil
}

// RegisterArtifact records a produced artifact after validating its path
func (m *Manager) RegisterArtifact(jobID string, artifact models.DownloadArtifact) error {
	rel, err := filepath.Rel(m.JobDir(jobID), artifact.Path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("artifact path %q outside job directory", artifact.Path)
	}
	if artifact.ExpiresAt != nil && !artifact.ExpiresAt.After(m.now()) {
		return fmt.Errorf("artifact expiry %v is not in the future", artifact.ExpiresAt)
	}

	m.mu.Lock()
	m.artifacts[jobID] = append(m.artifacts[jobID], artifact)
	m.mu.Unlock()

	metrics.ArtifactBytes.Observe(float64(artifact.SizeBytes))
	return nil
}

// Artifacts returns the artifacts registered for a job
func (m *Manager) Artifacts(jobID string) []models.DownloadArtifact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.DownloadArtifact(nil), m.artifacts[jobID]...)
}

// Cleanup removes a job's scratch space. The whole directory goes unless a
// registered artifact is still within its retention window, in which case
// only tmp/ is removed and the artifacts stay until ExpiresAt.
func (m *Manager) Cleanup(jobID string) error {
	m.mu.Lock()
	retained := false
	for _, a := range m.artifacts[jobID] {
		if a.ExpiresAt != nil && !a.Expired(m.now()) {
			retained = true
			break
		}
	}
	if !retained {
		delete(m.artifacts, jobID)
	}
	m.mu.Unlock()

	dir := m.JobDir(jobID)
	if retained {
		return os.RemoveAll(filepath.Join(dir, "tmp"))
	}
	return os.RemoveAll(dir)
}

// StartSweeper periodically removes job directories older than the artifact
// TTL until ctx is cancelled
func (m *Manager) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.cfg.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.sweepExpired(); n > 0 {
					m.logger.Infof("Cleanup removed %d expired job directories", n)
				}
			}
		}
	}()
}

// sweepExpired removes job directories whose modification time is older
// than the artifact TTL, returning the number removed
func (m *Manager) sweepExpired() int {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		m.logger.ErrorWithErr("Cleanup scan failed", err)
		return 0
	}

	removed := 0
	cutoff := m.now().Add(-m.cfg.ArtifactTTL)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.root, entry.Name())); err != nil {
			m.logger.ErrorWithErr("Failed to remove expired job directory", err)
			continue
		}
		m.mu.Lock()
		delete(m.artifacts, entry.Name())
		m.mu.Unlock()
		removed++
		metrics.ArtifactsCleanedTotal.Inc()
	}
	return removed
}

// ensureFreeSpace verifies the minimum free-space threshold, evicting the
// oldest expired job directories first. Fails with disk_space_low when
// nothing more can be reclaimed.
func (m *Manager) ensureFreeSpace() error {
	free, err := m.diskFree(m.root)
	if err != nil {
		return fmt.Errorf("disk preflight failed: %w", err)
	}
	if free >= m.cfg.MinFreeBytes {
		return nil
	}

	if n := m.sweepExpired(); n > 0 {
		free, err = m.diskFree(m.root)
		if err == nil && free >= m.cfg.MinFreeBytes {
			return nil
		}
	}

	return &models.JobError{
		Code:        models.ErrDiskSpaceLow,
		Message:     fmt.Sprintf("only %d bytes free, %d required", free, m.cfg.MinFreeBytes),
		Remediation: "Free up disk space and try again",
	}
}

// freeBytes returns the available bytes on the filesystem hosting path
func freeBytes(path string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

var unsafeTitleChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]+`)

// SanitizeTitle makes an extractor-supplied title safe for use in filenames
func SanitizeTitle(title string) string {
	safe := unsafeTitleChars.ReplaceAllString(title, "_")
	safe = strings.Trim(safe, " ._")
	if safe == "" {
		safe = "media"
	}
	if len(safe) > 120 {
		safe = safe[:120]
	}
	return safe
}

// ArchiveName builds the `{sanitizedTitle}_{timestamp}.{ext}` artifact name
func ArchiveName(title, ext string, at time.Time) string {
	return fmt.Sprintf("%s_%s.%s", SanitizeTitle(title), at.Format("20060102_150405"), ext)
}
