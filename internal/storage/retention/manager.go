// Package retention removes old recordings.
//
// A recording is expired when it is older than MaxAge, or when more than
// MaxFiles recordings exist (oldest first). The file being written is never
// touched.
package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/xtxerr/powerscope/internal/logging"
	"github.com/xtxerr/powerscope/internal/storage/recorder"
)

var log = logging.Component("retention")

// Options configures a Manager.
type Options struct {
	// Dir holds the recordings.
	Dir string

	// MaxAge expires recordings started longer ago. Zero keeps them.
	MaxAge time.Duration

	// MaxFiles keeps at most this many recordings. Zero means no limit.
	MaxFiles int

	// Interval between cleanups in Run.
	Interval time.Duration

	// Active returns the path of the file being written. May be nil.
	Active func() string
}

// Manager handles cleanup of expired recordings.
type Manager struct {
	mu    sync.RWMutex
	opts  Options
	stats Stats
}

// Stats holds retention statistics.
type Stats struct {
	LastRunTime  time.Time
	FilesDeleted int64
	BytesFreed   int64
	FilesSkipped int64
	Errors       int64
}

// CleanupResult holds the result of a cleanup operation.
type CleanupResult struct {
	FilesDeleted int
	BytesFreed   int64
	FilesSkipped int
	Deleted      []string
	Errors       []error
}

// New creates a retention manager.
func New(opts Options) *Manager {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	return &Manager{opts: opts}
}

// Enabled reports whether any limit is configured.
func (m *Manager) Enabled() bool {
	return m.opts.MaxAge > 0 || m.opts.MaxFiles > 0
}

// Run cleans up every Interval until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	if !m.Enabled() {
		return nil
	}

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			res := m.RunCleanup(now)
			if res.FilesDeleted > 0 {
				log.Info("recordings expired", "files", res.FilesDeleted, "freed", formatBytes(res.BytesFreed))
			}
			for _, err := range res.Errors {
				log.Warn("retention cleanup", "error", err)
			}
		}
	}
}

// RunCleanup deletes expired recordings as of now.
func (m *Manager) RunCleanup(now time.Time) CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := m.cleanup(now, false)

	m.stats.LastRunTime = now
	m.stats.FilesDeleted += int64(result.FilesDeleted)
	m.stats.BytesFreed += result.BytesFreed
	m.stats.FilesSkipped += int64(result.FilesSkipped)
	m.stats.Errors += int64(len(result.Errors))

	return result
}

// DryRun reports what RunCleanup would delete without deleting.
func (m *Manager) DryRun(now time.Time) CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanup(now, true)
}

func (m *Manager) cleanup(now time.Time, dryRun bool) CleanupResult {
	var result CleanupResult

	files, err := m.listFiles()
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, fmt.Errorf("list files: %w", err))
		}
		return result
	}

	var active string
	if m.opts.Active != nil {
		active = m.opts.Active()
	}

	cutoff := now.Add(-m.opts.MaxAge)
	excess := 0
	if m.opts.MaxFiles > 0 && len(files) > m.opts.MaxFiles {
		excess = len(files) - m.opts.MaxFiles
	}

	// files is sorted oldest first, so the first excess files go.
	for i, file := range files {
		if file.path == active {
			result.FilesSkipped++
			continue
		}

		expired := i < excess || (m.opts.MaxAge > 0 && file.started.Before(cutoff))
		if !expired {
			result.FilesSkipped++
			continue
		}

		if !dryRun {
			if err := os.Remove(file.path); err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("delete %s: %w", file.path, err))
				continue
			}
		}

		result.FilesDeleted++
		result.BytesFreed += file.size
		result.Deleted = append(result.Deleted, file.path)
	}

	return result
}

// fileInfo holds information about a recording.
type fileInfo struct {
	path    string
	size    int64
	started time.Time
}

// listFiles lists the recordings in Dir, oldest first. Files whose names
// carry no start time are ignored.
func (m *Manager) listFiles() ([]fileInfo, error) {
	entries, err := os.ReadDir(m.opts.Dir)
	if err != nil {
		return nil, err
	}

	var files []fileInfo
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".parquet" {
			continue
		}

		started, err := recorder.ParseFileName(entry.Name())
		if err != nil {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, fileInfo{
			path:    filepath.Join(m.opts.Dir, entry.Name()),
			size:    info.Size(),
			started: started,
		})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].started.Equal(files[j].started) {
			return files[i].path < files[j].path
		}
		return files[i].started.Before(files[j].started)
	})

	return files, nil
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// DiskUsage holds disk usage information.
type DiskUsage struct {
	FileCount int
	TotalSize int64
}

// DiskUsage returns the size of the recordings directory.
func (m *Manager) DiskUsage() DiskUsage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var u DiskUsage
	files, err := m.listFiles()
	if err != nil {
		return u
	}
	for _, f := range files {
		u.FileCount++
		u.TotalSize += f.size
	}
	return u
}

// String formats disk usage for logs.
func (u DiskUsage) String() string {
	return fmt.Sprintf("%d files, %s", u.FileCount, formatBytes(u.TotalSize))
}

// formatBytes formats bytes as human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
