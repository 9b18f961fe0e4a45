package thumbs

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// RunRevalidation revalidates the archive on the given interval until the
// context is canceled.
func (a *Archiver) RunRevalidation(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			kept, repaired, dropped := a.Revalidate(ctx)
			a.logger.Info("thumbnail revalidation completed",
				"kept", kept,
				"repaired", repaired,
				"dropped", dropped)
		}
	}
}

// UploadCleaner removes stale files from the transient upload directory
type UploadCleaner struct {
	dir    string
	ttl    time.Duration
	logger *slog.Logger
}

// NewUploadCleaner creates a cleaner for dir with the given file TTL
func NewUploadCleaner(dir string, ttl time.Duration, logger *slog.Logger) *UploadCleaner {
	return &UploadCleaner{dir: dir, ttl: ttl, logger: logger}
}

// Run sweeps the upload directory on the given interval until the context is
// canceled.
func (c *UploadCleaner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed, err := c.Sweep(); err != nil {
				c.logger.Warn("upload sweep failed", "error", err)
			} else if removed > 0 {
				c.logger.Info("removed stale uploads", "count", removed)
			}
		}
	}
}

// Sweep removes files older than the TTL and returns how many were removed.
// A missing directory is not an error.
func (c *UploadCleaner) Sweep() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-c.ttl)
	removed := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().After(cutoff) {
			continue
		}

		p := filepath.Join(c.dir, entry.Name())
		if err := os.Remove(p); err != nil {
			c.logger.Warn("failed to remove stale upload", "path", p, "error", err)
			continue
		}
		removed++
	}

	return removed, nil
}
