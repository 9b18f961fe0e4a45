package thumbs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/cuongbtq/imagegen-be/internal/results"
)

const (
	defaultDownloadAttempts = 3
	defaultDownloadBackoff  = 2 * time.Second
	defaultDownloadTimeout  = 30 * time.Second
)

// ErrEmptyDownload is returned when a delivery host answers 200 with no body
var ErrEmptyDownload = errors.New("downloaded image is empty")

// Config wires an Archiver
type Config struct {
	Dir          string
	PublicPrefix string
	Metadata     *MetadataFile
	Client       *http.Client
	Logger       *slog.Logger

	DownloadAttempts int
	DownloadBackoff  time.Duration
	DownloadTimeout  time.Duration

	// PrimaryDelivery/AlternateDelivery are delivery host names; retries
	// after the first attempt swap the primary for the alternate.
	PrimaryDelivery   string
	AlternateDelivery string
}

// Archiver downloads generated output images to local disk and records them
// in the metadata file.
type Archiver struct {
	dir          string
	publicPrefix string
	meta         *MetadataFile
	client       *http.Client
	logger       *slog.Logger

	maxTries int
	backoff  time.Duration
	timeout  time.Duration

	primaryHost   string
	alternateHost string
}

// NewArchiver creates an Archiver, applying defaults for unset limits
func NewArchiver(cfg *Config) *Archiver {
	a := &Archiver{
		dir:           cfg.Dir,
		publicPrefix:  strings.TrimRight(cfg.PublicPrefix, "/"),
		meta:          cfg.Metadata,
		client:        cfg.Client,
		logger:        cfg.Logger,
		maxTries:      cfg.DownloadAttempts,
		backoff:       cfg.DownloadBackoff,
		timeout:       cfg.DownloadTimeout,
		primaryHost:   cfg.PrimaryDelivery,
		alternateHost: cfg.AlternateDelivery,
	}

	if a.client == nil {
		a.client = &http.Client{}
	}
	if a.maxTries <= 0 {
		a.maxTries = defaultDownloadAttempts
	}
	if a.backoff <= 0 {
		a.backoff = defaultDownloadBackoff
	}
	if a.timeout <= 0 {
		a.timeout = defaultDownloadTimeout
	}

	return a
}

// Download fetches an output image, retrying with backoff. Retries after the
// first attempt substitute the alternate delivery host when one is configured,
// since an expired or draining primary host is the common failure.
func (a *Archiver) Download(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= a.maxTries; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(a.backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		target := rawURL
		if attempt > 1 {
			target = a.alternateURL(rawURL)
		}

		data, err := a.fetch(ctx, target)
		if err != nil {
			lastErr = err
			a.logger.Warn("image download attempt failed",
				"url", target,
				"attempt", attempt,
				"error", err)
			continue
		}

		return data, nil
	}

	return nil, fmt.Errorf("download failed after %d attempts: %w", a.maxTries, lastErr)
}

// alternateURL swaps the primary delivery host for the alternate one
func (a *Archiver) alternateURL(rawURL string) string {
	if a.primaryHost == "" || a.alternateHost == "" {
		return rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host != a.primaryHost {
		return rawURL
	}

	u.Host = a.alternateHost
	return u.String()
}

func (a *Archiver) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	if len(data) == 0 {
		return nil, ErrEmptyDownload
	}

	// Delivery hosts can serve an HTML error page with status 200; only
	// bytes that decode as an image count as a successful download.
	if _, err := imaging.Decode(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("body is not a decodable image: %w", err)
	}

	return data, nil
}

// Archive downloads an output image, stores it under the thumbnail directory
// and prepends its record to the metadata file.
func (a *Archiver) Archive(ctx context.Context, originalURL, prompt string, settings map[string]any, user results.User) (*Record, error) {
	data, err := a.Download(ctx, originalURL)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create thumbnail dir: %w", err)
	}

	name := uuid.New().String() + extForURL(originalURL)
	localPath := filepath.Join(a.dir, name)

	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write thumbnail: %w", err)
	}

	info, err := os.Stat(localPath)
	if err != nil || info.Size() == 0 {
		os.Remove(localPath)
		return nil, fmt.Errorf("thumbnail %s failed size verification", name)
	}

	rec := Record{
		URL:         a.publicPrefix + "/" + name,
		OriginalURL: originalURL,
		Prompt:      prompt,
		Settings:    settings,
		User:        user,
		CreatedAt:   time.Now().UTC(),
	}

	if err := a.meta.Prepend(rec); err != nil {
		return nil, err
	}

	a.logger.Info("archived thumbnail", "url", rec.URL, "original_url", originalURL)
	return &rec, nil
}

// Delete removes an archived thumbnail and its metadata record
func (a *Archiver) Delete(url string) (bool, error) {
	removed, err := a.meta.DeleteByURL(url)
	if err != nil || !removed {
		return removed, err
	}

	if p, ok := a.localPath(url); ok {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.logger.Warn("failed to remove thumbnail file", "path", p, "error", err)
		}
	}

	return true, nil
}

// List returns the archived records, newest first
func (a *Archiver) List() ([]Record, error) {
	return a.meta.Load()
}

// Revalidate walks the metadata file and checks every record still has a
// non-empty file on disk. Broken records are re-downloaded from their original
// URL; records that cannot be repaired are dropped.
func (a *Archiver) Revalidate(ctx context.Context) (kept, repaired, dropped int) {
	records, err := a.meta.Load()
	if err != nil {
		a.logger.Error("revalidation skipped, metadata unreadable", "error", err)
		return 0, 0, 0
	}

	valid := make([]Record, 0, len(records))
	changed := false

	for _, rec := range records {
		if a.recordHealthy(rec) {
			valid = append(valid, rec)
			kept++
			continue
		}

		if err := a.repair(ctx, rec); err != nil {
			a.logger.Warn("dropping unrecoverable thumbnail record",
				"url", rec.URL,
				"original_url", rec.OriginalURL,
				"error", err)
			dropped++
			changed = true
			continue
		}

		valid = append(valid, rec)
		repaired++
		changed = true
	}

	if changed {
		if err := a.meta.Replace(valid); err != nil {
			a.logger.Error("failed to rewrite metadata after revalidation", "error", err)
		}
	}

	return kept, repaired, dropped
}

func (a *Archiver) recordHealthy(rec Record) bool {
	p, ok := a.localPath(rec.URL)
	if !ok {
		return false
	}

	info, err := os.Stat(p)
	return err == nil && info.Size() > 0
}

func (a *Archiver) repair(ctx context.Context, rec Record) error {
	p, ok := a.localPath(rec.URL)
	if !ok {
		return fmt.Errorf("record URL %q is outside the archive", rec.URL)
	}

	data, err := a.Download(ctx, rec.OriginalURL)
	if err != nil {
		return err
	}

	return os.WriteFile(p, data, 0o644)
}

// localPath maps a record's public URL back to its file under the archive dir
func (a *Archiver) localPath(publicURL string) (string, bool) {
	if a.publicPrefix != "" && !strings.HasPrefix(publicURL, a.publicPrefix+"/") {
		return "", false
	}

	name := path.Base(publicURL)
	if name == "." || name == "/" || name == ".." {
		return "", false
	}

	return filepath.Join(a.dir, name), true
}

// extForURL picks a file extension from the URL path, defaulting to .png for
// anything unrecognized
func extForURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ".png"
	}

	switch ext := strings.ToLower(path.Ext(u.Path)); ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif":
		return ext
	default:
		return ".png"
	}
}
