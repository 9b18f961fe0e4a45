// Package thumbs durably archives generated output images on local disk and
// maintains the flat metadata file describing them.
package thumbs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cuongbtq/imagegen-be/internal/results"
)

// Record describes one archived thumbnail. Records are kept newest first.
type Record struct {
	URL         string         `json:"url"`
	OriginalURL string         `json:"original_url"`
	Prompt      string         `json:"prompt,omitempty"`
	Settings    map[string]any `json:"settings,omitempty"`
	User        results.User   `json:"user,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// MetadataFile is the flat JSON file holding the ordered list of thumbnail
// records. Every mutation rewrites the file in full and validates the result.
type MetadataFile struct {
	path string
	mu   sync.Mutex
}

// NewMetadataFile creates a MetadataFile over the given path
func NewMetadataFile(path string) *MetadataFile {
	return &MetadataFile{path: path}
}

// Load reads all records. A missing file reads as an empty list.
func (m *MetadataFile) Load() ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked()
}

func (m *MetadataFile) loadLocked() ([]Record, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("failed to read metadata file: %w", err)
	}

	if len(data) == 0 {
		return []Record{}, nil
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("metadata file is corrupted: %w", err)
	}

	return records, nil
}

// Prepend inserts a record at the head of the list (newest first)
func (m *MetadataFile) Prepend(rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.loadLocked()
	if err != nil {
		return err
	}

	records = append([]Record{rec}, records...)
	return m.writeLocked(records)
}

// DeleteByURL removes the record whose local URL matches. It reports whether
// a record was removed.
func (m *MetadataFile) DeleteByURL(url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.loadLocked()
	if err != nil {
		return false, err
	}

	kept := records[:0]
	removed := false
	for _, rec := range records {
		if rec.URL == url {
			removed = true
			continue
		}
		kept = append(kept, rec)
	}

	if !removed {
		return false, nil
	}

	return true, m.writeLocked(kept)
}

// Replace rewrites the full record list
func (m *MetadataFile) Replace(records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeLocked(records)
}

// writeLocked rewrites the file in full and validates JSON integrity by
// reading it back. Caller holds m.mu.
func (m *MetadataFile) writeLocked(records []Record) error {
	if records == nil {
		records = []Record{}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	if _, err := m.loadLocked(); err != nil {
		return fmt.Errorf("metadata file failed post-write validation: %w", err)
	}

	return nil
}
