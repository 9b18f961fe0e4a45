// Package domain holds the event contract and error types shared by the
// archiver worker.
package domain

import (
	"errors"
	"time"

	"github.com/cuongbtq/imagegen-be/internal/results"
)

// GenerationCompletedEvent is published by the API service when a generation
// job reaches a terminal status. The archiver only acts on completed events
// that carry output URLs.
type GenerationCompletedEvent struct {
	JobID       string         `json:"job_id"`
	Status      string         `json:"status"`
	Outputs     []string       `json:"outputs"`
	Prompt      string         `json:"prompt,omitempty"`
	Settings    map[string]any `json:"settings,omitempty"`
	User        results.User   `json:"user,omitempty"`
	CompletedAt time.Time      `json:"completed_at"`
}

// Validate checks the event carries enough to act on
func (e *GenerationCompletedEvent) Validate() error {
	if e.JobID == "" {
		return ErrInvalidEvent
	}
	if e.Status == "" {
		return ErrInvalidEvent
	}
	return nil
}

// Archivable reports whether the event should produce thumbnail archives
func (e *GenerationCompletedEvent) Archivable() bool {
	return e.Status == string(results.StatusCompleted) && len(e.Outputs) > 0
}

var (
	// ErrInvalidEvent is returned when an event is missing required fields
	ErrInvalidEvent = errors.New("invalid generation event")

	// ErrAllDownloadsFailed is returned when no output of an event could be
	// archived
	ErrAllDownloadsFailed = errors.New("all output downloads failed")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// EventMessage pairs a decoded event with its RabbitMQ delivery tag
type EventMessage struct {
	Event       *GenerationCompletedEvent
	DeliveryTag uint64
}
