// Package results keeps the in-process map of generation jobs and their
// last-known status.
package results

import (
	"sync"
	"time"
)

// Status is the job status exposed to API clients
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status admits no further transitions
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// User carries the originating-user attributes attached to a job
type User struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Job is the tracked state of one generation request
type Job struct {
	ID          string    `json:"job_id"`
	Status      Status    `json:"status"`
	Outputs     []string  `json:"outputs,omitempty"`
	Error       string    `json:"error,omitempty"`
	Prompt      string    `json:"prompt,omitempty"`
	User        User      `json:"user,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// entry wraps a job with its own mutex so updates for the same id apply in
// lock-acquisition order and never interleave
type entry struct {
	mu  sync.Mutex
	job Job

	// doneAt mirrors the job's completion time for the eviction scan. It is
	// guarded by the store mutex, not the entry mutex, so eviction never
	// waits on an in-flight update.
	doneAt time.Time
}

// Store maps job id to current status record. Updates for a given id are
// serialized; entries are evicted once they sit past the retention window
// after completion. There is no ordering guarantee across different ids.
type Store struct {
	mu        sync.Mutex
	jobs      map[string]*entry
	retention time.Duration
	now       func() time.Time
}

// DefaultRetention is how long a completed job remains readable
const DefaultRetention = time.Hour

// NewStore creates a Store with the given retention window past completion
func NewStore(retention time.Duration) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}

	return &Store{
		jobs:      make(map[string]*entry),
		retention: retention,
		now:       time.Now,
	}
}

// Put registers a job, replacing any existing record with the same id
func (s *Store) Put(job Job) {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}

	e := &entry{job: job}
	if job.Status.Terminal() {
		e.doneAt = job.CompletedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked()
	s.jobs[job.ID] = e
}

// Update applies a mutation to the job with the given id, creating the record
// if it does not exist yet (a webhook can arrive before the submit path has
// registered the job). Updates for the same id run strictly one after another.
func (s *Store) Update(id string, apply func(job *Job)) {
	s.mu.Lock()
	s.evictLocked()

	e, ok := s.jobs[id]
	if !ok {
		e = &entry{job: Job{ID: id, Status: StatusProcessing, CreatedAt: s.now()}}
		s.jobs[id] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	apply(&e.job)

	if e.job.Status.Terminal() && e.job.CompletedAt.IsZero() {
		e.job.CompletedAt = s.now()
	}

	terminal := e.job.Status.Terminal()
	completedAt := e.job.CompletedAt
	e.mu.Unlock()

	if terminal {
		s.mu.Lock()
		e.doneAt = completedAt
		s.mu.Unlock()
	}
}

// Get returns a copy of the job record
func (s *Store) Get(id string) (Job, bool) {
	s.mu.Lock()
	s.evictLocked()
	e, ok := s.jobs[id]
	s.mu.Unlock()

	if !ok {
		return Job{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job, true
}

// Len returns the number of tracked jobs
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// evictLocked drops terminal entries past the retention window. Caller holds
// s.mu; the scan reads only doneAt, so it never contends with an entry mutex
// held by a slow update.
func (s *Store) evictLocked() {
	cutoff := s.now().Add(-s.retention)

	for id, e := range s.jobs {
		if !e.doneAt.IsZero() && e.doneAt.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
}
