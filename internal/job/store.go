package job

import (
	"errors"
	"sync"
	"time"
)

// Store errors surfaced to engines and HTTP handlers.
var (
	ErrNotFound      = errors.New("job not found")
	ErrAlreadyExists = errors.New("job already exists")
	ErrTerminal      = errors.New("job is terminal")
	ErrTransition    = errors.New("illegal status transition")
)

// Store is an in-memory registry of jobs keyed by ID. Mutations are
// serialized per store; readers always receive deep copies so a Job snapshot
// is never torn by a concurrent update.
type Store struct {
	mu    sync.RWMutex
	jobs  map[string]Job
	clock Clock
}

// NewStore constructs a Store.
func NewStore(clock Clock) *Store {
	return &Store{
		jobs:  make(map[string]Job),
		clock: clock,
	}
}

// Insert stores a new job. The job keeps whatever status it was built with,
// which is queued for every engine in this design.
func (s *Store) Insert(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[j.ID]; exists {
		return ErrAlreadyExists
	}
	s.jobs[j.ID] = j.Clone()
	return nil
}

// Get fetches a deep copy of a job by ID.
func (s *Store) Get(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return j.Clone(), nil
}

// GetProgress fetches the progress snapshot of a job.
func (s *Store) GetProgress(id string) (Progress, error) {
	j, err := s.Get(id)
	if err != nil {
		return Progress{}, err
	}
	return j.Progress, nil
}

// Len returns the number of jobs currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Update applies fn to a clone of the stored job and swaps the result in.
// The update is rejected with ErrTerminal when the stored job has already
// reached a terminal status, and with ErrTransition when fn attempts a
// status change outside queued -> running -> (completed|failed). UpdatedAt
// is bumped on every successful mutation.
func (s *Store) Update(id string, fn func(*Job)) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	if stored.Progress.Status.Terminal() {
		return Job{}, ErrTerminal
	}
	next := stored.Clone()
	fn(&next)
	if next.Progress.Status != stored.Progress.Status &&
		!ValidTransition(stored.Progress.Status, next.Progress.Status) {
		return Job{}, ErrTransition
	}
	next.UpdatedAt = s.now()
	s.jobs[id] = next
	return next.Clone(), nil
}

// Delete removes a job outright. The engines only use this to roll back a
// creation whose enqueue was rejected.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

// Sweep removes terminal jobs older than ttl, returning how many were
// dropped. Retention is an orthogonal extension; callers gate it by config.
func (s *Store) Sweep(ttl time.Duration) int {
	cutoff := s.now().Add(-ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, j := range s.jobs {
		if j.Progress.Status.Terminal() && j.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

func (s *Store) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now().UTC()
}
