package state_mem

import (
	"sync"
	"time"

	"github.com/davarch/ci-dashboard/internal/domain"
)

// Store holds the single published snapshot of aggregated data behind one
// mutex. Publish replaces every field in one critical section; Snapshot
// copies every field in one critical section. There are deliberately no
// field-level accessors: a reader can only ever observe one whole cycle.
type Store struct {
	mu          sync.RWMutex
	projects    []domain.Project
	pipelines   []domain.Pipeline
	summary     domain.Summary
	lastUpdated *time.Time
	status      domain.ServiceStatus
	errMsg      string

	now func() time.Time // injectable for deterministic tests
}

func New() *Store {
	return &Store{
		status: domain.ServiceInitializing,
		now:    time.Now,
	}
}

// Publish replaces all data fields atomically and is the only path that
// sets the online status. Callers hand over ownership of the slices and
// must not modify them afterwards.
func (s *Store) Publish(projects []domain.Project, pipelines []domain.Pipeline, summary domain.Summary) {
	t := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects = projects
	s.pipelines = pipelines
	s.summary = summary
	s.lastUpdated = &t
	s.status = domain.ServiceOnline
	s.errMsg = ""
}

// MarkError flips the status without touching the data fields, so readers
// keep the last good snapshot alongside the error.
func (s *Store) MarkError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = domain.ServiceError
	s.errMsg = msg
}

// Snapshot returns a consistent copy of all fields from one cycle.
func (s *Store) Snapshot() domain.StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := domain.StateSnapshot{
		Projects:  append([]domain.Project(nil), s.projects...),
		Pipelines: append([]domain.Pipeline(nil), s.pipelines...),
		Summary:   s.summary,
		Status:    s.status,
		Error:     s.errMsg,
	}
	if s.lastUpdated != nil {
		t := *s.lastUpdated
		snap.LastUpdated = &t
	}
	return snap
}
