// Package inmemory provides a process-local job record store.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/jobs"
)

// Store is an in-memory implementation of jobs.Store.
// Data is lost when the process exits; use boltstore for persistence.
type Store struct {
	jobs map[string]jobs.Status
	mu   sync.RWMutex
}

// NewStore creates a new in-memory job store.
func NewStore() *Store {
	return &Store{
		jobs: make(map[string]jobs.Status),
	}
}

// Save implements jobs.Store.
func (s *Store) Save(_ context.Context, status jobs.Status) error {
	if status.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[status.ID] = copyStatus(status)
	return nil
}

// Get implements jobs.Store.
func (s *Store) Get(_ context.Context, id string) (jobs.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status, exists := s.jobs[id]
	if !exists {
		return jobs.Status{}, fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	return copyStatus(status), nil
}

// List implements jobs.Store.
func (s *Store) List(_ context.Context) ([]jobs.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]jobs.Status, 0, len(s.jobs))
	for _, status := range s.jobs {
		result = append(result, copyStatus(status))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// copyStatus detaches the time pointers so callers cannot modify stored records.
func copyStatus(s jobs.Status) jobs.Status {
	if s.StartedAt != nil {
		t := *s.StartedAt
		s.StartedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		s.CompletedAt = &t
	}
	return s
}

var _ jobs.Store = (*Store)(nil)
