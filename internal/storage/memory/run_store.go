package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/press-digest/internal/store"
)

// RunStore keeps pipeline run history in memory.
type RunStore struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]store.Run
}

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[uuid.UUID]store.Run)}
}

// StartRun records a running run unless one with the same id exists.
func (s *RunStore) StartRun(_ context.Context, id uuid.UUID, trigger string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; ok {
		return nil
	}
	s.runs[id] = store.Run{ID: id, Trigger: trigger, StartedAt: startedAt, Status: store.RunRunning}
	return nil
}

// CompleteRun stores the terminal state; unknown ids return store.ErrNotFound.
func (s *RunStore) CompleteRun(_ context.Context, id uuid.UUID, done store.RunCompletion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	finished := done.FinishedAt
	run.FinishedAt = &finished
	run.Status = done.Status
	run.ErrorMessage = done.ErrorMessage
	run.IngestReport = done.IngestReport
	run.EnrichReport = done.EnrichReport
	s.runs[id] = run
	return nil
}

// GetRun loads a run by id.
func (s *RunStore) GetRun(_ context.Context, id uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs ordered by start time descending.
func (s *RunStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if offset >= len(out) {
		return []store.Run{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
