package conveyor

import (
	"context"
	"sort"
	"sync"
)

// RunStore persists run records. The engine writes through this seam and
// never depends on the storage internals.
type RunStore interface {
	// SaveRun saves or replaces a run record
	SaveRun(ctx context.Context, run *WorkflowRun) error

	// GetRun loads a run record by ID
	GetRun(ctx context.Context, runID string) (*WorkflowRun, error)

	// ListRuns returns summaries for stored runs, newest first
	ListRuns(ctx context.Context, workflowID string) ([]*RunSummary, error)

	// DeleteRun removes a run record
	DeleteRun(ctx context.Context, runID string) error
}

// MemoryRunStore is an in-memory RunStore, used by default and in tests.
type MemoryRunStore struct {
	mutex sync.RWMutex
	runs  map[string]*WorkflowRun
}

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: map[string]*WorkflowRun{}}
}

func (s *MemoryRunStore) SaveRun(ctx context.Context, run *WorkflowRun) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.runs[run.ID] = run
	return nil
}

func (s *MemoryRunStore) GetRun(ctx context.Context, runID string) (*WorkflowRun, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, NewValidationError("run %q not found", runID)
	}
	return run, nil
}

func (s *MemoryRunStore) ListRuns(ctx context.Context, workflowID string) ([]*RunSummary, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var summaries []*RunSummary
	for _, run := range s.runs {
		if workflowID != "" && run.WorkflowID != workflowID {
			continue
		}
		summaries = append(summaries, run.Summary())
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartTime.After(summaries[j].StartTime)
	})
	return summaries, nil
}

func (s *MemoryRunStore) DeleteRun(ctx context.Context, runID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.runs, runID)
	return nil
}
