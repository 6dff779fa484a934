package repository

import (
	"context"
	"sync"

	"github.com/circularmachines/sharedinventory/internal/domain"
)

// InMemoryRunRepository keeps the most recent runs in memory.
type InMemoryRunRepository struct {
	mu       sync.RWMutex
	capacity int
	runs     map[domain.RunID]*domain.RunRecord
	order    []domain.RunID // oldest first
}

// NewInMemoryRunRepository creates a repository that retains at most capacity runs.
func NewInMemoryRunRepository(capacity int) *InMemoryRunRepository {
	if capacity <= 0 {
		capacity = 1000
	}
	return &InMemoryRunRepository{
		capacity: capacity,
		runs:     make(map[domain.RunID]*domain.RunRecord),
		order:    make([]domain.RunID, 0),
	}
}

// Save inserts or replaces a run, evicting the oldest when full.
func (r *InMemoryRunRepository) Save(ctx context.Context, run *domain.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *run
	if _, ok := r.runs[run.ID]; !ok {
		r.order = append(r.order, run.ID)
		if len(r.order) > r.capacity {
			delete(r.runs, r.order[0])
			r.order = r.order[1:]
		}
	}
	r.runs[run.ID] = &cp
	return nil
}

// Get retrieves a run by ID.
func (r *InMemoryRunRepository) Get(ctx context.Context, id domain.RunID) (*domain.RunRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

// List returns matching runs newest first.
func (r *InMemoryRunRepository) List(ctx context.Context, filter RunFilter) ([]*domain.RunRecord, error) {
	filter.normalize()

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.RunRecord, 0, filter.Limit)
	skipped := 0
	for i := len(r.order) - 1; i >= 0 && len(result) < filter.Limit; i-- {
		run := r.runs[r.order[i]]
		if !filter.matches(run) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		cp := *run
		result = append(result, &cp)
	}
	return result, nil
}

// Stats returns run statistics.
func (r *InMemoryRunRepository) Stats(ctx context.Context) (*RunStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := newRunStats()
	for _, run := range r.runs {
		stats.add(run.State, run.Note, run.FailedStage, 1)
	}
	return stats, nil
}

// Close is a no-op.
func (r *InMemoryRunRepository) Close() error {
	return nil
}
