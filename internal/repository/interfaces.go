package repository

import (
	"context"

	"github.com/circularmachines/sharedinventory/internal/domain"
)

// ProcessedSet records thread roots that have already been answered.
type ProcessedSet interface {
	// Contains reports whether rootURI was processed.
	Contains(rootURI string) bool

	// Add records rootURI. Adding an existing entry is a no-op.
	Add(rootURI string) error

	// List returns all entries in insertion order.
	List() []string

	// Len returns the number of entries.
	Len() int
}

// RunRepository stores pipeline run history.
type RunRepository interface {
	// Save inserts or replaces a run.
	Save(ctx context.Context, run *domain.RunRecord) error

	// Get retrieves a run by ID.
	Get(ctx context.Context, id domain.RunID) (*domain.RunRecord, error)

	// List returns runs newest first.
	List(ctx context.Context, filter RunFilter) ([]*domain.RunRecord, error)

	// Stats returns aggregate counts.
	Stats(ctx context.Context) (*RunStats, error)

	// Close releases underlying resources.
	Close() error
}

// RunFilter narrows a run listing.
type RunFilter struct {
	State      *domain.RunState
	MentionURI string
	Limit      int
	Offset     int
}

func (f *RunFilter) normalize() {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

func (f *RunFilter) matches(run *domain.RunRecord) bool {
	if f.State != nil && run.State != *f.State {
		return false
	}
	if f.MentionURI != "" && run.MentionURI != f.MentionURI {
		return false
	}
	return true
}

// RunStats contains run history statistics.
type RunStats struct {
	Total   int            `json:"total"`
	Running int            `json:"running"`
	Done    int            `json:"done"`
	Failed  int            `json:"failed"`
	ByNote  map[string]int `json:"by_note"`
	ByStage map[string]int `json:"failed_by_stage"`
}

func newRunStats() *RunStats {
	return &RunStats{ByNote: map[string]int{}, ByStage: map[string]int{}}
}

func (s *RunStats) add(state domain.RunState, note string, failedStage domain.RunState, n int) {
	s.Total += n
	switch state {
	case domain.RunStateDone:
		s.Done += n
		if note != "" {
			s.ByNote[note] += n
		}
	case domain.RunStateFailed:
		s.Failed += n
		if failedStage != "" {
			s.ByStage[string(failedStage)] += n
		}
	default:
		s.Running += n
	}
}
