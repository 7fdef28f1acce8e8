package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/andresuchdata/mixopt/internal/domain"
)

// RunRepository persists finished runs. GetRun returns
// domain.ErrRunNotFound for unknown ids.
type RunRepository interface {
	SaveRun(ctx context.Context, res *domain.RunResult) error
	GetRun(ctx context.Context, id string) (*domain.RunResult, error)
	ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error)
}

// MemoryRunRepository keeps runs in process memory. It backs the server
// when no database is configured.
type MemoryRunRepository struct {
	mu   sync.RWMutex
	runs map[string]*domain.RunResult
}

func NewMemoryRunRepository() *MemoryRunRepository {
	return &MemoryRunRepository{runs: make(map[string]*domain.RunResult)}
}

func (r *MemoryRunRepository) SaveRun(ctx context.Context, res *domain.RunResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *res
	r.runs[res.ID] = &cp
	return nil
}

func (r *MemoryRunRepository) GetRun(ctx context.Context, id string) (*domain.RunResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.runs[id]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	cp := *res
	return &cp, nil
}

// ListRuns returns the newest runs first.
func (r *MemoryRunRepository) ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.RunRecord, 0, len(r.runs))
	for _, res := range r.runs {
		out = append(out, res.Record())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
