package task

import (
	"context"
	"sync"

	"github.com/carefront/platform/internal/shared/errors"
	"github.com/carefront/platform/internal/shared/types"
)

// MemoryRepository keeps tasks in process memory for mock mode
type MemoryRepository struct {
	mu    sync.RWMutex
	tasks []*Task
	index map[types.ID]int
}

// NewMemoryRepository creates an empty in-memory task store
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{index: make(map[types.ID]int)}
}

func (r *MemoryRepository) Create(ctx context.Context, t *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[t.ID]; ok {
		return errors.Conflict("task " + t.ID.String() + " already exists")
	}
	r.index[t.ID] = len(r.tasks)
	r.tasks = append(r.tasks, clone(t))
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id types.ID) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[id]
	if !ok {
		return nil, errors.NotFound("task", id.String())
	}
	return clone(r.tasks[i]), nil
}

func (r *MemoryRepository) List(ctx context.Context, filter ListFilter) ([]*Task, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Task
	for i := len(r.tasks) - 1; i >= 0; i-- {
		if filter.matches(r.tasks[i]) {
			matched = append(matched, clone(r.tasks[i]))
		}
	}

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*Task{}, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (r *MemoryRepository) Update(ctx context.Context, t *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[t.ID]
	if !ok {
		return errors.NotFound("task", t.ID.String())
	}
	r.tasks[i] = clone(t)
	return nil
}

func clone(t *Task) *Task {
	cp := *t
	if t.AssignedTo != nil {
		v := *t.AssignedTo
		cp.AssignedTo = &v
	}
	if t.BedID != nil {
		v := *t.BedID
		cp.BedID = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		cp.CompletedAt = &v
	}
	return &cp
}
