package taskstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/slackreports/pkg/models"
)

// Memory is an in-process Store used by one-shot CLI runs and tests
type Memory struct {
	mu    sync.RWMutex
	tasks map[string]*models.TaskStatus
	now   func() time.Time
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		tasks: make(map[string]*models.TaskStatus),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Create(_ context.Context, kind models.TaskKind) (string, error) {
	id := uuid.NewString()
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[id] = &models.TaskStatus{
		ID:        id,
		Kind:      kind,
		State:     models.TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return id, nil
}

func (m *Memory) Get(_ context.Context, id string) (models.TaskStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, ok := m.tasks[id]
	if !ok {
		return models.TaskStatus{}, ErrNotFound
	}
	out := *status
	if status.Progress != nil {
		p := *status.Progress
		out.Progress = &p
	}
	return out, nil
}

func (m *Memory) update(id string, to models.TaskState, fn func(*models.TaskStatus)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if err := apply(status, to); err != nil {
		return err
	}
	fn(status)
	status.UpdatedAt = m.now()
	return nil
}

func (m *Memory) MarkProgress(_ context.Context, id string, p models.Progress) error {
	return m.update(id, models.TaskProgress, func(s *models.TaskStatus) {
		s.Progress = &p
	})
}

func (m *Memory) Complete(_ context.Context, id string, result any) error {
	return m.update(id, models.TaskSuccess, func(s *models.TaskStatus) {
		s.Result = result
	})
}

func (m *Memory) Fail(_ context.Context, id string, reason string) error {
	return m.update(id, models.TaskFailure, func(s *models.TaskStatus) {
		s.Result = nil
		s.Error = reason
	})
}
