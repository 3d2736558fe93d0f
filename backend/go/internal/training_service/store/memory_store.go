package store

import (
	"context"
	"sync"
	"time"

	"Chimp/backend/go/internal/models"
)

// MemoryTaskStore is an in-process TaskStatusStore for tests and standalone runs.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]models.TaskRecord
}

// NewMemoryTaskStore creates an empty store.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[string]models.TaskRecord)}
}

func (s *MemoryTaskStore) Create(_ context.Context, task *models.TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; ok {
		return ErrTaskExists
	}
	task.Ready = false
	task.Successful = nil
	s.tasks[task.ID] = *task
	return nil
}

func (s *MemoryTaskStore) MarkRunning(_ context.Context, taskID, runName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Ready {
		return ErrTaskAlreadyCompleted
	}
	t.Status = models.TaskStatusRunning
	t.RunName = runName
	t.StartedAt = time.Now().UTC()
	s.tasks[taskID] = t
	return nil
}

func (s *MemoryTaskStore) Complete(_ context.Context, taskID string, successful bool, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if t.Ready {
		return ErrTaskAlreadyCompleted
	}
	t.Ready = true
	t.Successful = &successful
	t.Value = value
	t.Status = terminalStatus(successful)
	t.CompletedAt = time.Now().UTC()
	s.tasks[taskID] = t
	return nil
}

func (s *MemoryTaskStore) Get(_ context.Context, taskID string) (*models.TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return &t, nil
}
