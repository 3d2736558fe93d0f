package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"Chimp/backend/go/internal/models"
)

// MemoryStore 是进程内的元数据存储，用于测试和未配置 MySQL 的单机运行。
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]models.ModelRun
	stages map[string]map[string]models.ModelStage // model -> stage -> record
}

// NewMemoryStore 创建一个空的 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:   make(map[string]models.ModelRun),
		stages: make(map[string]map[string]models.ModelStage),
	}
}

func (s *MemoryStore) CreateRun(_ context.Context, run *models.ModelRun, register bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.RunName]; ok {
		return ErrRunExists
	}
	run.CreatedAt = time.Now().UTC()
	s.runs[run.RunName] = *run
	if !register {
		return nil
	}
	s.setStageLocked(run.ModelName, models.StageStaging, run.RunName)
	if _, ok := s.stages[run.ModelName][models.StageProduction]; !ok {
		s.setStageLocked(run.ModelName, models.StageProduction, run.RunName)
	}
	return nil
}

func (s *MemoryStore) setStageLocked(modelName, stage, runName string) {
	if s.stages[modelName] == nil {
		s.stages[modelName] = make(map[string]models.ModelStage)
	}
	s.stages[modelName][stage] = models.ModelStage{
		ModelName: modelName,
		Stage:     stage,
		RunName:   runName,
		UpdatedAt: time.Now().UTC(),
	}
}

func (s *MemoryStore) FindRun(_ context.Context, runName string) (*models.ModelRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runName]
	if !ok {
		return nil, ErrRunNotFound
	}
	return &run, nil
}

func (s *MemoryStore) FindStage(_ context.Context, modelName, stage string) (*models.ModelStage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stages[modelName][stage]
	if !ok {
		return nil, ErrModelNotFound
	}
	return &st, nil
}

func (s *MemoryStore) SetStage(_ context.Context, modelName, stage, runName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStageLocked(modelName, stage, runName)
	return nil
}

func (s *MemoryStore) ListStages(context.Context) ([]models.ModelStage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ModelStage
	for _, byStage := range s.stages {
		for _, st := range byStage {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ModelName != out[j].ModelName {
			return out[i].ModelName < out[j].ModelName
		}
		return out[i].Stage < out[j].Stage
	})
	return out, nil
}
