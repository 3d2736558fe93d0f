package service

import (
	"context"

	"Chimp/backend/go/internal/models"
	"Chimp/backend/go/internal/registry"
	"Chimp/backend/go/pkg/logger"
)

// ModelService exposes read and stage operations of the model registry.
type ModelService struct {
	registry registry.ModelRegistry
	logger   *logger.Logger
}

// NewModelService creates a new ModelService.
func NewModelService(registry registry.ModelRegistry, logger *logger.Logger) *ModelService {
	return &ModelService{registry: registry, logger: logger}
}

// ListModels returns registered models with their stage assignments.
func (s *ModelService) ListModels(ctx context.Context) ([]models.RegisteredModel, error) {
	return s.registry.ListModels(ctx)
}

// TransitionStage points a stage of modelName at runName.
func (s *ModelService) TransitionStage(ctx context.Context, modelName, stage, runName string) error {
	if !models.ValidStage(stage) {
		return validationf("Unknown stage '%s'", stage)
	}
	if runName == "" {
		return validationf("Missing required argument 'run_name'")
	}
	if err := s.registry.TransitionStage(ctx, modelName, stage, runName); err != nil {
		return err
	}
	s.logger.WithPayload(map[string]interface{}{"model": modelName, "stage": stage, "run_name": runName}).Info("Model stage transitioned")
	return nil
}
