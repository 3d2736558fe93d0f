package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"Chimp/backend/go/internal/datastore"
	"Chimp/backend/go/internal/models"
	"Chimp/backend/go/internal/plugin"
	"Chimp/backend/go/internal/queue"
	"Chimp/backend/go/internal/training_service/store"
	"Chimp/backend/go/pkg/logger"
	"Chimp/backend/go/pkg/tracing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// TaskRequest carries the raw inputs of a run request. Argument values are
// looked up in Form first and Query second.
type TaskRequest struct {
	WorkUnit string
	Form     url.Values
	Query    url.Values
	Datasets string // JSON object: logical key -> dataset name
}

func (r *TaskRequest) argument(key string) string {
	if v := strings.TrimSpace(r.Form.Get(key)); v != "" {
		return v
	}
	return strings.TrimSpace(r.Query.Get(key))
}

// TaskService validates and dispatches tasks and exposes their status.
type TaskService struct {
	plugins   *plugin.Registry
	blobs     datastore.BlobStore
	store     store.TaskStatusStore
	publisher queue.Publisher
	logger    *logger.Logger
}

// NewTaskService creates a new TaskService.
func NewTaskService(plugins *plugin.Registry, blobs datastore.BlobStore, store store.TaskStatusStore, publisher queue.Publisher, logger *logger.Logger) *TaskService {
	return &TaskService{
		plugins:   plugins,
		blobs:     blobs,
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// StartTask validates req against the work unit's descriptor and enqueues it.
// It returns plugin.ErrWorkUnitNotFound, a *ValidationError or an infrastructure error.
func (s *TaskService) StartTask(ctx context.Context, req *TaskRequest) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "dispatch", attribute.String("work_unit", req.WorkUnit))
	defer span.End()

	entry, ok := s.plugins.Get(req.WorkUnit)
	if !ok {
		return "", fmt.Errorf("%w: %s", plugin.ErrWorkUnitNotFound, req.WorkUnit)
	}
	desc := entry.Descriptor

	datasets, err := s.validateDatasets(ctx, desc, req.Datasets)
	if err != nil {
		tracing.RecordError(span, err)
		return "", err
	}
	args, err := validateArguments(desc, req)
	if err != nil {
		tracing.RecordError(span, err)
		return "", err
	}

	taskID := uuid.New().String()
	span.SetAttributes(attribute.String("task_id", taskID))
	now := time.Now().UTC()
	if err := s.store.Create(ctx, models.NewPendingTask(taskID, desc.Name, now)); err != nil {
		s.logger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Failed to create task in store")
		tracing.RecordError(span, err)
		return "", err
	}

	execReq := &models.ExecutionRequest{
		TaskID:      taskID,
		WorkUnit:    desc.Name,
		Arguments:   args,
		Datasets:    datasets,
		SubmittedAt: now,
	}
	if err := s.publisher.Publish(ctx, execReq); err != nil {
		s.logger.WithTask(taskID, "").WithError(models.ErrorInfo{Message: err.Error()}).Error("Failed to publish task to the queue")
		if cerr := s.store.Complete(context.Background(), taskID, false, models.EncodeValue("failed to enqueue task")); cerr != nil {
			s.logger.WithTask(taskID, "").WithError(models.ErrorInfo{Message: cerr.Error()}).Error("Failed to mark unpublished task as failed")
		}
		tracing.RecordError(span, err)
		return "", fmt.Errorf("enqueue task: %w", err)
	}

	s.logger.WithTask(taskID, "").WithPayload(map[string]interface{}{
		"work_unit": desc.Name,
		"datasets":  datasets,
	}).Info("Task dispatched")
	return taskID, nil
}

// validateDatasets decodes the dataset mapping and checks that every
// supplied declared dataset exists on the blob store.
func (s *TaskService) validateDatasets(ctx context.Context, desc plugin.Descriptor, raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	required := desc.RequiredDatasets()
	if raw == "" {
		if len(required) > 0 {
			return nil, validationf("Must specify the required datasets")
		}
		return nil, nil
	}

	var supplied map[string]string
	if err := json.Unmarshal([]byte(raw), &supplied); err != nil {
		return nil, validationf("Could not decode the datasets dictionary: %s", err.Error())
	}
	for _, key := range required {
		if strings.TrimSpace(supplied[key]) == "" {
			return nil, validationf("Missing required dataset '%s'", key)
		}
	}
	for key := range supplied {
		if _, declared := desc.Dataset(key); !declared {
			s.logger.WithPayload(map[string]interface{}{"work_unit": desc.Name, "dataset_key": key}).
				Warn("Ignoring dataset key not declared by the work unit")
		}
	}

	resolved := make(map[string]string, len(desc.Datasets))
	for _, ds := range desc.Datasets {
		name := strings.TrimSpace(supplied[ds.Key])
		if name == "" {
			continue
		}
		exists, err := datastore.DatasetExists(ctx, s.blobs, name)
		if err != nil {
			return nil, fmt.Errorf("check dataset %s: %w", name, err)
		}
		if !exists {
			return nil, validationf("Dataset %s not found", name)
		}
		resolved[ds.Key] = name
	}
	return resolved, nil
}

func validateArguments(desc plugin.Descriptor, req *TaskRequest) (map[string]string, error) {
	args := make(map[string]string, len(desc.Arguments))
	for _, arg := range desc.Arguments {
		v := req.argument(arg.Key)
		if v == "" {
			if !arg.Optional {
				return nil, validationf("Missing required argument '%s'", arg.Key)
			}
			continue
		}
		args[arg.Key] = v
	}
	return args, nil
}

// GetTaskResult returns the pollable view of a task.
func (s *TaskService) GetTaskResult(ctx context.Context, taskID string) (*models.TaskResult, error) {
	rec, err := s.store.Get(ctx, taskID)
	if err != nil {
		if !errors.Is(err, store.ErrTaskNotFound) {
			s.logger.WithError(models.ErrorInfo{Message: err.Error()}).WithPayload(map[string]interface{}{"taskID": taskID}).Error("Failed to get task by ID from store")
		}
		return nil, err
	}
	res := rec.Result()
	return &res, nil
}

// ListPlugins optionally reloads the registry and lists its work units.
func (s *TaskService) ListPlugins(includeDetails, reload bool) []interface{} {
	if reload {
		s.plugins.LoadAll()
	}
	return s.plugins.List(includeDetails)
}

// ListDatasets returns the dataset folders on the blob store.
func (s *TaskService) ListDatasets(ctx context.Context) ([]string, error) {
	return datastore.ListDatasets(ctx, s.blobs)
}
