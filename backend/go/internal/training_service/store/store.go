// Package store 保存可轮询的任务状态。每个任务的终态只写入一次。
package store

import (
	"context"
	"errors"

	"Chimp/backend/go/internal/models"
)

var (
	// ErrTaskNotFound 表示不存在该任务ID。
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskAlreadyCompleted 表示任务已经进入终态。
	ErrTaskAlreadyCompleted = errors.New("task already completed")
	// ErrTaskExists 表示任务ID已被使用。
	ErrTaskExists = errors.New("task already exists")
)

// TaskStatusStore defines the interface for task status persistence.
type TaskStatusStore interface {
	// Create stores a new record with ready=false.
	Create(ctx context.Context, task *models.TaskRecord) error
	// MarkRunning records that a worker started the task. It fails with
	// ErrTaskAlreadyCompleted once the task is terminal.
	MarkRunning(ctx context.Context, taskID, runName string) error
	// Complete moves the task into its terminal state exactly once.
	Complete(ctx context.Context, taskID string, successful bool, value string) error
	// Get returns the record or ErrTaskNotFound.
	Get(ctx context.Context, taskID string) (*models.TaskRecord, error)
}

func terminalStatus(successful bool) models.TaskStatus {
	if successful {
		return models.TaskStatusSuccess
	}
	return models.TaskStatusFailed
}
