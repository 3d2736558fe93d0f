package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"Chimp/backend/go/internal/models"

	"github.com/go-redis/redis/v8"
)

const maxTxRetries = 10

// RedisTaskStore keeps each record as a JSON value under <prefix><taskID>.
// Transitions run in WATCH/MULTI transactions so concurrent completions
// cannot both succeed.
type RedisTaskStore struct {
	client *redis.Client
	prefix string
}

// NewRedisTaskStore creates a new RedisTaskStore.
func NewRedisTaskStore(client *redis.Client, prefix string) *RedisTaskStore {
	return &RedisTaskStore{client: client, prefix: prefix}
}

func (s *RedisTaskStore) key(taskID string) string {
	return s.prefix + taskID
}

// Create stores a new record unless the id is taken.
func (s *RedisTaskStore) Create(ctx context.Context, task *models.TaskRecord) error {
	task.Ready = false
	task.Successful = nil
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.key(task.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrTaskExists
	}
	return nil
}

// update applies mutate to the stored record inside an optimistic transaction.
func (s *RedisTaskStore) update(ctx context.Context, taskID string, mutate func(*models.TaskRecord) error) error {
	key := s.key(taskID)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrTaskNotFound
		}
		if err != nil {
			return err
		}
		var task models.TaskRecord
		if err := json.Unmarshal(data, &task); err != nil {
			return fmt.Errorf("decode task %s: %w", taskID, err)
		}
		if err := mutate(&task); err != nil {
			return err
		}
		out, err := json.Marshal(&task)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, redis.KeepTTL)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update task %s: too much contention", taskID)
}

// MarkRunning records the run name of a pending task.
func (s *RedisTaskStore) MarkRunning(ctx context.Context, taskID, runName string) error {
	return s.update(ctx, taskID, func(t *models.TaskRecord) error {
		if t.Ready {
			return ErrTaskAlreadyCompleted
		}
		t.Status = models.TaskStatusRunning
		t.RunName = runName
		t.StartedAt = time.Now().UTC()
		return nil
	})
}

// Complete records the terminal state once.
func (s *RedisTaskStore) Complete(ctx context.Context, taskID string, successful bool, value string) error {
	return s.update(ctx, taskID, func(t *models.TaskRecord) error {
		if t.Ready {
			return ErrTaskAlreadyCompleted
		}
		t.Ready = true
		t.Successful = &successful
		t.Value = value
		t.Status = terminalStatus(successful)
		t.CompletedAt = time.Now().UTC()
		return nil
	})
}

// Get retrieves a task by its ID.
func (s *RedisTaskStore) Get(ctx context.Context, taskID string) (*models.TaskRecord, error) {
	data, err := s.client.Get(ctx, s.key(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	var task models.TaskRecord
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", taskID, err)
	}
	return &task, nil
}
