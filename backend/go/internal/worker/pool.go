package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"Chimp/backend/go/internal/models"
	"Chimp/backend/go/internal/queue"
	"Chimp/backend/go/internal/training_service/store"
	"Chimp/backend/go/pkg/logger"

	"github.com/cenkalti/backoff/v4"
)

const defaultStatusRetry = time.Minute

// EventPublisher receives task lifecycle events.
type EventPublisher interface {
	PublishTaskEvent(ctx context.Context, event *models.TaskEvent) error
}

// Pool runs a fixed number of consumer slots. Each slot handles one request
// at a time: mark running, execute, record the terminal state exactly once.
type Pool struct {
	id          string
	slots       int
	consumers   queue.ConsumerFactory
	executor    *Executor
	store       store.TaskStatusStore
	events      EventPublisher
	statusRetry time.Duration
	logger      *logger.Logger
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithEvents publishes task events to p.
func WithEvents(p EventPublisher) PoolOption {
	return func(pool *Pool) {
		pool.events = p
	}
}

// WithStatusRetry bounds how long a terminal status write is retried.
func WithStatusRetry(d time.Duration) PoolOption {
	return func(pool *Pool) {
		pool.statusRetry = d
	}
}

// NewPool creates a Pool with slots consumers.
func NewPool(id string, slots int, consumers queue.ConsumerFactory, executor *Executor, tasks store.TaskStatusStore, log *logger.Logger, opts ...PoolOption) *Pool {
	if slots <= 0 {
		slots = 1
	}
	p := &Pool{
		id:          id,
		slots:       slots,
		consumers:   consumers,
		executor:    executor,
		store:       tasks,
		statusRetry: defaultStatusRetry,
		logger:      log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Executor returns the executor the pool runs requests with.
func (p *Pool) Executor() *Executor {
	return p.executor
}

// Run blocks until ctx is cancelled or every consumer has stopped.
func (p *Pool) Run(ctx context.Context) error {
	consumers := make([]queue.Consumer, 0, p.slots)
	defer func() {
		for _, c := range consumers {
			if err := c.Close(); err != nil {
				p.logger.WithError(models.ErrorInfo{Message: err.Error()}).Warn("Failed to close consumer")
			}
		}
	}()
	for i := 0; i < p.slots; i++ {
		c, err := p.consumers()
		if err != nil {
			return fmt.Errorf("create consumer for slot %d: %w", i, err)
		}
		consumers = append(consumers, c)
	}

	p.logger.Info(fmt.Sprintf("Worker %s started with %d slots", p.id, p.slots))
	var wg sync.WaitGroup
	errs := make([]error, p.slots)
	for i, c := range consumers {
		wg.Add(1)
		go func(slot int, c queue.Consumer) {
			defer wg.Done()
			err := c.Consume(ctx, p.Handle)
			if err != nil && !errors.Is(err, queue.ErrClosed) {
				errs[slot] = err
			}
		}(i, c)
	}
	wg.Wait()
	p.logger.Info(fmt.Sprintf("Worker %s stopped", p.id))
	return errors.Join(errs...)
}

// Handle processes one execution request. Task failures are recorded, never returned.
func (p *Pool) Handle(ctx context.Context, req *models.ExecutionRequest) error {
	log := p.logger.WithTask(req.TaskID, "")
	started := func(runName string) error {
		err := p.store.MarkRunning(ctx, req.TaskID, runName)
		if errors.Is(err, store.ErrTaskAlreadyCompleted) {
			return err
		}
		if err != nil {
			log.WithError(models.ErrorInfo{Message: err.Error()}).Warn("Could not mark task as running")
		}
		p.publish(req, runName, models.TaskStatusRunning, "")
		return nil
	}

	runName, value, err := p.executor.Execute(ctx, req, started)
	if errors.Is(err, store.ErrTaskAlreadyCompleted) {
		log.Warn("Skipping redelivered task that already completed")
		return nil
	}

	successful := err == nil
	var encoded string
	status := models.TaskStatusSuccess
	if successful {
		encoded = models.EncodeValue(value)
	} else {
		encoded = models.EncodeValue(err)
		status = models.TaskStatusFailed
		log.WithTask(req.TaskID, runName).
			WithError(errorInfo(err)).
			Error(fmt.Sprintf("Task for work unit '%s' failed", req.WorkUnit))
	}

	cerr := p.complete(req.TaskID, successful, encoded)
	switch {
	case errors.Is(cerr, store.ErrTaskAlreadyCompleted), errors.Is(cerr, store.ErrTaskNotFound):
		log.WithError(models.ErrorInfo{Message: cerr.Error(), Type: "status_store_error"}).Warn("Task result not recorded")
		return nil
	case cerr != nil:
		log.WithError(models.ErrorInfo{Message: cerr.Error(), Type: "status_store_error"}).Error("Failed to record task result")
		return cerr
	}
	p.publish(req, runName, status, encoded)
	return nil
}

// complete 在独立的上下文中重试写入终态，关闭期间也会尽量完成。
func (p *Pool) complete(taskID string, successful bool, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.statusRetry)
	defer cancel()
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = p.statusRetry
	return backoff.Retry(func() error {
		err := p.store.Complete(ctx, taskID, successful, value)
		if errors.Is(err, store.ErrTaskAlreadyCompleted) || errors.Is(err, store.ErrTaskNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx))
}

func (p *Pool) publish(req *models.ExecutionRequest, runName string, status models.TaskStatus, message string) {
	if p.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := p.events.PublishTaskEvent(ctx, &models.TaskEvent{
		TaskID:    req.TaskID,
		WorkUnit:  req.WorkUnit,
		RunName:   runName,
		WorkerID:  p.id,
		Status:    status,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		p.logger.WithTask(req.TaskID, runName).WithError(models.ErrorInfo{Message: err.Error()}).Warn("Failed to publish task event")
	}
}

func errorInfo(err error) models.ErrorInfo {
	info := models.ErrorInfo{Message: err.Error()}
	var infra *InfrastructureError
	var exec *ExecutionError
	switch {
	case errors.As(err, &infra):
		info.Type = "infrastructure_error"
	case errors.As(err, &exec):
		info.Type = "execution_error"
		info.Stack = exec.Stack
	default:
		info.Type = "work_unit_not_found"
	}
	return info
}
