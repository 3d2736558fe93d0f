package queue

import (
	"context"
	"sync"

	"Chimp/backend/go/internal/models"
)

// MemoryQueue 是进程内的有界队列，供单机模式和测试使用。
// 所有消费者共享同一个通道，每条请求只会被一个消费者取走。
type MemoryQueue struct {
	ch     chan *models.ExecutionRequest
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue 创建一个容量为 size 的队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan *models.ExecutionRequest, size)}
}

// Publish 在队列满时阻塞，直到 ctx 结束。
func (q *MemoryQueue) Publish(ctx context.Context, req *models.ExecutionRequest) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 关闭队列，消费者在取完剩余请求后返回 ErrClosed。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	return nil
}

// ConsumerFactory 返回从该队列读取的消费者工厂。
func (q *MemoryQueue) ConsumerFactory() ConsumerFactory {
	return func() (Consumer, error) {
		return &memoryConsumer{q: q}, nil
	}
}

type memoryConsumer struct {
	q *MemoryQueue
}

func (c *memoryConsumer) Consume(ctx context.Context, handle Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req, ok := <-c.q.ch:
			if !ok {
				return ErrClosed
			}
			deliver(ctx, handle, req, redeliveryBackOff(), nil)
		}
	}
}

func (c *memoryConsumer) Close() error { return nil }
