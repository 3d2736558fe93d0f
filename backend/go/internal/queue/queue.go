// Package queue 在调度器和 worker 之间传递执行请求。
// 请求按至少一次语义投递，处理完成后才确认。
package queue

import (
	"context"
	"errors"
	"time"

	"Chimp/backend/go/internal/models"

	"github.com/cenkalti/backoff/v4"
)

// ErrClosed 表示队列已经关闭。
var ErrClosed = errors.New("queue closed")

// Handler 处理一条执行请求。返回错误时消费者退避后重新调用，成功前不会确认该消息；
// ctx 结束时消息保持未确认，由队列在重启后重新投递。
type Handler func(ctx context.Context, req *models.ExecutionRequest) error

// Publisher 将执行请求写入队列。
type Publisher interface {
	Publish(ctx context.Context, req *models.ExecutionRequest) error
	Close() error
}

// Consumer 逐条拉取请求并调用 handler，直到 ctx 结束或队列关闭。
// 每个 Consumer 同一时刻只处理一条消息。
type Consumer interface {
	Consume(ctx context.Context, handle Handler) error
	Close() error
}

// ConsumerFactory 为每个 worker 槽位创建独立的 Consumer。
type ConsumerFactory func() (Consumer, error)

// redeliveryBackOff 返回 handler 失败后的重试间隔，不设总时长上限。
func redeliveryBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0
	return bo
}

// deliver 反复调用 handle 直到成功，报告消息是否可以确认。ctx 结束时返回 false。
func deliver(ctx context.Context, handle Handler, req *models.ExecutionRequest, bo backoff.BackOff, notify backoff.Notify) bool {
	err := backoff.RetryNotify(func() error {
		return handle(ctx, req)
	}, backoff.WithContext(bo, ctx), notify)
	return err == nil
}
