package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"Chimp/backend/go/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher 将任务生命周期事件写入 Kafka 事件主题。
type EventPublisher struct {
	writer *kafka.Writer
}

// NewEventPublisher 创建一个新的 EventPublisher 实例。
func NewEventPublisher(client *KafkaClient) *EventPublisher {
	return &EventPublisher{writer: client.NewWriter(client.Config.EventsTopic)}
}

// PublishTaskEvent 将 TaskEvent 序列化为 JSON 并发送到 Kafka，以任务ID为键保证同一任务的事件有序。
func (p *EventPublisher) PublishTaskEvent(ctx context.Context, event *models.TaskEvent) error {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal task event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.TaskID),
		Value: jsonData,
	})
	if err != nil {
		return fmt.Errorf("failed to write task event to kafka: %w", err)
	}
	return nil
}

// Close 关闭底层的 writer 连接。
func (p *EventPublisher) Close() error {
	return p.writer.Close()
}
