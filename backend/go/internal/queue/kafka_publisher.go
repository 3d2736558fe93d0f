package queue

import (
	"context"
	"encoding/json"
	"fmt"

	kafkadb "Chimp/backend/go/internal/database/kafka"
	"Chimp/backend/go/internal/models"
	"Chimp/backend/go/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// TaskPublisher is responsible for publishing execution requests to Kafka.
type TaskPublisher struct {
	writer *kafka.Writer
	logger *logger.Logger
}

// NewTaskPublisher creates a new TaskPublisher writing to the tasks topic.
func NewTaskPublisher(client *kafkadb.KafkaClient, logger *logger.Logger) *TaskPublisher {
	return &TaskPublisher{
		writer: client.NewWriter(client.Config.TasksTopic),
		logger: logger,
	}
}

// Publish sends a request keyed by its task id.
func (p *TaskPublisher) Publish(ctx context.Context, req *models.ExecutionRequest) error {
	msgBytes, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal execution request: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(req.TaskID),
		Value: msgBytes,
	})
	if err != nil {
		p.logger.WithError(models.ErrorInfo{Message: err.Error()}).
			WithPayload(map[string]interface{}{"topic": p.writer.Topic, "task_id": req.TaskID}).
			Error("Failed to write message to Kafka")
		return err
	}
	return nil
}

// Close closes the underlying Kafka writer.
func (p *TaskPublisher) Close() error {
	return p.writer.Close()
}
