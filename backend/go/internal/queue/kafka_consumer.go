package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	kafkadb "Chimp/backend/go/internal/database/kafka"
	"Chimp/backend/go/internal/models"
	"Chimp/backend/go/pkg/logger"

	"github.com/segmentio/kafka-go"
)

const commitTimeout = 5 * time.Second

// TaskConsumer reads execution requests from the tasks topic as a member of
// the worker consumer group.
type TaskConsumer struct {
	reader *kafka.Reader
	logger *logger.Logger
}

// NewTaskConsumer creates a consumer with its own group reader.
func NewTaskConsumer(client *kafkadb.KafkaClient, logger *logger.Logger) *TaskConsumer {
	return &TaskConsumer{
		reader: client.NewReader(client.Config.TasksTopic),
		logger: logger,
	}
}

// KafkaConsumerFactory returns a factory that gives every slot its own reader.
func KafkaConsumerFactory(client *kafkadb.KafkaClient, logger *logger.Logger) ConsumerFactory {
	return func() (Consumer, error) {
		return NewTaskConsumer(client, logger), nil
	}
}

// Consume fetches one message at a time and commits it once the handler succeeds.
// A failing handler is retried with backoff; on shutdown the message stays
// uncommitted for redelivery.
func (c *TaskConsumer) Consume(ctx context.Context, handle Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Stopping Kafka task consumer...")
				return nil
			}
			if errors.Is(err, io.EOF) {
				return ErrClosed
			}
			c.logger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Error fetching message from Kafka")
			continue
		}

		meta := map[string]interface{}{
			"topic":     msg.Topic,
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}
		var req models.ExecutionRequest
		if err := json.Unmarshal(msg.Value, &req); err != nil {
			c.logger.WithError(models.ErrorInfo{Message: err.Error(), Type: "decode_error"}).
				WithPayload(meta).Error("Dropping malformed execution request")
		} else if !deliver(ctx, handle, &req, redeliveryBackOff(), func(err error, next time.Duration) {
			c.logger.WithError(models.ErrorInfo{Message: err.Error()}).
				WithPayload(meta).Error(fmt.Sprintf("Error handling Kafka message, retrying in %s", next))
		}) {
			c.logger.WithPayload(meta).Warn("Leaving Kafka message uncommitted for redelivery")
			return nil
		}

		// 处理可能跨越取消，确认使用独立的超时。
		commitCtx, cancel := context.WithTimeout(context.Background(), commitTimeout)
		if err := c.reader.CommitMessages(commitCtx, msg); err != nil {
			c.logger.WithError(models.ErrorInfo{Message: err.Error()}).Error("Failed to commit Kafka message")
		}
		cancel()
	}
}

// Close closes the underlying Kafka reader.
func (c *TaskConsumer) Close() error {
	return c.reader.Close()
}
