package store

import (
	"context"
	"errors"
	"time"

	"Chimp/backend/go/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoTaskStore is an implementation of TaskStatusStore using MongoDB.
// Terminal transitions are conditional updates on {ready: false}.
type MongoTaskStore struct {
	collection *mongo.Collection
}

// NewMongoTaskStore creates a new MongoTaskStore.
func NewMongoTaskStore(collection *mongo.Collection) *MongoTaskStore {
	return &MongoTaskStore{collection: collection}
}

// EnsureIndexes creates the index used to list recent tasks.
func (s *MongoTaskStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "submitted_at", Value: -1}},
		Options: options.Index().SetName("submitted_at_desc"),
	})
	return err
}

// Create inserts a new task record into the database.
func (s *MongoTaskStore) Create(ctx context.Context, task *models.TaskRecord) error {
	task.Ready = false
	task.Successful = nil
	_, err := s.collection.InsertOne(ctx, task)
	if mongo.IsDuplicateKeyError(err) {
		return ErrTaskExists
	}
	return err
}

// MarkRunning sets the run name and the running status of a pending task.
func (s *MongoTaskStore) MarkRunning(ctx context.Context, taskID, runName string) error {
	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": taskID, "ready": false},
		bson.M{"$set": bson.M{
			"status":     models.TaskStatusRunning,
			"run_name":   runName,
			"started_at": time.Now().UTC(),
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return s.missOrCompleted(ctx, taskID)
	}
	return nil
}

// Complete records the terminal state. Only the first call matches the filter.
func (s *MongoTaskStore) Complete(ctx context.Context, taskID string, successful bool, value string) error {
	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": taskID, "ready": false},
		bson.M{"$set": bson.M{
			"ready":        true,
			"successful":   successful,
			"value":        value,
			"status":       terminalStatus(successful),
			"completed_at": time.Now().UTC(),
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return s.missOrCompleted(ctx, taskID)
	}
	return nil
}

func (s *MongoTaskStore) missOrCompleted(ctx context.Context, taskID string) error {
	n, err := s.collection.CountDocuments(ctx, bson.M{"_id": taskID})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return ErrTaskAlreadyCompleted
}

// Get retrieves a task by its ID.
func (s *MongoTaskStore) Get(ctx context.Context, taskID string) (*models.TaskRecord, error) {
	var task models.TaskRecord
	err := s.collection.FindOne(ctx, bson.M{"_id": taskID}).Decode(&task)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}
