package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"Chimp/backend/go/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// exerciseStore 对任意实现运行同一组行为检查。
func exerciseStore(t *testing.T, s TaskStatusStore) {
	ctx := context.Background()
	id := uuid.NewString()

	if _, err := s.Get(ctx, id); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("Get on unknown id = %v, want ErrTaskNotFound", err)
	}
	if err := s.Complete(ctx, id, true, `1`); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("Complete on unknown id = %v, want ErrTaskNotFound", err)
	}

	if err := s.Create(ctx, models.NewPendingTask(id, "Example 2 Plugin", time.Now().UTC())); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.Create(ctx, models.NewPendingTask(id, "Example 2 Plugin", time.Now().UTC())); !errors.Is(err, ErrTaskExists) {
		t.Errorf("second Create = %v, want ErrTaskExists", err)
	}

	rec, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Ready || rec.Successful != nil || rec.Status != models.TaskStatusPending {
		t.Errorf("new record = %+v", rec)
	}

	if err := s.MarkRunning(ctx, id, "run-1"); err != nil {
		t.Fatalf("MarkRunning failed: %v", err)
	}
	rec, _ = s.Get(ctx, id)
	if rec.Status != models.TaskStatusRunning || rec.RunName != "run-1" || rec.Ready {
		t.Errorf("running record = %+v", rec)
	}

	if err := s.Complete(ctx, id, true, `"run-1"`); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if err := s.Complete(ctx, id, false, `"late"`); !errors.Is(err, ErrTaskAlreadyCompleted) {
		t.Errorf("second Complete = %v, want ErrTaskAlreadyCompleted", err)
	}
	if err := s.MarkRunning(ctx, id, "run-2"); !errors.Is(err, ErrTaskAlreadyCompleted) {
		t.Errorf("MarkRunning after completion = %v, want ErrTaskAlreadyCompleted", err)
	}

	rec, _ = s.Get(ctx, id)
	if !rec.Ready || rec.Successful == nil || !*rec.Successful || rec.Value != `"run-1"` {
		t.Errorf("completed record = %+v", rec)
	}
	if rec.Status != models.TaskStatusSuccess {
		t.Errorf("status = %s, want success", rec.Status)
	}

	// 并发完成只能成功一次。
	id2 := uuid.NewString()
	if err := s.Create(ctx, models.NewPendingTask(id2, "Example Plugin", time.Now().UTC())); err != nil {
		t.Fatal(err)
	}
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(ok bool) {
			defer wg.Done()
			if err := s.Complete(ctx, id2, ok, `null`); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}(i%2 == 0)
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("%d concurrent completions succeeded, want 1", wins)
	}
}

func TestMemoryTaskStore(t *testing.T) {
	exerciseStore(t, NewMemoryTaskStore())
}

func TestMemoryTaskStoreReturnsCopies(t *testing.T) {
	s := NewMemoryTaskStore()
	ctx := context.Background()
	_ = s.Create(ctx, models.NewPendingTask("t", "Example Plugin", time.Now()))
	rec, _ := s.Get(ctx, "t")
	rec.Ready = true
	again, _ := s.Get(ctx, "t")
	if again.Ready {
		t.Errorf("mutating a returned record changed the store")
	}
}

// CHIMP_TEST_REDIS_ADDR="localhost:6379"
func TestRedisTaskStore(t *testing.T) {
	addr := os.Getenv("CHIMP_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CHIMP_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	exerciseStore(t, NewRedisTaskStore(client, "chimp:test:"+uuid.NewString()+":"))
}

// CHIMP_TEST_MONGO_URI="mongodb://localhost:27017"
func TestMongoTaskStore(t *testing.T) {
	uri := os.Getenv("CHIMP_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("CHIMP_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Disconnect(ctx)
	coll := client.Database("chimp_test").Collection("tasks_" + uuid.NewString()[:8])
	defer coll.Drop(ctx)

	s := NewMongoTaskStore(coll)
	if err := s.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes: %v", err)
	}
	exerciseStore(t, s)
	recent, err := s.Recent(ctx, 10)
	if err != nil || len(recent) != 2 {
		t.Errorf("Recent = %d records, %v", len(recent), err)
	}
}
