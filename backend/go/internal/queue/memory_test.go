package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"Chimp/backend/go/internal/models"

	"github.com/cenkalti/backoff/v4"
)

func TestMemoryQueueDeliversEachRequestOnce(t *testing.T) {
	q := NewMemoryQueue(16)
	factory := q.ConsumerFactory()

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for i := 0; i < 3; i++ {
		c, err := factory()
		if err != nil {
			t.Fatal(err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Consume(ctx, func(_ context.Context, req *models.ExecutionRequest) error {
				mu.Lock()
				seen[req.TaskID]++
				mu.Unlock()
				return nil
			})
		}()
	}

	ids := []string{"a", "b", "c", "d", "e", "f"}
	for _, id := range ids {
		if err := q.Publish(ctx, &models.ExecutionRequest{TaskID: id}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	q.Close()
	wg.Wait()

	for _, id := range ids {
		if seen[id] != 1 {
			t.Errorf("task %s delivered %d times", id, seen[id])
		}
	}
}

func TestMemoryQueuePublishAfterClose(t *testing.T) {
	q := NewMemoryQueue(1)
	q.Close()
	if err := q.Publish(context.Background(), &models.ExecutionRequest{TaskID: "x"}); !errors.Is(err, ErrClosed) {
		t.Errorf("error = %v, want ErrClosed", err)
	}
}

func TestMemoryQueuePublishHonoursContext(t *testing.T) {
	q := NewMemoryQueue(1)
	_ = q.Publish(context.Background(), &models.ExecutionRequest{TaskID: "fill"})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := q.Publish(ctx, &models.ExecutionRequest{TaskID: "blocked"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}

func TestConsumerStopsOnCancel(t *testing.T) {
	q := NewMemoryQueue(1)
	c, _ := q.ConsumerFactory()()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Consume(ctx, func(context.Context, *models.ExecutionRequest) error { return nil }) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Consume returned %v after cancel", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Consume did not return after cancel")
	}
}

func TestDeliverRetriesUntilHandled(t *testing.T) {
	calls, notified := 0, 0
	handle := func(context.Context, *models.ExecutionRequest) error {
		calls++
		if calls < 3 {
			return errors.New("status store unavailable")
		}
		return nil
	}
	ok := deliver(context.Background(), handle, &models.ExecutionRequest{TaskID: "t"}, &backoff.ZeroBackOff{},
		func(error, time.Duration) { notified++ })
	if !ok {
		t.Fatalf("deliver gave up on a handler that eventually succeeded")
	}
	if calls != 3 || notified != 2 {
		t.Errorf("calls = %d, notified = %d, want 3 and 2", calls, notified)
	}
}

func TestDeliverLeavesMessageUnacknowledgedOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	handle := func(context.Context, *models.ExecutionRequest) error {
		calls++
		cancel()
		return errors.New("status store unavailable")
	}
	if deliver(ctx, handle, &models.ExecutionRequest{TaskID: "t"}, backoff.NewConstantBackOff(time.Millisecond), nil) {
		t.Fatalf("failed message acknowledged after cancel")
	}
	if calls != 1 {
		t.Errorf("handler called %d times after cancel", calls)
	}
}
