package events

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/events/bus"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return log
}

func TestWorkerQueueDelivers(t *testing.T) {
	log := newTestLogger(t)
	b := bus.NewMemoryEventBus(log)
	defer b.Close()

	q := NewWorkerQueue(b, log)
	defer q.Close()

	var count int32
	sub, err := q.RegisterWorker("ai_update", "workers", func(ctx context.Context, event *bus.Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("RegisterWorker failed: %v", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := q.Enqueue(ctx, "ai_update", map[string]interface{}{"seq": i}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&count) < 5 {
		select {
		case <-deadline:
			t.Fatalf("Expected 5 tasks delivered, got %d", atomic.LoadInt32(&count))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestWorkerQueueGroupSharesLoad(t *testing.T) {
	log := newTestLogger(t)
	b := bus.NewMemoryEventBus(log)
	defer b.Close()

	q := NewWorkerQueue(b, log)
	defer q.Close()

	var total int32
	for i := 0; i < 3; i++ {
		sub, err := q.RegisterWorker("build", "builders", func(ctx context.Context, event *bus.Event) error {
			atomic.AddInt32(&total, 1)
			return nil
		})
		if err != nil {
			t.Fatalf("RegisterWorker %d failed: %v", i, err)
		}
		defer func() {
			_ = sub.Unsubscribe()
		}()
	}

	ctx := context.Background()
	for i := 0; i < 9; i++ {
		if err := q.Enqueue(ctx, "build", nil); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	time.Sleep(200 * time.Millisecond)

	// Each task handled by exactly one group member.
	if atomic.LoadInt32(&total) != 9 {
		t.Errorf("Expected 9 tasks handled, got %d", total)
	}
}

func TestWorkerQueueRejectsAfterClose(t *testing.T) {
	log := newTestLogger(t)
	b := bus.NewMemoryEventBus(log)
	defer b.Close()

	q := NewWorkerQueue(b, log)
	q.Close()

	if err := q.Enqueue(context.Background(), "sync", nil); err == nil {
		t.Error("Expected error enqueueing to closed queue")
	}
}

func TestWorkerQueueRequiresTaskType(t *testing.T) {
	log := newTestLogger(t)
	b := bus.NewMemoryEventBus(log)
	defer b.Close()

	q := NewWorkerQueue(b, log)
	defer q.Close()

	if err := q.Enqueue(context.Background(), "", nil); err == nil {
		t.Error("Expected error for empty task type")
	}
}
