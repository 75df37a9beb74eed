package events

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/events/bus"
)

// queueCapacity bounds the worker queue; Enqueue blocks when full rather
// than dropping tasks.
const queueCapacity = 1024

type queuedTask struct {
	taskType string
	payload  map[string]interface{}
}

// WorkerQueue is a FIFO task queue layered on the event bus. Enqueued
// tasks are drained by a single background loop that re-publishes each
// payload on the worker subject for its task type. Workers pick tasks up
// with QueueSubscribe so each task is handled by exactly one group member.
type WorkerQueue struct {
	bus    bus.EventBus
	logger *logger.Logger
	tasks  chan queuedTask

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// NewWorkerQueue creates the queue and starts its drain loop.
func NewWorkerQueue(b bus.EventBus, log *logger.Logger) *WorkerQueue {
	q := &WorkerQueue{
		bus:    b,
		logger: log,
		tasks:  make(chan queuedTask, queueCapacity),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go q.drain()
	return q
}

// Enqueue appends a task to the queue. It blocks while the queue is full
// and fails once the queue is closed or the context is cancelled.
func (q *WorkerQueue) Enqueue(ctx context.Context, taskType string, payload map[string]interface{}) error {
	if taskType == "" {
		return fmt.Errorf("task type is required")
	}
	select {
	case <-q.closed:
		return fmt.Errorf("worker queue is closed")
	default:
	}

	select {
	case q.tasks <- queuedTask{taskType: taskType, payload: payload}:
		return nil
	case <-q.closed:
		return fmt.Errorf("worker queue is closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterWorker subscribes a handler to a task type's worker subject.
// Workers sharing the same group receive tasks round-robin.
func (q *WorkerQueue) RegisterWorker(taskType, group string, handler bus.EventHandler) (bus.Subscription, error) {
	return q.bus.QueueSubscribe(BuildWorkerSubject(taskType), group, handler)
}

// Close stops the drain loop after the remaining tasks are published.
func (q *WorkerQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.closed)
		close(q.tasks)
	})
	<-q.done
}

func (q *WorkerQueue) drain() {
	defer close(q.done)
	for task := range q.tasks {
		event := bus.NewEvent("worker.task", "worker-queue", task.payload)
		if err := q.bus.Publish(context.Background(), BuildWorkerSubject(task.taskType), event); err != nil {
			q.logger.Error("Failed to publish queued task",
				zap.String("task_type", task.taskType),
				zap.Error(err))
		}
	}
}
