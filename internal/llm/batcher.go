package llm

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/common/logger"
)

// batchQueueCapacity bounds how many requests can sit queued before
// Submit blocks.
const batchQueueCapacity = 256

type batchResult struct {
	result *GenerateResult
	err    error
}

type batchItem struct {
	ctx  context.Context
	req  GenerateRequest
	done chan batchResult
}

// dispatchFunc performs one completion call for a flushed batch item.
type dispatchFunc func(ctx context.Context, req GenerateRequest) (*GenerateResult, error)

// Batcher coalesces completion requests. A single worker flushes the
// pending set whenever the batch window elapses or maxBatch requests
// have accumulated, whichever comes first. Requests in a flushed batch
// are issued concurrently; each caller gets its own result.
type Batcher struct {
	dispatch dispatchFunc
	window   time.Duration
	maxBatch int
	logger   *logger.Logger

	queue     chan *batchItem
	closed    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewBatcher starts the batching worker. window and maxBatch fall back
// to safe values when zero.
func NewBatcher(dispatch dispatchFunc, window time.Duration, maxBatch int, log *logger.Logger) *Batcher {
	if window <= 0 {
		window = 50 * time.Millisecond
	}
	if maxBatch <= 0 {
		maxBatch = 5
	}
	b := &Batcher{
		dispatch: dispatch,
		window:   window,
		maxBatch: maxBatch,
		logger:   log.WithFields(zap.String("component", "llm-batcher")),
		queue:    make(chan *batchItem, batchQueueCapacity),
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.run()
	return b
}

// Submit queues a request and blocks until its result arrives, the
// context is cancelled, or the batcher closes.
func (b *Batcher) Submit(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	select {
	case <-b.closed:
		return nil, errors.Precondition("llm batcher is closed")
	default:
	}

	item := &batchItem{ctx: ctx, req: req, done: make(chan batchResult, 1)}
	select {
	case b.queue <- item:
	case <-ctx.Done():
		return nil, errors.FromContextErr(ctx.Err())
	case <-b.closed:
		return nil, errors.Precondition("llm batcher is closed")
	}

	select {
	case res := <-item.done:
		return res.result, res.err
	case <-ctx.Done():
		return nil, errors.FromContextErr(ctx.Err())
	}
}

// Close stops the worker. Requests already queued are still dispatched.
func (b *Batcher) Close() {
	b.closeOnce.Do(func() {
		close(b.closed)
		close(b.queue)
	})
	<-b.done
}

func (b *Batcher) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.window)
	defer ticker.Stop()

	pending := make([]*batchItem, 0, b.maxBatch)
	for {
		select {
		case item, ok := <-b.queue:
			if !ok {
				b.flush(pending)
				return
			}
			pending = append(pending, item)
			if len(pending) >= b.maxBatch {
				b.flush(pending)
				pending = make([]*batchItem, 0, b.maxBatch)
			}
		case <-ticker.C:
			if len(pending) > 0 {
				b.flush(pending)
				pending = make([]*batchItem, 0, b.maxBatch)
			}
		}
	}
}

// flush issues every item of the batch concurrently. The worker does
// not wait for the batch to finish before collecting the next window.
func (b *Batcher) flush(batch []*batchItem) {
	if len(batch) == 0 {
		return
	}
	b.logger.Debug("flushing batch", zap.Int("size", len(batch)))
	for _, item := range batch {
		go func(it *batchItem) {
			result, err := b.dispatch(it.ctx, it.req)
			it.done <- batchResult{result: result, err: err}
		}(item)
	}
}
