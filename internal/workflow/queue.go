package workflow

import "sync"

// item is one queued workflow run.
type item struct {
	workflowID string
	projectID  string
}

// fifo is the submission queue feeding the scheduler. Workflows dispatch
// in submission order; PushFront lets the scheduler hand a deferred
// same-project run back without losing its place ahead of later
// submissions.
type fifo struct {
	mu    sync.Mutex
	items []item
	wake  chan struct{}
}

func newFIFO() *fifo {
	return &fifo{wake: make(chan struct{}, 1)}
}

func (q *fifo) Push(it item) {
	q.mu.Lock()
	q.items = append(q.items, it)
	q.mu.Unlock()
	q.notify()
}

func (q *fifo) PushFront(it item) {
	q.mu.Lock()
	q.items = append([]item{it}, q.items...)
	q.mu.Unlock()
	q.notify()
}

func (q *fifo) Pop() (item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return item{}, false
	}
	it := q.items[0]
	q.items = q.items[1:]
	return it, true
}

func (q *fifo) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wake receives after a push. The channel is buffered so a push never
// blocks on a slow consumer; one signal may cover several pushes.
func (q *fifo) Wake() <-chan struct{} {
	return q.wake
}

func (q *fifo) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
