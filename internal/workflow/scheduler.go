package workflow

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/common/logger"
)

// defaultMaxConcurrency bounds parallel workflow runs when the config
// leaves it unset.
const defaultMaxConcurrency = 8

// runner executes one workflow to completion. The scheduler does not care
// how it ends; it only tracks that the project's slot is free again.
type runner interface {
	Run(ctx context.Context, workflowID string)
}

// scheduler dispatches queued workflows. It enforces two rules: at most
// maxConcurrency workflows run at once, and a project never runs two
// workflows concurrently. Runs for the same project start in submission
// order.
type scheduler struct {
	queue  *fifo
	runner runner
	sem    chan struct{}
	logger *logger.Logger

	mu      sync.Mutex
	running bool
	busy    map[string]bool
	waiting map[string][]item

	runCtx context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newScheduler(maxConcurrency int, r runner, log *logger.Logger) *scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	return &scheduler{
		queue:   newFIFO(),
		runner:  r,
		sem:     make(chan struct{}, maxConcurrency),
		busy:    make(map[string]bool),
		waiting: make(map[string][]item),
		logger:  log.WithFields(zap.String("component", "workflow-scheduler")),
	}
}

// Start launches the dispatch loop.
func (s *scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.runCtx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.loop()
	s.logger.Info("workflow scheduler started", zap.Int("max_concurrency", cap(s.sem)))
}

// Stop cancels in-flight runs and waits for them to settle. Cancelled
// runs finalize through the engine like any other cancellation.
func (s *scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("workflow scheduler stopped")
}

// Enqueue adds a workflow to the back of the dispatch queue.
func (s *scheduler) Enqueue(workflowID, projectID string) {
	s.queue.Push(item{workflowID: workflowID, projectID: projectID})
}

func (s *scheduler) loop() {
	defer s.wg.Done()
	for {
		it, ok := s.queue.Pop()
		if !ok {
			select {
			case <-s.queue.Wake():
				continue
			case <-s.stopCh:
				return
			}
		}

		s.mu.Lock()
		if s.busy[it.projectID] {
			// The project already has a run in flight; park the item.
			// Its slot in line is preserved because the releasing run
			// dispatches the waiting head directly.
			s.waiting[it.projectID] = append(s.waiting[it.projectID], it)
			s.mu.Unlock()
			continue
		}
		s.busy[it.projectID] = true
		s.mu.Unlock()

		select {
		case s.sem <- struct{}{}:
		case <-s.stopCh:
			return
		}
		s.wg.Add(1)
		go s.execute(it)
	}
}

func (s *scheduler) execute(it item) {
	defer s.wg.Done()
	defer s.release(it.projectID)

	s.logger.Debug("dispatching workflow",
		zap.String("workflow_id", it.workflowID),
		zap.String("project_id", it.projectID))
	s.runner.Run(s.runCtx, it.workflowID)
}

// release frees the finished run's resources. When the project has a
// parked successor, the slot and semaphore token pass to it directly so
// no later submission can cut in line.
func (s *scheduler) release(projectID string) {
	s.mu.Lock()
	var next item
	hasNext := false
	if parked := s.waiting[projectID]; len(parked) > 0 {
		next = parked[0]
		hasNext = true
		if len(parked) == 1 {
			delete(s.waiting, projectID)
		} else {
			s.waiting[projectID] = parked[1:]
		}
	} else {
		delete(s.busy, projectID)
	}
	s.mu.Unlock()

	if hasNext {
		s.wg.Add(1)
		go s.execute(next)
		return
	}
	<-s.sem
}
