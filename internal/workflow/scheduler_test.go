package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devplane/devplane/internal/common/logger"
)

func TestFIFOOrdering(t *testing.T) {
	q := newFIFO()
	q.Push(item{workflowID: "a", projectID: "p1"})
	q.Push(item{workflowID: "b", projectID: "p2"})
	q.PushFront(item{workflowID: "z", projectID: "p3"})
	assert.Equal(t, 3, q.Len())

	var popped []string
	for {
		it, ok := q.Pop()
		if !ok {
			break
		}
		popped = append(popped, it.workflowID)
	}
	assert.Equal(t, []string{"z", "a", "b"}, popped)

	select {
	case <-q.Wake():
	default:
		t.Fatal("push did not signal the wake channel")
	}
}

// recordingRunner stands in for the engine: it tracks start order per
// project, detects overlapping runs, and measures peak parallelism.
type recordingRunner struct {
	projects map[string]string // workflowID -> projectID
	delay    time.Duration

	mu         sync.Mutex
	order      map[string][]string
	inFlight   map[string]int
	overlapped bool
	active     int
	maxActive  int
	done       int
}

func newRecordingRunner(delay time.Duration, projects map[string]string) *recordingRunner {
	return &recordingRunner{
		projects: projects,
		delay:    delay,
		order:    make(map[string][]string),
		inFlight: make(map[string]int),
	}
}

func (r *recordingRunner) Run(ctx context.Context, id string) {
	p := r.projects[id]
	r.mu.Lock()
	r.order[p] = append(r.order[p], id)
	r.inFlight[p]++
	if r.inFlight[p] > 1 {
		r.overlapped = true
	}
	r.active++
	if r.active > r.maxActive {
		r.maxActive = r.active
	}
	r.mu.Unlock()

	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
	}

	r.mu.Lock()
	r.inFlight[p]--
	r.active--
	r.done++
	r.mu.Unlock()
}

func (r *recordingRunner) doneCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func TestSchedulerSerializesPerProject(t *testing.T) {
	runner := newRecordingRunner(20*time.Millisecond, map[string]string{
		"wf1": "p1", "wf2": "p1", "wf3": "p1", "wf4": "p2",
	})
	s := newScheduler(4, runner, logger.Default())
	s.Start()
	defer s.Stop()

	s.Enqueue("wf1", "p1")
	s.Enqueue("wf2", "p1")
	s.Enqueue("wf3", "p1")
	s.Enqueue("wf4", "p2")

	require.Eventually(t, func() bool { return runner.doneCount() == 4 },
		5*time.Second, 10*time.Millisecond)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.False(t, runner.overlapped, "a project ran two workflows at once")
	assert.Equal(t, []string{"wf1", "wf2", "wf3"}, runner.order["p1"])
	assert.Equal(t, []string{"wf4"}, runner.order["p2"])
}

func TestSchedulerBoundsConcurrency(t *testing.T) {
	projects := map[string]string{}
	ids := []string{"a", "b", "c", "d", "e", "f"}
	for _, id := range ids {
		projects[id] = "proj-" + id
	}
	runner := newRecordingRunner(50*time.Millisecond, projects)
	s := newScheduler(2, runner, logger.Default())
	s.Start()
	defer s.Stop()

	for _, id := range ids {
		s.Enqueue(id, projects[id])
	}

	require.Eventually(t, func() bool { return runner.doneCount() == len(ids) },
		5*time.Second, 10*time.Millisecond)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, 2, runner.maxActive)
}

func TestSchedulerStopCancelsRuns(t *testing.T) {
	runner := newRecordingRunner(time.Minute, map[string]string{"wf1": "p1"})
	s := newScheduler(2, runner, logger.Default())
	s.Start()
	s.Enqueue("wf1", "p1")

	require.Eventually(t, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return runner.active == 1
	}, 5*time.Second, 10*time.Millisecond)

	start := time.Now()
	s.Stop()
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, 1, runner.doneCount())
}

func TestSchedulerQueuedBeforeStart(t *testing.T) {
	runner := newRecordingRunner(time.Millisecond, map[string]string{"wf1": "p1", "wf2": "p2"})
	s := newScheduler(2, runner, logger.Default())
	s.Enqueue("wf1", "p1")
	s.Enqueue("wf2", "p2")

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return runner.doneCount() == 2 },
		5*time.Second, 10*time.Millisecond)
}
