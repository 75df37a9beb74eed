package blackboard

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/events"
	"github.com/devplane/devplane/internal/events/bus"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

func TestWriteRead(t *testing.T) {
	board := New(nil, newTestLogger(t))
	ctx := context.Background()

	entry := board.Write(ctx, SwarmKey("task-1", "analyze"), "analysis output", "worker-a")
	assert.Equal(t, "swarm:task-1:analyze", entry.Key)
	assert.Equal(t, "worker-a", entry.Writer)
	assert.False(t, entry.Timestamp.IsZero())

	got, err := board.Read("swarm:task-1:analyze")
	require.NoError(t, err)
	assert.Equal(t, "analysis output", got.Value)
}

func TestReadMissing(t *testing.T) {
	board := New(nil, newTestLogger(t))

	_, err := board.Read("swarm:task-1:verify")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestLastWriteWins(t *testing.T) {
	board := New(nil, newTestLogger(t))
	ctx := context.Background()

	board.Write(ctx, "result", "first", "worker-a")
	board.Write(ctx, "result", "second", "worker-b")

	got, err := board.Read("result")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Value)
	assert.Equal(t, "worker-b", got.Writer)
	assert.Equal(t, 1, board.Len())
}

func TestSnapshotIsCopy(t *testing.T) {
	board := New(nil, newTestLogger(t))
	ctx := context.Background()

	board.Write(ctx, "a", 1, "w")
	board.Write(ctx, "b", 2, "w")

	snap := board.Snapshot()
	require.Len(t, snap, 2)

	delete(snap, "a")
	_, err := board.Read("a")
	assert.NoError(t, err, "mutating the snapshot must not affect the board")
}

func TestDelete(t *testing.T) {
	board := New(nil, newTestLogger(t))
	ctx := context.Background()

	board.Write(ctx, "gone", "v", "w")
	board.Delete(ctx, "gone")
	board.Delete(ctx, "never-existed") // no-op

	_, err := board.Read("gone")
	assert.True(t, errors.IsNotFound(err))
}

func TestConcurrentWriters(t *testing.T) {
	board := New(nil, newTestLogger(t))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				board.Write(ctx, fmt.Sprintf("key-%d-%d", n, j), j, "w")
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1000, board.Len())
}

func TestWritePublishesEvent(t *testing.T) {
	log := newTestLogger(t)
	b := bus.NewMemoryEventBus(log)
	defer b.Close()

	board := New(b, log)

	received := make(chan *bus.Event, 1)
	sub, err := b.Subscribe(events.BuildBlackboardWildcardSubject(), func(ctx context.Context, e *bus.Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)
	defer func() {
		_ = sub.Unsubscribe()
	}()

	board.Write(context.Background(), SwarmKey("t1", "generate"), "output", "worker")

	select {
	case e := <-received:
		assert.Equal(t, events.BlackboardUpdated, e.Type)
		assert.Equal(t, "swarm:t1:generate", e.Data["key"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for blackboard event")
	}
}
