package llm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/common/logger"
)

func testDispatch(calls *atomic.Int32) dispatchFunc {
	return func(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
		calls.Add(1)
		return &GenerateResult{Model: req.Model, Text: "echo:" + req.Prompt}, nil
	}
}

func TestBatcherDeliversPerCallerResults(t *testing.T) {
	var calls atomic.Int32
	b := NewBatcher(testDispatch(&calls), 10*time.Millisecond, 5, logger.Default())
	defer b.Close()

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := b.Submit(context.Background(), GenerateRequest{Model: "m", Prompt: fmt.Sprintf("p%d", i)})
			require.NoError(t, err)
			results[i] = res.Text
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(8), calls.Load())
	for i, got := range results {
		assert.Equal(t, fmt.Sprintf("echo:p%d", i), got)
	}
}

func TestBatcherFlushesOnWindow(t *testing.T) {
	var calls atomic.Int32
	b := NewBatcher(testDispatch(&calls), 20*time.Millisecond, 100, logger.Default())
	defer b.Close()

	// A single request never reaches maxBatch; the window must flush it.
	start := time.Now()
	_, err := b.Submit(context.Background(), GenerateRequest{Model: "m", Prompt: "solo"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestBatcherFlushesOnMaxBatch(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	dispatch := func(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
		calls.Add(1)
		<-release
		return &GenerateResult{Model: req.Model}, nil
	}
	// Window far in the future: only the size trigger can flush.
	b := NewBatcher(dispatch, time.Hour, 3, logger.Default())
	defer b.Close()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = b.Submit(context.Background(), GenerateRequest{Model: "m"})
		}()
	}

	deadline := time.After(5 * time.Second)
	for calls.Load() < 3 {
		select {
		case <-deadline:
			close(release)
			t.Fatalf("batch not flushed by size trigger, dispatched %d", calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(release)
	wg.Wait()
}

func TestBatcherCancelledWhileQueued(t *testing.T) {
	dispatch := func(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
		return &GenerateResult{}, nil
	}
	b := NewBatcher(dispatch, time.Hour, 100, logger.Default())
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := b.Submit(ctx, GenerateRequest{Model: "m"})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.IsCancelled(err), "expected cancellation, got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled submit did not return")
	}
}

func TestBatcherRejectsAfterClose(t *testing.T) {
	var calls atomic.Int32
	b := NewBatcher(testDispatch(&calls), 10*time.Millisecond, 5, logger.Default())
	b.Close()

	_, err := b.Submit(context.Background(), GenerateRequest{Model: "m"})
	require.Error(t, err)
	assert.True(t, errors.IsPrecondition(err))
}
