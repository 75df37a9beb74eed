package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devplane/devplane/internal/common/config"
	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/db"
	"github.com/devplane/devplane/internal/events"
	"github.com/devplane/devplane/internal/events/bus"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

func record(op string, ts time.Time) v1.CostRecord {
	return v1.CostRecord{
		Timestamp:      ts,
		Operation:      op,
		DurationMs:     42,
		TokensIn:       10,
		TokensOut:      20,
		VirtualCostUSD: 0.0003,
		Metadata:       map[string]string{"model": "test-model"},
	}
}

func TestMemoryStoreAppendList(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(ctx, record("llm.generate", base)))
	require.NoError(t, store.Append(ctx, record("git.clone", base.Add(time.Minute))))
	require.NoError(t, store.Append(ctx, record("llm.generate", base.Add(2*time.Minute))))

	all, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, base.Add(2*time.Minute), all[0].Timestamp)

	llmOnly, err := store.List(ctx, Filter{Operation: "llm.generate"})
	require.NoError(t, err)
	assert.Len(t, llmOnly, 2)

	limited, err := store.List(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "llm.generate", limited[0].Operation)

	since, err := store.List(ctx, Filter{Since: base.Add(30 * time.Second)})
	require.NoError(t, err)
	assert.Len(t, since, 2)
}

func TestSQLStoreRoundTrip(t *testing.T) {
	log := newTestLogger(t)
	pool, cleanup, err := db.Provide(config.DatabaseConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "ledger.db"),
	}, log)
	require.NoError(t, err)
	defer func() {
		_ = cleanup()
	}()

	store, err := NewSQLStore(pool)
	require.NoError(t, err)

	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(ctx, record("llm.generate", base)))
	require.NoError(t, store.Append(ctx, record("sandbox.exec", base.Add(time.Second))))

	got, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "sandbox.exec", got[0].Operation)
	assert.Equal(t, int64(42), got[0].DurationMs)
	assert.Equal(t, map[string]string{"model": "test-model"}, got[0].Metadata)

	filtered, err := store.List(ctx, Filter{Operation: "llm.generate", Limit: 5})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, 10, filtered[0].TokensIn)
	assert.Equal(t, 20, filtered[0].TokensOut)
}

func TestLedgerRecordPublishesEvent(t *testing.T) {
	log := newTestLogger(t)
	memBus := bus.NewMemoryEventBus(log)
	defer memBus.Close()

	received := make(chan *bus.Event, 1)
	sub, err := memBus.Subscribe(events.CostRecorded, func(ctx context.Context, e *bus.Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)
	defer func() {
		_ = sub.Unsubscribe()
	}()

	l := New(NewMemoryStore(), memBus, log)
	l.Record(context.Background(), v1.CostRecord{Operation: "llm.generate", TokensIn: 5})

	select {
	case e := <-received:
		assert.Equal(t, "llm.generate", e.Data["operation"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cost event")
	}

	got, err := l.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Timestamp.IsZero(), "zero timestamp should be filled in")
}

func TestRecordOpDerivesDuration(t *testing.T) {
	log := newTestLogger(t)
	store := NewMemoryStore()
	l := New(store, nil, log)

	start := time.Now().Add(-50 * time.Millisecond)
	l.RecordOp(context.Background(), "git.pull", start, 0, 0, 0, nil)

	got, err := l.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.GreaterOrEqual(t, got[0].DurationMs, int64(50))
}
