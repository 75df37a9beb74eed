package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devplane/devplane/internal/common/errors"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	wf := &v1.Workflow{
		ID:        "wf1",
		ProjectID: "p1",
		Status:    v1.WorkflowStatusPending,
		CreatedAt: time.Now().UTC(),
		Steps:     []v1.StepState{{Name: v1.StepSync, Status: v1.StepStatusPending}},
	}
	require.NoError(t, store.Create(ctx, wf))

	err := store.Create(ctx, wf)
	require.Error(t, err)
	assert.Equal(t, errors.KindAlreadyExists, errors.KindOf(err))

	got, err := store.Get(ctx, "wf1")
	require.NoError(t, err)
	assert.Equal(t, v1.WorkflowStatusPending, got.Status)

	// Mutating a returned copy must not leak into the store.
	got.Steps[0].Status = v1.StepStatusCompleted
	again, err := store.Get(ctx, "wf1")
	require.NoError(t, err)
	assert.Equal(t, v1.StepStatusPending, again.Steps[0].Status)

	got.Status = v1.WorkflowStatusRunning
	require.NoError(t, store.Update(ctx, got))
	again, err = store.Get(ctx, "wf1")
	require.NoError(t, err)
	assert.Equal(t, v1.WorkflowStatusRunning, again.Status)

	_, err = store.Get(ctx, "ghost")
	assert.True(t, errors.IsNotFound(err))
	assert.True(t, errors.IsNotFound(store.Update(ctx, &v1.Workflow{ID: "ghost"})))
}

func TestMemoryStoreListNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, store.Create(ctx, &v1.Workflow{
			ID:        id,
			ProjectID: "p1",
			Status:    v1.WorkflowStatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, store.Create(ctx, &v1.Workflow{
		ID:        "other",
		ProjectID: "p2",
		Status:    v1.WorkflowStatusPending,
		CreatedAt: base,
	}))

	list, err := store.List(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, "mid", list[1].ID)
	assert.Equal(t, "old", list[2].ID)

	empty, err := store.List(ctx, "p3")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStoreLogs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &v1.Workflow{
		ID:        "wf1",
		ProjectID: "p1",
		Status:    v1.WorkflowStatusPending,
		CreatedAt: time.Now().UTC(),
	}))

	for _, line := range []string{"first", "second", "third"} {
		require.NoError(t, store.AppendLog(ctx, "wf1", v1.LogChunk{
			Timestamp: time.Now().UTC(),
			StepName:  v1.StepBuild,
			Line:      line,
		}))
	}

	all, err := store.Logs(ctx, "wf1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "first", all[0].Line)

	rest, err := store.Logs(ctx, "wf1", 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "third", rest[0].Line)

	past, err := store.Logs(ctx, "wf1", 10)
	require.NoError(t, err)
	assert.Empty(t, past)

	_, err = store.Logs(ctx, "ghost", 0)
	assert.True(t, errors.IsNotFound(err))
	assert.True(t, errors.IsNotFound(store.AppendLog(ctx, "ghost", v1.LogChunk{Line: "x"})))
}
