package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devplane/devplane/internal/aiupdate"
	"github.com/devplane/devplane/internal/buildsvc"
	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/gitsync"
	"github.com/devplane/devplane/internal/sandbox"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// stubCollab implements every collaborator interface the engine drives
// and records which steps reached it, in order.
type stubCollab struct {
	mu    sync.Mutex
	calls []string

	project *v1.Project

	pullErr    error
	pushErr    error
	pushResult *gitsync.CommitPushResult
	chatErr    error
	chatResult *aiupdate.ChatResult
	buildFn    func(ctx context.Context, sink func(string)) (*buildsvc.Result, error)
	startErr   error
	stopErr    error
}

func newStubCollab() *stubCollab {
	return &stubCollab{
		project: &v1.Project{
			ID:          "p1",
			OwnerUserID: "u1",
			TenantID:    "t1",
			Name:        "demo",
			Language:    "go",
			LocalPath:   "/tmp/demo",
			Branch:      "main",
		},
	}
}

func (c *stubCollab) record(name string) {
	c.mu.Lock()
	c.calls = append(c.calls, name)
	c.mu.Unlock()
}

func (c *stubCollab) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

func (c *stubCollab) Resolve(_ context.Context, id string) (*v1.Project, error) {
	if c.project == nil || c.project.ID != id {
		return nil, errors.NotFound("project", id)
	}
	return c.project, nil
}

func (c *stubCollab) Pull(_ context.Context, _ string) error {
	c.record(v1.StepSync)
	return c.pullErr
}

func (c *stubCollab) CommitAndPush(_ context.Context, _, _, _ string) (*gitsync.CommitPushResult, error) {
	c.record(v1.StepPush)
	if c.pushErr != nil {
		return nil, c.pushErr
	}
	if c.pushResult != nil {
		return c.pushResult, nil
	}
	return &gitsync.CommitPushResult{CommitHash: "abcdef1234567890", Committed: true, Pushed: true}, nil
}

func (c *stubCollab) ApplyChat(_ context.Context, _, _, _ string, _ map[string]string) (*aiupdate.ChatResult, error) {
	c.record(v1.StepAIUpdate)
	if c.chatErr != nil {
		return nil, c.chatErr
	}
	if c.chatResult != nil {
		return c.chatResult, nil
	}
	return &aiupdate.ChatResult{Success: true, Summary: "updated two files"}, nil
}

func (c *stubCollab) Build(ctx context.Context, _ *v1.Project, _ buildsvc.Options, sink func(string)) (*buildsvc.Result, error) {
	c.record(v1.StepBuild)
	if c.buildFn != nil {
		return c.buildFn(ctx, sink)
	}
	return &buildsvc.Result{Success: true, Duration: 10 * time.Millisecond}, nil
}

func (c *stubCollab) Start(_ context.Context, projectID string, _ sandbox.StartOptions) (*v1.SandboxInfo, error) {
	c.record(v1.StepRun)
	if c.startErr != nil {
		return nil, c.startErr
	}
	return &v1.SandboxInfo{ID: "sb1", ProjectID: projectID, HostPort: 4100, State: v1.SandboxRunning}, nil
}

func (c *stubCollab) Stop(_ context.Context, _ string) error {
	c.record(v1.StepStop)
	return c.stopErr
}

func newTestEngine(collab *stubCollab) (*Engine, *MemoryStore) {
	store := NewMemoryStore()
	eng := NewEngine(store, collab, collab, collab, collab, collab, nil, nil, logger.Default())
	return eng, store
}

func seedWorkflow(t *testing.T, store *MemoryStore, steps ...string) *v1.Workflow {
	t.Helper()
	wf := &v1.Workflow{
		ID:           "wf1",
		ProjectID:    "p1",
		CallerUserID: "u1",
		Status:       v1.WorkflowStatusPending,
		CreatedAt:    time.Now().UTC(),
		Steps:        make([]v1.StepState, len(steps)),
	}
	for i, name := range steps {
		wf.Steps[i] = v1.StepState{Name: name, Status: v1.StepStatusPending}
	}
	require.NoError(t, store.Create(context.Background(), wf))
	return wf
}

func TestRunExecutesStepsInOrder(t *testing.T) {
	collab := newStubCollab()
	eng, store := newTestEngine(collab)
	seedWorkflow(t, store, v1.StepSync, v1.StepAIUpdate, v1.StepPush, v1.StepBuild, v1.StepRun, v1.StepStop)

	eng.Run(context.Background(), "wf1")

	wf, err := store.Get(context.Background(), "wf1")
	require.NoError(t, err)
	assert.Equal(t, v1.WorkflowStatusCompleted, wf.Status)
	assert.Empty(t, wf.ErrorKind)
	require.NotNil(t, wf.StartedAt)
	require.NotNil(t, wf.FinishedAt)
	for _, step := range wf.Steps {
		assert.Equal(t, v1.StepStatusCompleted, step.Status, step.Name)
		assert.NotEmpty(t, step.Result, step.Name)
		require.NotNil(t, step.StartedAt, step.Name)
		require.NotNil(t, step.FinishedAt, step.Name)
	}
	assert.Equal(t, []string{v1.StepSync, v1.StepAIUpdate, v1.StepPush, v1.StepBuild, v1.StepRun, v1.StepStop}, collab.Calls())
	assert.Equal(t, "sandbox running on port 4100", wf.Steps[4].Result)
}

func TestRunFailsFastOnStepError(t *testing.T) {
	collab := newStubCollab()
	collab.pullErr = errors.External("remote rejected the pull", nil)
	eng, store := newTestEngine(collab)
	seedWorkflow(t, store, v1.StepSync, v1.StepBuild, v1.StepRun)

	eng.Run(context.Background(), "wf1")

	wf, err := store.Get(context.Background(), "wf1")
	require.NoError(t, err)
	assert.Equal(t, v1.WorkflowStatusFailed, wf.Status)
	assert.Equal(t, string(errors.KindExternal), wf.ErrorKind)
	assert.Equal(t, v1.StepStatusFailed, wf.Steps[0].Status)
	assert.Equal(t, string(errors.KindExternal), wf.Steps[0].ErrorKind)
	assert.Equal(t, v1.StepStatusSkipped, wf.Steps[1].Status)
	assert.Equal(t, v1.StepStatusSkipped, wf.Steps[2].Status)
	// Nothing after the failing step may produce side effects.
	assert.Equal(t, []string{v1.StepSync}, collab.Calls())
}

func TestRunTreatsUnsuccessfulAIUpdateAsFailure(t *testing.T) {
	collab := newStubCollab()
	collab.chatResult = &aiupdate.ChatResult{
		Success:   false,
		Summary:   "agent declined the change",
		ErrorKind: errors.KindExternal,
	}
	eng, store := newTestEngine(collab)
	seedWorkflow(t, store, v1.StepAIUpdate, v1.StepPush)

	eng.Run(context.Background(), "wf1")

	wf, err := store.Get(context.Background(), "wf1")
	require.NoError(t, err)
	assert.Equal(t, v1.WorkflowStatusFailed, wf.Status)
	assert.Equal(t, string(errors.KindExternal), wf.ErrorKind)
	assert.Equal(t, v1.StepStatusFailed, wf.Steps[0].Status)
	assert.Equal(t, v1.StepStatusSkipped, wf.Steps[1].Status)
	assert.NotContains(t, collab.Calls(), v1.StepPush)
}

func TestRunFailedBuildFailsWorkflow(t *testing.T) {
	collab := newStubCollab()
	collab.buildFn = func(_ context.Context, sink func(string)) (*buildsvc.Result, error) {
		sink("error TS2304: cannot find name")
		return &buildsvc.Result{Success: false, ExitCode: 2}, nil
	}
	eng, store := newTestEngine(collab)
	seedWorkflow(t, store, v1.StepBuild, v1.StepRun)

	eng.Run(context.Background(), "wf1")

	wf, err := store.Get(context.Background(), "wf1")
	require.NoError(t, err)
	assert.Equal(t, v1.WorkflowStatusFailed, wf.Status)
	assert.Equal(t, string(errors.KindExternal), wf.ErrorKind)
	assert.Equal(t, v1.StepStatusSkipped, wf.Steps[1].Status)

	chunks, err := store.Logs(context.Background(), "wf1", 0)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "error TS2304: cannot find name", chunks[0].Line)
	assert.Contains(t, chunks[1].Line, "build failed with exit code 2")
	assert.Equal(t, v1.StepBuild, chunks[0].StepName)
}

func TestRunCancelInterruptsStep(t *testing.T) {
	collab := newStubCollab()
	buildStarted := make(chan struct{})
	collab.buildFn = func(ctx context.Context, _ func(string)) (*buildsvc.Result, error) {
		close(buildStarted)
		<-ctx.Done()
		return nil, errors.FromContextErr(ctx.Err())
	}
	eng, store := newTestEngine(collab)
	seedWorkflow(t, store, v1.StepBuild, v1.StepRun)

	done := make(chan struct{})
	go func() {
		defer close(done)
		eng.Run(context.Background(), "wf1")
	}()

	select {
	case <-buildStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("build step never started")
	}
	_, err := eng.Cancel(context.Background(), "wf1")
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after cancel")
	}

	wf, err := store.Get(context.Background(), "wf1")
	require.NoError(t, err)
	assert.Equal(t, v1.WorkflowStatusCancelled, wf.Status)
	assert.Empty(t, wf.ErrorKind)
	assert.Equal(t, v1.StepStatusCancelled, wf.Steps[0].Status)
	assert.Equal(t, v1.StepStatusSkipped, wf.Steps[1].Status)
	require.NotNil(t, wf.FinishedAt)
	// The sandbox must never have been asked to start.
	assert.NotContains(t, collab.Calls(), v1.StepRun)
}

func TestRunCancelDuringFinalStepStillCancels(t *testing.T) {
	collab := newStubCollab()
	buildStarted := make(chan struct{})
	release := make(chan struct{})
	collab.buildFn = func(_ context.Context, _ func(string)) (*buildsvc.Result, error) {
		close(buildStarted)
		// Ignores its context: stands in for a step that cannot be
		// interrupted and runs to natural completion.
		<-release
		return &buildsvc.Result{Success: true}, nil
	}
	eng, store := newTestEngine(collab)
	seedWorkflow(t, store, v1.StepBuild)

	done := make(chan struct{})
	go func() {
		defer close(done)
		eng.Run(context.Background(), "wf1")
	}()

	<-buildStarted
	_, err := eng.Cancel(context.Background(), "wf1")
	require.NoError(t, err)
	close(release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}

	wf, err := store.Get(context.Background(), "wf1")
	require.NoError(t, err)
	// The step finished its work, but the cancel still decides the
	// workflow's terminal status.
	assert.Equal(t, v1.StepStatusCompleted, wf.Steps[0].Status)
	assert.Equal(t, v1.WorkflowStatusCancelled, wf.Status)
}

func TestCancelQueuedWorkflow(t *testing.T) {
	collab := newStubCollab()
	eng, store := newTestEngine(collab)
	seedWorkflow(t, store, v1.StepSync, v1.StepBuild)

	wf, err := eng.Cancel(context.Background(), "wf1")
	require.NoError(t, err)
	assert.Equal(t, v1.WorkflowStatusCancelled, wf.Status)
	assert.Equal(t, v1.StepStatusSkipped, wf.Steps[0].Status)
	assert.Equal(t, v1.StepStatusSkipped, wf.Steps[1].Status)
	require.NotNil(t, wf.FinishedAt)

	// A later dispatch of the cancelled workflow is a no-op.
	eng.Run(context.Background(), "wf1")
	got, err := store.Get(context.Background(), "wf1")
	require.NoError(t, err)
	assert.Equal(t, v1.WorkflowStatusCancelled, got.Status)
	assert.Nil(t, got.StartedAt)
	assert.Empty(t, collab.Calls())
}

func TestCancelTerminalReturnsCurrentStatus(t *testing.T) {
	collab := newStubCollab()
	eng, store := newTestEngine(collab)
	wf := seedWorkflow(t, store, v1.StepSync)
	eng.Run(context.Background(), wf.ID)

	got, err := eng.Cancel(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.WorkflowStatusCompleted, got.Status)

	// Still COMPLETED on a second cancel; terminal status is never
	// rewritten.
	got, err = eng.Cancel(context.Background(), wf.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.WorkflowStatusCompleted, got.Status)
}

func TestCancelUnknownWorkflow(t *testing.T) {
	collab := newStubCollab()
	eng, _ := newTestEngine(collab)

	_, err := eng.Cancel(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestRunFailsWhenProjectVanished(t *testing.T) {
	collab := newStubCollab()
	collab.project = nil
	eng, store := newTestEngine(collab)
	seedWorkflow(t, store, v1.StepSync, v1.StepBuild)

	eng.Run(context.Background(), "wf1")

	wf, err := store.Get(context.Background(), "wf1")
	require.NoError(t, err)
	assert.Equal(t, v1.WorkflowStatusFailed, wf.Status)
	assert.Equal(t, string(errors.KindNotFound), wf.ErrorKind)
	assert.Equal(t, v1.StepStatusSkipped, wf.Steps[0].Status)
	assert.Equal(t, v1.StepStatusSkipped, wf.Steps[1].Status)
}

func TestRunRedactsSecretsInLogs(t *testing.T) {
	collab := newStubCollab()
	collab.buildFn = func(_ context.Context, sink func(string)) (*buildsvc.Result, error) {
		sink("pushing with token hunter2secret done")
		return &buildsvc.Result{Success: true}, nil
	}
	store := NewMemoryStore()
	redactor := gitsync.NewRedactor()
	redactor.Add("hunter2secret")
	eng := NewEngine(store, collab, collab, collab, collab, collab, redactor, nil, logger.Default())
	seedWorkflow(t, store, v1.StepBuild)

	eng.Run(context.Background(), "wf1")

	chunks, err := store.Logs(context.Background(), "wf1", 0)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "pushing with token *** done", chunks[0].Line)
}

func TestRunStopStepFailurePropagatesKind(t *testing.T) {
	collab := newStubCollab()
	collab.stopErr = errors.Precondition("no active sandbox for project")
	eng, store := newTestEngine(collab)
	seedWorkflow(t, store, v1.StepStop)

	eng.Run(context.Background(), "wf1")

	wf, err := store.Get(context.Background(), "wf1")
	require.NoError(t, err)
	assert.Equal(t, v1.WorkflowStatusFailed, wf.Status)
	assert.Equal(t, string(errors.KindPrecondition), wf.ErrorKind)
}
