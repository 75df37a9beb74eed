package workflow

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/events"
	"github.com/devplane/devplane/internal/events/bus"
	"github.com/devplane/devplane/internal/gitsync"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// run tracks one in-flight workflow so Cancel can reach it.
type run struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

// Engine executes workflows one step at a time. Exactly one step of a
// workflow runs at any moment, the first error fails the workflow and
// skips the rest, and a cancellation request wins over everything that
// has not already finished.
type Engine struct {
	store     Store
	projects  ProjectResolver
	git       GitSyncer
	updater   Updater
	builder   Builder
	sandboxes SandboxManager
	redactor  *gitsync.Redactor
	eventBus  bus.EventBus
	logger    *logger.Logger

	mu     sync.Mutex
	active map[string]*run
}

// NewEngine wires the engine to its collaborators. redactor and eventBus
// may be nil.
func NewEngine(store Store, projects ProjectResolver, git GitSyncer, updater Updater, builder Builder, sandboxes SandboxManager, redactor *gitsync.Redactor, eventBus bus.EventBus, log *logger.Logger) *Engine {
	return &Engine{
		store:     store,
		projects:  projects,
		git:       git,
		updater:   updater,
		builder:   builder,
		sandboxes: sandboxes,
		redactor:  redactor,
		eventBus:  eventBus,
		logger:    log.WithFields(zap.String("component", "workflow-engine")),
		active:    make(map[string]*run),
	}
}

// Run executes the workflow to a terminal status. The scheduler
// guarantees one Run per workflow and at most one running workflow per
// project.
func (e *Engine) Run(ctx context.Context, id string) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r := &run{cancel: cancel}

	// Register before reading state: a concurrent Cancel either finds
	// this entry and flags it, or has already written CANCELLED to the
	// store where the load below sees it.
	e.mu.Lock()
	e.active[id] = r
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.active, id)
		e.mu.Unlock()
	}()

	// Persistence and log writes outlive step cancellation; a cancelled
	// build must still record its terminal state.
	storeCtx := context.WithoutCancel(ctx)

	wf, err := e.store.Get(storeCtx, id)
	if err != nil {
		e.logger.Error("failed to load workflow", zap.String("workflow_id", id), zap.Error(err))
		return
	}
	if wf.Status.Terminal() {
		// Cancelled while still queued.
		return
	}

	now := time.Now().UTC()
	wf.Status = v1.WorkflowStatusRunning
	wf.StartedAt = &now
	e.persist(storeCtx, wf)
	e.publishState(storeCtx, wf)
	e.logger.Info("workflow started",
		zap.String("workflow_id", wf.ID),
		zap.String("project_id", wf.ProjectID),
		zap.Int("steps", len(wf.Steps)))

	proj, err := e.projects.Resolve(storeCtx, wf.ProjectID)
	if err != nil {
		// The project vanished between submit and dispatch.
		wf.ErrorKind = string(errors.KindOf(err))
		markSkippedFrom(wf, 0)
		e.finalize(storeCtx, wf, v1.WorkflowStatusFailed)
		return
	}

	for i := range wf.Steps {
		if r.cancelled.Load() || runCtx.Err() != nil {
			markSkippedFrom(wf, i)
			e.finalize(storeCtx, wf, v1.WorkflowStatusCancelled)
			return
		}
		step := &wf.Steps[i]

		stepStart := time.Now().UTC()
		step.Status = v1.StepStatusRunning
		step.StartedAt = &stepStart
		e.persist(storeCtx, wf)
		e.publishStep(storeCtx, events.WorkflowStepStarted, wf, step)

		result, stepErr := e.runStep(runCtx, wf, proj, step, e.chunkSink(storeCtx, wf.ID, step.Name))
		stepEnd := time.Now().UTC()
		step.FinishedAt = &stepEnd

		if stepErr == nil {
			step.Status = v1.StepStatusCompleted
			step.Result = result
			e.persist(storeCtx, wf)
			e.publishStep(storeCtx, events.WorkflowStepFinished, wf, step)
			continue
		}

		e.appendChunk(storeCtx, wf.ID, step.Name, "step "+step.Name+" failed: "+stepErr.Error())

		if r.cancelled.Load() {
			if errors.IsCancelled(stepErr) {
				step.Status = v1.StepStatusCancelled
			} else {
				// The step genuinely failed before the cancel landed;
				// record the failure but the cancel still decides the
				// workflow.
				step.Status = v1.StepStatusFailed
				step.ErrorKind = string(errors.KindOf(stepErr))
			}
			markSkippedFrom(wf, i+1)
			e.publishStep(storeCtx, events.WorkflowStepFinished, wf, step)
			e.finalize(storeCtx, wf, v1.WorkflowStatusCancelled)
			return
		}

		step.Status = v1.StepStatusFailed
		step.ErrorKind = string(errors.KindOf(stepErr))
		wf.ErrorKind = step.ErrorKind
		markSkippedFrom(wf, i+1)
		e.publishStep(storeCtx, events.WorkflowStepFinished, wf, step)
		e.logger.Warn("workflow step failed",
			zap.String("workflow_id", wf.ID),
			zap.String("step", step.Name),
			zap.String("error_kind", step.ErrorKind),
			zap.Error(stepErr))
		e.finalize(storeCtx, wf, v1.WorkflowStatusFailed)
		return
	}

	// A cancel that arrived during the last step still decides the
	// outcome even though every step completed.
	status := v1.WorkflowStatusCompleted
	if r.cancelled.Load() {
		status = v1.WorkflowStatusCancelled
	}
	e.finalize(storeCtx, wf, status)
}

// Cancel requests cancellation and returns without waiting. A queued
// workflow is finalized in place; a running one is flagged and its
// current step's context is cancelled. Terminal workflows come back
// unchanged.
func (e *Engine) Cancel(ctx context.Context, id string) (*v1.Workflow, error) {
	e.mu.Lock()
	if r, ok := e.active[id]; ok {
		e.mu.Unlock()
		r.cancelled.Store(true)
		r.cancel()
		e.logger.Info("workflow cancellation requested", zap.String("workflow_id", id))
		return e.store.Get(ctx, id)
	}
	defer e.mu.Unlock()

	wf, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf.Status.Terminal() {
		return wf, nil
	}

	markSkippedFrom(wf, 0)
	now := time.Now().UTC()
	wf.Status = v1.WorkflowStatusCancelled
	wf.FinishedAt = &now
	if err := e.store.Update(ctx, wf); err != nil {
		return nil, err
	}
	e.publishState(ctx, wf)
	e.logger.Info("queued workflow cancelled", zap.String("workflow_id", id))
	return wf, nil
}

func (e *Engine) finalize(ctx context.Context, wf *v1.Workflow, status v1.WorkflowStatus) {
	now := time.Now().UTC()
	wf.Status = status
	wf.FinishedAt = &now
	e.persist(ctx, wf)
	e.publishState(ctx, wf)

	duration := time.Duration(0)
	if wf.StartedAt != nil {
		duration = now.Sub(*wf.StartedAt)
	}
	e.logger.Info("workflow finished",
		zap.String("workflow_id", wf.ID),
		zap.String("project_id", wf.ProjectID),
		zap.String("status", string(status)),
		zap.String("error_kind", wf.ErrorKind),
		zap.Duration("duration", duration))
}

func (e *Engine) persist(ctx context.Context, wf *v1.Workflow) {
	if err := e.store.Update(ctx, wf); err != nil {
		e.logger.Error("failed to persist workflow",
			zap.String("workflow_id", wf.ID),
			zap.Error(err))
	}
}

// chunkSink returns the line sink steps write their output through.
func (e *Engine) chunkSink(ctx context.Context, workflowID, stepName string) func(string) {
	return func(line string) {
		e.appendChunk(ctx, workflowID, stepName, line)
	}
}

// appendChunk scrubs, persists, and publishes one log line.
func (e *Engine) appendChunk(ctx context.Context, workflowID, stepName, line string) {
	if e.redactor != nil {
		line = e.redactor.Redact(line)
	}
	chunk := v1.LogChunk{Timestamp: time.Now().UTC(), StepName: stepName, Line: line}
	if err := e.store.AppendLog(ctx, workflowID, chunk); err != nil {
		e.logger.Warn("failed to append workflow log",
			zap.String("workflow_id", workflowID),
			zap.Error(err))
	}
	if e.eventBus == nil {
		return
	}
	event := bus.NewEvent(events.WorkflowLog, "workflow-engine", map[string]interface{}{
		"workflow_id": workflowID,
		"step":        stepName,
		"line":        line,
		"timestamp":   chunk.Timestamp,
	})
	if err := e.eventBus.Publish(ctx, events.BuildWorkflowLogSubject(workflowID), event); err != nil {
		e.logger.Warn("failed to publish workflow log",
			zap.String("workflow_id", workflowID),
			zap.Error(err))
	}
}

func (e *Engine) publishState(ctx context.Context, wf *v1.Workflow) {
	e.publish(ctx, events.WorkflowStateChanged, wf, map[string]interface{}{
		"status":     string(wf.Status),
		"error_kind": wf.ErrorKind,
	})
}

func (e *Engine) publishStep(ctx context.Context, eventType string, wf *v1.Workflow, step *v1.StepState) {
	e.publish(ctx, eventType, wf, map[string]interface{}{
		"step":        step.Name,
		"step_status": string(step.Status),
	})
}

// publish sends workflow lifecycle events on the workflow's state
// subject so one subscription observes the whole run.
func (e *Engine) publish(ctx context.Context, eventType string, wf *v1.Workflow, data map[string]interface{}) {
	if e.eventBus == nil {
		return
	}
	data["workflow_id"] = wf.ID
	data["project_id"] = wf.ProjectID
	event := bus.NewEvent(eventType, "workflow-engine", data)
	if err := e.eventBus.Publish(ctx, events.BuildWorkflowStateSubject(wf.ID), event); err != nil {
		e.logger.Warn("failed to publish workflow event",
			zap.String("type", eventType),
			zap.Error(err))
	}
}

// markSkippedFrom marks every still-pending step from index i on as
// SKIPPED.
func markSkippedFrom(wf *v1.Workflow, i int) {
	for ; i < len(wf.Steps); i++ {
		if wf.Steps[i].Status == v1.StepStatusPending {
			wf.Steps[i].Status = v1.StepStatusSkipped
		}
	}
}
