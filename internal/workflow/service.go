package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/access"
	"github.com/devplane/devplane/internal/common/config"
	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/events"
	"github.com/devplane/devplane/internal/events/bus"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// Service is the authorized surface of the workflow engine. Every call
// resolves the project and checks the caller's access before touching
// workflow state; a denied or invalid submit leaves no row behind.
type Service struct {
	store     Store
	projects  ProjectResolver
	resolver  *access.Resolver
	engine    *Engine
	scheduler *scheduler
	eventBus  bus.EventBus
	logger    *logger.Logger
}

// NewService wires the service and its scheduler. Call Start to begin
// dispatching and Stop to drain on shutdown.
func NewService(store Store, projects ProjectResolver, resolver *access.Resolver, engine *Engine, cfg config.WorkflowConfig, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{
		store:     store,
		projects:  projects,
		resolver:  resolver,
		engine:    engine,
		scheduler: newScheduler(cfg.MaxConcurrency, engine, log),
		eventBus:  eventBus,
		logger:    log.WithFields(zap.String("component", "workflow")),
	}
}

// Start launches the scheduler.
func (s *Service) Start() {
	s.scheduler.Start()
}

// Stop cancels in-flight workflows and waits for them to finalize.
func (s *Service) Stop() {
	s.scheduler.Stop()
}

// Submit validates and persists a new workflow, then enqueues it. The
// call returns as soon as the workflow is queued; it never waits for
// execution. An empty step list completes immediately without ever
// being scheduled.
func (s *Service) Submit(ctx context.Context, identity access.Identity, req *v1.SubmitWorkflowRequest) (*v1.Workflow, error) {
	proj, err := s.projects.Resolve(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := s.resolver.Authorize(identity, proj, access.OpWrite); err != nil {
		return nil, err
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	wf := &v1.Workflow{
		ID:           uuid.New().String(),
		ProjectID:    proj.ID,
		CallerUserID: identity.UserID,
		Config:       req.Config,
		Status:       v1.WorkflowStatusPending,
		CreatedAt:    now,
		Steps:        make([]v1.StepState, len(req.Steps)),
	}
	for i, name := range req.Steps {
		wf.Steps[i] = v1.StepState{Name: name, Status: v1.StepStatusPending}
	}
	if len(wf.Steps) == 0 {
		// Nothing to run; the workflow is born terminal.
		wf.Status = v1.WorkflowStatusCompleted
		wf.StartedAt = &now
		wf.FinishedAt = &now
	}

	if err := s.store.Create(ctx, wf); err != nil {
		return nil, err
	}
	s.publishSubmitted(ctx, wf)
	if !wf.Status.Terminal() {
		s.scheduler.Enqueue(wf.ID, wf.ProjectID)
	}

	s.logger.Info("workflow submitted",
		zap.String("workflow_id", wf.ID),
		zap.String("project_id", wf.ProjectID),
		zap.String("caller", identity.UserID),
		zap.Strings("steps", req.Steps))
	return wf, nil
}

// Get returns the workflow after a READ check on its project.
func (s *Service) Get(ctx context.Context, identity access.Identity, id string) (*v1.Workflow, error) {
	wf, err := s.authorized(ctx, identity, id, access.OpRead)
	if err != nil {
		return nil, err
	}
	return wf, nil
}

// List returns the project's workflows, newest first, after a READ check.
func (s *Service) List(ctx context.Context, identity access.Identity, projectID string) ([]*v1.Workflow, error) {
	proj, err := s.projects.Resolve(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := s.resolver.Authorize(identity, proj, access.OpRead); err != nil {
		return nil, err
	}
	return s.store.List(ctx, projectID)
}

// Cancel requests cancellation after a WRITE check. It does not wait for
// the workflow to finalize; cancelling a terminal workflow returns the
// current state unchanged.
func (s *Service) Cancel(ctx context.Context, identity access.Identity, id string) (*v1.Workflow, error) {
	if _, err := s.authorized(ctx, identity, id, access.OpWrite); err != nil {
		return nil, err
	}
	return s.engine.Cancel(ctx, id)
}

// Logs returns the workflow's log chunks from offset on. Readers resume
// by passing the count of chunks they already hold.
func (s *Service) Logs(ctx context.Context, identity access.Identity, id string, offset int) ([]v1.LogChunk, error) {
	if offset < 0 {
		return nil, errors.Precondition("log offset cannot be negative")
	}
	if _, err := s.authorized(ctx, identity, id, access.OpRead); err != nil {
		return nil, err
	}
	return s.store.Logs(ctx, id, offset)
}

// authorized loads the workflow and checks op against its project.
func (s *Service) authorized(ctx context.Context, identity access.Identity, id string, op access.Op) (*v1.Workflow, error) {
	wf, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	proj, err := s.projects.Resolve(ctx, wf.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := s.resolver.Authorize(identity, proj, op); err != nil {
		return nil, err
	}
	return wf, nil
}

func validateRequest(req *v1.SubmitWorkflowRequest) error {
	needsPrompt := false
	for _, name := range req.Steps {
		if !v1.KnownStep(name) {
			return errors.Preconditionf("invalid step name %q", name).WithDetail("step", name)
		}
		if name == v1.StepAIUpdate {
			needsPrompt = true
		}
	}
	if needsPrompt && strings.TrimSpace(req.Config.UpdatePrompt) == "" {
		return errors.Precondition("ai_update step requires config.update_prompt")
	}
	return nil
}

func (s *Service) publishSubmitted(ctx context.Context, wf *v1.Workflow) {
	if s.eventBus == nil {
		return
	}
	event := bus.NewEvent(events.WorkflowSubmitted, "workflow", map[string]interface{}{
		"workflow_id": wf.ID,
		"project_id":  wf.ProjectID,
		"status":      string(wf.Status),
	})
	if err := s.eventBus.Publish(ctx, events.WorkflowSubmitted, event); err != nil {
		s.logger.Warn("failed to publish workflow submission", zap.Error(err))
	}
}
