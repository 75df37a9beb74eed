package project

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/access"
	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/events"
	"github.com/devplane/devplane/internal/events/bus"
	"github.com/devplane/devplane/internal/user"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// ListRequest is a caller-facing listing; visibility is resolved from
// the identity, never taken from the caller.
type ListRequest struct {
	TenantID  string
	Status    v1.ProjectStatus
	Language  string
	Framework string
	Search    string
	Page      int
	PageSize  int
}

// Service provides registry business logic. All authorization decisions
// are delegated to the access resolver.
type Service struct {
	store       Store
	resolver    *access.Resolver
	users       user.Directory
	eventBus    bus.EventBus
	storageRoot string
	logger      *logger.Logger
}

// NewService creates the registry service.
func NewService(store Store, resolver *access.Resolver, users user.Directory, eventBus bus.EventBus, storageRoot string, log *logger.Logger) *Service {
	return &Service{
		store:       store,
		resolver:    resolver,
		users:       users,
		eventBus:    eventBus,
		storageRoot: storageRoot,
		logger:      log.WithFields(zap.String("component", "project")),
	}
}

// List returns the page of projects visible to the caller. An empty
// visibility set yields an empty page without touching storage.
func (s *Service) List(ctx context.Context, identity access.Identity, req ListRequest) (*v1.ProjectPage, error) {
	visibility, err := s.resolver.VisibleUserIDs(ctx, identity)
	if err != nil {
		return nil, err
	}

	filter := Filter{
		Unbounded:      visibility.Unbounded,
		VisibleUserIDs: visibility.UserIDs,
		TenantID:       req.TenantID,
		Status:         req.Status,
		Language:       req.Language,
		Framework:      req.Framework,
		Search:         req.Search,
		Page:           req.Page,
		PageSize:       req.PageSize,
	}
	filter.Normalize()

	if !filter.Unbounded && len(filter.VisibleUserIDs) == 0 {
		return &v1.ProjectPage{Items: []*v1.Project{}, Total: 0, Page: filter.Page, PageSize: filter.PageSize}, nil
	}

	items, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &v1.ProjectPage{Items: items, Total: total, Page: filter.Page, PageSize: filter.PageSize}, nil
}

// Get returns one project after a READ check.
func (s *Service) Get(ctx context.Context, identity access.Identity, id string) (*v1.Project, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.resolver.Authorize(identity, p, access.OpRead); err != nil {
		return nil, err
	}
	return p, nil
}

// Create registers a project for the owner named in the request. The
// tenant is derived from the owner and never taken from the caller.
func (s *Service) Create(ctx context.Context, identity access.Identity, req *v1.CreateProjectRequest) (*v1.Project, error) {
	if req.OwnerUserID == "" {
		return nil, errors.Precondition("owner user id is required")
	}
	if req.Name == "" {
		return nil, errors.Precondition("project name is required")
	}
	if req.Language == "" {
		return nil, errors.Precondition("project language is required")
	}
	if err := s.resolver.AuthorizeUserTarget(ctx, identity, req.OwnerUserID); err != nil {
		return nil, err
	}

	owner, err := s.users.GetUser(ctx, req.OwnerUserID)
	if err != nil {
		return nil, err
	}

	p := &v1.Project{
		ID:          uuid.New().String(),
		OwnerUserID: owner.ID,
		TenantID:    owner.TenantID,
		Name:        req.Name,
		Language:    req.Language,
		Framework:   req.Framework,
		RemoteURL:   req.RemoteURL,
		Branch:      req.Branch,
		Status:      v1.ProjectStatusActive,
		Protected:   req.Protected,
		CreatedAt:   time.Now().UTC(),
	}
	p.LocalPath = filepath.Join(s.storageRoot, p.ID)

	if err := os.MkdirAll(p.LocalPath, 0o755); err != nil {
		return nil, errors.Internal("failed to create project directory", err)
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.ProjectCreated, p)
	s.logger.Info("project created",
		zap.String("project_id", p.ID),
		zap.String("owner", p.OwnerUserID),
		zap.String("name", p.Name))
	return p, nil
}

// Update patches mutable fields after a WRITE check. Owner and tenant
// never change.
func (s *Service) Update(ctx context.Context, identity access.Identity, id string, patch *v1.UpdateProjectRequest) (*v1.Project, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.resolver.Authorize(identity, p, access.OpWrite); err != nil {
		return nil, err
	}

	if patch.Name != nil {
		if *patch.Name == "" {
			return nil, errors.Precondition("project name cannot be empty")
		}
		p.Name = *patch.Name
	}
	if patch.Language != nil {
		p.Language = *patch.Language
	}
	if patch.Framework != nil {
		p.Framework = *patch.Framework
	}
	if patch.RemoteURL != nil {
		p.RemoteURL = *patch.RemoteURL
	}
	if patch.Branch != nil {
		p.Branch = *patch.Branch
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.Protected != nil {
		p.Protected = *patch.Protected
	}

	if err := s.store.Update(ctx, p); err != nil {
		return nil, err
	}
	s.publishEvent(ctx, events.ProjectUpdated, p)
	return p, nil
}

// Delete soft-deletes by default. hard removes the row and is reserved
// for admins and enterprise callers inside the owner's tenant.
func (s *Service) Delete(ctx context.Context, identity access.Identity, id string, hard bool) error {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.resolver.Authorize(identity, p, access.OpDelete); err != nil {
		return err
	}

	if hard {
		allowed := identity.Role == v1.RoleAdmin ||
			(identity.Role == v1.RoleEnterprise && identity.TenantID == p.TenantID)
		if !allowed {
			return errors.Denied("hard deletion requires an admin or enterprise caller in the owner's tenant")
		}
		if err := s.store.Delete(ctx, id); err != nil {
			return err
		}
	} else {
		p.Status = v1.ProjectStatusDeleted
		if err := s.store.Update(ctx, p); err != nil {
			return err
		}
	}

	s.publishEvent(ctx, events.ProjectDeleted, p)
	s.logger.Info("project deleted",
		zap.String("project_id", id),
		zap.Bool("hard", hard),
		zap.String("caller", identity.UserID))
	return nil
}

// TouchLastOpened stamps the project as opened now.
func (s *Service) TouchLastOpened(ctx context.Context, identity access.Identity, id string) error {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.resolver.Authorize(identity, p, access.OpRead); err != nil {
		return err
	}
	if err := s.store.TouchLastOpened(ctx, id, time.Now().UTC()); err != nil {
		return err
	}
	s.publishEvent(ctx, events.ProjectOpened, p)
	return nil
}

// Resolve loads a project without an authorization check. Internal
// collaborators (workflow engine, sandbox supervisor) use it after the
// calling surface already authorized the operation.
func (s *Service) Resolve(ctx context.Context, id string) (*v1.Project, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) publishEvent(ctx context.Context, eventType string, p *v1.Project) {
	if s.eventBus == nil {
		return
	}
	event := bus.NewEvent(eventType, "project-registry", map[string]interface{}{
		"project_id": p.ID,
		"owner":      p.OwnerUserID,
		"tenant_id":  p.TenantID,
		"name":       p.Name,
		"status":     string(p.Status),
	})
	if err := s.eventBus.Publish(ctx, eventType, event); err != nil {
		s.logger.Warn("failed to publish project event", zap.String("type", eventType), zap.Error(err))
	}
}
