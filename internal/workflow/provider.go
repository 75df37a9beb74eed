package workflow

import (
	"github.com/devplane/devplane/internal/access"
	"github.com/devplane/devplane/internal/aiupdate"
	"github.com/devplane/devplane/internal/buildsvc"
	"github.com/devplane/devplane/internal/common/config"
	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/db"
	"github.com/devplane/devplane/internal/events/bus"
	"github.com/devplane/devplane/internal/gitsync"
	"github.com/devplane/devplane/internal/project"
	"github.com/devplane/devplane/internal/sandbox"
)

// Provide wires the workflow engine, scheduler, and service. A nil pool
// selects the in-memory store. The service starts dispatching
// immediately; the returned cleanup drains it.
func Provide(
	pool *db.Pool,
	cfg config.WorkflowConfig,
	projects *project.Service,
	resolver *access.Resolver,
	git *gitsync.Service,
	updater *aiupdate.Service,
	builder *buildsvc.Service,
	sandboxes *sandbox.Supervisor,
	eventBus bus.EventBus,
	log *logger.Logger,
) (*Service, func() error, error) {
	var store Store
	if pool == nil {
		store = NewMemoryStore()
	} else {
		var err error
		store, err = NewSQLStore(pool)
		if err != nil {
			return nil, nil, err
		}
	}

	engine := NewEngine(store, projects, git, updater, builder, sandboxes, git.Redactor(), eventBus, log)
	svc := NewService(store, projects, resolver, engine, cfg, eventBus, log)
	svc.Start()

	cleanup := func() error {
		svc.Stop()
		return store.Close()
	}
	return svc, cleanup, nil
}
