package project

import (
	"github.com/devplane/devplane/internal/access"
	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/db"
	"github.com/devplane/devplane/internal/events/bus"
	"github.com/devplane/devplane/internal/user"
)

// Provide creates the registry service on the configured storage. A nil
// pool selects the in-memory store.
func Provide(pool *db.Pool, resolver *access.Resolver, users user.Directory, eventBus bus.EventBus, storageRoot string, log *logger.Logger) (*Service, func() error, error) {
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
	svc := NewService(store, resolver, users, eventBus, storageRoot, log)
	return svc, store.Close, nil
}
