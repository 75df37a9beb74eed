package ledger

import (
	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/db"
	"github.com/devplane/devplane/internal/events/bus"
)

// Provide builds the ledger over the configured store. A nil pool selects
// the in-memory store.
func Provide(pool *db.Pool, b bus.EventBus, log *logger.Logger) (*Ledger, func() error, error) {
	var store Store
	if pool == nil {
		store = NewMemoryStore()
	} else {
		s, err := NewSQLStore(pool)
		if err != nil {
			return nil, nil, err
		}
		store = s
	}
	return New(store, b, log), store.Close, nil
}
