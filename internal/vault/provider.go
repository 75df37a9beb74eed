package vault

import (
	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/db"
)

// Provide builds the vault over the configured storage. A nil pool
// selects the in-memory store.
func Provide(masterKey string, pool *db.Pool, log *logger.Logger) (*Vault, func() error, error) {
	key, err := DeriveKey(masterKey)
	if err != nil {
		return nil, nil, err
	}

	var store Store
	if pool == nil {
		store = NewMemoryStore()
	} else {
		store, err = NewSQLStore(pool)
		if err != nil {
			return nil, nil, err
		}
	}
	return New(store, key, log), store.Close, nil
}
