package user

import (
	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/db"
)

// Provide creates the directory backed by the configured storage. A nil
// pool selects the in-memory driver.
func Provide(pool *db.Pool, log *logger.Logger) (Directory, func() error, error) {
	if pool == nil {
		dir := NewMemoryDirectory()
		return dir, dir.Close, nil
	}
	dir, err := NewSQLDirectory(pool)
	if err != nil {
		return nil, nil, err
	}
	return dir, dir.Close, nil
}
