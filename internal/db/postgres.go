package db

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/devplane/devplane/internal/common/config"
	"github.com/devplane/devplane/internal/common/database"
)

// OpenPostgres opens the shared pgx pool and exposes it through
// database/sql so the sqlx stores can run on top of it. The returned
// closer shuts the pgx pool down; closing the *sql.DB alone does not.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, func(), error) {
	pg, err := database.NewDB(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return stdlib.OpenDBFromPool(pg.Pool()), pg.Close, nil
}
