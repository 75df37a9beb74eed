package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/common/config"
	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/db/dialect"
)

// Provide opens the database pool selected by config. The "memory" driver
// returns a nil pool; callers fall back to in-memory stores.
func Provide(cfg config.DatabaseConfig, log *logger.Logger) (*Pool, func() error, error) {
	switch cfg.Driver {
	case "memory":
		return nil, func() error { return nil }, nil

	case "sqlite":
		writerConn, err := openSQLiteWriter(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		readerConn, err := openSQLiteReader(cfg.SQLitePath)
		if err != nil {
			_ = writerConn.Close()
			return nil, nil, fmt.Errorf("failed to open sqlite reader: %w", err)
		}
		writer := sqlx.NewDb(writerConn, dialect.SQLite3)
		reader := sqlx.NewDb(readerConn, dialect.SQLite3)
		pool := NewPool(writer, reader)
		log.Info("Database initialized",
			zap.String("db_driver", cfg.Driver),
			zap.String("db_path", cfg.SQLitePath))
		cleanup := func() error {
			// Update query planner statistics on the way out; the
			// SQLite-recommended maintenance hook.
			_, _ = writerConn.Exec("PRAGMA optimize")
			return pool.Close()
		}
		return pool, cleanup, nil

	case "postgres":
		conn, closePool, err := OpenPostgres(context.Background(), cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres database: %w", err)
		}
		// pgx pools internally, so reads and writes share one handle.
		pool := NewSharedPool(sqlx.NewDb(conn, dialect.PGX))
		log.Info("Database initialized",
			zap.String("db_driver", cfg.Driver),
			zap.String("db_host", cfg.Host),
			zap.String("db_name", cfg.DBName))
		cleanup := func() error {
			err := pool.Close()
			closePool()
			return err
		}
		return pool, cleanup, nil

	default:
		return nil, nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}
