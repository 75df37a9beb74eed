package mcpserver

import (
	"context"
	"sync"
	"time"

	"github.com/devplane/devplane/internal/common/logger"
)

// Provide starts the MCP server and returns a cleanup that stops it. The
// cleanup is idempotent so shutdown paths may call it more than once.
func Provide(ctx context.Context, cfg Config, log *logger.Logger) (*Server, func() error, error) {
	srv := NewWithLogger(cfg, log)
	if err := srv.Start(ctx); err != nil {
		return nil, nil, err
	}

	var once sync.Once
	cleanup := func() error {
		var stopErr error
		once.Do(func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			stopErr = srv.Stop(stopCtx)
		})
		return stopErr
	}
	return srv, cleanup, nil
}
