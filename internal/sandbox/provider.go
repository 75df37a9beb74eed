package sandbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/common/config"
	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/events/bus"
)

// Provide wires the sandbox supervisor. The container backend is probed
// once here; when the daemon is unreachable every sandbox falls back to the
// PTY backend. Orphaned containers from a previous run are reconciled
// before the supervisor is handed out.
func Provide(cfg config.SandboxConfig, dockerCfg config.DockerConfig, storage config.StorageConfig, projects ProjectResolver, eventBus bus.EventBus, log *logger.Logger) (*Supervisor, func() error, error) {
	stacks, err := LoadStacks(cfg.StacksFile)
	if err != nil {
		return nil, nil, err
	}

	var docker *ContainerClient
	if dockerCfg.Enabled {
		client, cerr := NewContainerClient(dockerCfg, log)
		if cerr != nil {
			log.Warn("container backend unavailable", zap.Error(cerr))
		} else {
			pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if perr := client.Ping(pingCtx); perr != nil {
				log.Warn("docker daemon unreachable, sandboxes will use the PTY backend", zap.Error(perr))
				_ = client.Close()
			} else {
				docker = client
			}
			cancel()
		}
	}

	sup := NewSupervisor(cfg, storage, stacks, docker, projects, eventBus, log)

	if docker != nil {
		adoptCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, _, aerr := sup.AdoptOrphans(adoptCtx); aerr != nil {
			log.Warn("orphan reconciliation failed", zap.Error(aerr))
		}
		cancel()
	}

	cleanup := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		sup.Shutdown(shutdownCtx)
		if docker != nil {
			return docker.Close()
		}
		return nil
	}
	return sup, cleanup, nil
}
