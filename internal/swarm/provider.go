package swarm

import (
	"github.com/devplane/devplane/internal/blackboard"
	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/events/bus"
	"github.com/devplane/devplane/internal/llm"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// Provide creates the swarm dispatcher over an existing pool, catalog,
// and blackboard.
func Provide(pool *llm.Pool, catalog *llm.Catalog, board *blackboard.Board, tier v1.ModelTier, eventBus bus.EventBus, log *logger.Logger) *Dispatcher {
	if !tier.Valid() {
		tier = v1.TierBalanced
	}
	return NewDispatcher(pool, catalog, board, tier, eventBus, log)
}
