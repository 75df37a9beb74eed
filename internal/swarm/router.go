package swarm

import (
	"github.com/devplane/devplane/internal/llm"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// Router picks a model for each plan node: a caller-fixed model wins,
// then the first loaded model in the active tier with the preferred
// capability, then the tier primary.
type Router struct {
	catalog *llm.Catalog
	tier    v1.ModelTier
}

// NewRouter creates a router over the catalog for the active tier.
func NewRouter(catalog *llm.Catalog, tier v1.ModelTier) *Router {
	return &Router{catalog: catalog, tier: tier}
}

// Route resolves the model for a node.
func (r *Router) Route(task *v1.AgentTask, node PlanNode) string {
	if fixed := task.Context["model"]; fixed != "" {
		return fixed
	}
	if id := r.catalog.FirstLoadedWithCapability(r.tier, capabilityFor(node.Kind)); id != "" {
		return id
	}
	return r.catalog.Primary(r.tier)
}

// capabilityFor maps a task kind to the capability that serves it best.
func capabilityFor(kind v1.TaskKind) v1.ModelCapability {
	switch kind {
	case v1.TaskGenerate, v1.TaskFix, v1.TaskRefactor, v1.TaskTest, v1.TaskMigrate:
		return v1.CapCode
	case v1.TaskAnalyze, v1.TaskAudit:
		return v1.CapReasoning
	default:
		return v1.CapChat
	}
}
