package swarm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/devplane/devplane/internal/llm"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

func TestRouteExplicitModelWins(t *testing.T) {
	r := NewRouter(llm.NewCatalog(""), v1.TierBalanced)
	task := &v1.AgentTask{Kind: v1.TaskFix, Context: map[string]string{"model": "pinned:7b"}}

	model := r.Route(task, PlanNode{Name: "generate", Kind: v1.TaskFix})
	assert.Equal(t, "pinned:7b", model)
}

func TestRoutePrefersLoadedCapability(t *testing.T) {
	catalog := llm.NewCatalog("")
	r := NewRouter(catalog, v1.TierBalanced)
	task := &v1.AgentTask{Kind: v1.TaskAnalyze}
	node := PlanNode{Name: "analyze", Kind: v1.TaskAnalyze}

	// Nothing loaded: tier primary.
	assert.Equal(t, catalog.Primary(v1.TierBalanced), r.Route(task, node))

	// A loaded reasoning-capable model wins for analyze nodes.
	catalog.MarkLoaded([]string{"llama3.1:8b"})
	assert.Equal(t, "llama3.1:8b", r.Route(task, node))

	// Code nodes still route by their own kind.
	catalog.MarkLoaded([]string{"deepseek-coder-v2:16b"})
	assert.Equal(t, "deepseek-coder-v2:16b", r.Route(task, PlanNode{Name: "generate", Kind: v1.TaskGenerate}))
}

func TestCapabilityFor(t *testing.T) {
	assert.Equal(t, v1.CapCode, capabilityFor(v1.TaskGenerate))
	assert.Equal(t, v1.CapCode, capabilityFor(v1.TaskMigrate))
	assert.Equal(t, v1.CapReasoning, capabilityFor(v1.TaskAudit))
	assert.Equal(t, v1.CapChat, capabilityFor(v1.TaskDoc))
	assert.Equal(t, v1.CapChat, capabilityFor(v1.TaskExplain))
}
