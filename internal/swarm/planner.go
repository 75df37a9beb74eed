// Package swarm turns one agent task into a plan of model calls, routes
// each node to a model, fans the calls out, and aggregates the results.
package swarm

import (
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// Strategy names the decomposition rule a plan came from.
type Strategy string

const (
	StrategyCodeUpdate    Strategy = "code_update"
	StrategyMigration     Strategy = "migration"
	StrategySingleFile    Strategy = "single_file"
	StrategySecurityAudit Strategy = "security_audit"
	StrategyDirect        Strategy = "direct"
)

// PlanNode is one model call in a plan. DependsOn names nodes whose
// outputs must exist before this node runs; everything else is free to
// run concurrently.
type PlanNode struct {
	Name      string
	Kind      v1.TaskKind
	Role      string
	DependsOn []string
}

// Plan is an ordered decomposition. Node order is the aggregation
// order of the final solution.
type Plan struct {
	Strategy Strategy
	Nodes    []PlanNode
}

// NodeNames returns the node names in plan order.
func (p Plan) NodeNames() []string {
	names := make([]string, len(p.Nodes))
	for i, n := range p.Nodes {
		names[i] = n.Name
	}
	return names
}

// BuildPlan picks a decomposition for the task. The explicit
// `context.type` wins; otherwise the task kind selects a strategy.
func BuildPlan(task *v1.AgentTask) Plan {
	switch strategyFor(task) {
	case StrategyMigration:
		return Plan{
			Strategy: StrategyMigration,
			Nodes: []PlanNode{
				{Name: "analyze-source", Kind: v1.TaskAnalyze,
					Role: "Identify the structures, idioms, and dependencies of the source code that the migration must preserve."},
				{Name: "transform", Kind: v1.TaskMigrate, DependsOn: []string{"analyze-source"},
					Role: "Produce the migrated code, using the analysis to keep behavior identical."},
				{Name: "heal", Kind: v1.TaskFix, DependsOn: []string{"transform"},
					Role: "Repair any breakage in the transformed output: missing imports, renamed symbols, API drift."},
			},
		}
	case StrategySecurityAudit:
		return Plan{
			Strategy: StrategySecurityAudit,
			Nodes: []PlanNode{
				{Name: "audit-code", Kind: v1.TaskAudit,
					Role: "Audit the code for injection, authentication, and data-handling flaws."},
				{Name: "audit-deps", Kind: v1.TaskAudit,
					Role: "Audit dependencies and configuration for known-vulnerable or unsafe usage."},
				{Name: "report", Kind: v1.TaskDoc, DependsOn: []string{"audit-code", "audit-deps"},
					Role: "Merge both audits into a single prioritized findings report."},
			},
		}
	case StrategySingleFile:
		return Plan{
			Strategy: StrategySingleFile,
			Nodes: []PlanNode{
				{Name: "apply", Kind: task.Kind,
					Role: "Apply the requested change to the given file and return the full updated content."},
			},
		}
	case StrategyDirect:
		return Plan{
			Strategy: StrategyDirect,
			Nodes: []PlanNode{
				{Name: "respond", Kind: task.Kind,
					Role: "Answer the request directly."},
			},
		}
	default:
		return Plan{
			Strategy: StrategyCodeUpdate,
			Nodes: []PlanNode{
				{Name: "analyze", Kind: v1.TaskAnalyze,
					Role: "Analyze the existing code and state what must change to satisfy the request."},
				{Name: "generate", Kind: task.Kind, DependsOn: []string{"analyze"},
					Role: "Produce the updated files. For each changed file emit `FILE: <relative path>` followed by a fenced code block with the full new content."},
				{Name: "verify", Kind: v1.TaskAnalyze, DependsOn: []string{"generate"},
					Role: "Check the generated changes against the request and call out anything missing or broken."},
			},
		}
	}
}

func strategyFor(task *v1.AgentTask) Strategy {
	if t, ok := task.Context["type"]; ok {
		switch Strategy(t) {
		case StrategyCodeUpdate, StrategyMigration, StrategySingleFile, StrategySecurityAudit, StrategyDirect:
			return Strategy(t)
		}
	}
	switch task.Kind {
	case v1.TaskMigrate:
		return StrategyMigration
	case v1.TaskAudit:
		return StrategySecurityAudit
	case v1.TaskExplain, v1.TaskDoc, v1.TaskAnalyze:
		return StrategyDirect
	default:
		return StrategyCodeUpdate
	}
}
