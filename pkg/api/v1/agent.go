package v1

import "time"

// TaskKind classifies what an agent task asks the swarm to do.
type TaskKind string

const (
	TaskGenerate TaskKind = "GENERATE"
	TaskMigrate  TaskKind = "MIGRATE"
	TaskFix      TaskKind = "FIX"
	TaskAnalyze  TaskKind = "ANALYZE"
	TaskRefactor TaskKind = "REFACTOR"
	TaskExplain  TaskKind = "EXPLAIN"
	TaskTest     TaskKind = "TEST"
	TaskDoc      TaskKind = "DOC"
	TaskAudit    TaskKind = "AUDIT"
)

// TaskState represents the dispatcher-visible state of an agent task.
type TaskState string

const (
	TaskStatePending   TaskState = "PENDING"
	TaskStateRunning   TaskState = "RUNNING"
	TaskStateCompleted TaskState = "COMPLETED"
	TaskStateFailed    TaskState = "FAILED"
)

// AgentTask is one natural-language unit of work handed to the swarm.
type AgentTask struct {
	ID      string            `json:"id"`
	Kind    TaskKind          `json:"kind"`
	Prompt  string            `json:"prompt"`
	Context map[string]string `json:"context,omitempty"`
	State   TaskState         `json:"state"`
}

// ActRequest asks the dispatcher to run one agent task end to end.
type ActRequest struct {
	Kind    TaskKind          `json:"kind" binding:"required"`
	Prompt  string            `json:"prompt" binding:"required"`
	Context map[string]string `json:"context,omitempty"`
}

// ModelTier buckets models by the hardware class they need.
type ModelTier string

const (
	TierMinimal  ModelTier = "MINIMAL"
	TierBalanced ModelTier = "BALANCED"
	TierFull     ModelTier = "FULL"
	TierUltra    ModelTier = "ULTRA"
)

// Valid reports whether the tier is one of the known values.
func (t ModelTier) Valid() bool {
	switch t {
	case TierMinimal, TierBalanced, TierFull, TierUltra:
		return true
	}
	return false
}

// ModelCapability tags what a model is good for.
type ModelCapability string

const (
	CapCode      ModelCapability = "CODE"
	CapChat      ModelCapability = "CHAT"
	CapReasoning ModelCapability = "REASONING"
	CapMoE       ModelCapability = "MOE"
	CapEmbed     ModelCapability = "EMBED"
)

// ModelHandle describes one model entry in the tier catalog.
type ModelHandle struct {
	ID           string            `json:"id"`
	Tier         ModelTier         `json:"tier"`
	Family       string            `json:"family"`
	Capabilities []ModelCapability `json:"capabilities"`
	ContextLen   int               `json:"context_len"`
	Loaded       bool              `json:"loaded"`
}

// HasCapability reports whether the handle lists the given capability.
func (m ModelHandle) HasCapability(c ModelCapability) bool {
	for _, cap := range m.Capabilities {
		if cap == c {
			return true
		}
	}
	return false
}

// CostRecord is one append-only metering entry (CALT). Exactly one record
// is written per LLM call, tool call, or agent operation.
type CostRecord struct {
	Timestamp      time.Time         `json:"timestamp"`
	Operation      string            `json:"operation"`
	DurationMs     int64             `json:"duration_ms"`
	TokensIn       int               `json:"tokens_in"`
	TokensOut      int               `json:"tokens_out"`
	VirtualCostUSD float64           `json:"virtual_cost_usd"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}
