package v1

import "time"

// WorkflowStatus represents the overall state of a workflow run.
type WorkflowStatus string

const (
	WorkflowStatusPending   WorkflowStatus = "PENDING"
	WorkflowStatusRunning   WorkflowStatus = "RUNNING"
	WorkflowStatusCompleted WorkflowStatus = "COMPLETED"
	WorkflowStatusFailed    WorkflowStatus = "FAILED"
	WorkflowStatusCancelled WorkflowStatus = "CANCELLED"
)

// Terminal reports whether the status is final. Terminal workflows never
// re-run and their status is never rewritten.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusCancelled:
		return true
	}
	return false
}

// StepStatus represents the state of a single workflow step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "PENDING"
	StepStatusRunning   StepStatus = "RUNNING"
	StepStatusCompleted StepStatus = "COMPLETED"
	StepStatusFailed    StepStatus = "FAILED"
	StepStatusSkipped   StepStatus = "SKIPPED"
	StepStatusCancelled StepStatus = "CANCELLED"
)

// Core step names understood by the workflow engine.
const (
	StepSync     = "sync"
	StepAIUpdate = "ai_update"
	StepPush     = "push"
	StepBuild    = "build"
	StepRun      = "run"
	StepStop     = "stop"
)

// KnownStep reports whether name is one of the core step names.
func KnownStep(name string) bool {
	switch name {
	case StepSync, StepAIUpdate, StepPush, StepBuild, StepRun, StepStop:
		return true
	}
	return false
}

// StepState is the per-step record embedded in a workflow.
type StepState struct {
	Name       string     `json:"name"`
	Status     StepStatus `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Result     string     `json:"result,omitempty"`
	ErrorKind  string     `json:"error_kind,omitempty"`
}

// Workflow is one ordered run of steps against a single project.
type Workflow struct {
	ID           string         `json:"id"`
	ProjectID    string         `json:"project_id"`
	CallerUserID string         `json:"caller_user_id"`
	Steps        []StepState    `json:"steps"`
	Config       WorkflowConfig `json:"config,omitempty"`
	Status       WorkflowStatus `json:"status"`
	ErrorKind    string         `json:"error_kind,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
}

// WorkflowConfig carries per-run parameters consumed by individual steps.
type WorkflowConfig struct {
	UpdatePrompt  string            `json:"update_prompt,omitempty"`
	UpdateContext map[string]string `json:"update_context,omitempty"`
	CommitMessage string            `json:"commit_message,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
}

// LogChunk is one captured log line attributed to a step.
type LogChunk struct {
	Timestamp time.Time `json:"timestamp"`
	StepName  string    `json:"step_name"`
	Line      string    `json:"line"`
}

// SubmitWorkflowRequest for submitting a new workflow run.
type SubmitWorkflowRequest struct {
	ProjectID string         `json:"project_id" binding:"required"`
	Steps     []string       `json:"steps"`
	Config    WorkflowConfig `json:"config,omitempty"`
}
