// Package events provides event types and utilities for the devplane event system.
package events

// Event types for projects
const (
	ProjectCreated = "project.created"
	ProjectUpdated = "project.updated"
	ProjectDeleted = "project.deleted"
	ProjectOpened  = "project.opened"
)

// Event types for workflows
const (
	WorkflowSubmitted    = "workflow.submitted"
	WorkflowStateChanged = "workflow.state_changed"
	WorkflowStepStarted  = "workflow.step.started"
	WorkflowStepFinished = "workflow.step.finished"
	WorkflowLog          = "workflow.log" // Base subject for workflow log streams
)

// Event types for sandboxes
const (
	SandboxStarted = "sandbox.started"
	SandboxStopped = "sandbox.stopped"
	SandboxAdopted = "sandbox.adopted"
	SandboxOutput  = "sandbox.output" // Base subject for sandbox output streams
)

// Event types for swarm tasks
const (
	SwarmTaskSubmitted = "swarm.task.submitted"
	SwarmTaskCompleted = "swarm.task.completed"
	SwarmTaskFailed    = "swarm.task.failed"
	SwarmNodeFinished  = "swarm.node.finished"
)

// Event types for the blackboard
const (
	BlackboardUpdated = "blackboard.updated"
	BlackboardDeleted = "blackboard.deleted"
)

// Event types for the cost ledger
const (
	CostRecorded = "cost.recorded"
)

// WorkerSubjectPrefix is the prefix for worker task queues. Workers
// queue-subscribe on the full subject so each enqueued task is handled
// by exactly one member of the group.
const WorkerSubjectPrefix = "worker:"

// BuildWorkerSubject creates the queue subject for a task type
func BuildWorkerSubject(taskType string) string {
	return WorkerSubjectPrefix + taskType
}

// BuildWorkflowStateSubject creates a state change subject for a specific workflow
func BuildWorkflowStateSubject(workflowID string) string {
	return WorkflowStateChanged + "." + workflowID
}

// BuildWorkflowStateWildcardSubject creates a wildcard subscription for all workflow state changes
func BuildWorkflowStateWildcardSubject() string {
	return WorkflowStateChanged + ".*"
}

// BuildWorkflowLogSubject creates a log subject for a specific workflow
func BuildWorkflowLogSubject(workflowID string) string {
	return WorkflowLog + "." + workflowID
}

// BuildWorkflowLogWildcardSubject creates a wildcard subscription for all workflow log events
func BuildWorkflowLogWildcardSubject() string {
	return WorkflowLog + ".*"
}

// BuildSandboxOutputSubject creates an output subject for a specific project's sandbox
func BuildSandboxOutputSubject(projectID string) string {
	return SandboxOutput + "." + projectID
}

// BuildSandboxOutputWildcardSubject creates a wildcard subscription for all sandbox output events
func BuildSandboxOutputWildcardSubject() string {
	return SandboxOutput + ".*"
}

// BuildSwarmNodeSubject creates a node completion subject for a specific swarm task
func BuildSwarmNodeSubject(taskID string) string {
	return SwarmNodeFinished + "." + taskID
}

// BuildSwarmNodeWildcardSubject creates a wildcard subscription for all swarm node events
func BuildSwarmNodeWildcardSubject() string {
	return SwarmNodeFinished + ".*"
}

// BuildBlackboardSubject creates an update subject for a specific blackboard key.
// Keys may contain ':' separators; they form a single subject token.
func BuildBlackboardSubject(key string) string {
	return BlackboardUpdated + "." + key
}

// BuildBlackboardWildcardSubject creates a wildcard subscription for all blackboard updates
func BuildBlackboardWildcardSubject() string {
	return BlackboardUpdated + ".*"
}
