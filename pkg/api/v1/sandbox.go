package v1

import "time"

// SandboxBackend selects how a sandbox is realized.
type SandboxBackend string

const (
	BackendContainer SandboxBackend = "CONTAINER"
	BackendLocalPTY  SandboxBackend = "LOCAL_PTY"
)

// SandboxState represents the lifecycle state of a sandbox.
type SandboxState string

const (
	SandboxProvisioning SandboxState = "PROVISIONING"
	SandboxRunning      SandboxState = "RUNNING"
	SandboxStopping     SandboxState = "STOPPING"
	SandboxStopped      SandboxState = "STOPPED"
	SandboxFailed       SandboxState = "FAILED"
)

// Active reports whether the state counts against the one-active-sandbox-
// per-project limit.
func (s SandboxState) Active() bool {
	switch s {
	case SandboxProvisioning, SandboxRunning, SandboxStopping:
		return true
	}
	return false
}

// SandboxInfo describes one runtime environment attached to a project.
type SandboxInfo struct {
	ID           string         `json:"id"`
	ProjectID    string         `json:"project_id"`
	Backend      SandboxBackend `json:"backend"`
	Image        string         `json:"image,omitempty"`
	Shell        string         `json:"shell,omitempty"`
	HostPort     int            `json:"host_port"`
	InternalPort int            `json:"internal_port"`
	State        SandboxState   `json:"state"`
	StartedAt    time.Time      `json:"started_at"`
	LogFile      string         `json:"log_file"`
}

// ExecResult is the outcome of running a command inside a sandbox.
type ExecResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// StartSandboxRequest configures a sandbox start. Everything is optional;
// an empty backend falls back to the server's configured default.
type StartSandboxRequest struct {
	Backend SandboxBackend    `json:"backend,omitempty"`
	Command string            `json:"command,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// ExecRequest runs one command inside a project's active sandbox.
type ExecRequest struct {
	Command string `json:"command" binding:"required"`
}
