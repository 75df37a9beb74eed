// Package sandbox runs at most one isolated runtime per project: a labeled
// container when the Docker daemon is reachable, a local PTY process
// otherwise. The supervisor owns port allocation, output capture, and the
// PROVISIONING → RUNNING → STOPPING → STOPPED lifecycle.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/common/config"
	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/common/portutil"
	"github.com/devplane/devplane/internal/events"
	"github.com/devplane/devplane/internal/events/bus"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

const (
	// workspaceMount is where a container sandbox sees the project tree.
	workspaceMount = "/workspace"

	containerStartTimeout = 120 * time.Second
	defaultGrace          = 5 * time.Second

	// failedRetention is the observable window a FAILED entry stays
	// queryable before the supervisor drops it.
	failedRetention = 30 * time.Second
)

// ProjectResolver supplies the project metadata the supervisor needs for
// mounts, stack resolution, and adoption decisions.
type ProjectResolver interface {
	Resolve(ctx context.Context, id string) (*v1.Project, error)
}

// StartOptions tune one sandbox start. The zero value picks the container
// backend when available and the stack's default run command.
type StartOptions struct {
	// Backend forces LOCAL_PTY when set to it; CONTAINER requests are
	// still subject to daemon availability.
	Backend v1.SandboxBackend
	// Command overrides the stack's run command.
	Command string
	// Env adds KEY=VALUE pairs on top of the stack env.
	Env map[string]string
}

// sandbox is one live runtime entry. Exactly one of containerID / proc is
// set, matching the index the entry lives in.
type sandbox struct {
	mu       sync.Mutex
	info     v1.SandboxInfo
	detached bool // supervisor let go of a still-running container

	ring    *logRing
	screen  *screen // PTY backend only
	logFile *os.File
	workDir string
	env     []string

	containerID string
	proc        *ptyProc
	reservation *portutil.Reservation

	logCancel  context.CancelFunc // ends the container log follower
	readerDone chan struct{}      // closed when the output reader exits
}

func (sb *sandbox) state() v1.SandboxState {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.info.State
}

func (sb *sandbox) setState(st v1.SandboxState) {
	sb.mu.Lock()
	sb.info.State = st
	sb.mu.Unlock()
}

func (sb *sandbox) snapshot() v1.SandboxInfo {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.info
}

// Supervisor manages the sandboxes of all projects on this node.
//
// Container-backed and PTY-backed sandboxes live in two disjoint indexes;
// a project id is present in at most one of them at any time. Start and
// stop for one project are serialized by a per-project mutex so contention
// resolves to ALREADY_RUNNING instead of a duplicate runtime.
type Supervisor struct {
	cfg         config.SandboxConfig
	storageRoot string
	stacks      *StackTable
	docker      *ContainerClient // nil when the container backend is unavailable
	projects    ProjectResolver
	eventBus    bus.EventBus
	logger      *logger.Logger

	mu         sync.Mutex
	containers map[string]*sandbox // project id → container-backed entry
	ptys       map[string]*sandbox // project id → PTY-backed entry
	ports      map[int]string      // held host port → project id

	projectMus sync.Map // project id → *sync.Mutex
	failedTTL  time.Duration
}

// NewSupervisor creates a supervisor. docker may be nil; every start then
// falls back to the PTY backend.
func NewSupervisor(cfg config.SandboxConfig, storage config.StorageConfig, stacks *StackTable, docker *ContainerClient, projects ProjectResolver, eventBus bus.EventBus, log *logger.Logger) *Supervisor {
	return &Supervisor{
		cfg:         cfg,
		storageRoot: storage.Root,
		stacks:      stacks,
		docker:      docker,
		projects:    projects,
		eventBus:    eventBus,
		logger:      log.WithFields(zap.String("component", "sandbox")),
		containers:  make(map[string]*sandbox),
		ptys:        make(map[string]*sandbox),
		ports:       make(map[int]string),
		failedTTL:   failedRetention,
	}
}

func (s *Supervisor) projectMu(projectID string) *sync.Mutex {
	mu, _ := s.projectMus.LoadOrStore(projectID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Start provisions a runtime for the project. The stack table maps the
// project's language and framework to an image and run command; the host
// port comes from binding port 0 and is held until it is bound into the
// sandbox. A second start while any sandbox of the project is active
// returns ALREADY_RUNNING.
func (s *Supervisor) Start(ctx context.Context, projectID string, opts StartOptions) (*v1.SandboxInfo, error) {
	if projectID == "" {
		return nil, errors.Precondition("project id is required")
	}
	proj, err := s.projects.Resolve(ctx, projectID)
	if err != nil {
		return nil, err
	}

	mu := s.projectMu(projectID)
	mu.Lock()
	defer mu.Unlock()

	if existing := s.lookup(projectID); existing != nil {
		if existing.state().Active() {
			return nil, errors.AlreadyRunning("sandbox", projectID)
		}
		// Terminal leftover still inside its observable window; a new
		// start replaces it.
		s.unindex(projectID)
	}

	stack, err := s.stacks.Resolve(proj.Language, proj.Framework)
	if err != nil {
		return nil, err
	}
	command := stack.Command
	if opts.Command != "" {
		command = opts.Command
	}

	res, err := portutil.Reserve()
	if err != nil {
		return nil, errors.Internal("reserving sandbox port", err)
	}

	backend := v1.BackendLocalPTY
	if opts.Backend != v1.BackendLocalPTY && s.containerAvailable(ctx) {
		backend = v1.BackendContainer
	}

	sb := &sandbox{
		info: v1.SandboxInfo{
			ID:           uuid.New().String(),
			ProjectID:    projectID,
			Backend:      backend,
			HostPort:     res.Port,
			InternalPort: s.cfg.InternalPort,
			State:        v1.SandboxProvisioning,
			StartedAt:    time.Now().UTC(),
			LogFile:      s.logFilePath(projectID),
		},
		ring:        newLogRing(0),
		workDir:     proj.LocalPath,
		reservation: res,
	}
	if backend == v1.BackendContainer {
		sb.info.Image = stack.Image
	} else {
		sb.info.Shell = command
		// No port mapping without a container; the app binds the host
		// port directly.
		sb.info.InternalPort = res.Port
	}
	s.index(sb)

	if backend == v1.BackendContainer {
		err = s.provisionContainer(ctx, sb, proj, stack, command, opts)
	} else {
		err = s.provisionPTY(sb, proj, stack, command, opts)
	}
	if err != nil {
		res.Release()
		s.fail(sb, err)
		return nil, err
	}

	s.logger.Info("sandbox started",
		zap.String("project_id", projectID),
		zap.String("sandbox_id", sb.info.ID),
		zap.String("backend", string(backend)),
		zap.Int("host_port", sb.info.HostPort),
	)
	s.publishEvent(ctx, events.SandboxStarted, sb)

	info := sb.snapshot()
	return &info, nil
}

// containerAvailable probes the daemon. Availability is re-checked per
// start so a daemon that comes and goes only affects new sandboxes.
func (s *Supervisor) containerAvailable(ctx context.Context) bool {
	if s.docker == nil {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.docker.Ping(pingCtx); err != nil {
		s.logger.Warn("container backend unavailable, falling back to PTY", zap.Error(err))
		return false
	}
	return true
}

func (s *Supervisor) provisionContainer(ctx context.Context, sb *sandbox, proj *v1.Project, stack Stack, command string, opts StartOptions) error {
	logFile, err := s.openLogFile(proj.ID)
	if err != nil {
		return err
	}
	sb.logFile = logFile

	internalPort := s.cfg.InternalPort
	if internalPort <= 0 {
		internalPort = 3000
	}
	env := buildEnv(proj.ID, stack, opts, internalPort)
	prog, args := shellExecArgs(command)

	spec := ContainerSpec{
		Name:         "devplane-sandbox-" + proj.ID,
		Image:        stack.Image,
		Cmd:          append([]string{prog}, args...),
		Env:          env,
		WorkingDir:   workspaceMount,
		MountSource:  proj.LocalPath,
		Labels:       sandboxLabels(proj.ID),
		HostPort:     sb.info.HostPort,
		InternalPort: internalPort,
	}

	// The reservation is released only here, when the port is handed to
	// the container's binding.
	sb.reservation.Release()

	startCtx, cancel := context.WithTimeout(ctx, containerStartTimeout)
	defer cancel()

	id, err := s.docker.CreateSandbox(startCtx, spec)
	if err != nil {
		return errors.External("creating sandbox container", err)
	}
	sb.containerID = id

	if err := s.docker.Start(startCtx, id); err != nil {
		_ = s.docker.Remove(context.Background(), id, true)
		return errors.External("starting sandbox container", err)
	}

	// State must be RUNNING before the reader starts, or an instant exit
	// would be observed while still PROVISIONING and never land in FAILED.
	sb.setState(v1.SandboxRunning)
	s.followContainer(sb)
	return nil
}

// followContainer attaches the output reader to a running container. A
// follow failure degrades logs but does not fail the sandbox.
func (s *Supervisor) followContainer(sb *sandbox) {
	logCtx, cancel := context.WithCancel(context.Background())
	sb.logCancel = cancel

	reader, err := s.docker.Logs(logCtx, sb.containerID, true, "0")
	if err != nil {
		s.logger.Warn("failed to follow sandbox logs",
			zap.String("project_id", sb.info.ProjectID),
			zap.Error(err),
		)
		cancel()
		return
	}

	sb.readerDone = make(chan struct{})
	go func() {
		defer close(sb.readerDone)
		pump := newOutputPump(sb.ring, sb.logFile, nil)
		_ = demuxFrames(reader, pump, pump)
		pump.flush()
		_ = reader.Close()
		s.onExit(sb)
	}()
}

func (s *Supervisor) provisionPTY(sb *sandbox, proj *v1.Project, stack Stack, command string, opts StartOptions) error {
	logFile, err := s.openLogFile(proj.ID)
	if err != nil {
		return err
	}
	sb.logFile = logFile
	sb.screen = newScreen(screenCols, screenRows)

	// PTY sandboxes inherit the supervisor environment so toolchains on
	// PATH keep working; stack env layers on top.
	env := append(os.Environ(), buildEnv(proj.ID, stack, opts, sb.info.HostPort)...)
	sb.env = env

	// Handed to the app now; it binds the host port itself via $PORT.
	sb.reservation.Release()

	proc, err := startPTYProcess(command, proj.LocalPath, env, screenCols, screenRows)
	if err != nil {
		return errors.External("starting sandbox process", err)
	}
	sb.proc = proc
	sb.setState(v1.SandboxRunning)

	sb.readerDone = make(chan struct{})
	go func() {
		defer close(sb.readerDone)
		pump := newOutputPump(sb.ring, sb.logFile, sb.screen)
		_, _ = io.Copy(pump, proc.ptmx)
		pump.flush()
		s.onExit(sb)
	}()
	return nil
}

// onExit runs when a sandbox's output stream ends. An exit while RUNNING is
// unexpected and moves the entry to FAILED; the stop path owns all other
// transitions.
func (s *Supervisor) onExit(sb *sandbox) {
	sb.mu.Lock()
	skip := sb.detached || sb.info.State != v1.SandboxRunning
	sb.mu.Unlock()
	if skip {
		return
	}
	s.logger.Warn("sandbox exited unexpectedly",
		zap.String("project_id", sb.info.ProjectID),
		zap.String("sandbox_id", sb.info.ID),
	)
	s.fail(sb, nil)
	s.publishEvent(context.Background(), events.SandboxStopped, sb)
}

// fail moves a sandbox to FAILED, releases its resources, and schedules
// removal of the entry after the observable window.
func (s *Supervisor) fail(sb *sandbox, cause error) {
	sb.setState(v1.SandboxFailed)
	if cause != nil {
		s.logger.Warn("sandbox failed",
			zap.String("project_id", sb.info.ProjectID),
			zap.String("sandbox_id", sb.info.ID),
			zap.Error(cause),
		)
	}
	s.releasePort(sb)
	sb.ring.close()
	if sb.logFile != nil {
		_ = sb.logFile.Close()
	}

	projectID, sandboxID := sb.info.ProjectID, sb.info.ID
	time.AfterFunc(s.failedTTL, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.containers[projectID]; ok && cur.info.ID == sandboxID {
			delete(s.containers, projectID)
		}
		if cur, ok := s.ptys[projectID]; ok && cur.info.ID == sandboxID {
			delete(s.ptys, projectID)
		}
	})
}

// Stop tears the project's sandbox down: polite termination, the grace
// period, then force kill. The held port is released and the entry removed.
func (s *Supervisor) Stop(ctx context.Context, projectID string) error {
	mu := s.projectMu(projectID)
	mu.Lock()
	defer mu.Unlock()

	sb := s.lookup(projectID)
	if sb == nil || !sb.state().Active() {
		return errors.Preconditionf("no active sandbox for project %s", projectID)
	}

	sb.setState(v1.SandboxStopping)
	grace := s.cfg.Grace()
	if grace <= 0 {
		grace = defaultGrace
	}

	switch sb.info.Backend {
	case v1.BackendContainer:
		if err := s.docker.Stop(ctx, sb.containerID, grace); err != nil {
			if rmErr := s.docker.Remove(ctx, sb.containerID, true); rmErr != nil {
				s.fail(sb, err)
				return errors.External("stopping sandbox container", err)
			}
		} else if err := s.docker.Remove(ctx, sb.containerID, false); err != nil {
			s.logger.Warn("failed to remove stopped container",
				zap.String("container_id", sb.containerID),
				zap.Error(err),
			)
		}
		if sb.logCancel != nil {
			sb.logCancel()
		}
	case v1.BackendLocalPTY:
		sb.proc.stop(ctx, grace)
	}

	if sb.readerDone != nil {
		select {
		case <-sb.readerDone:
		case <-time.After(2 * time.Second):
		}
	}

	sb.setState(v1.SandboxStopped)
	s.unindex(projectID)
	sb.ring.close()
	if sb.logFile != nil {
		_ = sb.logFile.Close()
	}

	s.logger.Info("sandbox stopped",
		zap.String("project_id", projectID),
		zap.String("sandbox_id", sb.info.ID),
	)
	s.publishEvent(ctx, events.SandboxStopped, sb)
	return nil
}

// Exec runs a command inside the project's running sandbox: docker exec in
// the workspace for containers, a sibling shell process in the project tree
// for PTY sandboxes.
func (s *Supervisor) Exec(ctx context.Context, projectID, command string) (*v1.ExecResult, error) {
	if command == "" {
		return nil, errors.Precondition("command is required")
	}
	sb := s.lookup(projectID)
	if sb == nil || sb.state() != v1.SandboxRunning {
		return nil, errors.Preconditionf("no running sandbox for project %s", projectID)
	}

	prog, args := shellExecArgs(command)
	if sb.info.Backend == v1.BackendContainer {
		res, err := s.docker.Exec(ctx, sb.containerID, append([]string{prog}, args...), workspaceMount)
		if err != nil {
			if ctxErr := errors.FromContextErr(ctx.Err()); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, errors.External("exec in sandbox container", err)
		}
		return res, nil
	}

	cmd := exec.CommandContext(ctx, prog, args...)
	cmd.Dir = sb.workDir
	cmd.Env = sb.env
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &v1.ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		if ctxErr := errors.FromContextErr(ctx.Err()); ctxErr != nil {
			return nil, ctxErr
		}
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return nil, errors.External("exec in sandbox", err)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return result, nil
}

// Logs returns the last n captured lines. Container sandboxes report raw
// stdout+stderr in capture order; PTY sandboxes report the rendered screen
// so TUI output comes back as readable lines, not control sequences.
func (s *Supervisor) Logs(projectID string, n int) ([]string, error) {
	sb := s.lookup(projectID)
	if sb == nil {
		return nil, errors.Preconditionf("no active sandbox for project %s", projectID)
	}
	if sb.info.Backend == v1.BackendLocalPTY && sb.screen != nil {
		lines := sb.screen.Lines()
		if n > 0 && len(lines) > n {
			lines = lines[len(lines)-n:]
		}
		return lines, nil
	}
	return sb.ring.last(n), nil
}

// StreamLogs subscribes to output lines from now on. There is no history
// replay; a dropped consumer simply resubscribes. The channel closes when
// the sandbox goes away or cancel is called.
func (s *Supervisor) StreamLogs(projectID string) (<-chan string, func(), error) {
	sb := s.lookup(projectID)
	if sb == nil || !sb.state().Active() {
		return nil, nil, errors.Preconditionf("no active sandbox for project %s", projectID)
	}
	ch, cancel := sb.ring.subscribe()
	return ch, cancel, nil
}

// Get returns the sandbox entry for a project, including terminal entries
// still inside their observable window.
func (s *Supervisor) Get(projectID string) (*v1.SandboxInfo, error) {
	sb := s.lookup(projectID)
	if sb == nil {
		return nil, errors.NotFound("sandbox", projectID)
	}
	info := sb.snapshot()
	return &info, nil
}

// List returns all known sandbox entries ordered by project id.
func (s *Supervisor) List() []*v1.SandboxInfo {
	s.mu.Lock()
	entries := make([]*sandbox, 0, len(s.containers)+len(s.ptys))
	for _, sb := range s.containers {
		entries = append(entries, sb)
	}
	for _, sb := range s.ptys {
		entries = append(entries, sb)
	}
	s.mu.Unlock()

	out := make([]*v1.SandboxInfo, 0, len(entries))
	for _, sb := range entries {
		info := sb.snapshot()
		out = append(out, &info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProjectID < out[j].ProjectID })
	return out
}

// HeldPorts returns the host ports the supervisor currently holds.
func (s *Supervisor) HeldPorts() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.ports))
	for p := range s.ports {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// Shutdown stops PTY sandboxes, which cannot outlive the supervisor
// process, and detaches from container sandboxes without stopping them so a
// restarted supervisor can adopt them by label.
func (s *Supervisor) Shutdown(ctx context.Context) {
	for _, info := range s.List() {
		switch info.Backend {
		case v1.BackendLocalPTY:
			if err := s.Stop(ctx, info.ProjectID); err != nil && !errors.IsPrecondition(err) {
				s.logger.Warn("failed to stop sandbox during shutdown",
					zap.String("project_id", info.ProjectID),
					zap.Error(err),
				)
			}
		case v1.BackendContainer:
			s.detach(info.ProjectID)
		}
	}
}

// detach drops a container sandbox from tracking without touching the
// container itself.
func (s *Supervisor) detach(projectID string) {
	sb := s.lookup(projectID)
	if sb == nil {
		return
	}
	sb.mu.Lock()
	sb.detached = true
	sb.mu.Unlock()
	if sb.logCancel != nil {
		sb.logCancel()
	}
	if sb.readerDone != nil {
		select {
		case <-sb.readerDone:
		case <-time.After(2 * time.Second):
		}
	}
	s.unindex(projectID)
	sb.ring.close()
	if sb.logFile != nil {
		_ = sb.logFile.Close()
	}
}

func (s *Supervisor) lookup(projectID string) *sandbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sb, ok := s.containers[projectID]; ok {
		return sb
	}
	if sb, ok := s.ptys[projectID]; ok {
		return sb
	}
	return nil
}

// index records a sandbox in the backend's map and the port cache. A
// project is never left in both maps.
func (s *Supervisor) index(sb *sandbox) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.containers, sb.info.ProjectID)
	delete(s.ptys, sb.info.ProjectID)
	if sb.info.Backend == v1.BackendContainer {
		s.containers[sb.info.ProjectID] = sb
	} else {
		s.ptys[sb.info.ProjectID] = sb
	}
	if sb.info.HostPort > 0 {
		s.ports[sb.info.HostPort] = sb.info.ProjectID
	}
}

func (s *Supervisor) unindex(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.containers, projectID)
	delete(s.ptys, projectID)
	for port, pid := range s.ports {
		if pid == projectID {
			delete(s.ports, port)
		}
	}
}

func (s *Supervisor) releasePort(sb *sandbox) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ports, sb.info.HostPort)
}

func (s *Supervisor) logFilePath(projectID string) string {
	return filepath.Join(s.storageRoot, projectID, ".sandbox", "app.log")
}

// openLogFile opens the project's append-only sandbox log.
func (s *Supervisor) openLogFile(projectID string) (*os.File, error) {
	path := s.logFilePath(projectID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Internal("creating sandbox log directory", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Internal("opening sandbox log file", err)
	}
	return f, nil
}

// buildEnv assembles the sandbox environment: the orchestrator markers,
// the port, the stack's language flags, then caller extras in sorted order.
func buildEnv(projectID string, stack Stack, opts StartOptions, port int) []string {
	env := []string{
		"ORCH_SANDBOX=true",
		"PROJECT_ID=" + projectID,
		fmt.Sprintf("PORT=%d", port),
	}
	env = append(env, stack.Env...)

	keys := make([]string, 0, len(opts.Env))
	for k := range opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+opts.Env[k])
	}
	return env
}

func (s *Supervisor) publishEvent(ctx context.Context, eventType string, sb *sandbox) {
	if s.eventBus == nil {
		return
	}
	info := sb.snapshot()
	event := bus.NewEvent(eventType, "sandbox-supervisor", map[string]interface{}{
		"sandbox_id": info.ID,
		"project_id": info.ProjectID,
		"backend":    string(info.Backend),
		"state":      string(info.State),
		"host_port":  info.HostPort,
	})
	if err := s.eventBus.Publish(ctx, eventType, event); err != nil {
		s.logger.Warn("failed to publish sandbox event", zap.String("type", eventType), zap.Error(err))
	}
}
