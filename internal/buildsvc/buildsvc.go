// Package buildsvc runs stack-aware build commands inside project trees.
// The build step of a workflow is its only caller today, but the service
// stands alone: give it a project and it builds the working tree.
package buildsvc

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/common/logger"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

const (
	// defaultTimeout bounds one build invocation.
	defaultTimeout = 10 * time.Minute
	// termGrace is how long a cancelled build gets between SIGTERM and the
	// force kill.
	termGrace = 5 * time.Second
	// tailLines is how much output the result keeps for error reporting;
	// the full stream goes to the caller's sink.
	tailLines = 20
)

// buildCommands maps a project language to its build invocation. Frameworks
// share the language entry; the run-time distinction matters for sandboxes,
// not for builds.
var buildCommands = map[string]string{
	"javascript": "npm run build",
	"typescript": "npm run build",
	"python":     "python -m compileall -q .",
	"go":         "go build ./...",
	"rust":       "cargo build",
	"ruby":       "bundle install --quiet",
	"java":       "./mvnw -q compile",
}

// Options tune one build.
type Options struct {
	// Command overrides the language's build command.
	Command string
	// Env adds KEY=VALUE pairs to the build environment.
	Env map[string]string
}

// Result reports a finished build. A failed build is a Result with
// Success=false, not an error; the error return is reserved for builds
// that could not run at all.
type Result struct {
	Success  bool          `json:"success"`
	ExitCode int           `json:"exit_code"`
	Command  string        `json:"command"`
	Duration time.Duration `json:"duration"`
	// Tail holds the last captured output lines, stdout and stderr
	// interleaved in capture order.
	Tail []string `json:"tail,omitempty"`
}

// Service runs builds.
type Service struct {
	timeout time.Duration
	logger  *logger.Logger
}

// NewService creates the build service.
func NewService(log *logger.Logger) *Service {
	return &Service{
		timeout: defaultTimeout,
		logger:  log.WithFields(zap.String("component", "buildsvc")),
	}
}

// Build runs the project's build command in its working tree. Output lines
// are delivered to sink as they are captured; sink may be nil. Cancelling
// ctx sends the build SIGTERM and force-kills after a grace period.
func (s *Service) Build(ctx context.Context, proj *v1.Project, opts Options, sink func(line string)) (*Result, error) {
	if proj == nil {
		return nil, errors.Precondition("project is required")
	}
	if info, err := os.Stat(proj.LocalPath); err != nil || !info.IsDir() {
		return nil, errors.Precondition("project path does not exist").WithDetail("path", proj.LocalPath)
	}
	command, err := resolveCommand(proj, opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	prog, args := shellCommand(command)
	cmd := exec.CommandContext(ctx, prog, args...)
	cmd.Dir = proj.LocalPath
	cmd.Env = buildEnv(proj.ID, opts.Env)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = termGrace

	lw := newLineWriter(sink)
	cmd.Stdout = lw
	cmd.Stderr = lw

	start := time.Now()
	s.logger.Info("build started",
		zap.String("project_id", proj.ID),
		zap.String("command", command),
	)

	runErr := cmd.Run()
	lw.flush()
	duration := time.Since(start)

	result := &Result{
		Command:  command,
		Duration: duration,
		Tail:     lw.tail(),
	}
	switch {
	case runErr == nil:
		result.Success = true
	case ctx.Err() != nil:
		s.logger.Warn("build interrupted",
			zap.String("project_id", proj.ID),
			zap.Duration("duration", duration),
			zap.Error(ctx.Err()),
		)
		return nil, errors.FromContextErr(ctx.Err())
	default:
		exitErr, ok := runErr.(*exec.ExitError)
		if !ok {
			return nil, errors.External("running build command", runErr)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	s.logger.Info("build finished",
		zap.String("project_id", proj.ID),
		zap.Bool("success", result.Success),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", duration),
	)
	return result, nil
}

// resolveCommand picks the build command: explicit override first, then the
// language table.
func resolveCommand(proj *v1.Project, opts Options) (string, error) {
	if opts.Command != "" {
		return opts.Command, nil
	}
	lang := strings.ToLower(strings.TrimSpace(proj.Language))
	if command, ok := buildCommands[lang]; ok {
		return command, nil
	}
	return "", errors.Preconditionf("no build command for language %q", proj.Language)
}

func shellCommand(command string) (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/c", command}
	}
	return "sh", []string{"-lc", command}
}

func buildEnv(projectID string, extra map[string]string) []string {
	env := append(os.Environ(), "PROJECT_ID="+projectID)
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// lineWriter splits interleaved build output into lines. Stdout and stderr
// share one writer so capture order is preserved.
type lineWriter struct {
	sink func(string)

	mu      sync.Mutex
	pending []byte
	lines   []string
}

func newLineWriter(sink func(string)) *lineWriter {
	return &lineWriter{sink: sink}
}

func (w *lineWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, b...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		w.emit(strings.TrimRight(string(w.pending[:i]), "\r"))
		w.pending = w.pending[i+1:]
	}
	return len(b), nil
}

func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) > 0 {
		w.emit(strings.TrimRight(string(w.pending), "\r"))
		w.pending = nil
	}
}

func (w *lineWriter) emit(line string) {
	w.lines = append(w.lines, line)
	if len(w.lines) > tailLines {
		w.lines = w.lines[len(w.lines)-tailLines:]
	}
	if w.sink != nil {
		w.sink(line)
	}
}

func (w *lineWriter) tail() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.lines))
	copy(out, w.lines)
	return out
}
