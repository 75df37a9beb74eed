//go:build windows

package sandbox

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/UserExistsError/conpty"
)

// windowsPTY wraps a Windows ConPTY pseudo-console.
type windowsPTY struct {
	cpty *conpty.ConPty
}

func (p *windowsPTY) Read(b []byte) (int, error)  { return p.cpty.Read(b) }
func (p *windowsPTY) Write(b []byte) (int, error) { return p.cpty.Write(b) }
func (p *windowsPTY) Close() error                { return p.cpty.Close() }

func (p *windowsPTY) Resize(cols, rows uint16) error {
	return p.cpty.Resize(int(cols), int(rows))
}

// startPTYWithSize starts the command in a Windows ConPTY. ConPTY creates
// the process itself from a single command line, so the exec.Cmd arguments
// are re-quoted and cmd.Process is backfilled afterwards for lifecycle
// management.
func startPTYWithSize(cmd *exec.Cmd, cols, rows int) (PtyHandle, error) {
	cmdLine := buildCmdLine(cmd.Args)
	if len(cmd.Args) == 0 {
		cmdLine = escapeArg(cmd.Path)
	}

	opts := []conpty.ConPtyOption{
		conpty.ConPtyDimensions(cols, rows),
	}
	if cmd.Dir != "" {
		opts = append(opts, conpty.ConPtyWorkDir(cmd.Dir))
	}
	if cmd.Env != nil {
		opts = append(opts, conpty.ConPtyEnv(cmd.Env))
	}

	cpty, err := conpty.Start(cmdLine, opts...)
	if err != nil {
		return nil, err
	}

	pid := cpty.Pid()
	proc, err := os.FindProcess(int(pid))
	if err != nil {
		_ = cpty.Close()
		return nil, fmt.Errorf("failed to find ConPTY process %d: %w", pid, err)
	}
	cmd.Process = proc

	return &windowsPTY{cpty: cpty}, nil
}

// shellExecArgs returns the program and arguments to run a command string
// through the system shell. Windows: cmd /c "command".
func shellExecArgs(command string) (prog string, args []string) {
	return "cmd", []string{"/c", command}
}

// terminateProcess kills the process. Windows has no SIGTERM equivalent, so
// polite shutdown and force kill collapse into one step.
func terminateProcess(p *os.Process) error {
	return p.Kill()
}

// waitPtyProcess waits for the PTY process to exit and returns exit info.
// Uses cmd.Process.Wait since the process was started via ConPTY rather
// than cmd.Start.
func waitPtyProcess(cmd *exec.Cmd, _ PtyHandle) (exitCode int, err error) {
	state, err := cmd.Process.Wait()
	if err != nil {
		return 1, err
	}
	code := state.ExitCode()
	if code != 0 {
		return code, &exec.ExitError{ProcessState: state}
	}
	return 0, nil
}
