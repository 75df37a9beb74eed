//go:build !windows

package sandbox

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
)

// unixPTY wraps a Unix PTY master file descriptor.
type unixPTY struct {
	f *os.File
}

func (p *unixPTY) Read(b []byte) (int, error)  { return p.f.Read(b) }
func (p *unixPTY) Write(b []byte) (int, error) { return p.f.Write(b) }
func (p *unixPTY) Close() error                { return p.f.Close() }

func (p *unixPTY) Resize(cols, rows uint16) error {
	return pty.Setsize(p.f, &pty.Winsize{Cols: cols, Rows: rows})
}

// startPTYWithSize starts the command in a Unix PTY at the given dimensions.
// pty.StartWithSize calls cmd.Start internally.
func startPTYWithSize(cmd *exec.Cmd, cols, rows int) (PtyHandle, error) {
	f, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
	if err != nil {
		return nil, err
	}
	return &unixPTY{f: f}, nil
}

// shellExecArgs returns the program and arguments to run a command string
// through the system shell. Unix: sh -lc "command".
func shellExecArgs(command string) (prog string, args []string) {
	return "sh", []string{"-lc", command}
}

// terminateProcess sends SIGTERM for polite shutdown.
func terminateProcess(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}

// waitPtyProcess waits for the PTY process to exit and returns exit info.
// On Unix cmd.Wait inspects WaitStatus so a signal death reports 128+signum.
func waitPtyProcess(cmd *exec.Cmd, _ PtyHandle) (exitCode int, err error) {
	err = cmd.Wait()
	if err == nil {
		return 0, nil
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return 1, err
	}
	waitStatus, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return 1, err
	}
	if waitStatus.Signaled() {
		return 128 + int(waitStatus.Signal()), err
	}
	return waitStatus.ExitStatus(), err
}
