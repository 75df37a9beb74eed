package sandbox

import (
	"context"
	"os/exec"
	"sync"
	"time"
)

// ptyProc is one sandbox process running under a pseudo-terminal.
type ptyProc struct {
	cmd      *exec.Cmd
	ptmx     PtyHandle
	waitDone chan struct{} // closed when the reaper observed process exit

	mu       sync.Mutex
	exitCode int
}

// startPTYProcess runs command through the system shell in dir with env,
// attached to a PTY sized to match the virtual screen.
func startPTYProcess(command, dir string, env []string, cols, rows int) (*ptyProc, error) {
	prog, args := shellExecArgs(command)
	cmd := exec.Command(prog, args...)
	cmd.Dir = dir
	cmd.Env = env

	ptmx, err := startPTYWithSize(cmd, cols, rows)
	if err != nil {
		return nil, err
	}

	p := &ptyProc{
		cmd:      cmd,
		ptmx:     ptmx,
		waitDone: make(chan struct{}),
		exitCode: -1,
	}
	go p.reap()
	return p, nil
}

// reap waits for process exit and records the exit code. Wait is required
// to avoid zombies; a stuck process is unstuck by stop's kill escalation.
func (p *ptyProc) reap() {
	defer close(p.waitDone)
	code, _ := waitPtyProcess(p.cmd, p.ptmx)
	p.mu.Lock()
	p.exitCode = code
	p.mu.Unlock()
}

// alive reports whether the process has not been reaped yet.
func (p *ptyProc) alive() bool {
	select {
	case <-p.waitDone:
		return false
	default:
		return true
	}
}

// stop terminates the process: polite signal first, then a force kill once
// grace elapses. Returns after the process has been reaped or ctx ends.
func (p *ptyProc) stop(ctx context.Context, grace time.Duration) {
	if p.cmd.Process != nil {
		_ = terminateProcess(p.cmd.Process)

		select {
		case <-p.waitDone:
		case <-time.After(grace):
			_ = p.cmd.Process.Kill()
		case <-ctx.Done():
			_ = p.cmd.Process.Kill()
		}
	}

	// Reads on the master fail once closed, ending the output reader.
	_ = p.ptmx.Close()

	select {
	case <-p.waitDone:
	case <-time.After(2 * time.Second):
	}
}
