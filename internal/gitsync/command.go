package gitsync

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/common/errors"
)

// Per-operation timeouts. Network-facing calls get the long budgets;
// everything local settles quickly or is wedged.
const (
	cloneTimeout = 300 * time.Second
	pullTimeout  = 60 * time.Second
	pushTimeout  = 120 * time.Second
	localTimeout = 30 * time.Second
)

// Retry policy for network operations.
const (
	retryAttempts = 3
	retryBase     = 2 * time.Second
)

// runGit executes one git invocation rooted at dir (empty dir for
// commands like clone that name their own target). Output and errors
// are scrubbed before they can reach any log or caller.
func (s *Service) runGit(ctx context.Context, dir string, timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	full := make([]string, 0, len(args)+4)
	if dir != "" {
		full = append(full, "-C", dir)
	}
	// Never consult or populate a credential store.
	full = append(full, "-c", "credential.helper=")
	full = append(full, args...)

	cmd := exec.CommandContext(ctx, "git", full...)
	// A remote that wants credentials must fail, not prompt.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := strings.TrimRight(stdout.String(), "\n")
	errOut := s.redactor.Redact(strings.TrimSpace(stderr.String()))

	if err == nil {
		return out, nil
	}

	if ctx.Err() != nil {
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return out, errors.Timeout("git " + firstArg(args) + " timed out")
		}
		return out, errors.Cancelled("git " + firstArg(args) + " cancelled")
	}

	s.logger.Warn("git command failed",
		zap.String("op", firstArg(args)),
		zap.String("dir", dir),
		zap.String("stderr", truncate(errOut, 500)))
	return out, errors.External("git "+firstArg(args)+" failed", nil).
		WithDetail("stderr", truncate(errOut, 500))
}

// runGitRetry wraps runGit with the network retry policy: exponential
// backoff starting at retryBase, at most retryAttempts tries. Local
// failures (timeouts excepted) and cancellations do not retry.
func (s *Service) runGitRetry(ctx context.Context, dir string, timeout time.Duration, args ...string) (string, error) {
	var out string
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		out, err = s.runGit(ctx, dir, timeout, args...)
		if err == nil {
			return out, nil
		}
		kind := errors.KindOf(err)
		if kind != errors.KindExternal && kind != errors.KindTimeout {
			return out, err
		}
		if attempt == retryAttempts {
			break
		}

		backoff := retryBase << (attempt - 1)
		s.logger.Warn("git network operation failed, retrying",
			zap.String("op", firstArg(args)),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return out, errors.FromContextErr(ctx.Err())
		}
	}
	return out, err
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
