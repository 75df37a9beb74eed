package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/devplane/devplane/internal/aiupdate"
	"github.com/devplane/devplane/internal/buildsvc"
	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/gitsync"
	"github.com/devplane/devplane/internal/sandbox"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// The engine drives the other services through narrow views so tests can
// stub them without a git binary, an LLM, or a container daemon.

type ProjectResolver interface {
	Resolve(ctx context.Context, id string) (*v1.Project, error)
}

type GitSyncer interface {
	Pull(ctx context.Context, path string) error
	CommitAndPush(ctx context.Context, path, branch, message string) (*gitsync.CommitPushResult, error)
}

type Updater interface {
	ApplyChat(ctx context.Context, projectID, root, prompt string, extra map[string]string) (*aiupdate.ChatResult, error)
}

type Builder interface {
	Build(ctx context.Context, proj *v1.Project, opts buildsvc.Options, sink func(line string)) (*buildsvc.Result, error)
}

type SandboxManager interface {
	Start(ctx context.Context, projectID string, opts sandbox.StartOptions) (*v1.SandboxInfo, error)
	Stop(ctx context.Context, projectID string) error
}

// runStep executes one step and returns a short result line for the step
// record. Step failures come back as classified errors; an ai_update that
// ran but did not succeed is converted to an error carrying the result's
// kind so the workflow inherits it.
func (e *Engine) runStep(ctx context.Context, wf *v1.Workflow, proj *v1.Project, step *v1.StepState, sink func(line string)) (string, error) {
	switch step.Name {
	case v1.StepSync:
		if err := e.git.Pull(ctx, proj.LocalPath); err != nil {
			return "", err
		}
		return "pulled latest changes", nil

	case v1.StepAIUpdate:
		res, err := e.updater.ApplyChat(ctx, proj.ID, proj.LocalPath, wf.Config.UpdatePrompt, wf.Config.UpdateContext)
		if err != nil {
			return "", err
		}
		if !res.Success {
			kind := res.ErrorKind
			if kind == "" {
				kind = errors.KindExternal
			}
			msg := "ai update failed"
			if res.Summary != "" {
				msg += ": " + res.Summary
			}
			return "", &errors.Error{Kind: kind, Message: msg}
		}
		if res.Summary != "" {
			return res.Summary, nil
		}
		return fmt.Sprintf("updated %d files", len(res.Files)), nil

	case v1.StepPush:
		res, err := e.git.CommitAndPush(ctx, proj.LocalPath, proj.Branch, wf.Config.CommitMessage)
		if err != nil {
			return "", err
		}
		if !res.Committed {
			return "nothing new to commit; pushed " + shortHash(res.CommitHash), nil
		}
		return "pushed " + shortHash(res.CommitHash), nil

	case v1.StepBuild:
		res, err := e.builder.Build(ctx, proj, buildsvc.Options{Env: wf.Config.Env}, sink)
		if err != nil {
			return "", err
		}
		if !res.Success {
			return "", errors.External(fmt.Sprintf("build failed with exit code %d", res.ExitCode), nil)
		}
		return fmt.Sprintf("build succeeded in %s", res.Duration.Round(time.Millisecond)), nil

	case v1.StepRun:
		info, err := e.sandboxes.Start(ctx, proj.ID, sandbox.StartOptions{Env: wf.Config.Env})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("sandbox running on port %d", info.HostPort), nil

	case v1.StepStop:
		if err := e.sandboxes.Stop(ctx, proj.ID); err != nil {
			return "", err
		}
		return "sandbox stopped", nil
	}

	// Submit validates step names, so reaching this means the stored
	// record was tampered with.
	return "", errors.Preconditionf("unknown step %q", step.Name)
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
