package aiupdate

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/swarm"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// Agent is the slice of the swarm dispatcher this service needs.
type Agent interface {
	Act(ctx context.Context, task *v1.AgentTask) (*swarm.ActResult, error)
}

// ChatResult reports an applyChat outcome. Operation failures are
// encoded here, not raised: the error return is reserved for malformed
// calls.
type ChatResult struct {
	Success   bool         `json:"success"`
	Summary   string       `json:"summary,omitempty"`
	Files     []FileChange `json:"files,omitempty"`
	ErrorKind errors.Kind  `json:"error_kind,omitempty"`
}

// InlineResult reports an applyInline outcome.
type InlineResult struct {
	Success    bool        `json:"success"`
	NewContent string      `json:"new_content,omitempty"`
	ErrorKind  errors.Kind `json:"error_kind,omitempty"`
}

// Service applies agent mutations to workspaces.
type Service struct {
	agent  Agent
	logger *logger.Logger
}

// NewService creates the AI update service.
func NewService(agent Agent, log *logger.Logger) *Service {
	return &Service{
		agent:  agent,
		logger: log.WithFields(zap.String("component", "aiupdate")),
	}
}

// ApplyChat sends the prompt to the agent swarm and applies every
// parsed FILE block under root. Each write is atomic; on a failed write
// the files already applied remain and the result carries the first
// failure's kind.
func (s *Service) ApplyChat(ctx context.Context, projectID, root, prompt string, extra map[string]string) (*ChatResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, errors.Precondition("prompt is required")
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, errors.Precondition("workspace root does not exist")
	}

	task := &v1.AgentTask{
		Kind:    ClassifyPrompt(prompt),
		Prompt:  prompt,
		Context: chatContext(extra),
	}
	res, err := s.agent.Act(ctx, task)
	if err != nil {
		s.logger.Warn("agent act failed",
			zap.String("project_id", projectID),
			zap.String("kind", string(task.Kind)),
			zap.Error(err))
		return &ChatResult{Success: false, ErrorKind: errors.KindOf(err)}, nil
	}

	changes := ParseFileBlocks(res.Solution)
	written := make([]FileChange, 0, len(changes))
	for _, change := range changes {
		full, resolveErr := resolveWithinRoot(root, change.Path)
		if resolveErr != nil {
			s.logger.Warn("agent path rejected",
				zap.String("project_id", projectID),
				zap.String("path", change.Path))
			return &ChatResult{
				Success:   false,
				Files:     written,
				ErrorKind: errors.KindOf(resolveErr),
			}, nil
		}
		if writeErr := writeFileAtomic(full, change.NewContent); writeErr != nil {
			s.logger.Error("failed to write agent file",
				zap.String("project_id", projectID),
				zap.String("path", change.Path),
				zap.Error(writeErr))
			return &ChatResult{
				Success:   false,
				Files:     written,
				ErrorKind: errors.KindOf(writeErr),
			}, nil
		}
		written = append(written, change)
	}

	s.logger.Info("chat update applied",
		zap.String("project_id", projectID),
		zap.String("kind", string(task.Kind)),
		zap.Int("files", len(written)))
	return &ChatResult{Success: true, Summary: res.Solution, Files: written}, nil
}

// ApplyInline sends one file (plus an optional selection window) to the
// agent and replaces the file atomically with the reply.
func (s *Service) ApplyInline(ctx context.Context, root, filePath, prompt, selection string) (*InlineResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, errors.Precondition("prompt is required")
	}
	full, err := resolveWithinRoot(root, filePath)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(full)
	if err != nil {
		return nil, errors.NotFound("file", filePath)
	}

	taskCtx := map[string]string{
		"type": string(swarm.StrategySingleFile),
		"path": filePath,
		"file": string(content),
	}
	if selection != "" {
		taskCtx["selection"] = selection
	}
	task := &v1.AgentTask{
		Kind:    ClassifyPrompt(prompt),
		Prompt:  prompt,
		Context: taskCtx,
	}
	res, err := s.agent.Act(ctx, task)
	if err != nil {
		return &InlineResult{Success: false, ErrorKind: errors.KindOf(err)}, nil
	}

	newContent := ExtractCode(res.Solution)
	if strings.TrimSpace(newContent) == "" {
		return &InlineResult{Success: false, ErrorKind: errors.KindExternal}, nil
	}
	// Keep the file's trailing-newline convention.
	if strings.HasSuffix(string(content), "\n") && !strings.HasSuffix(newContent, "\n") {
		newContent += "\n"
	}
	if err := writeFileAtomic(full, newContent); err != nil {
		return &InlineResult{Success: false, ErrorKind: errors.KindOf(err)}, nil
	}
	return &InlineResult{Success: true, NewContent: newContent}, nil
}

// ClassifyPrompt maps a natural-language prompt to a task kind.
func ClassifyPrompt(prompt string) v1.TaskKind {
	p := strings.ToLower(prompt)
	for _, kw := range []string{"fix", "bug", "error", "crash", "broken", "fail"} {
		if strings.Contains(p, kw) {
			return v1.TaskFix
		}
	}
	for _, kw := range []string{"refactor", "rename", "restructure", "clean up", "extract", "simplify"} {
		if strings.Contains(p, kw) {
			return v1.TaskRefactor
		}
	}
	return v1.TaskGenerate
}

func chatContext(extra map[string]string) map[string]string {
	ctx := make(map[string]string, len(extra)+1)
	for k, v := range extra {
		ctx[k] = v
	}
	if _, ok := ctx["type"]; !ok {
		ctx["type"] = string(swarm.StrategyCodeUpdate)
	}
	return ctx
}

// resolveWithinRoot resolves rel under root and rejects anything that
// would land outside: absolute paths, `..` traversal, empty paths.
func resolveWithinRoot(root, rel string) (string, error) {
	if rel == "" {
		return "", errors.Precondition("file path is required")
	}
	if filepath.IsAbs(rel) {
		return "", errors.Precondition("absolute paths are not allowed")
	}

	cleanRoot := filepath.Clean(root)
	full := filepath.Join(cleanRoot, filepath.Clean(rel))
	if full != cleanRoot && !strings.HasPrefix(full, cleanRoot+string(os.PathSeparator)) {
		return "", errors.Precondition("path escapes the workspace")
	}
	if full == cleanRoot {
		return "", errors.Precondition("path resolves to the workspace root")
	}
	return full, nil
}

// writeFileAtomic writes content via a temp file in the target
// directory followed by a rename, so readers never observe a partial
// file.
func writeFileAtomic(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Internal("failed to create directory", err)
	}

	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, ".aiupdate-*")
	if err != nil {
		return errors.Internal("failed to create temp file", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.WriteString(content); err != nil {
		cleanup()
		return errors.Internal("failed to write temp file", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Internal("failed to close temp file", err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		_ = os.Remove(tmpName)
		return errors.Internal("failed to set file mode", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return errors.Internal("failed to replace file", err)
	}
	return nil
}
