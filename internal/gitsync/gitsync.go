// Package gitsync wraps git invocations with retry, timeouts, and
// credential hygiene. It is the only component that touches remotes.
package gitsync

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/common/config"
	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/common/logger"
)

// Credentials are short-lived provider tokens. They are injected into
// clone/push URLs in memory and never written to disk or logs.
type Credentials struct {
	Username string
	Token    string
}

// CloneResult describes a fresh clone.
type CloneResult struct {
	CommitHash string `json:"commit_hash"`
	FileCount  int    `json:"file_count"`
}

// StatusResult is a parsed porcelain status.
type StatusResult struct {
	Branch    string   `json:"branch"`
	Clean     bool     `json:"clean"`
	Staged    []string `json:"staged"`
	Modified  []string `json:"modified"`
	Untracked []string `json:"untracked"`
}

// Commit is one log entry.
type Commit struct {
	Hash    string    `json:"hash"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
	Message string    `json:"message"`
}

// MergeResult reports a merge outcome. Conflicts are data, not errors:
// the caller decides what a conflicted merge means for its workflow.
type MergeResult struct {
	Merged          bool     `json:"merged"`
	ConflictedPaths []string `json:"conflicted_paths,omitempty"`
}

// CommitPushResult describes a commitAndPush outcome.
type CommitPushResult struct {
	CommitHash string `json:"commit_hash,omitempty"`
	Committed  bool   `json:"committed"`
	Pushed     bool   `json:"pushed"`
}

// Service runs git operations for project workspaces. Operations on the
// same repository path are serialized; distinct repositories proceed
// concurrently.
type Service struct {
	cfg      config.GitConfig
	redactor *Redactor
	logger   *logger.Logger
	repoMus  sync.Map // path -> *sync.Mutex
}

// NewService creates the git sync service.
func NewService(cfg config.GitConfig, log *logger.Logger) *Service {
	return &Service{
		cfg:      cfg,
		redactor: NewRedactor(),
		logger:   log.WithFields(zap.String("component", "gitsync")),
	}
}

// Redactor exposes the secret scrubber so other components (workflow
// logs) can scrub text that may embed git output.
func (s *Service) Redactor() *Redactor {
	return s.redactor
}

// repoMu returns (or lazily creates) the mutex for a repository path.
func (s *Service) repoMu(path string) *sync.Mutex {
	mu, _ := s.repoMus.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Clone clones url into path. Credentials, when present, are injected
// into the URL for HTTPS remotes. Cloning over an existing repository
// fails with ALREADY_INITIALIZED.
func (s *Service) Clone(ctx context.Context, rawURL, path, branch string, creds *Credentials) (*CloneResult, error) {
	if rawURL == "" {
		return nil, errors.Precondition("clone url is required")
	}
	if path == "" {
		return nil, errors.Precondition("clone path is required")
	}

	mu := s.repoMu(path)
	mu.Lock()
	defer mu.Unlock()

	if info, err := os.Stat(filepath.Join(path, ".git")); err == nil && info.IsDir() {
		return nil, errors.AlreadyInitialized(fmt.Sprintf("repository already cloned at %s", path))
	}

	cloneURL, err := s.injectCredentials(rawURL, creds)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Internal("failed to create clone parent directory", err)
	}

	args := []string{"clone"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, cloneURL, path)

	s.logger.Info("cloning repository",
		zap.String("url", s.redactor.Redact(rawURL)),
		zap.String("path", path),
		zap.String("branch", branch))
	if _, err := s.runGitRetry(ctx, "", cloneTimeout, args...); err != nil {
		return nil, err
	}

	hash, err := s.runGit(ctx, path, localTimeout, "rev-parse", "HEAD")
	if err != nil {
		return nil, err
	}
	files, err := s.runGit(ctx, path, localTimeout, "ls-files")
	if err != nil {
		return nil, err
	}
	count := 0
	for _, line := range strings.Split(files, "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return &CloneResult{CommitHash: strings.TrimSpace(hash), FileCount: count}, nil
}

// Pull fast-forwards the current branch from its upstream.
func (s *Service) Pull(ctx context.Context, path string) error {
	mu := s.repoMu(path)
	mu.Lock()
	defer mu.Unlock()

	if err := s.ensureRepo(path); err != nil {
		return err
	}
	_, err := s.runGitRetry(ctx, path, pullTimeout, "pull")
	return err
}

// Fetch updates remote refs without touching the worktree.
func (s *Service) Fetch(ctx context.Context, path string) error {
	mu := s.repoMu(path)
	mu.Lock()
	defer mu.Unlock()

	if err := s.ensureRepo(path); err != nil {
		return err
	}
	_, err := s.runGitRetry(ctx, path, pullTimeout, "fetch", "--all", "--prune")
	return err
}

// Status parses porcelain v1 output.
func (s *Service) Status(ctx context.Context, path string) (*StatusResult, error) {
	if err := s.ensureRepo(path); err != nil {
		return nil, err
	}
	out, err := s.runGit(ctx, path, localTimeout, "status", "--porcelain", "--branch")
	if err != nil {
		return nil, err
	}
	return parseStatus(out), nil
}

// Log returns the newest n commits.
func (s *Service) Log(ctx context.Context, path string, n int) ([]Commit, error) {
	if err := s.ensureRepo(path); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = 10
	}
	out, err := s.runGit(ctx, path, localTimeout,
		"log", fmt.Sprintf("-%d", n), "--pretty=format:%H%x1f%an%x1f%aI%x1f%s")
	if err != nil {
		return nil, err
	}
	return parseLog(out), nil
}

// Diff returns the working tree diff, or the staged diff with cached.
func (s *Service) Diff(ctx context.Context, path string, cached bool) (string, error) {
	if err := s.ensureRepo(path); err != nil {
		return "", err
	}
	args := []string{"diff"}
	if cached {
		args = append(args, "--cached")
	}
	return s.runGit(ctx, path, localTimeout, args...)
}

// Branches lists local branch names.
func (s *Service) Branches(ctx context.Context, path string) ([]string, error) {
	if err := s.ensureRepo(path); err != nil {
		return nil, err
	}
	out, err := s.runGit(ctx, path, localTimeout, "branch", "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, line := range strings.Split(out, "\n") {
		if b := strings.TrimSpace(line); b != "" {
			branches = append(branches, b)
		}
	}
	return branches, nil
}

// Checkout switches branches, creating the branch first when create is
// set.
func (s *Service) Checkout(ctx context.Context, path, name string, create bool) error {
	mu := s.repoMu(path)
	mu.Lock()
	defer mu.Unlock()

	return s.checkoutLocked(ctx, path, name, create)
}

func (s *Service) checkoutLocked(ctx context.Context, path, name string, create bool) error {
	if err := s.ensureRepo(path); err != nil {
		return err
	}
	if name == "" {
		return errors.Precondition("branch name is required")
	}
	args := []string{"checkout"}
	if create {
		args = append(args, "-b")
	}
	args = append(args, name)
	_, err := s.runGit(ctx, path, localTimeout, args...)
	return err
}

// Merge merges source into target. Conflicts abort the merge and come
// back as data on the result.
func (s *Service) Merge(ctx context.Context, path, source, target string) (*MergeResult, error) {
	mu := s.repoMu(path)
	mu.Lock()
	defer mu.Unlock()

	return s.mergeLocked(ctx, path, source, target)
}

func (s *Service) mergeLocked(ctx context.Context, path, source, target string) (*MergeResult, error) {
	if err := s.ensureRepo(path); err != nil {
		return nil, err
	}
	if source == "" || target == "" {
		return nil, errors.Precondition("merge requires source and target branches")
	}
	if err := s.checkoutLocked(ctx, path, target, false); err != nil {
		return nil, err
	}

	if _, err := s.runGit(ctx, path, localTimeout, "merge", "--no-edit", source); err != nil {
		conflicts, listErr := s.runGit(ctx, path, localTimeout, "diff", "--name-only", "--diff-filter=U")
		if listErr == nil && strings.TrimSpace(conflicts) != "" {
			// Restore the tree; the caller decides what to do next.
			_, _ = s.runGit(ctx, path, localTimeout, "merge", "--abort")
			var paths []string
			for _, line := range strings.Split(conflicts, "\n") {
				if p := strings.TrimSpace(line); p != "" {
					paths = append(paths, p)
				}
			}
			s.logger.Info("merge conflicted",
				zap.String("path", path),
				zap.String("source", source),
				zap.String("target", target),
				zap.Int("conflicts", len(paths)))
			return &MergeResult{Merged: false, ConflictedPaths: paths}, nil
		}
		return nil, err
	}
	return &MergeResult{Merged: true}, nil
}

// CommitAndPush stages everything, commits with the configured author,
// and pushes the branch. An empty worktree still pushes (the branch may
// be ahead from an earlier commit).
func (s *Service) CommitAndPush(ctx context.Context, path, branch, message string) (*CommitPushResult, error) {
	mu := s.repoMu(path)
	mu.Lock()
	defer mu.Unlock()

	if err := s.ensureRepo(path); err != nil {
		return nil, err
	}
	if branch == "" {
		return nil, errors.Precondition("push branch is required")
	}
	if message == "" {
		message = "devplane update"
	}

	result := &CommitPushResult{}

	if _, err := s.runGit(ctx, path, localTimeout, "add", "-A"); err != nil {
		return nil, err
	}
	staged, err := s.runGit(ctx, path, localTimeout, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(staged) != "" {
		if _, err := s.runGit(ctx, path, localTimeout,
			"-c", "user.name="+s.cfg.AuthorName,
			"-c", "user.email="+s.cfg.AuthorEmail,
			"commit", "-m", message); err != nil {
			return nil, err
		}
		result.Committed = true
	}

	hash, err := s.runGit(ctx, path, localTimeout, "rev-parse", "HEAD")
	if err != nil {
		return nil, err
	}
	result.CommitHash = strings.TrimSpace(hash)

	if _, err := s.runGitRetry(ctx, path, pushTimeout, "push", "origin", branch); err != nil {
		return nil, err
	}
	result.Pushed = true

	s.logger.Info("pushed branch",
		zap.String("path", path),
		zap.String("branch", branch),
		zap.Bool("committed", result.Committed))
	return result, nil
}

// CreateGhostBranch creates and checks out a uniquely named branch from
// base, isolating agent mutations from the base branch.
func (s *Service) CreateGhostBranch(ctx context.Context, path, base string) (string, error) {
	mu := s.repoMu(path)
	mu.Lock()
	defer mu.Unlock()

	if err := s.ensureRepo(path); err != nil {
		return "", err
	}
	if base == "" {
		return "", errors.Precondition("base branch is required")
	}

	name := fmt.Sprintf("ghost/%s-%s", base, uuid.New().String()[:8])
	if _, err := s.runGit(ctx, path, localTimeout, "checkout", "-b", name, base); err != nil {
		return "", err
	}
	s.logger.Debug("ghost branch created", zap.String("path", path), zap.String("branch", name))
	return name, nil
}

// MergeGhost merges a ghost branch back into target and deletes it on
// success. Conflicted paths are reported as data; the ghost branch is
// kept so the conflict can be inspected.
func (s *Service) MergeGhost(ctx context.Context, path, ghost, target string) (*MergeResult, error) {
	mu := s.repoMu(path)
	mu.Lock()
	defer mu.Unlock()

	result, err := s.mergeLocked(ctx, path, ghost, target)
	if err != nil {
		return nil, err
	}
	if result.Merged {
		if _, err := s.runGit(ctx, path, localTimeout, "branch", "-d", ghost); err != nil {
			s.logger.Warn("failed to delete merged ghost branch",
				zap.String("branch", ghost), zap.Error(err))
		}
	}
	return result, nil
}

// ensureRepo verifies path holds a git repository.
func (s *Service) ensureRepo(path string) error {
	info, err := os.Stat(filepath.Join(path, ".git"))
	if err != nil || !info.IsDir() {
		return errors.NotFound("repository", path)
	}
	return nil
}

// injectCredentials embeds credentials into an HTTPS remote URL. The
// token is registered with the redactor the moment it is seen.
func (s *Service) injectCredentials(rawURL string, creds *Credentials) (string, error) {
	if creds == nil || creds.Token == "" {
		return rawURL, nil
	}
	s.redactor.Add(creds.Token)

	if !strings.HasPrefix(rawURL, "https://") && !strings.HasPrefix(rawURL, "http://") {
		// SSH and file remotes authenticate elsewhere.
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Precondition("invalid remote url")
	}
	username := creds.Username
	if username == "" {
		username = "oauth2"
	}
	u.User = url.UserPassword(username, creds.Token)
	return u.String(), nil
}

func parseStatus(out string) *StatusResult {
	result := &StatusResult{Clean: true}
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "## ") {
			branch := strings.TrimPrefix(line, "## ")
			if i := strings.Index(branch, "..."); i > 0 {
				branch = branch[:i]
			}
			result.Branch = branch
			continue
		}
		if len(line) < 3 {
			continue
		}
		result.Clean = false
		staged, unstaged := line[0], line[1]
		file := strings.TrimSpace(line[3:])
		switch {
		case staged == '?' && unstaged == '?':
			result.Untracked = append(result.Untracked, file)
		default:
			if staged != ' ' {
				result.Staged = append(result.Staged, file)
			}
			if unstaged != ' ' {
				result.Modified = append(result.Modified, file)
			}
		}
	}
	return result
}

func parseLog(out string) []Commit {
	var commits []Commit
	for _, line := range strings.Split(out, "\n") {
		parts := strings.Split(line, "\x1f")
		if len(parts) != 4 {
			continue
		}
		date, _ := time.Parse(time.RFC3339, parts[2])
		commits = append(commits, Commit{
			Hash:    parts[0],
			Author:  parts[1],
			Date:    date,
			Message: parts[3],
		})
	}
	return commits
}
