package gitsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/devplane/devplane/internal/common/errors"
)

// ProviderKind selects the REST dialect for a hosted git provider.
type ProviderKind string

const (
	ProviderGitHub ProviderKind = "github"
	ProviderGitLab ProviderKind = "gitlab"
)

// RemoteRepo is a repository on a hosted provider.
type RemoteRepo struct {
	FullName string `json:"full_name"`
	CloneURL string `json:"clone_url"`
	Private  bool   `json:"private"`
}

// ProviderClient talks to GitHub-family and GitLab-family REST APIs
// with a personal access token. Only the two calls the orchestration
// plane needs are implemented.
type ProviderClient struct {
	kind       ProviderKind
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewProviderClient creates a provider API client. baseURL may be empty
// for the hosted defaults (api.github.com, gitlab.com).
func NewProviderClient(kind ProviderKind, baseURL, token string) *ProviderClient {
	if baseURL == "" {
		switch kind {
		case ProviderGitLab:
			baseURL = "https://gitlab.com/api/v4"
		default:
			baseURL = "https://api.github.com"
		}
	}
	return &ProviderClient{
		kind:    kind,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateRepo creates a repository for the authenticated user.
func (c *ProviderClient) CreateRepo(ctx context.Context, name string, private bool) (*RemoteRepo, error) {
	if name == "" {
		return nil, errors.Precondition("repository name is required")
	}

	switch c.kind {
	case ProviderGitLab:
		var raw struct {
			PathWithNamespace string `json:"path_with_namespace"`
			HTTPURLToRepo     string `json:"http_url_to_repo"`
			Visibility        string `json:"visibility"`
		}
		visibility := "public"
		if private {
			visibility = "private"
		}
		body := map[string]interface{}{"name": name, "visibility": visibility}
		if err := c.do(ctx, http.MethodPost, "/projects", body, &raw); err != nil {
			return nil, err
		}
		return &RemoteRepo{
			FullName: raw.PathWithNamespace,
			CloneURL: raw.HTTPURLToRepo,
			Private:  raw.Visibility == "private",
		}, nil
	default:
		var raw struct {
			FullName string `json:"full_name"`
			CloneURL string `json:"clone_url"`
			Private  bool   `json:"private"`
		}
		body := map[string]interface{}{"name": name, "private": private}
		if err := c.do(ctx, http.MethodPost, "/user/repos", body, &raw); err != nil {
			return nil, err
		}
		return &RemoteRepo{FullName: raw.FullName, CloneURL: raw.CloneURL, Private: raw.Private}, nil
	}
}

// ListBranches returns branch names for owner/repo (GitHub) or a
// project path (GitLab).
func (c *ProviderClient) ListBranches(ctx context.Context, repo string) ([]string, error) {
	if repo == "" {
		return nil, errors.Precondition("repository is required")
	}

	switch c.kind {
	case ProviderGitLab:
		var raw []struct {
			Name string `json:"name"`
		}
		endpoint := fmt.Sprintf("/projects/%s/repository/branches?per_page=100", url.PathEscape(repo))
		if err := c.do(ctx, http.MethodGet, endpoint, nil, &raw); err != nil {
			return nil, err
		}
		branches := make([]string, len(raw))
		for i, b := range raw {
			branches[i] = b.Name
		}
		return branches, nil
	default:
		var raw []struct {
			Name string `json:"name"`
		}
		endpoint := fmt.Sprintf("/repos/%s/branches?per_page=100", repo)
		if err := c.do(ctx, http.MethodGet, endpoint, nil, &raw); err != nil {
			return nil, err
		}
		branches := make([]string, len(raw))
		for i, b := range raw {
			branches[i] = b.Name
		}
		return branches, nil
	}
}

func (c *ProviderClient) do(ctx context.Context, method, endpoint string, body, result interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Internal("failed to encode provider request", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return errors.Internal("failed to build provider request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch c.kind {
	case ProviderGitLab:
		req.Header.Set("PRIVATE-TOKEN", c.token)
	default:
		req.Header.Set("Authorization", "token "+c.token)
		req.Header.Set("Accept", "application/vnd.github+json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.External(fmt.Sprintf("provider request %s failed", endpoint), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		switch resp.StatusCode {
		case http.StatusNotFound:
			return errors.NotFound("remote repository", endpoint)
		case http.StatusUnauthorized, http.StatusForbidden:
			return errors.Denied("provider rejected credentials")
		case http.StatusUnprocessableEntity, http.StatusConflict:
			return errors.AlreadyExists("remote repository", endpoint)
		default:
			return errors.External(
				fmt.Sprintf("provider %s returned %d", endpoint, resp.StatusCode), nil).
				WithDetail("body", truncate(string(raw), 500))
		}
	}
	if result == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}
