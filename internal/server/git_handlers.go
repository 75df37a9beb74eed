package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/devplane/devplane/internal/access"
	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/gitsync"
	"github.com/devplane/devplane/internal/vault"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// cloneProject clones the project's remote into its workspace. The
// caller's stored credential for the remote's provider is injected when
// one exists; public remotes clone without one.
func (s *Server) cloneProject(c *gin.Context) {
	proj, ok := s.authorizeProject(c, access.OpWrite)
	if !ok {
		return
	}
	if proj.RemoteURL == "" {
		respondErr(c, s.logger, errors.Precondition("project has no remote url"))
		return
	}

	var req v1.CloneRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, s.logger, errors.Precondition("invalid request body: "+err.Error()))
			return
		}
	}
	branch := req.Branch
	if branch == "" {
		branch = proj.Branch
	}

	creds, err := s.revealCredentials(c, providerFromURL(proj.RemoteURL))
	if err != nil {
		respondErr(c, s.logger, err)
		return
	}

	result, err := s.git.Clone(c.Request.Context(), proj.RemoteURL, proj.LocalPath, branch, creds)
	if err != nil {
		respondErr(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// pullProject fast-forwards the project workspace from its upstream.
func (s *Server) pullProject(c *gin.Context) {
	proj, ok := s.authorizeProject(c, access.OpWrite)
	if !ok {
		return
	}
	if err := s.git.Pull(c.Request.Context(), proj.LocalPath); err != nil {
		respondErr(c, s.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) gitStatus(c *gin.Context) {
	proj, ok := s.authorizeProject(c, access.OpRead)
	if !ok {
		return
	}
	status, err := s.git.Status(c.Request.Context(), proj.LocalPath)
	if err != nil {
		respondErr(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) gitLog(c *gin.Context) {
	proj, ok := s.authorizeProject(c, access.OpRead)
	if !ok {
		return
	}
	commits, err := s.git.Log(c.Request.Context(), proj.LocalPath, intQuery(c, "n", 10))
	if err != nil {
		respondErr(c, s.logger, err)
		return
	}
	if commits == nil {
		commits = []gitsync.Commit{}
	}
	c.JSON(http.StatusOK, gin.H{"commits": commits})
}

// putCredential stores a provider token for the calling user. The
// response carries metadata only; tokens never leave the vault in
// plaintext except through clone/push.
func (s *Server) putCredential(c *gin.Context) {
	var req v1.PutCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, s.logger, errors.Precondition("invalid request body: "+err.Error()))
		return
	}

	identity := identityFrom(c)
	cred, err := s.vault.Put(c.Request.Context(), identity.UserID, c.Param("provider"), req.Username, req.Token)
	if err != nil {
		respondErr(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, cred)
}

func (s *Server) listCredentials(c *gin.Context) {
	identity := identityFrom(c)
	creds, err := s.vault.List(c.Request.Context(), identity.UserID)
	if err != nil {
		respondErr(c, s.logger, err)
		return
	}
	if creds == nil {
		creds = []*vault.Credential{}
	}
	c.JSON(http.StatusOK, gin.H{"credentials": creds})
}

func (s *Server) deleteCredential(c *gin.Context) {
	identity := identityFrom(c)
	if err := s.vault.Delete(c.Request.Context(), identity.UserID, c.Param("provider")); err != nil {
		respondErr(c, s.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// createRemoteRepo creates a repository on a hosted provider using the
// caller's stored credential.
func (s *Server) createRemoteRepo(c *gin.Context) {
	var req v1.CreateRepoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, s.logger, errors.Precondition("invalid request body: "+err.Error()))
		return
	}

	provider := strings.ToLower(req.Provider)
	if provider != vault.ProviderGitHub && provider != vault.ProviderGitLab {
		respondErr(c, s.logger, errors.Preconditionf("unsupported provider %q", req.Provider))
		return
	}

	identity := identityFrom(c)
	_, token, err := s.vault.Reveal(c.Request.Context(), identity.UserID, provider)
	if err != nil {
		if errors.IsNotFound(err) {
			respondErr(c, s.logger, errors.Preconditionf(
				"no %s credential stored; PUT /api/v1/credentials/%s first", provider, provider))
			return
		}
		respondErr(c, s.logger, err)
		return
	}

	client := gitsync.NewProviderClient(gitsync.ProviderKind(provider), req.BaseURL, token)
	repo, err := client.CreateRepo(c.Request.Context(), req.Name, req.Private)
	if err != nil {
		respondErr(c, s.logger, err)
		return
	}
	c.JSON(http.StatusCreated, repo)
}

// revealCredentials fetches the caller's token for the provider, mapping
// a missing credential to nil so public remotes still work.
func (s *Server) revealCredentials(c *gin.Context, provider string) (*gitsync.Credentials, error) {
	identity := identityFrom(c)
	username, token, err := s.vault.Reveal(c.Request.Context(), identity.UserID, provider)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &gitsync.Credentials{Username: username, Token: token}, nil
}

// providerFromURL guesses the provider family from the remote host.
// GitHub-family is the default; only GitLab needs different headers.
func providerFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return vault.ProviderGitHub
	}
	if strings.Contains(u.Hostname(), "gitlab") {
		return vault.ProviderGitLab
	}
	return vault.ProviderGitHub
}
