package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/devplane/devplane/internal/access"
	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/sandbox"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// authorizeProject resolves the :id project and checks the op for the
// caller. Sandbox and AI routes use it because those services take bare
// project IDs and do not enforce visibility themselves.
func (s *Server) authorizeProject(c *gin.Context, op access.Op) (*v1.Project, bool) {
	proj, err := s.projects.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, s.logger, err)
		return nil, false
	}
	if err := s.resolver.Authorize(identityFrom(c), proj, op); err != nil {
		respondErr(c, s.logger, err)
		return nil, false
	}
	return proj, true
}

func (s *Server) startSandbox(c *gin.Context) {
	proj, ok := s.authorizeProject(c, access.OpRun)
	if !ok {
		return
	}

	var req v1.StartSandboxRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, s.logger, errors.Precondition("invalid request body: "+err.Error()))
			return
		}
	}

	info, err := s.sandboxes.Start(c.Request.Context(), proj.ID, sandbox.StartOptions{
		Backend: req.Backend,
		Command: req.Command,
		Env:     req.Env,
	})
	if err != nil {
		respondErr(c, s.logger, err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

func (s *Server) stopSandbox(c *gin.Context) {
	proj, ok := s.authorizeProject(c, access.OpStop)
	if !ok {
		return
	}
	if err := s.sandboxes.Stop(c.Request.Context(), proj.ID); err != nil {
		respondErr(c, s.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// execSandbox returns the command's outcome even when the command itself
// exits non-zero; only failures to reach the sandbox become errors.
func (s *Server) execSandbox(c *gin.Context) {
	proj, ok := s.authorizeProject(c, access.OpRun)
	if !ok {
		return
	}

	var req v1.ExecRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, s.logger, errors.Precondition("invalid request body: "+err.Error()))
		return
	}

	res, err := s.sandboxes.Exec(c.Request.Context(), proj.ID, req.Command)
	if err != nil {
		respondErr(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getSandbox(c *gin.Context) {
	proj, ok := s.authorizeProject(c, access.OpRead)
	if !ok {
		return
	}
	info, err := s.sandboxes.Get(proj.ID)
	if err != nil {
		respondErr(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) sandboxLogs(c *gin.Context) {
	proj, ok := s.authorizeProject(c, access.OpRead)
	if !ok {
		return
	}
	lines, err := s.sandboxes.Logs(proj.ID, intQuery(c, "tail", 100))
	if err != nil {
		respondErr(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lines": lines})
}

// listSandboxes filters the supervisor's registry down to sandboxes whose
// project the caller may read. Orphans whose project vanished are skipped.
func (s *Server) listSandboxes(c *gin.Context) {
	identity := identityFrom(c)
	visible := make([]*v1.SandboxInfo, 0)
	for _, info := range s.sandboxes.List() {
		proj, err := s.projects.Resolve(c.Request.Context(), info.ProjectID)
		if err != nil {
			continue
		}
		if s.resolver.Authorize(identity, proj, access.OpRead) != nil {
			continue
		}
		visible = append(visible, info)
	}
	c.JSON(http.StatusOK, gin.H{"sandboxes": visible})
}
