package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/project"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

func (s *Server) listProjects(c *gin.Context) {
	req := project.ListRequest{
		TenantID:  c.Query("tenant_id"),
		Status:    v1.ProjectStatus(c.Query("status")),
		Language:  c.Query("language"),
		Framework: c.Query("framework"),
		Search:    c.Query("search"),
		Page:      intQuery(c, "page", 1),
		PageSize:  intQuery(c, "page_size", 50),
	}

	page, err := s.projects.List(c.Request.Context(), identityFrom(c), req)
	if err != nil {
		respondErr(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) createProject(c *gin.Context) {
	var req v1.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, s.logger, errors.Precondition("invalid request body: "+err.Error()))
		return
	}

	proj, err := s.projects.Create(c.Request.Context(), identityFrom(c), &req)
	if err != nil {
		respondErr(c, s.logger, err)
		return
	}
	c.JSON(http.StatusCreated, proj)
}

func (s *Server) getProject(c *gin.Context) {
	proj, err := s.projects.Get(c.Request.Context(), identityFrom(c), c.Param("id"))
	if err != nil {
		respondErr(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, proj)
}

func (s *Server) updateProject(c *gin.Context) {
	var req v1.UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, s.logger, errors.Precondition("invalid request body: "+err.Error()))
		return
	}

	proj, err := s.projects.Update(c.Request.Context(), identityFrom(c), c.Param("id"), &req)
	if err != nil {
		respondErr(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, proj)
}

func (s *Server) deleteProject(c *gin.Context) {
	hard := c.Query("hard") == "true"
	if err := s.projects.Delete(c.Request.Context(), identityFrom(c), c.Param("id"), hard); err != nil {
		respondErr(c, s.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// openProject stamps last_opened_at; the IDE calls it when a project tab
// gains focus.
func (s *Server) openProject(c *gin.Context) {
	if err := s.projects.TouchLastOpened(c.Request.Context(), identityFrom(c), c.Param("id")); err != nil {
		respondErr(c, s.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func intQuery(c *gin.Context, name string, fallback int) int {
	v := c.Query(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
