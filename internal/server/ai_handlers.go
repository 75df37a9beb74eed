package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/devplane/devplane/internal/access"
	"github.com/devplane/devplane/internal/common/errors"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// aiChat applies a conversational change to the project tree. A result
// with success=false is still a 200; only transport and precondition
// failures become error responses.
func (s *Server) aiChat(c *gin.Context) {
	proj, ok := s.authorizeProject(c, access.OpWrite)
	if !ok {
		return
	}

	var req v1.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, s.logger, errors.Precondition("invalid request body: "+err.Error()))
		return
	}

	res, err := s.updater.ApplyChat(c.Request.Context(), proj.ID, proj.LocalPath, req.Prompt, req.Context)
	if err != nil {
		respondErr(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) aiInline(c *gin.Context) {
	proj, ok := s.authorizeProject(c, access.OpWrite)
	if !ok {
		return
	}

	var req v1.InlineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, s.logger, errors.Precondition("invalid request body: "+err.Error()))
		return
	}

	res, err := s.updater.ApplyInline(c.Request.Context(), proj.LocalPath, req.FilePath, req.Prompt, req.Selection)
	if err != nil {
		respondErr(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
