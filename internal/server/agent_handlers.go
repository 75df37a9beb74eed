package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/devplane/devplane/internal/common/errors"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// agentAct runs one agent task through the swarm and waits for the
// aggregated result. Any authenticated caller may dispatch; tasks are
// not tied to a project.
func (s *Server) agentAct(c *gin.Context) {
	var req v1.ActRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, s.logger, errors.Precondition("invalid request body: "+err.Error()))
		return
	}

	task := &v1.AgentTask{
		ID:      uuid.New().String(),
		Kind:    req.Kind,
		Prompt:  req.Prompt,
		Context: req.Context,
		State:   v1.TaskStatePending,
	}

	res, err := s.dispatcher.Act(c.Request.Context(), task)
	if err != nil {
		respondErr(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"task":   task,
		"result": res,
	})
}
