package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/devplane/devplane/internal/common/errors"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

func (s *Server) submitWorkflow(c *gin.Context) {
	var req v1.SubmitWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, s.logger, errors.Precondition("invalid request body: "+err.Error()))
		return
	}

	wf, err := s.workflows.Submit(c.Request.Context(), identityFrom(c), &req)
	if err != nil {
		respondErr(c, s.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, wf)
}

func (s *Server) getWorkflow(c *gin.Context) {
	wf, err := s.workflows.Get(c.Request.Context(), identityFrom(c), c.Param("id"))
	if err != nil {
		respondErr(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (s *Server) listWorkflows(c *gin.Context) {
	wfs, err := s.workflows.List(c.Request.Context(), identityFrom(c), c.Param("id"))
	if err != nil {
		respondErr(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflows": wfs})
}

func (s *Server) cancelWorkflow(c *gin.Context) {
	wf, err := s.workflows.Cancel(c.Request.Context(), identityFrom(c), c.Param("id"))
	if err != nil {
		respondErr(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (s *Server) workflowLogs(c *gin.Context) {
	offset := intQuery(c, "offset", 0)
	chunks, err := s.workflows.Logs(c.Request.Context(), identityFrom(c), c.Param("id"), offset)
	if err != nil {
		respondErr(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chunks": chunks,
		"next":   offset + len(chunks),
	})
}
