// Package server exposes the control plane over REST and WebSocket.
//
// Every route under /api/v1 requires a bearer token; the decoded identity
// rides the gin context and the domain services enforce visibility from
// there. Handlers translate transport concerns only — errors keep their
// kind and surface through a single translator.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/access"
	"github.com/devplane/devplane/internal/aiupdate"
	"github.com/devplane/devplane/internal/common/config"
	"github.com/devplane/devplane/internal/common/httpmw"
	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/events/bus"
	"github.com/devplane/devplane/internal/gitsync"
	"github.com/devplane/devplane/internal/ledger"
	"github.com/devplane/devplane/internal/project"
	"github.com/devplane/devplane/internal/sandbox"
	"github.com/devplane/devplane/internal/swarm"
	"github.com/devplane/devplane/internal/vault"
	"github.com/devplane/devplane/internal/workflow"
)

// Deps bundles the services the HTTP surface fronts.
type Deps struct {
	Projects   *project.Service
	Workflows  *workflow.Service
	Sandboxes  *sandbox.Supervisor
	Resolver   *access.Resolver
	Updater    *aiupdate.Service
	Dispatcher *swarm.Dispatcher
	Costs      *ledger.Ledger
	Git        *gitsync.Service
	Vault      *vault.Vault
	EventBus   bus.EventBus
}

// Server is the REST/WebSocket front door for the control plane.
type Server struct {
	cfg       config.ServerConfig
	jwtSecret string
	logger    *logger.Logger

	projects   *project.Service
	workflows  *workflow.Service
	sandboxes  *sandbox.Supervisor
	resolver   *access.Resolver
	updater    *aiupdate.Service
	dispatcher *swarm.Dispatcher
	costs      *ledger.Ledger
	git        *gitsync.Service
	vault      *vault.Vault
	eventBus   bus.EventBus

	httpServer *http.Server
}

// New creates a Server. The JWT secret comes from auth config; an empty
// secret is rejected at config load, never here.
func New(cfg config.ServerConfig, auth config.AuthConfig, deps Deps, log *logger.Logger) *Server {
	return &Server{
		cfg:        cfg,
		jwtSecret:  auth.JWTSecret,
		logger:     log.WithFields(zap.String("component", "server")),
		projects:   deps.Projects,
		workflows:  deps.Workflows,
		sandboxes:  deps.Sandboxes,
		resolver:   deps.Resolver,
		updater:    deps.Updater,
		dispatcher: deps.Dispatcher,
		costs:      deps.Costs,
		git:        deps.Git,
		vault:      deps.Vault,
		eventBus:   deps.EventBus,
	}
}

// Router builds the gin engine with all routes registered. Exposed
// separately from Start so tests can drive it with httptest.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(httpmw.RequestLogger(s.logger, "devplane-api"))
	router.Use(httpmw.OtelTracing("devplane-api"))
	router.Use(correlate())

	router.GET("/health", s.handleHealth)

	api := router.Group("/api/v1")
	api.Use(s.authenticate())
	{
		api.GET("/projects", s.listProjects)
		api.POST("/projects", s.createProject)
		api.GET("/projects/:id", s.getProject)
		api.PATCH("/projects/:id", s.updateProject)
		api.DELETE("/projects/:id", s.deleteProject)
		api.POST("/projects/:id/open", s.openProject)

		api.POST("/workflows", s.submitWorkflow)
		api.GET("/workflows/:id", s.getWorkflow)
		api.POST("/workflows/:id/cancel", s.cancelWorkflow)
		api.GET("/workflows/:id/logs", s.workflowLogs)
		api.GET("/workflows/:id/logs/stream", s.streamWorkflowLogs)
		api.GET("/projects/:id/workflows", s.listWorkflows)

		api.POST("/projects/:id/sandbox/start", s.startSandbox)
		api.POST("/projects/:id/sandbox/stop", s.stopSandbox)
		api.POST("/projects/:id/sandbox/exec", s.execSandbox)
		api.GET("/projects/:id/sandbox", s.getSandbox)
		api.GET("/projects/:id/sandbox/logs", s.sandboxLogs)
		api.GET("/projects/:id/sandbox/logs/stream", s.streamSandboxLogs)
		api.GET("/sandboxes", s.listSandboxes)

		api.POST("/projects/:id/ai/chat", s.aiChat)
		api.POST("/projects/:id/ai/inline", s.aiInline)

		api.POST("/projects/:id/git/clone", s.cloneProject)
		api.POST("/projects/:id/git/pull", s.pullProject)
		api.GET("/projects/:id/git/status", s.gitStatus)
		api.GET("/projects/:id/git/log", s.gitLog)

		api.PUT("/credentials/:provider", s.putCredential)
		api.GET("/credentials", s.listCredentials)
		api.DELETE("/credentials/:provider", s.deleteCredential)
		api.POST("/git/repos", s.createRemoteRepo)

		api.POST("/agents/act", s.agentAct)

		api.GET("/access/visibility", s.accessVisibility)
		api.GET("/ledger", s.listLedger)
	}

	return router
}

// Start begins serving in a background goroutine and returns immediately.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeoutDuration(),
		WriteTimeout: s.cfg.WriteTimeoutDuration(),
	}

	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "devplane",
	})
}
