// Package mcpserver exposes the plane's API to MCP clients. Tools cover
// project inspection, workflow submission, and log tailing; every call is
// forwarded to the HTTP API with the configured bearer token, so the
// resolver's visibility rules apply to MCP traffic unchanged.
//
// Two transports share one port: SSE at /sse (Claude Desktop, Cursor) and
// streamable HTTP at /mcp (Codex).
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/common/logger"
)

// Config holds the MCP server configuration.
type Config struct {
	Port   int    // port to listen on; 0 lets the kernel pick
	APIURL string // devplane API base URL (e.g., http://localhost:8080)
	Token  string // bearer token used for every API call
}

// Server hosts one MCP tool surface over both transports.
type Server struct {
	cfg    Config
	core   *server.MCPServer
	logger *logger.Logger

	mu         sync.Mutex
	running    bool
	sse        *server.SSEServer
	streamable *server.StreamableHTTPServer
	web        *http.Server
}

// New builds a server with the process-default logger.
func New(cfg Config) *Server {
	return NewWithLogger(cfg, logger.Default())
}

// NewWithLogger builds a server and registers the tool set immediately;
// Start only attaches transports and opens the listener.
func NewWithLogger(cfg Config, log *logger.Logger) *Server {
	scoped := log.WithFields(zap.String("component", "mcp-server"))
	core := server.NewMCPServer("devplane-mcp", "1.0.0", server.WithToolCapabilities(true))
	registerTools(core, cfg, scoped)
	return &Server{cfg: cfg, core: core, logger: scoped}
}

// Start opens the listener and serves both transports in the background.
// The listener is created before returning, so a successful Start means
// the port is bound and Port reports the final value.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("server already running")
	}

	s.sse = server.NewSSEServer(s.core)
	s.streamable = server.NewStreamableHTTPServer(s.core, server.WithEndpointPath("/mcp"))

	mux := http.NewServeMux()
	mux.Handle("/sse", s.sse.SSEHandler())
	mux.Handle("/message", s.sse.MessageHandler())
	mux.Handle("/mcp", s.streamable)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on :%d: %w", s.cfg.Port, err)
	}
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.cfg.Port = tcpAddr.Port
	}

	s.web = &http.Server{Handler: mux}
	s.running = true

	go func() {
		s.logger.Info("MCP server listening",
			zap.Int("port", s.cfg.Port),
			zap.String("sse_endpoint", "/sse"),
			zap.String("streamable_http_endpoint", "/mcp"))

		if err := s.web.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("MCP server error", zap.Error(err))
		}

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	return nil
}

// Stop drains the HTTP server and shuts both transports down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	web, sse, streamable := s.web, s.sse, s.streamable
	s.mu.Unlock()

	if !running {
		return nil
	}

	if web != nil {
		if err := web.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}
	if sse != nil {
		if err := sse.Shutdown(ctx); err != nil {
			s.logger.Warn("failed to shutdown SSE transport", zap.Error(err))
		}
	}
	if streamable != nil {
		if err := streamable.Shutdown(ctx); err != nil {
			s.logger.Warn("failed to shutdown streamable HTTP transport", zap.Error(err))
		}
	}
	return nil
}

// Port returns the bound port, final only after Start.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Port
}

// SSEEndpoint returns the URL SSE clients connect to.
func (s *Server) SSEEndpoint() string {
	return fmt.Sprintf("http://localhost:%d/sse", s.Port())
}

// StreamableHTTPEndpoint returns the URL streamable-HTTP clients connect to.
func (s *Server) StreamableHTTPEndpoint() string {
	return fmt.Sprintf("http://localhost:%d/mcp", s.Port())
}
