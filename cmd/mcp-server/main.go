// Package main runs the standalone MCP server binary. It bridges MCP
// clients (Claude Desktop, Cursor, Codex) to a running devplane API:
// every tool call becomes an authenticated HTTP request against the API,
// so access control stays with the plane.
//
// Flags take their defaults from the environment (DEVPLANE_MCP_PORT,
// DEVPLANE_API_URL, DEVPLANE_API_TOKEN, DEVPLANE_MCP_LOG_LEVEL), which
// keeps container deployments flag-free.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/mcpserver"
)

func main() {
	var (
		port      = flag.Int("port", envInt("DEVPLANE_MCP_PORT", 9090), "MCP server port")
		apiURL    = flag.String("api-url", envStr("DEVPLANE_API_URL", "http://localhost:8080"), "devplane API URL")
		token     = flag.String("token", envStr("DEVPLANE_API_TOKEN", ""), "bearer token for devplane API calls")
		logLevel  = flag.String("log-level", envStr("DEVPLANE_MCP_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
		logFormat = flag.String("log-format", envStr("DEVPLANE_MCP_LOG_FORMAT", "console"), "log format (console, json)")
	)
	flag.Parse()

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      *logLevel,
		Format:     *logFormat,
		OutputPath: "stdout",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg := mcpserver.Config{Port: *port, APIURL: *apiURL, Token: *token}
	if cfg.Token == "" {
		log.Warn("No API token configured; tool calls will be rejected by the devplane API")
	}

	srv, cleanup, err := mcpserver.Provide(context.Background(), cfg, log)
	if err != nil {
		log.Fatal("Failed to start MCP server", zap.Error(err))
	}

	log.Info("MCP server started",
		zap.String("api_url", cfg.APIURL),
		zap.String("sse_endpoint", srv.SSEEndpoint()),
		zap.String("streamable_http_endpoint", srv.StreamableHTTPEndpoint()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down mcp-server...")
	if err := cleanup(); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
	}
	log.Info("mcp-server stopped")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
