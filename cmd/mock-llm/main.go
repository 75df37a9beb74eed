// Package main implements a mock LLM runtime for local development and
// e2e tests. It speaks the two dialects the plane expects from a model
// backend: the OpenAI-compatible chat completion surface under /v1 and
// the Ollama-style management surface under /api (tag listing and
// pulls). Prompts starting with a slash select canned scenarios; see
// scenarios.go for the command table.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/common/logger"
)

func main() {
	port := flag.Int("port", 11434, "port to listen on")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      *logLevel,
		Format:     "text",
		OutputPath: "stdout",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	gin.SetMode(gin.ReleaseMode)
	mock := newMockRuntime(log)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: mock.Router(),
	}

	go func() {
		log.Info("Mock LLM runtime listening",
			zap.Int("port", *port),
			zap.String("completions", "/v1/chat/completions"),
			zap.String("tags", "/api/tags"))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down mock LLM runtime...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Shutdown error", zap.Error(err))
	}
}
