// Package main is the unified entry point for devplane.
// This single binary runs the whole control plane: the REST/WebSocket
// API plus the project, workflow, sandbox, and swarm services over
// shared infrastructure.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	// Common packages
	"github.com/devplane/devplane/internal/common/config"
	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/common/telemetry"

	// Shared infrastructure
	"github.com/devplane/devplane/internal/db"
	"github.com/devplane/devplane/internal/events"

	// Identity and access
	"github.com/devplane/devplane/internal/access"
	"github.com/devplane/devplane/internal/user"
	"github.com/devplane/devplane/internal/vault"

	// Core services
	"github.com/devplane/devplane/internal/aiupdate"
	"github.com/devplane/devplane/internal/blackboard"
	"github.com/devplane/devplane/internal/buildsvc"
	"github.com/devplane/devplane/internal/gitsync"
	"github.com/devplane/devplane/internal/ledger"
	"github.com/devplane/devplane/internal/llm"
	"github.com/devplane/devplane/internal/project"
	"github.com/devplane/devplane/internal/sandbox"
	"github.com/devplane/devplane/internal/server"
	"github.com/devplane/devplane/internal/swarm"
	"github.com/devplane/devplane/internal/workflow"

	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// namedCleanup pairs a provider cleanup with the component it tears down.
type namedCleanup struct {
	name string
	fn   func() error
}

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting devplane...")

	// 3. Telemetry (no-op tracer unless enabled)
	telemetry.Init(cfg.Telemetry)

	// 4. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Provider cleanups run in reverse order during shutdown.
	var cleanups []namedCleanup
	addCleanup := func(name string, fn func() error) {
		cleanups = append(cleanups, namedCleanup{name: name, fn: fn})
	}

	// ============================================
	// SHARED INFRASTRUCTURE
	// ============================================

	// Event bus (NATS if configured, in-memory otherwise)
	if cfg.NATS.URL != "" {
		log.Info("Connecting to NATS...", zap.String("url", cfg.NATS.URL))
	}
	eventBus, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	addCleanup("event bus", busCleanup)
	if eventBus.NATS != nil {
		log.Info("Connected to NATS event bus")
	} else {
		log.Info("Using in-memory event bus")
	}

	// Persistence (the memory driver returns a nil pool; every store
	// then falls back to its in-memory implementation)
	pool, dbCleanup, err := db.Provide(cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	addCleanup("database", dbCleanup)
	if pool == nil {
		log.Info("Using in-memory stores", zap.String("db_driver", cfg.Database.Driver))
	}

	// ============================================
	// IDENTITY & ACCESS
	// ============================================
	users, userCleanup, err := user.Provide(pool, log)
	if err != nil {
		log.Fatal("Failed to initialize user directory", zap.Error(err))
	}
	addCleanup("user directory", userCleanup)

	resolver := access.NewResolver(users, log)

	masterKey := cfg.Auth.VaultMasterKey
	if masterKey == "" {
		log.Warn("No vault master key configured, using a development key; set VAULT_MASTER_KEY in production")
		masterKey = "devplane-dev-master-key"
	}
	creds, vaultCleanup, err := vault.Provide(masterKey, pool, log)
	if err != nil {
		log.Fatal("Failed to initialize credential vault", zap.Error(err))
	}
	addCleanup("credential vault", vaultCleanup)

	// ============================================
	// PROJECTS & GIT
	// ============================================
	projects, projectCleanup, err := project.Provide(pool, resolver, users, eventBus.Bus, cfg.Storage.Root, log)
	if err != nil {
		log.Fatal("Failed to initialize project registry", zap.Error(err))
	}
	addCleanup("project registry", projectCleanup)
	log.Info("Project registry initialized", zap.String("storage_root", cfg.Storage.Root))

	git, err := gitsync.Provide(cfg.Git, log)
	if err != nil {
		log.Fatal("Failed to initialize git sync", zap.Error(err))
	}

	// ============================================
	// MODELS, COSTS & AGENT SWARM
	// ============================================
	costs, ledgerCleanup, err := ledger.Provide(pool, eventBus.Bus, log)
	if err != nil {
		log.Fatal("Failed to initialize cost ledger", zap.Error(err))
	}
	addCleanup("cost ledger", ledgerCleanup)

	llmPool, llmCleanup, err := llm.Provide(&cfg.LLM, costs, log)
	if err != nil {
		log.Fatal("Failed to initialize LLM pool", zap.Error(err))
	}
	addCleanup("llm pool", llmCleanup)
	log.Info("LLM pool initialized",
		zap.String("base_url", cfg.LLM.BaseURL),
		zap.String("tier", string(llmPool.Tier())))

	board := blackboard.New(eventBus.Bus, log)
	dispatcher := swarm.Provide(llmPool, llmPool.Catalog(), board, llmPool.Tier(), eventBus.Bus, log)
	updater := aiupdate.Provide(dispatcher, log)

	// ============================================
	// SANDBOXES & WORKFLOWS
	// ============================================
	builder := buildsvc.NewService(log)

	sandboxes, sandboxCleanup, err := sandbox.Provide(cfg.Sandbox, cfg.Docker, cfg.Storage, projects, eventBus.Bus, log)
	if err != nil {
		log.Fatal("Failed to initialize sandbox supervisor", zap.Error(err))
	}
	addCleanup("sandbox supervisor", sandboxCleanup)

	workflows, workflowCleanup, err := workflow.Provide(pool, cfg.Workflow, projects, resolver, git, updater, builder, sandboxes, eventBus.Bus, log)
	if err != nil {
		log.Fatal("Failed to initialize workflow service", zap.Error(err))
	}
	addCleanup("workflow service", workflowCleanup)
	log.Info("Workflow service initialized", zap.Int("max_concurrency", cfg.Workflow.MaxConcurrency))

	// ============================================
	// DEV BOOTSTRAP
	// ============================================
	// A fresh directory has no identities, so nothing can call the API.
	// DEVPLANE_BOOTSTRAP_ADMIN seeds an admin user and logs a usable
	// token. Production deployments sync the directory from their
	// identity provider and mint tokens there instead.
	if adminID := os.Getenv("DEVPLANE_BOOTSTRAP_ADMIN"); adminID != "" {
		tenantID := os.Getenv("DEVPLANE_BOOTSTRAP_TENANT")
		if tenantID == "" {
			tenantID = "local"
		}
		if err := bootstrapAdmin(ctx, users, tenantID, adminID); err != nil {
			log.Fatal("Failed to bootstrap admin user", zap.Error(err))
		}
		token, err := server.IssueToken(cfg.Auth.JWTSecret, access.Identity{
			UserID:   adminID,
			TenantID: tenantID,
			Role:     v1.RoleAdmin,
		}, cfg.Auth.TokenDurationTime())
		if err != nil {
			log.Fatal("Failed to issue bootstrap token", zap.Error(err))
		}
		log.Info("Bootstrap admin ready",
			zap.String("user_id", adminID),
			zap.String("tenant_id", tenantID),
			zap.String("token", token))
	}

	// ============================================
	// HTTP SERVER
	// ============================================
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := server.New(cfg.Server, cfg.Auth, server.Deps{
		Projects:   projects,
		Workflows:  workflows,
		Sandboxes:  sandboxes,
		Resolver:   resolver,
		Updater:    updater,
		Dispatcher: dispatcher,
		Costs:      costs,
		Git:        git,
		Vault:      creds,
		EventBus:   eventBus.Bus,
	}, log)
	if err := srv.Start(); err != nil {
		log.Fatal("Failed to start HTTP server", zap.Error(err))
	}

	log.Info("API configured",
		zap.String("http", "/api/v1"),
		zap.String("log_streams", "/api/v1/workflows/:id/logs/stream"),
		zap.String("health", "/health"),
	)

	// ============================================
	// GRACEFUL SHUTDOWN
	// ============================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down devplane...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i].fn(); err != nil {
			log.Error("Cleanup error", zap.String("component", cleanups[i].name), zap.Error(err))
		}
	}

	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		log.Error("Telemetry shutdown error", zap.Error(err))
	}

	log.Info("devplane stopped")
}

// bootstrapAdmin upserts the development tenant and admin user so a
// fresh install has a working identity.
func bootstrapAdmin(ctx context.Context, users user.Directory, tenantID, userID string) error {
	if err := users.UpsertTenant(ctx, &v1.Tenant{ID: tenantID, Active: true}); err != nil {
		return err
	}
	return users.UpsertUser(ctx, &v1.User{
		ID:        userID,
		TenantID:  tenantID,
		Role:      v1.RoleAdmin,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
}
