package llm

import (
	"context"
	"time"

	"github.com/devplane/devplane/internal/common/config"
	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/ledger"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// Provide wires the LLM pool from configuration: catalog, completion
// client, batching worker, and a best-effort loaded-model refresh. The
// returned cleanup drains the batcher.
func Provide(cfg *config.LLMConfig, led *ledger.Ledger, log *logger.Logger) (*Pool, func() error, error) {
	tier := v1.ModelTier(cfg.Tier)
	if !tier.Valid() {
		tier = v1.TierBalanced
	}

	catalog := NewCatalog(cfg.PrimaryModel)
	client := NewClient(cfg.BaseURL, cfg.APIKey, cfg.CallTimeoutDuration(), log)
	pool := NewPool(tier, catalog, client, cfg.BatchWindow(), cfg.MaxBatch, led, log)

	// Loaded flags are advisory; an unreachable runtime just leaves
	// every model unloaded and routing falls back to catalog order.
	runtime := NewRuntimeClient(client.BaseURL(), log)
	refreshCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	runtime.RefreshLoaded(refreshCtx, catalog)
	cancel()

	cleanup := func() error {
		return pool.Close()
	}
	return pool, cleanup, nil
}
