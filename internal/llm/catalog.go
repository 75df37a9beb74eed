// Package llm provides the tiered LLM client pool: an OpenAI-compatible
// client, a single-worker request batcher, and per-call cost metering.
package llm

import (
	"strings"
	"sync"

	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// modelRate prices a model per 1k tokens. Local models carry virtual
// rates so cost accounting stays meaningful without a billing backend.
type modelRate struct {
	InUSD  float64
	OutUSD float64
}

// catalogEntries is the static tier table. Order within a tier matters:
// the first entry is the tier primary and fallback walks forward.
var catalogEntries = map[v1.ModelTier][]v1.ModelHandle{
	v1.TierMinimal: {
		{ID: "qwen2.5-coder:1.5b", Tier: v1.TierMinimal, Family: "qwen", Capabilities: []v1.ModelCapability{v1.CapCode, v1.CapChat}, ContextLen: 32768},
		{ID: "llama3.2:1b", Tier: v1.TierMinimal, Family: "llama", Capabilities: []v1.ModelCapability{v1.CapChat}, ContextLen: 131072},
	},
	v1.TierBalanced: {
		{ID: "qwen2.5-coder:7b", Tier: v1.TierBalanced, Family: "qwen", Capabilities: []v1.ModelCapability{v1.CapCode, v1.CapChat}, ContextLen: 32768},
		{ID: "llama3.1:8b", Tier: v1.TierBalanced, Family: "llama", Capabilities: []v1.ModelCapability{v1.CapChat, v1.CapReasoning}, ContextLen: 131072},
		{ID: "deepseek-coder-v2:16b", Tier: v1.TierBalanced, Family: "deepseek", Capabilities: []v1.ModelCapability{v1.CapCode, v1.CapMoE}, ContextLen: 163840},
	},
	v1.TierFull: {
		{ID: "qwen2.5-coder:32b", Tier: v1.TierFull, Family: "qwen", Capabilities: []v1.ModelCapability{v1.CapCode, v1.CapChat, v1.CapReasoning}, ContextLen: 131072},
		{ID: "llama3.1:70b", Tier: v1.TierFull, Family: "llama", Capabilities: []v1.ModelCapability{v1.CapChat, v1.CapReasoning}, ContextLen: 131072},
	},
	v1.TierUltra: {
		{ID: "deepseek-v3:671b", Tier: v1.TierUltra, Family: "deepseek", Capabilities: []v1.ModelCapability{v1.CapCode, v1.CapChat, v1.CapReasoning, v1.CapMoE}, ContextLen: 163840},
		{ID: "qwen2.5:72b", Tier: v1.TierUltra, Family: "qwen", Capabilities: []v1.ModelCapability{v1.CapChat, v1.CapReasoning}, ContextLen: 131072},
	},
}

var modelRates = map[string]modelRate{
	"qwen2.5-coder:1.5b":    {InUSD: 0.00001, OutUSD: 0.00002},
	"llama3.2:1b":           {InUSD: 0.00001, OutUSD: 0.00002},
	"qwen2.5-coder:7b":      {InUSD: 0.00005, OutUSD: 0.0001},
	"llama3.1:8b":           {InUSD: 0.00005, OutUSD: 0.0001},
	"deepseek-coder-v2:16b": {InUSD: 0.0001, OutUSD: 0.0002},
	"qwen2.5-coder:32b":     {InUSD: 0.0002, OutUSD: 0.0004},
	"llama3.1:70b":          {InUSD: 0.0005, OutUSD: 0.001},
	"deepseek-v3:671b":      {InUSD: 0.001, OutUSD: 0.002},
	"qwen2.5:72b":           {InUSD: 0.0005, OutUSD: 0.001},
}

// defaultRate covers models outside the static table (e.g. an operator
// override via LLM_PRIMARY_MODEL).
var defaultRate = modelRate{InUSD: 0.0001, OutUSD: 0.0002}

// Catalog resolves models by tier, capability, and family. Loaded state
// is refreshed from the backend's tag listing.
type Catalog struct {
	mu      sync.RWMutex
	tiers   map[v1.ModelTier][]v1.ModelHandle
	primary string // operator override for the active tier's primary
}

// NewCatalog builds the catalog. primaryOverride, when non-empty, becomes
// the primary of every tier lookup (the operator pinned a model).
func NewCatalog(primaryOverride string) *Catalog {
	tiers := make(map[v1.ModelTier][]v1.ModelHandle, len(catalogEntries))
	for tier, handles := range catalogEntries {
		cp := make([]v1.ModelHandle, len(handles))
		copy(cp, handles)
		tiers[tier] = cp
	}
	return &Catalog{tiers: tiers, primary: strings.TrimSpace(primaryOverride)}
}

// Primary returns the primary model id for a tier.
func (c *Catalog) Primary(tier v1.ModelTier) string {
	if c.primary != "" {
		return c.primary
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	handles := c.tiers[tier]
	if len(handles) == 0 {
		return ""
	}
	return handles[0].ID
}

// Models returns the ordered handles for a tier.
func (c *Catalog) Models(tier v1.ModelTier) []v1.ModelHandle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	handles := c.tiers[tier]
	out := make([]v1.ModelHandle, len(handles))
	copy(out, handles)
	return out
}

// Handle returns the catalog entry for a model id.
func (c *Catalog) Handle(modelID string) (v1.ModelHandle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, handles := range c.tiers {
		for _, h := range handles {
			if h.ID == modelID {
				return h, true
			}
		}
	}
	return v1.ModelHandle{}, false
}

// FirstLoadedWithCapability returns the first loaded model in the tier
// whose capabilities include cap. Falls back to the first entry with the
// capability regardless of loaded state, then to "".
func (c *Catalog) FirstLoadedWithCapability(tier v1.ModelTier, cap v1.ModelCapability) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, h := range c.tiers[tier] {
		if h.Loaded && h.HasCapability(cap) {
			return h.ID
		}
	}
	return ""
}

// NextInTier returns the entry after modelID in the tier's order, used
// as the single retry candidate for plain completions. A model outside
// the tier (an operator override) falls back to the tier's first entry.
// Returns "" when the tier holds no alternative.
func (c *Catalog) NextInTier(tier v1.ModelTier, modelID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	handles := c.tiers[tier]
	for i, h := range handles {
		if h.ID != modelID {
			continue
		}
		if i+1 < len(handles) {
			return handles[i+1].ID
		}
		return ""
	}
	if len(handles) > 0 && handles[0].ID != modelID {
		return handles[0].ID
	}
	return ""
}

// FamilyFallback returns the model to try after modelID failed: the next
// entry of the same family in the tier, else the tier primary. Returns ""
// when the only option is the failed model itself.
func (c *Catalog) FamilyFallback(tier v1.ModelTier, modelID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	handles := c.tiers[tier]
	failedIdx := -1
	var failedFamily string
	for i, h := range handles {
		if h.ID == modelID {
			failedIdx = i
			failedFamily = h.Family
			break
		}
	}

	if failedIdx >= 0 {
		for _, h := range handles[failedIdx+1:] {
			if h.Family == failedFamily {
				return h.ID
			}
		}
	}

	if len(handles) > 0 && handles[0].ID != modelID {
		return handles[0].ID
	}
	if len(handles) > 1 {
		return handles[1].ID
	}
	return ""
}

// MarkLoaded replaces the loaded flags from a backend tag listing.
func (c *Catalog) MarkLoaded(modelIDs []string) {
	loaded := make(map[string]bool, len(modelIDs))
	for _, id := range modelIDs {
		loaded[id] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for tier, handles := range c.tiers {
		for i := range handles {
			handles[i].Loaded = loaded[handles[i].ID]
		}
		c.tiers[tier] = handles
	}
}

// Rate returns the per-1k-token pricing for a model.
func Rate(modelID string) modelRate {
	if r, ok := modelRates[modelID]; ok {
		return r
	}
	return defaultRate
}

// VirtualCost computes the virtual USD cost of a call.
func VirtualCost(modelID string, tokensIn, tokensOut int) float64 {
	r := Rate(modelID)
	return float64(tokensIn)/1000*r.InUSD + float64(tokensOut)/1000*r.OutUSD
}

// EstimateTokens approximates a token count by whitespace splitting. Used
// when the backend does not return usage numbers.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(strings.Fields(text))
}
