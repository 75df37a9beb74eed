package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/devplane/devplane/pkg/api/v1"
)

func TestCatalogPrimary(t *testing.T) {
	c := NewCatalog("")
	assert.Equal(t, "qwen2.5-coder:7b", c.Primary(v1.TierBalanced))
	assert.Equal(t, "qwen2.5-coder:32b", c.Primary(v1.TierFull))
}

func TestCatalogPrimaryOverride(t *testing.T) {
	c := NewCatalog("my-custom-model:latest")
	assert.Equal(t, "my-custom-model:latest", c.Primary(v1.TierBalanced))
	assert.Equal(t, "my-custom-model:latest", c.Primary(v1.TierUltra))
}

func TestCatalogNextInTier(t *testing.T) {
	c := NewCatalog("")

	// Middle of the order advances by one.
	assert.Equal(t, "llama3.1:8b", c.NextInTier(v1.TierBalanced, "qwen2.5-coder:7b"))
	assert.Equal(t, "deepseek-coder-v2:16b", c.NextInTier(v1.TierBalanced, "llama3.1:8b"))

	// Last entry has no next.
	assert.Equal(t, "", c.NextInTier(v1.TierBalanced, "deepseek-coder-v2:16b"))

	// A model outside the tier falls back to the tier's first entry.
	assert.Equal(t, "qwen2.5-coder:7b", c.NextInTier(v1.TierBalanced, "my-custom-model:latest"))
}

func TestCatalogFamilyFallback(t *testing.T) {
	c := NewCatalog("")

	// No later same-family entry: fall back to the tier primary.
	assert.Equal(t, "qwen2.5-coder:7b", c.FamilyFallback(v1.TierBalanced, "llama3.1:8b"))

	// Failed model is the primary itself: next entry is chosen.
	assert.Equal(t, "llama3.1:8b", c.FamilyFallback(v1.TierBalanced, "qwen2.5-coder:7b"))
}

func TestCatalogFirstLoadedWithCapability(t *testing.T) {
	c := NewCatalog("")

	// Nothing loaded yet: no match.
	assert.Empty(t, c.FirstLoadedWithCapability(v1.TierBalanced, v1.CapCode))

	c.MarkLoaded([]string{"deepseek-coder-v2:16b"})
	assert.Equal(t, "deepseek-coder-v2:16b", c.FirstLoadedWithCapability(v1.TierBalanced, v1.CapCode))

	// Loading an earlier one restores catalog order among loaded models.
	c.MarkLoaded([]string{"qwen2.5-coder:7b", "deepseek-coder-v2:16b"})
	assert.Equal(t, "qwen2.5-coder:7b", c.FirstLoadedWithCapability(v1.TierBalanced, v1.CapCode))

	// Loaded but lacking the capability does not match.
	assert.Empty(t, c.FirstLoadedWithCapability(v1.TierBalanced, v1.CapEmbed))
}

func TestCatalogHandle(t *testing.T) {
	c := NewCatalog("")

	h, ok := c.Handle("llama3.1:70b")
	require.True(t, ok)
	assert.Equal(t, v1.TierFull, h.Tier)
	assert.Equal(t, "llama", h.Family)
	assert.True(t, h.HasCapability(v1.CapReasoning))

	_, ok = c.Handle("nope")
	assert.False(t, ok)
}

func TestVirtualCost(t *testing.T) {
	// 1000 in + 1000 out at the qwen 7b rates.
	cost := VirtualCost("qwen2.5-coder:7b", 1000, 1000)
	assert.InDelta(t, 0.00015, cost, 1e-9)

	// Unknown models use the default rate instead of zero.
	assert.Greater(t, VirtualCost("mystery:1b", 1000, 0), 0.0)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 3, EstimateTokens("one two three"))
	assert.Equal(t, 2, EstimateTokens("  spaced\n\nout  "))
}
