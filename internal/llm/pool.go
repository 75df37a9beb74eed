package llm

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/ledger"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// Request is a pool-level completion request. Model pins a specific
// model and disables tier fallback; when empty the tier primary is
// chosen and one retry against the next tier entry is allowed.
type Request struct {
	Model       string
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int

	// Operation and Metadata flow into the cost record for this call.
	Operation string
	Metadata  map[string]string
}

// Pool is the tiered entry point for completions. It routes requests
// through the batching worker, applies the tier fallback policy, and
// meters every call into the cost ledger exactly once.
type Pool struct {
	tier    v1.ModelTier
	catalog *Catalog
	client  *Client
	batcher *Batcher
	ledger  *ledger.Ledger
	logger  *logger.Logger
}

// NewPool wires the pool. The batcher starts immediately.
func NewPool(tier v1.ModelTier, catalog *Catalog, client *Client, batchWindow time.Duration, maxBatch int, led *ledger.Ledger, log *logger.Logger) *Pool {
	p := &Pool{
		tier:    tier,
		catalog: catalog,
		client:  client,
		ledger:  led,
		logger:  log.WithFields(zap.String("component", "llm-pool")),
	}
	p.batcher = NewBatcher(client.Generate, batchWindow, maxBatch, log)
	return p
}

// Tier returns the pool's configured tier.
func (p *Pool) Tier() v1.ModelTier {
	return p.tier
}

// Catalog exposes model resolution for callers that pick their own
// models (the swarm router).
func (p *Pool) Catalog() *Catalog {
	return p.catalog
}

// Close drains the batching worker.
func (p *Pool) Close() error {
	p.batcher.Close()
	return nil
}

// Generate runs one completion. Unpinned requests that fail on the
// chosen model are retried once against the next model in the tier.
// Exactly one cost record is written before returning, covering the
// whole call including any retry.
func (p *Pool) Generate(ctx context.Context, req Request) (*GenerateResult, error) {
	start := time.Now()
	pinned := req.Model != ""

	model := req.Model
	if model == "" {
		model = p.catalog.Primary(p.tier)
	}
	if model == "" {
		return nil, errors.Preconditionf("tier %s has no models", p.tier)
	}

	result, err := p.batcher.Submit(ctx, GenerateRequest{
		Model:       model,
		System:      req.System,
		Prompt:      req.Prompt,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})

	fellBack := false
	if err != nil && !pinned && retryable(err) {
		if next := p.catalog.NextInTier(p.tier, model); next != "" {
			p.logger.Warn("model failed, trying next in tier",
				zap.String("model", model),
				zap.String("fallback", next),
				zap.Error(err))
			fellBack = true
			model = next
			result, err = p.batcher.Submit(ctx, GenerateRequest{
				Model:       model,
				System:      req.System,
				Prompt:      req.Prompt,
				Temperature: req.Temperature,
				MaxTokens:   req.MaxTokens,
			})
		}
	}

	p.record(ctx, req, model, result, err, start, fellBack)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Stream runs a streaming completion. Streams bypass the batcher; the
// cost record is written when the stream terminates, covering the text
// actually produced.
func (p *Pool) Stream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.catalog.Primary(p.tier)
	}
	if model == "" {
		return nil, errors.Preconditionf("tier %s has no models", p.tier)
	}

	chunks, err := p.client.Stream(ctx, GenerateRequest{
		Model:       model,
		System:      req.System,
		Prompt:      req.Prompt,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		p.record(ctx, req, model, nil, err, start, false)
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		var text strings.Builder
		var streamErr error
		for chunk := range chunks {
			if chunk.Err != nil {
				streamErr = chunk.Err
			} else {
				text.WriteString(chunk.Text)
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				streamErr = errors.FromContextErr(ctx.Err())
				p.streamRecord(req, model, text.String(), streamErr, start)
				return
			}
		}
		p.streamRecord(req, model, text.String(), streamErr, start)
	}()
	return out, nil
}

// record writes the single cost record for a blocking call.
func (p *Pool) record(ctx context.Context, req Request, model string, result *GenerateResult, err error, start time.Time, fellBack bool) {
	tokensIn, tokensOut := 0, 0
	if result != nil {
		tokensIn, tokensOut = result.TokensIn, result.TokensOut
	} else {
		tokensIn = EstimateTokens(req.System) + EstimateTokens(req.Prompt)
	}

	meta := p.buildMeta(req, model, err, fellBack)
	p.ledger.RecordOp(ctx, p.operation(req), start, tokensIn, tokensOut, VirtualCost(model, tokensIn, tokensOut), meta)
}

// streamRecord writes the single cost record for a stream, using the
// accumulated output text for token estimation.
func (p *Pool) streamRecord(req Request, model, text string, err error, start time.Time) {
	tokensIn := EstimateTokens(req.System) + EstimateTokens(req.Prompt)
	tokensOut := EstimateTokens(text)
	meta := p.buildMeta(req, model, err, false)
	meta["stream"] = "true"
	p.ledger.RecordOp(context.Background(), p.operation(req), start, tokensIn, tokensOut, VirtualCost(model, tokensIn, tokensOut), meta)
}

func (p *Pool) operation(req Request) string {
	if req.Operation != "" {
		return req.Operation
	}
	return "llm.generate"
}

func (p *Pool) buildMeta(req Request, model string, err error, fellBack bool) map[string]string {
	meta := make(map[string]string, len(req.Metadata)+4)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	meta["model"] = model
	meta["tier"] = string(p.tier)
	if fellBack {
		meta["fallback"] = "true"
	}
	if err != nil {
		meta["status"] = "error"
		meta["error_kind"] = string(errors.KindOf(err))
	} else {
		meta["status"] = "ok"
	}
	return meta
}

// retryable reports whether a failure is worth one more model. Caller
// mistakes and cancellations are not.
func retryable(err error) bool {
	switch errors.KindOf(err) {
	case errors.KindExternal, errors.KindTimeout, errors.KindNotFound:
		return true
	default:
		return false
	}
}
