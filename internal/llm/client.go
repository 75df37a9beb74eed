package llm

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/common/logger"
)

// GenerateRequest is a single completion request against one model.
type GenerateRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
}

// GenerateResult carries the completion text plus token usage. Token
// counts come from the backend when it reports them, otherwise they are
// whitespace estimates.
type GenerateResult struct {
	Model     string
	Text      string
	TokensIn  int
	TokensOut int
}

// StreamChunk is one increment of a streamed completion. Err is set on
// the final chunk when the stream ended abnormally.
type StreamChunk struct {
	Text string
	Err  error
}

// Client wraps an OpenAI-compatible chat completion backend. Local
// runtimes (Ollama, vLLM, llama.cpp server) all speak this dialect.
type Client struct {
	api     *openai.Client
	baseURL string
	timeout time.Duration
	log     *logger.Logger
}

// NewClient builds a client against baseURL. The OpenAI-compatible
// surface lives under /v1 on local runtimes, so the suffix is appended
// when missing.
func NewClient(baseURL, apiKey string, timeout time.Duration, log *logger.Logger) *Client {
	base := strings.TrimSuffix(strings.TrimSpace(baseURL), "/")

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = base
	if !strings.HasSuffix(base, "/v1") {
		cfg.BaseURL = base + "/v1"
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	return &Client{
		api:     openai.NewClientWithConfig(cfg),
		baseURL: base,
		timeout: timeout,
		log:     log.WithFields(zap.String("component", "llm-client")),
	}
}

// BaseURL returns the backend root (without the /v1 suffix).
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Generate performs one blocking completion call.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if req.Model == "" {
		return nil, errors.Precondition("model is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, c.buildRequest(req, false))
	if err != nil {
		return nil, c.classify(req.Model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.External("backend returned no choices", nil).WithDetail("model", req.Model)
	}

	text := resp.Choices[0].Message.Content
	result := &GenerateResult{
		Model:     req.Model,
		Text:      text,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
	}
	if result.TokensIn == 0 && result.TokensOut == 0 {
		result.TokensIn = EstimateTokens(req.System) + EstimateTokens(req.Prompt)
		result.TokensOut = EstimateTokens(text)
	}

	c.log.Debug("completion finished",
		zap.String("model", req.Model),
		zap.Int("tokens_in", result.TokensIn),
		zap.Int("tokens_out", result.TokensOut))
	return result, nil
}

// Stream performs a streaming completion. Chunks arrive on the returned
// channel in generation order; the channel closes when the stream ends.
// Cancelling ctx terminates the stream and closes the channel.
func (c *Client) Stream(ctx context.Context, req GenerateRequest) (<-chan StreamChunk, error) {
	if req.Model == "" {
		return nil, errors.Precondition("model is required")
	}

	streamCtx, cancel := context.WithTimeout(ctx, c.timeout)

	stream, err := c.api.CreateChatCompletionStream(streamCtx, c.buildRequest(req, true))
	if err != nil {
		cancel()
		return nil, c.classify(req.Model, err)
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer cancel()
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if err != nil {
				if stderrors.Is(err, io.EOF) {
					return
				}
				select {
				case out <- StreamChunk{Err: c.classify(req.Model, err)}:
				case <-ctx.Done():
				}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case out <- StreamChunk{Text: delta}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) buildRequest(req GenerateRequest, stream bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	return openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
}

// classify maps transport and API failures onto the shared error kinds.
func (c *Client) classify(model string, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Timeout("llm call timed out").WithDetail("model", model)
	}
	if stderrors.Is(err, context.Canceled) {
		return errors.Cancelled("llm call cancelled").WithDetail("model", model)
	}

	var apiErr *openai.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusNotFound:
			return errors.NotFound("model", model)
		case http.StatusUnauthorized, http.StatusForbidden:
			return errors.Denied("backend rejected credentials")
		case http.StatusRequestTimeout:
			return errors.Timeout("backend reported a timeout").WithDetail("model", model)
		default:
			return errors.External("backend error", err).WithDetail("model", model).WithDetail("status", apiErr.HTTPStatusCode)
		}
	}
	return errors.External("llm call failed", err).WithDetail("model", model)
}
