package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/llm"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// mockRuntime holds the mutable state: the set of locally "installed"
// models. It is preloaded with the plane's full model table so a dev
// instance starts with every catalog entry loaded.
type mockRuntime struct {
	mu     sync.RWMutex
	models map[string]time.Time // model id -> install time
	log    *logger.Logger
}

func newMockRuntime(log *logger.Logger) *mockRuntime {
	models := make(map[string]time.Time)
	catalog := llm.NewCatalog("")
	for _, tier := range []v1.ModelTier{v1.TierMinimal, v1.TierBalanced, v1.TierFull, v1.TierUltra} {
		for _, h := range catalog.Models(tier) {
			models[h.ID] = time.Now().UTC()
		}
	}
	return &mockRuntime{
		models: models,
		log:    log.WithFields(zap.String("component", "mock-llm")),
	}
}

// Router builds the gin engine serving both dialects.
func (m *mockRuntime) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "mock-llm"})
	})
	router.POST("/v1/chat/completions", m.chatCompletions)
	router.GET("/api/tags", m.listTags)
	router.POST("/api/pull", m.pullModel)

	return router
}

func (m *mockRuntime) hasModel(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.models[id]
	return ok
}

// apiError writes the OpenAI error envelope so client-side error
// classification sees the same shape a real backend produces.
func apiError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": gin.H{"message": msg, "type": "api_error"}})
}

func (m *mockRuntime) chatCompletions(c *gin.Context) {
	var req openai.ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.Model == "" {
		apiError(c, http.StatusBadRequest, "model is required")
		return
	}
	if !m.hasModel(req.Model) {
		apiError(c, http.StatusNotFound, fmt.Sprintf("model %q not found, try pulling it first", req.Model))
		return
	}

	out := route(req.Model, lastUserMessage(req.Messages))
	if out.delay > 0 {
		select {
		case <-time.After(out.delay):
		case <-c.Request.Context().Done():
			return
		}
	}
	if out.status != http.StatusOK {
		apiError(c, out.status, out.errMsg)
		return
	}

	m.log.Debug("completion served",
		zap.String("model", req.Model),
		zap.Bool("stream", req.Stream))

	if req.Stream {
		m.streamCompletion(c, req.Model, out.text)
		return
	}

	resp := openai.ChatCompletionResponse{
		ID:      fmt.Sprintf("chatcmpl-mock-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []openai.ChatCompletionChoice{{
			Index: 0,
			Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: out.text,
			},
			FinishReason: openai.FinishReasonStop,
		}},
		Usage: openai.Usage{
			PromptTokens:     promptTokens(req.Messages),
			CompletionTokens: llm.EstimateTokens(out.text),
		},
	}
	resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	c.JSON(http.StatusOK, resp)
}

// streamCompletion writes the reply as SSE chunks terminated by the
// [DONE] sentinel, the framing the OpenAI streaming client expects.
func (m *mockRuntime) streamCompletion(c *gin.Context, model, text string) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")

	id := fmt.Sprintf("chatcmpl-mock-%d", time.Now().UnixNano())
	created := time.Now().Unix()
	for _, chunk := range chunkText(text, 16) {
		payload := openai.ChatCompletionStreamResponse{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []openai.ChatCompletionStreamChoice{{
				Index: 0,
				Delta: openai.ChatCompletionStreamChoiceDelta{Content: chunk},
			}},
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", data)
		c.Writer.Flush()
	}

	final := openai.ChatCompletionStreamResponse{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []openai.ChatCompletionStreamChoice{{
			Index:        0,
			FinishReason: openai.FinishReasonStop,
		}},
	}
	if data, err := json.Marshal(final); err == nil {
		fmt.Fprintf(c.Writer, "data: %s\n\n", data)
	}
	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()
}

func (m *mockRuntime) listTags(c *gin.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.models))
	for id := range m.models {
		ids = append(ids, id)
	}
	installed := make(map[string]time.Time, len(m.models))
	for id, at := range m.models {
		installed[id] = at
	}
	m.mu.RUnlock()
	sort.Strings(ids)

	models := make([]gin.H, 0, len(ids))
	for _, id := range ids {
		models = append(models, gin.H{
			"name":        id,
			"size":        int64(1 << 30),
			"modified_at": installed[id],
		})
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

// pullModel streams Ollama-style progress lines and installs the model.
// Names containing "unavailable" fail with an error line, the knob for
// exercising pull failures.
func (m *mockRuntime) pullModel(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	name := strings.TrimSpace(req.Name)

	c.Header("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(c.Writer)

	if strings.Contains(name, "unavailable") {
		_ = enc.Encode(gin.H{"error": fmt.Sprintf("pull model manifest: %q does not exist", name)})
		c.Writer.Flush()
		return
	}

	for _, status := range []gin.H{
		{"status": "pulling manifest"},
		{"status": "downloading", "completed": 512, "total": 1024},
		{"status": "downloading", "completed": 1024, "total": 1024},
		{"status": "verifying sha256 digest"},
	} {
		_ = enc.Encode(status)
		c.Writer.Flush()
	}

	m.mu.Lock()
	m.models[name] = time.Now().UTC()
	m.mu.Unlock()

	_ = enc.Encode(gin.H{"status": "success"})
	c.Writer.Flush()
	m.log.Info("model installed", zap.String("model", name))
}

// lastUserMessage returns the content of the final user-role message,
// the prompt the scenario router keys on.
func lastUserMessage(messages []openai.ChatCompletionMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == openai.ChatMessageRoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func promptTokens(messages []openai.ChatCompletionMessage) int {
	total := 0
	for _, msg := range messages {
		total += llm.EstimateTokens(msg.Content)
	}
	return total
}

// chunkText splits text into n-rune pieces so streaming looks
// incremental without altering the reassembled content.
func chunkText(text string, n int) []string {
	runes := []rune(text)
	var chunks []string
	for len(runes) > 0 {
		k := n
		if k > len(runes) {
			k = len(runes)
		}
		chunks = append(chunks, string(runes[:k]))
		runes = runes[k:]
	}
	return chunks
}
