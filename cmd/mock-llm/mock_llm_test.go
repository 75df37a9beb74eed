package main

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devplane/devplane/internal/aiupdate"
	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/llm"
)

// The tests drive the mock through the plane's real clients: if the
// client packages can talk to it, so can the assembled binary.

func newMockBackend(t *testing.T) (*httptest.Server, *llm.Client, *llm.RuntimeClient) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.Default()

	srv := httptest.NewServer(newMockRuntime(log).Router())
	t.Cleanup(srv.Close)

	client := llm.NewClient(srv.URL, "", 10*time.Second, log)
	runtime := llm.NewRuntimeClient(client.BaseURL(), log)
	return srv, client, runtime
}

func TestGenerateServesCatalogModels(t *testing.T) {
	_, client, _ := newMockBackend(t)

	res, err := client.Generate(context.Background(), llm.GenerateRequest{
		Model:  "qwen2.5-coder:7b",
		System: "you are a helpful assistant",
		Prompt: "summarize the build",
	})
	require.NoError(t, err)
	assert.Contains(t, res.Text, "Mock reply from qwen2.5-coder:7b")
	assert.Contains(t, res.Text, "summarize the build")
	assert.Greater(t, res.TokensIn, 0)
	assert.Greater(t, res.TokensOut, 0)
}

func TestGenerateUnknownModelIsNotFound(t *testing.T) {
	_, client, _ := newMockBackend(t)

	_, err := client.Generate(context.Background(), llm.GenerateRequest{
		Model:  "nope:1b",
		Prompt: "hello",
	})
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err), "expected NOT_FOUND, got %v", err)
}

func TestErrorScenarios(t *testing.T) {
	_, client, _ := newMockBackend(t)

	_, err := client.Generate(context.Background(), llm.GenerateRequest{
		Model:  "llama3.1:8b",
		Prompt: "/error",
	})
	require.Error(t, err)
	assert.Equal(t, errors.KindExternal, errors.KindOf(err))

	_, err = client.Generate(context.Background(), llm.GenerateRequest{
		Model:  "llama3.1:8b",
		Prompt: "/denied",
	})
	require.Error(t, err)
	assert.Equal(t, errors.KindDenied, errors.KindOf(err))
}

func TestStreamReassemblesExactly(t *testing.T) {
	_, client, _ := newMockBackend(t)

	req := llm.GenerateRequest{Model: "qwen2.5-coder:7b", Prompt: "stream me"}
	full, err := client.Generate(context.Background(), req)
	require.NoError(t, err)

	chunks, err := client.Stream(context.Background(), req)
	require.NoError(t, err)

	var text strings.Builder
	for chunk := range chunks {
		require.NoError(t, chunk.Err)
		text.WriteString(chunk.Text)
	}
	assert.Equal(t, full.Text, text.String())
}

func TestFilesScenarioProducesApplicableBlocks(t *testing.T) {
	_, client, _ := newMockBackend(t)

	res, err := client.Generate(context.Background(), llm.GenerateRequest{
		Model:  "qwen2.5-coder:7b",
		Prompt: "/files add a greeting",
	})
	require.NoError(t, err)

	changes := aiupdate.ParseFileBlocks(res.Text)
	require.Len(t, changes, 2)
	assert.Equal(t, "MOCK_NOTES.md", changes[0].Path)
	assert.Contains(t, changes[0].NewContent, "add a greeting")
	assert.Equal(t, "scripts/mock_touch.sh", changes[1].Path)
}

func TestTagsRefreshMarksCatalogLoaded(t *testing.T) {
	_, _, runtime := newMockBackend(t)

	ids, err := runtime.ListLocalModels(context.Background())
	require.NoError(t, err)
	assert.Contains(t, ids, "qwen2.5-coder:7b")
	assert.Contains(t, ids, "deepseek-v3:671b")

	catalog := llm.NewCatalog("")
	runtime.RefreshLoaded(context.Background(), catalog)
	handle, ok := catalog.Handle("qwen2.5-coder:7b")
	require.True(t, ok)
	assert.True(t, handle.Loaded)
}

func TestPullInstallsModel(t *testing.T) {
	_, client, runtime := newMockBackend(t)

	require.NoError(t, runtime.Pull(context.Background(), "custom-model:3b"))

	ids, err := runtime.ListLocalModels(context.Background())
	require.NoError(t, err)
	assert.Contains(t, ids, "custom-model:3b")

	res, err := client.Generate(context.Background(), llm.GenerateRequest{
		Model:  "custom-model:3b",
		Prompt: "hello",
	})
	require.NoError(t, err)
	assert.Contains(t, res.Text, "custom-model:3b")
}

func TestPullUnavailableModelFails(t *testing.T) {
	_, _, runtime := newMockBackend(t)

	err := runtime.Pull(context.Background(), "ghost-unavailable:1b")
	require.Error(t, err)
	assert.Equal(t, errors.KindExternal, errors.KindOf(err))
}
