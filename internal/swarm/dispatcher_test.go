package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devplane/devplane/internal/blackboard"
	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/ledger"
	"github.com/devplane/devplane/internal/llm"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

var nodeNameRe = regexp.MustCompile(`You are the (\S+) worker`)

// swarmBackend fakes the LLM API: each call replies "out(<node>)" keyed
// by the system prompt, records the user prompt per node, and fails
// listed models with HTTP 500.
type swarmBackend struct {
	srv        *httptest.Server
	mu         sync.Mutex
	prompts    map[string]string
	failModels map[string]bool
}

func newSwarmBackend(t *testing.T, failModels map[string]bool) *swarmBackend {
	t.Helper()
	b := &swarmBackend{
		prompts:    make(map[string]string),
		failModels: failModels,
	}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		node := "unknown"
		var prompt string
		for _, m := range req.Messages {
			switch m.Role {
			case "system":
				if match := nodeNameRe.FindStringSubmatch(m.Content); match != nil {
					node = match[1]
				}
			case "user":
				prompt = m.Content
			}
		}
		b.mu.Lock()
		b.prompts[node] = prompt
		b.mu.Unlock()

		if b.failModels[req.Model] {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprintf(w, `{"error":{"message":"model %s down","type":"server_error"}}`, req.Model)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"c","object":"chat.completion","model":%q,
			"choices":[{"index":0,"message":{"role":"assistant","content":"out(%s)"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}}`, req.Model, node)
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *swarmBackend) prompt(node string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.prompts[node]
}

func newTestDispatcher(t *testing.T, backend *swarmBackend) (*Dispatcher, *ledger.Ledger, *blackboard.Board) {
	t.Helper()
	log := logger.Default()
	led := ledger.New(ledger.NewMemoryStore(), nil, log)
	catalog := llm.NewCatalog("")
	client := llm.NewClient(backend.srv.URL, "", 10*time.Second, log)
	pool := llm.NewPool(v1.TierBalanced, catalog, client, 5*time.Millisecond, 5, led, log)
	t.Cleanup(func() { _ = pool.Close() })
	board := blackboard.New(nil, log)
	return NewDispatcher(pool, catalog, board, v1.TierBalanced, nil, log), led, board
}

func TestActCodeUpdateAggregatesInPlanOrder(t *testing.T) {
	backend := newSwarmBackend(t, nil)
	d, _, board := newTestDispatcher(t, backend)

	task := &v1.AgentTask{Kind: v1.TaskFix, Prompt: "fix the login bug"}
	result, err := d.Act(context.Background(), task)
	require.NoError(t, err)

	assert.Equal(t, v1.TaskStateCompleted, task.State)
	assert.Equal(t, StrategyCodeUpdate, result.Decomposition.Strategy)
	assert.Equal(t, []string{"analyze", "generate", "verify"}, result.Decomposition.Nodes)
	require.Len(t, result.WorkerResults, 3)
	assert.Equal(t, "analyze", result.WorkerResults[0].Node)
	assert.Equal(t, "out(generate)", result.WorkerResults[1].Output)

	// Aggregation follows plan order.
	ia := strings.Index(result.Solution, "out(analyze)")
	ig := strings.Index(result.Solution, "out(generate)")
	iv := strings.Index(result.Solution, "out(verify)")
	assert.True(t, ia >= 0 && ia < ig && ig < iv, "solution out of order: %q", result.Solution)

	// Intermediate results land on the blackboard under stable keys.
	entry, err := board.Read(blackboard.SwarmKey(task.ID, "generate"))
	require.NoError(t, err)
	assert.Equal(t, "out(generate)", entry.Value)
}

func TestActDirectSolutionVerbatim(t *testing.T) {
	backend := newSwarmBackend(t, nil)
	d, _, _ := newTestDispatcher(t, backend)

	result, err := d.Act(context.Background(), &v1.AgentTask{Kind: v1.TaskExplain, Prompt: "what does this do"})
	require.NoError(t, err)
	assert.Equal(t, "out(respond)", result.Solution)
}

func TestActPassesContextAndUpstreamOutputs(t *testing.T) {
	backend := newSwarmBackend(t, nil)
	d, _, _ := newTestDispatcher(t, backend)

	task := &v1.AgentTask{
		Kind:    v1.TaskFix,
		Prompt:  "fix the off-by-one",
		Context: map[string]string{"code": "func at(i int) {}", "model": ""},
	}
	_, err := d.Act(context.Background(), task)
	require.NoError(t, err)

	analyze := backend.prompt("analyze")
	assert.Contains(t, analyze, "fix the off-by-one")
	assert.Contains(t, analyze, "--- code ---")
	assert.Contains(t, analyze, "func at(i int) {}")

	generate := backend.prompt("generate")
	assert.Contains(t, generate, "--- output of analyze ---")
	assert.Contains(t, generate, "out(analyze)")
}

func TestActFallbackMetersBothCalls(t *testing.T) {
	// Primary rejects; the next-in-tier model serves the retry.
	backend := newSwarmBackend(t, map[string]bool{"qwen2.5-coder:7b": true})
	d, led, _ := newTestDispatcher(t, backend)

	task := &v1.AgentTask{
		Kind:    v1.TaskFix,
		Prompt:  "fix bug",
		Context: map[string]string{"type": "single_file"},
	}
	result, err := d.Act(context.Background(), task)
	require.NoError(t, err)

	assert.Equal(t, "out(apply)", result.Solution)
	require.Len(t, result.WorkerResults, 1)
	assert.True(t, result.WorkerResults[0].FellBack)
	assert.Equal(t, "llama3.1:8b", result.WorkerResults[0].Model)

	recs, err := led.List(context.Background(), ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	// Newest first: the successful fallback call, then the failed one.
	assert.Equal(t, "ok", recs[0].Metadata["status"])
	assert.Equal(t, "llama3.1:8b", recs[0].Metadata["model"])
	assert.Equal(t, "error", recs[1].Metadata["status"])
	assert.Equal(t, "qwen2.5-coder:7b", recs[1].Metadata["model"])
	assert.Equal(t, "swarm.apply", recs[0].Operation)
}

func TestActSecondFailureFailsTask(t *testing.T) {
	backend := newSwarmBackend(t, map[string]bool{
		"qwen2.5-coder:7b": true,
		"llama3.1:8b":      true,
	})
	d, led, _ := newTestDispatcher(t, backend)

	task := &v1.AgentTask{
		Kind:    v1.TaskFix,
		Prompt:  "fix bug",
		Context: map[string]string{"type": "single_file"},
	}
	result, err := d.Act(context.Background(), task)
	require.Error(t, err)
	assert.Equal(t, errors.KindExternal, errors.KindOf(err))
	assert.Equal(t, v1.TaskStateFailed, task.State)
	require.Len(t, result.WorkerResults, 1)
	assert.NotEmpty(t, result.WorkerResults[0].Error)

	recs, err := led.List(context.Background(), ledger.Filter{})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestActValidation(t *testing.T) {
	backend := newSwarmBackend(t, nil)
	d, _, _ := newTestDispatcher(t, backend)

	_, err := d.Act(context.Background(), &v1.AgentTask{Kind: v1.TaskFix, Prompt: "  "})
	assert.True(t, errors.IsPrecondition(err))
}

func TestActAssignsTaskIDAndDefaults(t *testing.T) {
	backend := newSwarmBackend(t, nil)
	d, _, _ := newTestDispatcher(t, backend)

	task := &v1.AgentTask{Prompt: "make a thing"}
	_, err := d.Act(context.Background(), task)
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, v1.TaskGenerate, task.Kind)
	assert.Equal(t, v1.TaskStateCompleted, task.State)
}
