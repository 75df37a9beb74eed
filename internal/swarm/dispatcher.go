package swarm

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devplane/devplane/internal/blackboard"
	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/common/logger"
	"github.com/devplane/devplane/internal/events"
	"github.com/devplane/devplane/internal/events/bus"
	"github.com/devplane/devplane/internal/llm"
	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// WorkerResult is one node's outcome, successful or not.
type WorkerResult struct {
	Node       string `json:"node"`
	Model      string `json:"model"`
	Output     string `json:"output,omitempty"`
	FellBack   bool   `json:"fell_back,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Decomposition reports how the task was split up.
type Decomposition struct {
	Strategy Strategy `json:"strategy"`
	Nodes    []string `json:"nodes"`
}

// ActResult is the merged outcome of one agent task.
type ActResult struct {
	Solution      string         `json:"solution"`
	WorkerResults []WorkerResult `json:"worker_results"`
	Decomposition Decomposition  `json:"decomposition"`
}

// Dispatcher plans, routes, and fans out agent tasks over the LLM pool.
type Dispatcher struct {
	pool     *llm.Pool
	catalog  *llm.Catalog
	router   *Router
	board    *blackboard.Board
	tier     v1.ModelTier
	eventBus bus.EventBus
	logger   *logger.Logger
}

// NewDispatcher creates the swarm dispatcher.
func NewDispatcher(pool *llm.Pool, catalog *llm.Catalog, board *blackboard.Board, tier v1.ModelTier, eventBus bus.EventBus, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		pool:     pool,
		catalog:  catalog,
		router:   NewRouter(catalog, tier),
		board:    board,
		tier:     tier,
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "swarm")),
	}
}

// Act executes one agent task: plan, route, fan out, aggregate. Node
// outputs land on the blackboard as they complete; the merged solution
// follows plan order. A failed node gets one fallback model; a second
// failure fails the task. On failure the returned result still carries
// the worker results gathered so far alongside the error.
func (d *Dispatcher) Act(ctx context.Context, task *v1.AgentTask) (*ActResult, error) {
	if task == nil || strings.TrimSpace(task.Prompt) == "" {
		return nil, errors.Precondition("task prompt is required")
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Kind == "" {
		task.Kind = v1.TaskGenerate
	}

	plan := BuildPlan(task)
	task.State = v1.TaskStateRunning
	d.publishTaskEvent(ctx, events.SwarmTaskSubmitted, task, map[string]interface{}{
		"strategy": string(plan.Strategy),
		"nodes":    plan.NodeNames(),
	})
	d.logger.Info("task accepted",
		zap.String("task_id", task.ID),
		zap.String("kind", string(task.Kind)),
		zap.String("strategy", string(plan.Strategy)),
		zap.Int("nodes", len(plan.Nodes)))

	collector := newNodeCollector(plan)
	g, gctx := errgroup.WithContext(ctx)
	for _, node := range plan.Nodes {
		node := node
		g.Go(func() error {
			for _, dep := range node.DependsOn {
				select {
				case <-collector.done(dep):
				case <-gctx.Done():
					return errors.FromContextErr(gctx.Err())
				}
			}
			return d.runNode(gctx, task, node, collector)
		})
	}

	err := g.Wait()
	result := &ActResult{
		WorkerResults: collector.results(),
		Decomposition: Decomposition{Strategy: plan.Strategy, Nodes: plan.NodeNames()},
	}
	if err != nil {
		task.State = v1.TaskStateFailed
		d.publishTaskEvent(ctx, events.SwarmTaskFailed, task, map[string]interface{}{
			"error": err.Error(),
			"kind":  string(errors.KindOf(err)),
		})
		return result, err
	}

	result.Solution = aggregate(plan, collector)
	task.State = v1.TaskStateCompleted
	d.publishTaskEvent(ctx, events.SwarmTaskCompleted, task, map[string]interface{}{
		"strategy": string(plan.Strategy),
	})
	return result, nil
}

// runNode routes a node to a model and executes it, trying exactly one
// fallback model on a retryable failure.
func (d *Dispatcher) runNode(ctx context.Context, task *v1.AgentTask, node PlanNode, collector *nodeCollector) error {
	prompt := buildNodePrompt(task, node, collector)
	model := d.router.Route(task, node)
	start := time.Now()

	output, err := d.generate(ctx, task, node, model, prompt)
	fellBack := false
	if err != nil && fallbackWorthy(err) {
		fallback := d.catalog.FamilyFallback(d.tier, model)
		if fallback != "" && fallback != model {
			d.logger.Warn("node model failed, trying fallback",
				zap.String("task_id", task.ID),
				zap.String("node", node.Name),
				zap.String("model", model),
				zap.String("fallback", fallback),
				zap.Error(err))
			model = fallback
			fellBack = true
			output, err = d.generate(ctx, task, node, model, prompt)
		}
	}

	worker := WorkerResult{
		Node:       node.Name,
		Model:      model,
		FellBack:   fellBack,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		worker.Error = err.Error()
		collector.fail(node.Name, worker)
		return err
	}
	worker.Output = output
	collector.complete(node.Name, worker)

	d.board.Write(ctx, blackboard.SwarmKey(task.ID, node.Name), output, model)
	if d.eventBus != nil {
		event := bus.NewEvent(events.SwarmNodeFinished, "swarm", map[string]interface{}{
			"task_id": task.ID,
			"node":    node.Name,
			"model":   model,
		})
		if pubErr := d.eventBus.Publish(ctx, events.BuildSwarmNodeSubject(task.ID), event); pubErr != nil {
			d.logger.Warn("failed to publish node event", zap.Error(pubErr))
		}
	}
	return nil
}

func (d *Dispatcher) generate(ctx context.Context, task *v1.AgentTask, node PlanNode, model, prompt string) (string, error) {
	result, err := d.pool.Generate(ctx, llm.Request{
		Model:     model,
		System:    nodeSystem(node),
		Prompt:    prompt,
		Operation: "swarm." + node.Name,
		Metadata: map[string]string{
			"task_id": task.ID,
			"node":    node.Name,
			"kind":    string(task.Kind),
		},
	})
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// fallbackWorthy reports whether a node failure should try another
// model. Cancellations and caller mistakes should not.
func fallbackWorthy(err error) bool {
	switch errors.KindOf(err) {
	case errors.KindExternal, errors.KindTimeout, errors.KindNotFound:
		return true
	}
	return false
}

func nodeSystem(node PlanNode) string {
	return "You are the " + node.Name + " worker in a multi-agent coding swarm. " + node.Role
}

// buildNodePrompt assembles the node prompt: the task prompt, labeled
// context sections, then the outputs of declared dependencies.
func buildNodePrompt(task *v1.AgentTask, node PlanNode, collector *nodeCollector) string {
	var b strings.Builder
	b.WriteString(task.Prompt)

	keys := make([]string, 0, len(task.Context))
	for k := range task.Context {
		if k == "type" || k == "model" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("\n\n--- ")
		b.WriteString(k)
		b.WriteString(" ---\n")
		b.WriteString(task.Context[k])
	}

	for _, dep := range node.DependsOn {
		b.WriteString("\n\n--- output of ")
		b.WriteString(dep)
		b.WriteString(" ---\n")
		b.WriteString(collector.output(dep))
	}
	return b.String()
}

// aggregate merges node outputs in plan order. A single node passes
// through verbatim.
func aggregate(plan Plan, collector *nodeCollector) string {
	if len(plan.Nodes) == 1 {
		return collector.output(plan.Nodes[0].Name)
	}
	var b strings.Builder
	for i, node := range plan.Nodes {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## ")
		b.WriteString(node.Name)
		b.WriteString("\n\n")
		b.WriteString(collector.output(node.Name))
	}
	return b.String()
}

func (d *Dispatcher) publishTaskEvent(ctx context.Context, eventType string, task *v1.AgentTask, data map[string]interface{}) {
	if d.eventBus == nil {
		return
	}
	payload := map[string]interface{}{
		"task_id": task.ID,
		"kind":    string(task.Kind),
		"state":   string(task.State),
	}
	for k, v := range data {
		payload[k] = v
	}
	event := bus.NewEvent(eventType, "swarm", payload)
	if err := d.eventBus.Publish(ctx, eventType, event); err != nil {
		d.logger.Warn("failed to publish swarm event", zap.String("type", eventType), zap.Error(err))
	}
}

// nodeCollector tracks node outputs and per-node completion signals.
type nodeCollector struct {
	mu      sync.Mutex
	order   []string
	outputs map[string]string
	workers map[string]WorkerResult
	doneCh  map[string]chan struct{}
}

func newNodeCollector(plan Plan) *nodeCollector {
	c := &nodeCollector{
		order:   plan.NodeNames(),
		outputs: make(map[string]string, len(plan.Nodes)),
		workers: make(map[string]WorkerResult, len(plan.Nodes)),
		doneCh:  make(map[string]chan struct{}, len(plan.Nodes)),
	}
	for _, name := range c.order {
		c.doneCh[name] = make(chan struct{})
	}
	return c
}

// done returns the channel closed when the named node completes
// successfully. Failed nodes never close it; the group context carries
// the failure instead.
func (c *nodeCollector) done(name string) <-chan struct{} {
	return c.doneCh[name]
}

func (c *nodeCollector) complete(name string, worker WorkerResult) {
	c.mu.Lock()
	c.outputs[name] = worker.Output
	c.workers[name] = worker
	c.mu.Unlock()
	close(c.doneCh[name])
}

func (c *nodeCollector) fail(name string, worker WorkerResult) {
	c.mu.Lock()
	c.workers[name] = worker
	c.mu.Unlock()
}

func (c *nodeCollector) output(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outputs[name]
}

// results returns worker results in plan order, skipping nodes that
// never ran.
func (c *nodeCollector) results() []WorkerResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]WorkerResult, 0, len(c.workers))
	for _, name := range c.order {
		if w, ok := c.workers[name]; ok {
			out = append(out, w)
		}
	}
	return out
}
