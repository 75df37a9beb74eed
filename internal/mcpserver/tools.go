package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/devplane/devplane/internal/common/logger"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

func registerTools(s *server.MCPServer, cfg Config, log *logger.Logger) {
	// List Projects tool
	s.AddTool(
		mcp.NewTool("list_projects",
			mcp.WithDescription("List projects visible to the configured token. Use this first to get project IDs for other operations."),
			mcp.WithString("status",
				mcp.Description("Filter by status: ACTIVE, ARCHIVED, DELETED (optional)"),
			),
			mcp.WithString("language",
				mcp.Description("Filter by primary language (optional)"),
			),
			mcp.WithString("search",
				mcp.Description("Substring match on project name (optional)"),
			),
		),
		listProjectsHandler(cfg, log),
	)

	// Get Project tool
	s.AddTool(
		mcp.NewTool("get_project",
			mcp.WithDescription("Get a single project by ID, including its stack, repo URL, and status."),
			mcp.WithString("project_id",
				mcp.Required(),
				mcp.Description("The project ID to fetch"),
			),
		),
		getProjectHandler(cfg, log),
	)

	// Submit Workflow tool
	s.AddTool(
		mcp.NewTool("submit_workflow",
			mcp.WithDescription("Submit a workflow run for a project. Steps execute in order; omit steps to run the project's default pipeline."),
			mcp.WithString("project_id",
				mcp.Required(),
				mcp.Description("The project to run the workflow against"),
			),
			mcp.WithArray("steps",
				mcp.Description("Step names to execute in order, e.g. [\"sync\", \"update\", \"build\", \"push\"] (optional)"),
			),
			mcp.WithString("prompt",
				mcp.Description("Instruction for the AI update step (optional)"),
			),
			mcp.WithString("commit_message",
				mcp.Description("Commit message for the push step (optional)"),
			),
		),
		submitWorkflowHandler(cfg, log),
	)

	// Get Workflow tool
	s.AddTool(
		mcp.NewTool("get_workflow",
			mcp.WithDescription("Get a workflow run by ID, including per-step status and timings."),
			mcp.WithString("workflow_id",
				mcp.Required(),
				mcp.Description("The workflow ID to fetch"),
			),
		),
		getWorkflowHandler(cfg, log),
	)

	// Workflow Logs tool
	s.AddTool(
		mcp.NewTool("workflow_logs",
			mcp.WithDescription("Fetch captured log lines for a workflow run. Pass the returned next offset to page forward."),
			mcp.WithString("workflow_id",
				mcp.Required(),
				mcp.Description("The workflow ID to fetch logs for"),
			),
			mcp.WithNumber("offset",
				mcp.Description("Chunk offset to start from (default 0)"),
			),
		),
		workflowLogsHandler(cfg, log),
	)

	// Sandbox Status tool
	s.AddTool(
		mcp.NewTool("sandbox_status",
			mcp.WithDescription("Get the active sandbox for a project: backend, host port, and run state."),
			mcp.WithString("project_id",
				mcp.Required(),
				mcp.Description("The project whose sandbox to inspect"),
			),
		),
		sandboxStatusHandler(cfg, log),
	)

	// Sandbox Logs tool
	s.AddTool(
		mcp.NewTool("sandbox_logs",
			mcp.WithDescription("Tail recent output from a project's active sandbox."),
			mcp.WithString("project_id",
				mcp.Required(),
				mcp.Description("The project whose sandbox logs to fetch"),
			),
			mcp.WithNumber("tail",
				mcp.Description("Number of trailing lines to return (default 100)"),
			),
		),
		sandboxLogsHandler(cfg, log),
	)

	log.Info("registered MCP tools", zap.Int("count", 7))
}

// callAPI performs an authenticated request against the devplane API and
// returns the raw JSON body along with the HTTP status code.
func callAPI(ctx context.Context, cfg Config, method, path string, payload interface{}) (json.RawMessage, int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, cfg.APIURL+path, body)
	if err != nil {
		return nil, 0, err
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if cfg.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.Token)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	var result json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to parse response: %w", err)
	}
	return result, resp.StatusCode, nil
}

func listProjectsHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := url.Values{}
		for _, name := range []string{"status", "language", "search"} {
			if v := req.GetString(name, ""); v != "" {
				query.Set(name, v)
			}
		}
		path := "/api/v1/projects"
		if len(query) > 0 {
			path += "?" + query.Encode()
		}

		result, status, err := callAPI(ctx, cfg, http.MethodGet, path, nil)
		if err != nil {
			log.Error("failed to fetch projects", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch projects: %v", err)), nil
		}
		if status >= 400 {
			return mcp.NewToolResultError(fmt.Sprintf("API error (%d): %s", status, string(result))), nil
		}

		formatted, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

func getProjectHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		result, status, err := callAPI(ctx, cfg, http.MethodGet, "/api/v1/projects/"+url.PathEscape(projectID), nil)
		if err != nil {
			log.Error("failed to fetch project", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch project: %v", err)), nil
		}
		if status >= 400 {
			return mcp.NewToolResultError(fmt.Sprintf("API error (%d): %s", status, string(result))), nil
		}

		formatted, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

func submitWorkflowHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		payload := map[string]interface{}{
			"project_id": projectID,
		}

		if raw, ok := req.GetArguments()["steps"]; ok {
			stepsJSON, err := json.Marshal(raw)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("Failed to parse steps: %v", err)), nil
			}
			var steps []string
			if err := json.Unmarshal(stepsJSON, &steps); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("Failed to parse steps: %v", err)), nil
			}
			if len(steps) > 0 {
				payload["steps"] = steps
			}
		}

		wfConfig := make(map[string]interface{})
		if prompt := req.GetString("prompt", ""); prompt != "" {
			wfConfig["update_prompt"] = prompt
		}
		if msg := req.GetString("commit_message", ""); msg != "" {
			wfConfig["commit_message"] = msg
		}
		if len(wfConfig) > 0 {
			payload["config"] = wfConfig
		}

		result, status, err := callAPI(ctx, cfg, http.MethodPost, "/api/v1/workflows", payload)
		if err != nil {
			log.Error("failed to submit workflow", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to submit workflow: %v", err)), nil
		}
		if status >= 400 {
			return mcp.NewToolResultError(fmt.Sprintf("API error (%d): %s", status, string(result))), nil
		}

		formatted, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

func getWorkflowHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		workflowID, err := req.RequireString("workflow_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		result, status, err := callAPI(ctx, cfg, http.MethodGet, "/api/v1/workflows/"+url.PathEscape(workflowID), nil)
		if err != nil {
			log.Error("failed to fetch workflow", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch workflow: %v", err)), nil
		}
		if status >= 400 {
			return mcp.NewToolResultError(fmt.Sprintf("API error (%d): %s", status, string(result))), nil
		}

		formatted, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

func workflowLogsHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		workflowID, err := req.RequireString("workflow_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		offset := 0
		if v, ok := req.GetArguments()["offset"].(float64); ok {
			offset = int(v)
		}

		path := fmt.Sprintf("/api/v1/workflows/%s/logs?offset=%d", url.PathEscape(workflowID), offset)
		result, status, err := callAPI(ctx, cfg, http.MethodGet, path, nil)
		if err != nil {
			log.Error("failed to fetch workflow logs", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch workflow logs: %v", err)), nil
		}
		if status >= 400 {
			return mcp.NewToolResultError(fmt.Sprintf("API error (%d): %s", status, string(result))), nil
		}

		formatted, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

func sandboxStatusHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		path := fmt.Sprintf("/api/v1/projects/%s/sandbox", url.PathEscape(projectID))
		result, status, err := callAPI(ctx, cfg, http.MethodGet, path, nil)
		if err != nil {
			log.Error("failed to fetch sandbox status", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch sandbox status: %v", err)), nil
		}
		if status >= 400 {
			return mcp.NewToolResultError(fmt.Sprintf("API error (%d): %s", status, string(result))), nil
		}

		formatted, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}

func sandboxLogsHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		tail := 100
		if v, ok := req.GetArguments()["tail"].(float64); ok {
			tail = int(v)
		}

		path := fmt.Sprintf("/api/v1/projects/%s/sandbox/logs?tail=%d", url.PathEscape(projectID), tail)
		result, status, err := callAPI(ctx, cfg, http.MethodGet, path, nil)
		if err != nil {
			log.Error("failed to fetch sandbox logs", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch sandbox logs: %v", err)), nil
		}
		if status >= 400 {
			return mcp.NewToolResultError(fmt.Sprintf("API error (%d): %s", status, string(result))), nil
		}

		formatted, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(formatted)), nil
	}
}
