package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/devplane/devplane/internal/common/errors"
	"github.com/devplane/devplane/internal/common/logger"
)

// RuntimeClient talks to the model runtime's management API (the Ollama
// dialect): listing local models and pulling missing ones. Completion
// traffic goes through Client instead.
type RuntimeClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

// localModel is one entry of the runtime's tag listing.
type localModel struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// NewRuntimeClient creates a management client for baseURL (the runtime
// root, without the /v1 suffix).
func NewRuntimeClient(baseURL string, log *logger.Logger) *RuntimeClient {
	return &RuntimeClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: log.WithFields(zap.String("component", "llm-runtime")),
	}
}

// ListLocalModels returns the ids of models present on the runtime.
func (c *RuntimeClient) ListLocalModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.External("listing local models failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.External("listing local models failed", nil).WithDetail("status", resp.StatusCode)
	}

	var payload struct {
		Models []localModel `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.External("decoding tag listing failed", err)
	}

	ids := make([]string, 0, len(payload.Models))
	for _, m := range payload.Models {
		ids = append(ids, m.Name)
	}
	return ids, nil
}

// Pull downloads a model onto the runtime. The runtime streams progress
// as JSON lines; the call blocks until the final status arrives.
func (c *RuntimeClient) Pull(ctx context.Context, modelID string) error {
	body, err := json.Marshal(map[string]string{"name": modelID})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	// Pulling a large model can take minutes; bypass the short default.
	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return errors.External("model pull failed", err).WithDetail("model", modelID)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.External("model pull failed", nil).WithDetail("model", modelID).WithDetail("status", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var last struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := json.Unmarshal(line, &last); err != nil {
			continue
		}
		if last.Error != "" {
			return errors.External("model pull failed", nil).WithDetail("model", modelID).WithDetail("reason", last.Error)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.External("model pull interrupted", err).WithDetail("model", modelID)
	}

	c.logger.Info("model pulled", zap.String("model", modelID), zap.String("status", last.Status))
	return nil
}

// RefreshLoaded updates the catalog's loaded flags from the runtime.
// Failures are logged and leave the previous flags intact.
func (c *RuntimeClient) RefreshLoaded(ctx context.Context, catalog *Catalog) {
	ids, err := c.ListLocalModels(ctx)
	if err != nil {
		c.logger.Warn("could not refresh model list", zap.Error(err))
		return
	}
	catalog.MarkLoaded(ids)
	c.logger.Debug("model list refreshed", zap.Int("local_models", len(ids)))
}
