// Package fleetclient is the central controller's HTTP client for
// proxying commands to node daemons' node HTTP API.
package fleetclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/mctl/pkg/mctlerr"
	"github.com/cuemby/mctl/pkg/types"
)

// Client sends commands to node HTTP APIs on behalf of the controller.
type Client struct {
	httpClient *http.Client
	apiToken   string
}

// New builds a Client. apiToken, when non-empty, is attached as a bearer
// token on every request.
func New(apiToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}, apiToken: apiToken}
}

func (c *Client) baseURL(host string, port int) string {
	return fmt.Sprintf("http://%s:%d", host, port)
}

func (c *Client) do(ctx context.Context, method, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return mctlerr.Wrap(mctlerr.KindValidation, "build request", err)
	}
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return mctlerr.Wrap(mctlerr.KindUpstream, "request "+url, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return mctlerr.New(mctlerr.KindUpstream, fmt.Sprintf("%s returned %d: %s", url, resp.StatusCode, string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return mctlerr.Wrap(mctlerr.KindUpstream, "decode response from "+url, err)
	}
	return nil
}

// ListWorkloads proxies GET /api/list on the node.
func (c *Client) ListWorkloads(ctx context.Context, host string, port int) ([]types.WorkloadInfo, error) {
	var out []types.WorkloadInfo
	err := c.do(ctx, http.MethodGet, c.baseURL(host, port)+"/api/list", &out)
	return out, err
}

// GetStatus proxies GET /api/status/{name}.
func (c *Client) GetStatus(ctx context.Context, host string, port int, name string) (types.WorkloadInfo, error) {
	var out types.WorkloadInfo
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/api/status/%s", c.baseURL(host, port), name), &out)
	return out, err
}

// CommandResponse mirrors the node API's start/stop/restart/reload replies.
type CommandResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// StartWorkload proxies POST /api/start/{name}.
func (c *Client) StartWorkload(ctx context.Context, host string, port int, name string) (CommandResponse, error) {
	var out CommandResponse
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("%s/api/start/%s", c.baseURL(host, port), name), &out)
	return out, err
}

// StopWorkload proxies POST /api/stop/{name}.
func (c *Client) StopWorkload(ctx context.Context, host string, port int, name string) (CommandResponse, error) {
	var out CommandResponse
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("%s/api/stop/%s", c.baseURL(host, port), name), &out)
	return out, err
}

// RestartWorkload proxies POST /api/restart/{name}.
func (c *Client) RestartWorkload(ctx context.Context, host string, port int, name string) (CommandResponse, error) {
	var out CommandResponse
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("%s/api/restart/%s", c.baseURL(host, port), name), &out)
	return out, err
}

// HealthCheck proxies GET /api/health.
func (c *Client) HealthCheck(ctx context.Context, host string, port int) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, c.baseURL(host, port)+"/api/health", &out)
	return out, err
}

// ReloadConfigs proxies POST /api/reload.
func (c *Client) ReloadConfigs(ctx context.Context, host string, port int) error {
	return c.do(ctx, http.MethodPost, c.baseURL(host, port)+"/api/reload", nil)
}

// GetLogs proxies GET /api/logs/{name}?lines=N.
func (c *Client) GetLogs(ctx context.Context, host string, port int, name string, lines int) ([]string, error) {
	if lines <= 0 {
		lines = 50
	}
	var out struct {
		Lines []string `json:"lines"`
	}
	url := fmt.Sprintf("%s/api/logs/%s?lines=%d", c.baseURL(host, port), name, lines)
	err := c.do(ctx, http.MethodGet, url, &out)
	return out.Lines, err
}
