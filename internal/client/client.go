// Package client is a small HTTP client for the stela API, used by
// the CLI commands that talk to a running server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/steladb/stela/internal/controller"
	"github.com/steladb/stela/internal/engine"
	sterrors "github.com/steladb/stela/internal/errors"
	"github.com/steladb/stela/internal/updates"
	"github.com/steladb/stela/pkg/version"
)

const defaultTimeout = 10 * time.Second

// Client talks to one stela server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a client for addr. A bare host:port gets an http scheme.
func New(addr string) *Client {
	baseURL := addr
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// IsRunning reports whether the server answers its health check.
func (c *Client) IsRunning(ctx context.Context) bool {
	return c.Health(ctx) == nil
}

// Health checks server liveness.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/health", nil)
}

// Version fetches the server build information.
func (c *Client) Version(ctx context.Context) (version.BuildInfo, error) {
	var info version.BuildInfo
	err := c.get(ctx, "/version", &info)
	return info, err
}

// ListIndexes returns every index, sorted by uid.
func (c *Client) ListIndexes(ctx context.Context) ([]controller.Index, error) {
	var views []controller.Index
	err := c.get(ctx, "/indexes", &views)
	return views, err
}

// GetStats returns one index's stats.
func (c *Client) GetStats(ctx context.Context, uid string) (engine.IndexStats, error) {
	var stats engine.IndexStats
	err := c.get(ctx, "/indexes/"+uid+"/stats", &stats)
	return stats, err
}

// Tasks returns an index's update history in submission order.
func (c *Client) Tasks(ctx context.Context, uid string) ([]updates.Status, error) {
	var statuses []updates.Status
	err := c.get(ctx, "/indexes/"+uid+"/tasks", &statuses)
	return statuses, err
}

// Search runs a query against one index.
func (c *Client) Search(ctx context.Context, uid string, query engine.SearchQuery) (engine.SearchResult, error) {
	var result engine.SearchResult
	err := c.post(ctx, "/indexes/"+uid+"/search", query, &result)
	return result, err
}

func (c *Client) get(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(req, dst)
}

func (c *Client) post(ctx context.Context, path string, body, dst any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, dst)
}

func (c *Client) do(req *http.Request, dst any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return sterrors.TransportError("failed to reach server", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if dst == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError rebuilds a coded error from the server's error envelope,
// so callers can switch on codes the same way they do locally.
func decodeError(resp *http.Response) error {
	var body struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Code == "" {
		return sterrors.Newf(sterrors.CodeInternal, "server returned %s", resp.Status)
	}
	return sterrors.Newf(body.Code, "%s", body.Message)
}
