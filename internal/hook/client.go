// Package hook is the agent-side half of the bridge: the code executed
// by the coding agent's lifecycle hooks. Each hook reads its event from
// stdin, talks to the bridge's loopback API, and writes the decision to
// stdout. The bridge being down is never a reason to block the agent:
// every path fails open.
package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is the hook-side HTTP client for the bridge API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a bridge API client. timeout bounds every call
// except Approve, which carries its own deadline.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) post(ctx context.Context, path string, payload, result any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("hook: marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("hook: create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("hook: %s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("hook: read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hook: %s returned %d: %s", path, resp.StatusCode, bytes.TrimSpace(body))
	}
	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("hook: decode %s response: %w", path, err)
		}
	}
	return nil
}

// Reachable probes the bridge's /status endpoint.
func (c *Client) Reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ApproveRequest mirrors the bridge's /approve body.
type ApproveRequest struct {
	AgentID     string `json:"agent_id"`
	AgentName   string `json:"agent_name"`
	ToolName    string `json:"tool_name"`
	ToolInput   string `json:"tool_input"`
	Description string `json:"description,omitempty"`
	Timeout     int    `json:"timeout,omitempty"`
}

// ApproveResponse mirrors the bridge's /approve reply.
type ApproveResponse struct {
	Decision  string `json:"decision"`
	Reason    string `json:"reason"`
	RequestID string `json:"request_id"`
}

// Approve blocks until the operator decides or the bridge times out.
// The HTTP client timeout is lifted: the request-level deadline governs.
func (c *Client) Approve(ctx context.Context, req ApproveRequest) (*ApproveResponse, error) {
	blocking := &Client{baseURL: c.baseURL, http: &http.Client{}}
	var resp ApproveResponse
	if err := blocking.post(ctx, "/approve", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckAutoApprove reports whether the agent's session is auto-approved.
func (c *Client) CheckAutoApprove(ctx context.Context, agentID string) (bool, error) {
	var resp struct {
		AutoApprove bool `json:"auto_approve"`
	}
	err := c.post(ctx, "/check_auto_approve", map[string]string{"agent_id": agentID}, &resp)
	return resp.AutoApprove, err
}

// Notify relays a notification to the operator chat.
func (c *Client) Notify(ctx context.Context, agentID, agentName, message, level string) error {
	return c.post(ctx, "/notify", map[string]string{
		"agent_id":   agentID,
		"agent_name": agentName,
		"message":    message,
		"level":      level,
	}, nil)
}

// Register opens the agent's session.
func (c *Client) Register(ctx context.Context, agentID, agentName string) error {
	return c.post(ctx, "/register_agent", map[string]string{
		"agent_id":   agentID,
		"agent_name": agentName,
	}, nil)
}

// Unregister closes the agent's session.
func (c *Client) Unregister(ctx context.Context, agentID string) error {
	return c.post(ctx, "/unregister_agent", map[string]string{"agent_id": agentID}, nil)
}

// FetchMessages long-polls the bridge for queued operator messages.
func (c *Client) FetchMessages(ctx context.Context, agentID string, timeoutSeconds int) ([]string, error) {
	blocking := &Client{baseURL: c.baseURL, http: &http.Client{}}
	var resp struct {
		Messages []string `json:"messages"`
	}
	err := blocking.post(ctx, "/send_message", map[string]any{
		"agent_id": agentID,
		"timeout":  timeoutSeconds,
	}, &resp)
	return resp.Messages, err
}
