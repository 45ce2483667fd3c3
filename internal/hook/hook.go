package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Env is the hook configuration, read from the agent's environment.
type Env struct {
	BridgeURL string
	AgentID   string
	AgentName string
	Mode      string
}

// EnvFromOS reads the hook environment with its defaults.
func EnvFromOS() Env {
	return Env{
		BridgeURL: envOr("CLAUDE_BRIDGE_URL", "http://127.0.0.1:7888"),
		AgentID:   envOr("CLAUDE_AGENT_ID", "main"),
		AgentName: envOr("CLAUDE_AGENT_NAME", "Claude Code"),
		Mode:      strings.ToLower(envOr("CLAUDE_BRIDGE_MODE", "telegram")),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// criticalTools always require operator approval, even under session
// auto-approve.
var criticalTools = map[string]bool{
	"bash":    true,
	"write":   true,
	"edit":    true,
	"execute": true,
}

// safeTools never require approval.
var safeTools = map[string]bool{
	"read":       true,
	"list_files": true,
	"search":     true,
	"grep":       true,
	"glob":       true,
	"view":       true,
}

const (
	toolInputLimit     = 2000
	toolOutputPreview  = 300
	notificationLimit  = 2000
	probeTimeout       = 2 * time.Second
	shortCallTimeout   = 5 * time.Second
	approvalTimeoutSec = 300
)

type hookInput struct {
	ToolName   string          `json:"tool_name"`
	ToolInput  json.RawMessage `json:"tool_input"`
	ToolOutput json.RawMessage `json:"tool_output"`
	WasError   bool            `json:"was_error"`
	Message    string          `json:"message"`
	Level      string          `json:"level"`
	StopReason string          `json:"stop_reason"`
}

func parseInput(in io.Reader) (*hookInput, bool) {
	raw, err := io.ReadAll(in)
	if err != nil || len(strings.TrimSpace(string(raw))) == 0 {
		return nil, false
	}
	var hi hookInput
	if err := json.Unmarshal(raw, &hi); err != nil {
		return nil, false
	}
	return &hi, true
}

func writeDecision(out io.Writer, decision string) error {
	return json.NewEncoder(out).Encode(map[string]string{"decision": decision})
}

// RunPreTool is the PreToolUse hook: it gates tool execution on the
// operator's approval. Safe tools pass immediately; an unreachable
// bridge or any transport error approves so the agent is never
// deadlocked by its own supervision. Mode "local" makes it a no-op and
// mode "notify" reports the tool call without gating it.
func RunPreTool(ctx context.Context, env Env, in io.Reader, out io.Writer) error {
	if env.Mode == "local" {
		return nil
	}

	hi, ok := parseInput(in)
	if !ok {
		return writeDecision(out, "approve")
	}

	toolName := hi.ToolName
	if toolName == "" {
		toolName = "unknown"
	}
	key := strings.ToLower(toolName)

	if safeTools[key] {
		return writeDecision(out, "approve")
	}

	client := NewClient(env.BridgeURL, shortCallTimeout)

	if env.Mode == "notify" {
		callCtx, cancel := context.WithTimeout(ctx, shortCallTimeout)
		defer cancel()
		_ = client.Notify(callCtx, env.AgentID, env.AgentName, fmt.Sprintf("🔧 L'agent utilise %s", toolName), "info")
		return writeDecision(out, "approve")
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	reachable := client.Reachable(probeCtx)
	cancel()
	if !reachable {
		return writeDecision(out, "approve")
	}

	if !criticalTools[key] {
		checkCtx, cancel := context.WithTimeout(ctx, shortCallTimeout)
		auto, err := client.CheckAutoApprove(checkCtx, env.AgentID)
		cancel()
		if err == nil && auto {
			return writeDecision(out, "approve")
		}
	}

	approveCtx, cancel := context.WithTimeout(ctx, (approvalTimeoutSec+10)*time.Second)
	defer cancel()

	resp, err := client.Approve(approveCtx, ApproveRequest{
		AgentID:     env.AgentID,
		AgentName:   env.AgentName,
		ToolName:    toolName,
		ToolInput:   truncate(formatToolInput(hi.ToolInput), toolInputLimit),
		Description: fmt.Sprintf("L'agent veut utiliser %s", toolName),
		Timeout:     approvalTimeoutSec,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bridge error: %v\n", err)
		return writeDecision(out, "approve")
	}
	if resp.Decision == "passthrough" {
		// Paused bridge: emit nothing so the host agent applies its own
		// native approval policy.
		return nil
	}
	return writeDecision(out, resp.Decision)
}

// RunPostTool is the PostToolUse hook: it notifies the operator after a
// critical tool ran, or after any tool errored.
func RunPostTool(ctx context.Context, env Env, in io.Reader) error {
	if env.Mode == "local" {
		return nil
	}
	hi, ok := parseInput(in)
	if !ok {
		return nil
	}

	toolName := hi.ToolName
	if toolName == "" {
		toolName = "unknown"
	}
	if !criticalTools[strings.ToLower(toolName)] && !hi.WasError {
		return nil
	}

	level, status := "success", "✅ OK"
	if hi.WasError {
		level, status = "error", "❌ Erreur"
	}

	message := fmt.Sprintf("Outil: %s → %s\n\n%s", toolName, status, truncate(rawToString(hi.ToolOutput), toolOutputPreview))

	callCtx, cancel := context.WithTimeout(ctx, shortCallTimeout)
	defer cancel()
	// Delivery failure never fails the hook.
	_ = NewClient(env.BridgeURL, shortCallTimeout).Notify(callCtx, env.AgentID, env.AgentName, message, level)
	return nil
}

// RunNotification is the Notification hook: it registers the session
// (first notification doubles as registration) and relays the message.
func RunNotification(ctx context.Context, env Env, in io.Reader) error {
	if env.Mode == "local" {
		return nil
	}
	hi, ok := parseInput(in)
	if !ok || hi.Message == "" {
		return nil
	}

	level := hi.Level
	if level == "" {
		level = "info"
	}

	client := NewClient(env.BridgeURL, shortCallTimeout)

	regCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	_ = client.Register(regCtx, env.AgentID, env.AgentName)
	cancel()

	callCtx, cancel := context.WithTimeout(ctx, shortCallTimeout)
	defer cancel()
	_ = client.Notify(callCtx, env.AgentID, env.AgentName, truncate(hi.Message, notificationLimit), level)
	return nil
}

// RunStop is the Stop hook: it announces completion and closes the
// agent's session.
func RunStop(ctx context.Context, env Env, in io.Reader) error {
	message := "🏁 Agent terminé"
	if hi, ok := parseInput(in); ok && hi.StopReason != "" {
		message += "\nRaison: " + hi.StopReason
	}

	client := NewClient(env.BridgeURL, shortCallTimeout)

	callCtx, cancel := context.WithTimeout(ctx, shortCallTimeout)
	_ = client.Notify(callCtx, env.AgentID, env.AgentName, message, "task_complete")
	cancel()

	unregCtx, cancel := context.WithTimeout(ctx, shortCallTimeout)
	defer cancel()
	_ = client.Unregister(unregCtx, env.AgentID)
	return nil
}

// formatToolInput pretty-prints the tool input object for the approval
// prompt, falling back to the raw bytes when it is not valid JSON.
func formatToolInput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(pretty)
}

// rawToString renders a raw JSON value as display text, unquoting
// plain strings.
func rawToString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
