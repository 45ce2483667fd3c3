package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/flemzord/clawbridge/internal/approval"
	"github.com/flemzord/clawbridge/internal/metrics"
)

const (
	defaultAgentID   = "main"
	defaultAgentName = "Claude Code"

	// sendMessagePollInterval is the /send_message poll granularity.
	sendMessagePollInterval = time.Second

	// maxSendMessageTimeout clamps the /send_message long-poll window.
	maxSendMessageTimeout = 120 * time.Second
)

type notifyRequest struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Message   string `json:"message"`
	Level     string `json:"level"`
}

type approveRequest struct {
	AgentID     string `json:"agent_id"`
	AgentName   string `json:"agent_name"`
	ToolName    string `json:"tool_name"`
	ToolInput   string `json:"tool_input"`
	Description string `json:"description"`
	Timeout     int    `json:"timeout"`
}

type agentRequest struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
}

type sendMessageRequest struct {
	AgentID string `json:"agent_id"`
	Timeout int    `json:"timeout"`
}

// decode parses a JSON body. Malformed bodies get a 422 with a detail
// field, the shape hook clients expect.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := g.store.Snapshot()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "running",
		"paused":            snap.Paused,
		"pending_approvals": snap.PendingApprovals,
		"active_sessions":   snap.ActiveSessions,
		"message_queues":    snap.MessageQueues,
		"uptime":            int(time.Since(g.startedAt).Seconds()),
	})
}

func (g *Gateway) handleNotify(w http.ResponseWriter, r *http.Request) {
	req := notifyRequest{AgentID: defaultAgentID, AgentName: defaultAgentName, Level: "info"}
	if !decode(w, r, &req) {
		return
	}

	// First notification from an agent implicitly opens its session.
	g.store.EnsureAgent(req.AgentID, req.AgentName)
	metrics.NotificationsTotal.WithLabelValues(req.Level).Inc()

	if err := g.notifier.Notify(r.Context(), req.AgentName, req.Message, req.Level); err != nil {
		g.logger.Error("notification delivery failed", "agent_id", req.AgentID, "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"detail": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (g *Gateway) handleApprove(w http.ResponseWriter, r *http.Request) {
	req := approveRequest{AgentID: defaultAgentID, AgentName: defaultAgentName}
	if !decode(w, r, &req) {
		return
	}

	// Clamp to the configured maximum: the server's write timeout is
	// sized from it and would cut off a longer wait.
	timeout := time.Duration(req.Timeout) * time.Second
	if timeout > g.maxApproval {
		timeout = g.maxApproval
	}

	result := g.approver.Request(r.Context(), approval.Request{
		AgentID:     req.AgentID,
		AgentName:   req.AgentName,
		ToolName:    req.ToolName,
		ToolInput:   req.ToolInput,
		Description: req.Description,
		Timeout:     timeout,
	})

	respondJSON(w, http.StatusOK, map[string]any{
		"decision":   result.Decision,
		"reason":     result.Reason,
		"request_id": result.RequestID,
	})
}

func (g *Gateway) handleCheckAutoApprove(w http.ResponseWriter, r *http.Request) {
	req := agentRequest{AgentID: defaultAgentID}
	if !decode(w, r, &req) {
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"auto_approve": g.store.AutoApprove(req.AgentID)})
}

func (g *Gateway) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	req := agentRequest{AgentID: defaultAgentID, AgentName: defaultAgentName}
	if !decode(w, r, &req) {
		return
	}
	g.store.RegisterAgent(req.AgentID, req.AgentName)
	g.logger.Info("agent registered", "agent_id", req.AgentID, "agent_name", req.AgentName)
	respondJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

func (g *Gateway) handleUnregisterAgent(w http.ResponseWriter, r *http.Request) {
	req := agentRequest{AgentID: defaultAgentID}
	if !decode(w, r, &req) {
		return
	}
	g.store.UnregisterAgent(req.AgentID)
	g.logger.Info("agent unregistered", "agent_id", req.AgentID)
	respondJSON(w, http.StatusOK, map[string]string{"status": "unregistered"})
}

// handleSendMessage long-polls the agent's queue: immediate response
// when something is queued, otherwise checks at 1 s granularity until
// the clamped timeout elapses.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	req := sendMessageRequest{AgentID: defaultAgentID, Timeout: 30}
	if !decode(w, r, &req) {
		return
	}

	timeout := time.Duration(req.Timeout) * time.Second
	if timeout > maxSendMessageTimeout {
		timeout = maxSendMessageTimeout
	}

	if msgs := g.store.Drain(req.AgentID); msgs != nil {
		respondJSON(w, http.StatusOK, map[string][]string{"messages": msgs})
		return
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(sendMessagePollInterval)
	defer tick.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-deadline.C:
			respondJSON(w, http.StatusOK, map[string][]string{"messages": {}})
			return
		case <-tick.C:
			if msgs := g.store.Drain(req.AgentID); msgs != nil {
				respondJSON(w, http.StatusOK, map[string][]string{"messages": msgs})
				return
			}
		}
	}
}
