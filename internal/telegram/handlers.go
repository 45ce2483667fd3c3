package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flemzord/clawbridge/internal/metrics"
	"github.com/flemzord/clawbridge/internal/state"
)

const unauthorizedReply = "⛔ Non autorisé."

// HandleUpdate dispatches a single inbound update. Every path is gated
// on the configured operator chat id.
func (a *Adapter) HandleUpdate(ctx context.Context, update Update) {
	switch {
	case update.CallbackQuery != nil:
		a.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		a.handleMessage(ctx, update.Message)
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *Message) {
	if msg.Chat.ID != a.chatID {
		a.logger.Warn("message from unauthorized chat", "chat_id", msg.Chat.ID)
		_, _ = a.client.SendMessage(ctx, SendMessageRequest{ChatID: msg.Chat.ID, Text: unauthorizedReply})
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	if strings.HasPrefix(text, "/") {
		a.handleCommand(ctx, text)
		return
	}
	a.handleText(ctx, msg, text)
}

func (a *Adapter) handleCommand(ctx context.Context, text string) {
	fields := strings.Fields(text)
	cmd := strings.TrimPrefix(fields[0], "/")
	// Commands in groups may carry the bot name suffix.
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	args := fields[1:]

	switch cmd {
	case "start":
		a.cmdStart(ctx)
	case "status":
		a.cmdStatus(ctx)
	case "agents":
		a.cmdAgents(ctx)
	case "msg":
		a.cmdMsg(ctx, args)
	case "pending":
		a.cmdPending(ctx)
	case "approve_all":
		a.cmdResolveAll(ctx, state.Resolution{Decision: state.DecisionApprove, Reason: "bulk approved"})
	case "deny_all":
		a.cmdResolveAll(ctx, state.Resolution{Decision: state.DecisionDeny, Reason: "bulk denied"})
	case "pause":
		a.store.SetPaused(true)
		_ = a.PostPlain(ctx, "⏸️ Bridge en pause. Les approbations passent en passthrough.")
	case "resume":
		a.store.SetPaused(false)
		_ = a.PostPlain(ctx, "▶️ Bridge réactivé.")
	case "shutdown":
		a.cmdShutdown(ctx, args)
	default:
		a.logger.Debug("unknown command ignored", "command", cmd)
	}
}

func (a *Adapter) cmdStart(ctx context.Context) {
	help := "🤖 *Bridge* est actif\\!\n\n" +
		"*Commandes:*\n" +
		"/status \\- État du bridge\n" +
		"/agents \\- Agents actifs\n" +
		"/msg `agent_id` `message` \\- Envoyer un message à un agent\n" +
		"/pending \\- Approbations en attente\n" +
		"/approve\\_all \\- Tout approuver\n" +
		"/deny\\_all \\- Tout refuser\n" +
		"/pause \\- Suspendre les approbations\n" +
		"/resume \\- Reprendre les approbations\n" +
		"/shutdown confirm \\- Arrêter le bridge\n"
	plain := strings.NewReplacer("*", "", "\\", "", "`", "").Replace(help)
	_, _ = a.send(ctx, help, plain, nil)
}

func (a *Adapter) cmdStatus(ctx context.Context) {
	snap := a.store.Snapshot()
	queued := 0
	for _, n := range snap.MessageQueues {
		queued += n
	}

	var b strings.Builder
	b.WriteString("📊 Bridge Status\n\n")
	fmt.Fprintf(&b, "• Approbations en attente: %d\n", snap.PendingApprovals)
	fmt.Fprintf(&b, "• Sessions actives: %d\n", len(snap.ActiveSessions))
	fmt.Fprintf(&b, "• Messages en file: %d\n", queued)
	fmt.Fprintf(&b, "• Pause: %v\n", snap.Paused)
	fmt.Fprintf(&b, "• Uptime: %s\n", time.Since(a.startedAt).Truncate(time.Second))
	for _, p := range a.store.PendingApprovals() {
		fmt.Fprintf(&b, "  [%s] %s → %s (%ds)\n", p.ID, p.AgentName, p.ToolName, int(time.Since(p.CreatedAt).Seconds()))
	}
	_ = a.PostPlain(ctx, b.String())
}

func (a *Adapter) cmdAgents(ctx context.Context) {
	sessions := a.store.Sessions()
	if len(sessions) == 0 {
		_ = a.PostPlain(ctx, "Aucun agent actif.")
		return
	}
	lines := []string{"🤖 Agents actifs:\n"}
	for _, s := range sessions {
		name := s.Name
		if name == "" {
			name = s.AgentID
		}
		marker := ""
		if s.AutoApprove {
			marker = " [auto-approve]"
		}
		lines = append(lines, fmt.Sprintf("• %s (id: %s)%s", name, s.AgentID, marker))
	}
	_ = a.PostPlain(ctx, strings.Join(lines, "\n"))
}

func (a *Adapter) cmdMsg(ctx context.Context, args []string) {
	if len(args) < 2 {
		_ = a.PostPlain(ctx, "Usage: /msg <agent_id> <message>")
		return
	}
	agentID := args[0]
	message := strings.Join(args[1:], " ")
	depth := a.store.Enqueue(agentID, message)
	metrics.QueuedMessagesTotal.Inc()
	_ = a.PostPlain(ctx, fmt.Sprintf("📨 Message envoyé à l'agent %s (file: %d).", agentID, depth))
}

func (a *Adapter) cmdPending(ctx context.Context) {
	pending := a.store.PendingApprovals()
	if len(pending) == 0 {
		_ = a.PostPlain(ctx, "✅ Aucune approbation en attente.")
		return
	}
	lines := []string{"🔐 Approbations en attente:\n"}
	for _, p := range pending {
		age := int(time.Since(p.CreatedAt).Seconds())
		lines = append(lines, fmt.Sprintf("• [%s] %s → %s (%ds)", p.ID, p.AgentName, p.ToolName, age))
	}
	_ = a.PostPlain(ctx, strings.Join(lines, "\n"))
}

func (a *Adapter) cmdResolveAll(ctx context.Context, res state.Resolution) {
	count := a.store.ResolveAll(res)
	if res.Decision == state.DecisionApprove {
		_ = a.PostPlain(ctx, fmt.Sprintf("✅ %d approbation(s) approuvée(s).", count))
	} else {
		_ = a.PostPlain(ctx, fmt.Sprintf("❌ %d approbation(s) refusée(s).", count))
	}
}

func (a *Adapter) cmdShutdown(ctx context.Context, args []string) {
	if len(args) == 0 || args[0] != "confirm" {
		_ = a.PostPlain(ctx, "⚠️ Confirmer l'arrêt avec /shutdown confirm")
		return
	}
	_ = a.PostPlain(ctx, "🔴 Arrêt du bridge.")
	a.requestShutdown()
}

// handleCallback resolves a pending approval from an inline button.
// The first resolution source wins; a press on an unknown or already
// completed request shows a transient alert and changes nothing.
func (a *Adapter) handleCallback(ctx context.Context, query *CallbackQuery) {
	if query.Message == nil || query.Message.Chat.ID != a.chatID {
		_ = a.client.AnswerCallbackQuery(ctx, AnswerCallbackQueryRequest{
			CallbackQueryID: query.ID,
			Text:            "Non autorisé",
			ShowAlert:       true,
		})
		return
	}

	action, requestID, ok := strings.Cut(query.Data, ":")
	if !ok {
		a.logger.Warn("malformed callback payload", "data", query.Data)
		return
	}

	// Capture the agent before resolving: Take() on the coordinator
	// side removes the record as soon as the latch fires.
	agentID, agentName, _ := a.store.ApprovalAgent(requestID)

	var res state.Resolution
	var ack, statusLine string
	switch action {
	case "approve":
		res = state.Resolution{Decision: state.DecisionApprove, Reason: "user approved"}
		ack = "✅ Approuvé!"
		statusLine = "✅ APPROUVÉ"
	case "deny":
		res = state.Resolution{Decision: state.DecisionDeny, Reason: "user denied"}
		ack = "❌ Refusé!"
		statusLine = "❌ REFUSÉ"
	case "approve_all":
		res = state.Resolution{Decision: state.DecisionApprove, Reason: "user approved (session auto-approve enabled)"}
		ack = "✅ Approuvé! Auto-approbation activée pour cette session."
		statusLine = "✅ APPROUVÉ (auto-approve ON)"
	default:
		a.logger.Warn("unknown callback action", "action", action)
		return
	}

	if !a.store.Resolve(requestID, res) {
		_ = a.client.AnswerCallbackQuery(ctx, AnswerCallbackQueryRequest{
			CallbackQueryID: query.ID,
			Text:            "⚠️ Requête expirée ou déjà traitée",
			ShowAlert:       true,
		})
		return
	}

	if action == "approve_all" {
		a.store.EnableAutoApprove(agentID, agentName)
	}

	_ = a.client.AnswerCallbackQuery(ctx, AnswerCallbackQueryRequest{
		CallbackQueryID: query.ID,
		Text:            ack,
	})
	_, err := a.client.EditMessageText(ctx, EditMessageTextRequest{
		ChatID:    a.chatID,
		MessageID: query.Message.MessageID,
		Text:      query.Message.Text + "\n\n" + statusLine,
	})
	if err != nil {
		a.logger.Warn("prompt status edit failed", "request_id", requestID, "error", err)
	}
}

// handleText routes free-form operator text. A reply to a known
// approval prompt completes that approval with the text as
// instructions; anything else is queued for an agent.
func (a *Adapter) handleText(ctx context.Context, msg *Message, text string) {
	if msg.ReplyToMessage != nil {
		if requestID, ok := a.store.RequestForPrompt(msg.ReplyToMessage.MessageID); ok {
			res := state.Resolution{
				Decision:    state.DecisionApprove,
				Reason:      "approved with instructions",
				UserMessage: text,
			}
			if a.store.Resolve(requestID, res) {
				_ = a.PostPlain(ctx, fmt.Sprintf("✅ Approuvé avec instructions (%s).", requestID))
			} else {
				_ = a.PostPlain(ctx, "⚠️ Requête expirée ou déjà traitée.")
			}
			return
		}
	}

	agentID := a.routeText(msg)
	depth := a.store.Enqueue(agentID, text)
	metrics.QueuedMessagesTotal.Inc()
	_ = a.PostPlain(ctx, fmt.Sprintf("📨 Message routé vers l'agent: %s (file: %d)", agentID, depth))
}

// routeText picks the target agent for non-reply text. When the text
// replies to a bot message that mentions a known agent id, that agent
// wins; otherwise "main". Ids are matched as whole tokens so short ids
// do not fire on substrings of ordinary words.
func (a *Adapter) routeText(msg *Message) string {
	if msg.ReplyToMessage == nil || msg.ReplyToMessage.From == nil || !msg.ReplyToMessage.From.IsBot {
		return "main"
	}
	replyText := msg.ReplyToMessage.Text
	for _, s := range a.store.Sessions() {
		if containsToken(replyText, s.AgentID) {
			return s.AgentID
		}
	}
	return "main"
}

// containsToken reports whether token appears in text delimited by
// non-identifier characters.
func containsToken(text, token string) bool {
	if token == "" {
		return false
	}
	for start := 0; ; {
		i := strings.Index(text[start:], token)
		if i < 0 {
			return false
		}
		i += start
		before := i == 0 || !isIdentChar(text[i-1])
		afterIdx := i + len(token)
		after := afterIdx >= len(text) || !isIdentChar(text[afterIdx])
		if before && after {
			return true
		}
		start = i + 1
	}
}

func isIdentChar(c byte) bool {
	return c == '-' || c == '_' ||
		('0' <= c && c <= '9') ||
		('a' <= c && c <= 'z') ||
		('A' <= c && c <= 'Z')
}
