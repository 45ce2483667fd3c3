package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/flemzord/clawbridge/internal/approval"
	"github.com/flemzord/clawbridge/internal/metrics"
	"github.com/flemzord/clawbridge/internal/state"
)

// toolInputPreviewLimit caps how much of the tool input is shown in the
// approval prompt.
const toolInputPreviewLimit = 500

// levelEmoji maps notification levels to their chat prefix.
var levelEmoji = map[string]string{
	"info":          "ℹ️",
	"success":       "✅",
	"warning":       "⚠️",
	"error":         "❌",
	"task_complete": "🏁",
}

// LevelEmoji returns the emoji for a notification level, or a generic
// pin for unknown levels.
func LevelEmoji(level string) string {
	if e, ok := levelEmoji[level]; ok {
		return e
	}
	return "📌"
}

// Adapter is the bridge's Telegram surface. Outbound it formats and
// sends prompts, notifications, and command replies with a two-tier
// MarkdownV2-then-plain policy; inbound it dispatches operator
// commands, button callbacks, and reply-text into the state store.
type Adapter struct {
	client          *Client
	chatID          int64
	logger          *slog.Logger
	store           *state.Store
	startedAt       time.Time
	requestShutdown func()
}

// Options configures an Adapter.
type Options struct {
	Client *Client
	// ChatID is the sole authorized operator chat. Updates from any
	// other chat never mutate state.
	ChatID int64
	Logger *slog.Logger
	Store  *state.Store
	// RequestShutdown initiates a graceful bridge shutdown. Invoked by
	// the operator's "/shutdown confirm" command.
	RequestShutdown func()
}

// NewAdapter creates an Adapter.
func NewAdapter(opts Options) *Adapter {
	if opts.RequestShutdown == nil {
		opts.RequestShutdown = func() {}
	}
	return &Adapter{
		client:          opts.Client,
		chatID:          opts.ChatID,
		logger:          opts.Logger,
		store:           opts.Store,
		startedAt:       time.Now(),
		requestShutdown: opts.RequestShutdown,
	}
}

var _ approval.Chat = (*Adapter)(nil)

// send delivers a message with the two-tier policy: MarkdownV2 first,
// then the plain variant with the same keyboard. Behavior must never
// hinge on escaping bugs.
func (a *Adapter) send(ctx context.Context, rich, plain string, keyboard *InlineKeyboardMarkup) (*Message, error) {
	msg, err := a.client.SendMessage(ctx, SendMessageRequest{
		ChatID:      a.chatID,
		Text:        rich,
		ParseMode:   "MarkdownV2",
		ReplyMarkup: keyboard,
	})
	if err == nil {
		return msg, nil
	}

	a.logger.Warn("markdown send failed, retrying plain", "error", err)
	msg, err = a.client.SendMessage(ctx, SendMessageRequest{
		ChatID:      a.chatID,
		Text:        plain,
		ReplyMarkup: keyboard,
	})
	if err != nil {
		metrics.ChatSendFailures.Inc()
		return nil, fmt.Errorf("telegram: plain fallback failed: %w", err)
	}
	return msg, nil
}

// PostPlain sends a plain-text message with no keyboard.
func (a *Adapter) PostPlain(ctx context.Context, text string) error {
	_, err := a.client.SendMessage(ctx, SendMessageRequest{ChatID: a.chatID, Text: text})
	if err != nil {
		metrics.ChatSendFailures.Inc()
	}
	return err
}

// Notify relays a hook notification to the operator.
func (a *Adapter) Notify(ctx context.Context, agentName, message, level string) error {
	emoji := LevelEmoji(level)
	rich := fmt.Sprintf("%s *%s*\n\n%s", emoji, EscapeMarkdownV2(agentName), EscapeMarkdownV2(message))
	plain := fmt.Sprintf("%s %s\n\n%s", emoji, agentName, message)
	_, err := a.send(ctx, rich, plain, nil)
	return err
}

// SendApprovalPrompt implements approval.Chat. It sends the approval
// prompt with the two-row inline keyboard and returns the chat message
// id for reply correlation.
func (a *Adapter) SendApprovalPrompt(ctx context.Context, p approval.Prompt) (int, error) {
	keyboard := &InlineKeyboardMarkup{
		InlineKeyboard: [][]InlineKeyboardButton{
			{
				{Text: "✅ Approuver", CallbackData: "approve:" + p.RequestID},
				{Text: "❌ Refuser", CallbackData: "deny:" + p.RequestID},
			},
			{
				{Text: "✅ Approuver tout (session)", CallbackData: "approve_all:" + p.RequestID},
			},
		},
	}

	msg, err := a.send(ctx, formatPrompt(p), formatPromptPlain(p), keyboard)
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// formatPrompt renders the MarkdownV2 approval prompt.
func formatPrompt(p approval.Prompt) string {
	var b strings.Builder
	b.WriteString("🔐 *Approbation requise*\n\n")
	fmt.Fprintf(&b, "*Agent:* %s\n", EscapeMarkdownV2(p.AgentName))
	fmt.Fprintf(&b, "*Outil:* `%s`\n", EscapeMarkdownV2(p.ToolName))
	if p.Description != "" {
		fmt.Fprintf(&b, "*Description:* %s\n", EscapeMarkdownV2(p.Description))
	}
	if input := truncate(p.ToolInput, toolInputPreviewLimit); input != "" {
		fmt.Fprintf(&b, "\n```\n%s\n```\n", EscapeMarkdownV2(input))
	}
	if len(p.QueuedMessages) > 0 {
		b.WriteString("\n📨 *Messages en attente:*\n")
		for _, m := range p.QueuedMessages {
			fmt.Fprintf(&b, "• %s\n", EscapeMarkdownV2(m))
		}
	}
	fmt.Fprintf(&b, "\n_ID: %s_", EscapeMarkdownV2(p.RequestID))
	return b.String()
}

// formatPromptPlain renders the plain fallback of the approval prompt.
func formatPromptPlain(p approval.Prompt) string {
	var b strings.Builder
	b.WriteString("🔐 Approbation requise\n\n")
	fmt.Fprintf(&b, "Agent: %s\n", p.AgentName)
	fmt.Fprintf(&b, "Outil: %s\n", p.ToolName)
	if p.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", p.Description)
	}
	if input := truncate(p.ToolInput, toolInputPreviewLimit); input != "" {
		fmt.Fprintf(&b, "\nInput:\n%s\n", input)
	}
	if len(p.QueuedMessages) > 0 {
		b.WriteString("\nMessages en attente:\n")
		for _, m := range p.QueuedMessages {
			fmt.Fprintf(&b, "• %s\n", m)
		}
	}
	fmt.Fprintf(&b, "\nID: %s", p.RequestID)
	return b.String()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
