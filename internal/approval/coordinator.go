// Package approval implements the request/response rendezvous at the
// heart of the bridge: a hook blocks in Request() until the operator
// resolves the approval out-of-band on the chat side, or the deadline
// fires.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flemzord/clawbridge/internal/metrics"
	"github.com/flemzord/clawbridge/internal/state"
)

// promptQueuePreview is how many queued operator messages are embedded
// in the approval prompt.
const promptQueuePreview = 3

// Prompt is the approval prompt handed to the chat adapter.
type Prompt struct {
	RequestID   string
	AgentName   string
	ToolName    string
	ToolInput   string
	Description string

	// QueuedMessages are the most recent operator messages still
	// queued for the agent, shown so the operator remembers what the
	// agent is about to receive.
	QueuedMessages []string
}

// Chat is the outbound surface the coordinator needs from the chat
// adapter. SendApprovalPrompt returns the id of the sent chat message
// so replies can be correlated back to the request.
type Chat interface {
	SendApprovalPrompt(ctx context.Context, p Prompt) (messageID int, err error)
	PostPlain(ctx context.Context, text string) error
}

// Request is a hook's approval request.
type Request struct {
	AgentID     string
	AgentName   string
	ToolName    string
	ToolInput   string
	Description string
	Timeout     time.Duration
}

// Result is what the blocked hook receives.
type Result struct {
	Decision  state.Decision
	Reason    string
	RequestID string
}

// Coordinator creates approval records, publishes them to the chat,
// and blocks callers until resolution or timeout.
type Coordinator struct {
	store          *state.Store
	chat           Chat
	logger         *slog.Logger
	defaultTimeout time.Duration
	tracer         trace.Tracer
}

// NewCoordinator creates a Coordinator. defaultTimeout applies when a
// request carries none.
func NewCoordinator(store *state.Store, chat Chat, logger *slog.Logger, defaultTimeout time.Duration) *Coordinator {
	if defaultTimeout <= 0 {
		defaultTimeout = 300 * time.Second
	}
	return &Coordinator{
		store:          store,
		chat:           chat,
		logger:         logger,
		defaultTimeout: defaultTimeout,
		tracer:         otel.Tracer("clawbridge/approval"),
	}
}

// Request publishes an approval prompt and blocks until one of the
// resolution sources wins: a button callback, a reply to the prompt, a
// bulk command, or the deadline. Exactly one Result is returned per
// request id ever created.
func (c *Coordinator) Request(ctx context.Context, req Request) Result {
	ctx, span := c.tracer.Start(ctx, "approval.request",
		trace.WithAttributes(
			attribute.String("agent.id", req.AgentID),
			attribute.String("tool.name", req.ToolName),
		))
	defer span.End()

	if c.store.Paused() {
		span.SetAttributes(attribute.String("approval.decision", "passthrough"))
		metrics.ApprovalsTotal.WithLabelValues("passthrough").Inc()
		return Result{Decision: state.DecisionPassthrough, Reason: "bridge_paused"}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	rec := c.store.CreateApproval(state.ApprovalRequest{
		AgentID:     req.AgentID,
		AgentName:   req.AgentName,
		ToolName:    req.ToolName,
		ToolInput:   req.ToolInput,
		Description: req.Description,
		Timeout:     timeout,
	})
	span.SetAttributes(attribute.String("approval.request_id", rec.ID))

	prompt := Prompt{
		RequestID:      rec.ID,
		AgentName:      req.AgentName,
		ToolName:       req.ToolName,
		ToolInput:      req.ToolInput,
		Description:    req.Description,
		QueuedMessages: c.store.Peek(req.AgentID, promptQueuePreview),
	}

	msgID, err := c.chat.SendApprovalPrompt(ctx, prompt)
	if err != nil {
		// The operator will not see the prompt; the approval rides out
		// its deadline and denies, unless a bulk command resolves it.
		c.logger.Warn("approval prompt not delivered",
			"request_id", rec.ID,
			"agent_id", req.AgentID,
			"error", err,
		)
	} else {
		c.store.MapPrompt(msgID, rec.ID)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	start := time.Now()
	select {
	case <-rec.Done():
		return c.finish(ctx, span, rec.ID, start)

	case <-timer.C:
		if !c.store.Expire(rec.ID) {
			// A resolution slipped in between the timer firing and the
			// expiry; the resolution wins.
			return c.finish(ctx, span, rec.ID, start)
		}
		c.notifyExpired(rec.ID, timeout)
		span.SetAttributes(attribute.String("approval.decision", "deny"))
		metrics.ApprovalsTotal.WithLabelValues("deny").Inc()
		metrics.ApprovalDuration.Observe(time.Since(start).Seconds())
		return Result{Decision: state.DecisionDeny, Reason: "timeout", RequestID: rec.ID}

	case <-ctx.Done():
		// Caller gone (shutdown drain or dropped connection). The
		// record is abandoned; from the hook's side this is a timeout.
		if !c.store.Expire(rec.ID) {
			return c.finish(ctx, span, rec.ID, start)
		}
		span.SetAttributes(attribute.String("approval.decision", "deny"))
		return Result{Decision: state.DecisionDeny, Reason: "timeout", RequestID: rec.ID}
	}
}

// finish takes the resolved record, drains the agent's queue, and
// composes the final reason with any operator instructions.
func (c *Coordinator) finish(_ context.Context, span trace.Span, requestID string, start time.Time) Result {
	rec, queued := c.store.Take(requestID)
	if rec == nil {
		// Should not happen: Take races only against Expire, and both
		// paths are serialized by the caller.
		return Result{Decision: state.DecisionDeny, Reason: "timeout", RequestID: requestID}
	}

	res := rec.Resolution()
	reason := res.Reason

	instructions := queued
	if res.UserMessage != "" {
		instructions = append(instructions, res.UserMessage)
	}
	if len(instructions) > 0 {
		reason = fmt.Sprintf("%s\n\nUser instructions:\n%s", reason, strings.Join(instructions, "\n"))
	}

	span.SetAttributes(attribute.String("approval.decision", string(res.Decision)))
	metrics.ApprovalsTotal.WithLabelValues(string(res.Decision)).Inc()
	metrics.ApprovalDuration.Observe(time.Since(start).Seconds())

	return Result{Decision: res.Decision, Reason: reason, RequestID: requestID}
}

// notifyExpired posts the in-chat timeout notice. Uses a fresh context:
// the caller's request context may already be past its deadline.
func (c *Coordinator) notifyExpired(requestID string, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	text := fmt.Sprintf("⏰ Approbation %s expirée (timeout %ds). Refus par défaut.", requestID, int(timeout.Seconds()))
	if err := c.chat.PostPlain(ctx, text); err != nil {
		c.logger.Warn("expiration notice not delivered", "request_id", requestID, "error", err)
	}
}
