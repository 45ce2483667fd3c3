// Package metrics exposes the bridge's Prometheus collectors. They are
// registered on the default registry and served by the gateway's
// /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ApprovalsTotal counts completed approval requests by decision.
	ApprovalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clawbridge_approvals_total",
		Help: "Completed approval requests by decision.",
	}, []string{"decision"})

	// ApprovalDuration observes how long hooks blocked on /approve.
	ApprovalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "clawbridge_approval_duration_seconds",
		Help:    "Time hooks spent blocked on /approve.",
		Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
	})

	// NotificationsTotal counts /notify calls by level.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clawbridge_notifications_total",
		Help: "Notifications relayed to the chat by level.",
	}, []string{"level"})

	// ChatSendFailures counts outbound chat messages that failed even
	// after the plain-text fallback.
	ChatSendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clawbridge_chat_send_failures_total",
		Help: "Outbound chat sends that failed both rich and plain attempts.",
	})

	// QueuedMessagesTotal counts operator messages enqueued for agents.
	QueuedMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clawbridge_queued_messages_total",
		Help: "Operator messages enqueued for delivery to agents.",
	})
)
