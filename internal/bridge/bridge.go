// Package bridge assembles and supervises the whole service: the state
// store, the approval coordinator, the Telegram adapter and poller, the
// hook-facing HTTP gateway, and the optional reminder schedule.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/clawbridge/internal/approval"
	"github.com/flemzord/clawbridge/internal/config"
	"github.com/flemzord/clawbridge/internal/gateway"
	"github.com/flemzord/clawbridge/internal/reminder"
	"github.com/flemzord/clawbridge/internal/state"
	"github.com/flemzord/clawbridge/internal/telegram"
	"github.com/flemzord/clawbridge/internal/telemetry"
)

// shutdownGrace bounds how long teardown waits for in-flight /approve
// calls to drain.
const shutdownGrace = 15 * time.Second

// Bridge is the assembled service.
type Bridge struct {
	cfg    *config.Config
	logger *slog.Logger

	store    *state.Store
	client   *telegram.Client
	adapter  *telegram.Adapter
	poller   *telegram.Poller
	gateway  *gateway.Gateway
	reminder *reminder.Reminder

	// shutdownCh is signalled by the operator's /shutdown command.
	shutdownCh chan struct{}
}

// Version is stamped at build time.
var Version = "dev"

// New wires a Bridge from its configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Bridge, error) {
	b := &Bridge{
		cfg:        cfg,
		logger:     logger,
		store:      state.NewStore(),
		shutdownCh: make(chan struct{}),
	}

	b.client = telegram.NewClient(cfg.TelegramBotToken, cfg.TelegramAPIURL)

	b.adapter = telegram.NewAdapter(telegram.Options{
		Client:          b.client,
		ChatID:          cfg.TelegramChatID,
		Logger:          logger,
		Store:           b.store,
		RequestShutdown: b.RequestShutdown,
	})

	coordinator := approval.NewCoordinator(b.store, b.adapter, logger, cfg.ApprovalTimeout())

	b.gateway = gateway.New(gateway.Options{
		Host:            cfg.BridgeHost,
		Port:            cfg.BridgePort,
		Store:           b.store,
		Approver:        coordinator,
		Notifier:        b.adapter,
		Logger:          logger,
		ApprovalTimeout: cfg.ApprovalTimeout(),
	})

	b.poller = telegram.NewPoller(b.client, b.adapter.HandleUpdate, logger, cfg.PollingTimeoutSeconds)

	rem, err := reminder.New(cfg.ReminderSchedule, b.store, b.adapter, logger)
	if err != nil {
		return nil, err
	}
	b.reminder = rem

	return b, nil
}

// RequestShutdown initiates a graceful stop. Safe to call once; used by
// the operator's /shutdown command.
func (b *Bridge) RequestShutdown() {
	select {
	case <-b.shutdownCh:
	default:
		close(b.shutdownCh)
	}
}

// Run starts every component and blocks until the context is cancelled
// or the operator requests shutdown, then tears down in order: inbound
// polling first, then the reminder, then the gateway with a drain
// window for blocked /approve calls.
func (b *Bridge) Run(ctx context.Context) error {
	stopTracing, err := telemetry.Setup(ctx, b.cfg.OTLPEndpoint, "clawbridge", Version)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stopTracing(shutdownCtx); err != nil {
			b.logger.Warn("trace pipeline shutdown failed", "error", err)
		}
	}()

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	me, err := b.client.GetMe(startCtx)
	if err != nil {
		return fmt.Errorf("bridge: telegram authentication failed: %w", err)
	}
	b.logger.Info("telegram bot authenticated", "username", me.Username)

	// A leftover webhook makes getUpdates return 409s.
	if err := b.client.DeleteWebhook(startCtx); err != nil {
		b.logger.Warn("webhook cleanup failed", "error", err)
	}

	if err := b.gateway.Start(); err != nil {
		return err
	}
	b.poller.Start()
	if b.reminder != nil {
		b.reminder.Start()
	}

	if err := b.adapter.PostPlain(startCtx, "🟢 Bridge démarré"); err != nil {
		b.logger.Warn("startup notice not delivered", "error", err)
	}
	b.logger.Info("bridge running",
		"addr", fmt.Sprintf("%s:%d", b.cfg.BridgeHost, b.cfg.BridgePort),
		"chat_id", b.cfg.TelegramChatID,
	)

	select {
	case <-ctx.Done():
		b.logger.Info("shutdown signal received")
	case <-b.shutdownCh:
		b.logger.Info("shutdown requested by operator")
	}

	b.poller.Stop()
	if b.reminder != nil {
		b.reminder.Stop()
	}

	// Release hooks still blocked in /approve before closing the
	// listener: deny-by-default beats hanging them.
	if n := b.store.ResolveAll(state.Resolution{Decision: state.DecisionDeny, Reason: "timeout"}); n > 0 {
		b.logger.Info("pending approvals denied for shutdown", "count", n)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := b.gateway.Stop(drainCtx); err != nil {
		return fmt.Errorf("bridge: gateway shutdown: %w", err)
	}

	b.logger.Info("bridge stopped")
	return nil
}
