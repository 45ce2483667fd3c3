// Package gateway is the HTTP control plane consumed by the agent's
// lifecycle hooks. It binds to loopback (the bind address is the only
// authentication hooks get) and exposes the notify/approve/session
// endpoints plus health and Prometheus metrics.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flemzord/clawbridge/internal/approval"
	"github.com/flemzord/clawbridge/internal/state"
)

// Approver is the blocking approval surface, implemented by
// approval.Coordinator.
type Approver interface {
	Request(ctx context.Context, req approval.Request) approval.Result
}

// Notifier is the outbound notification surface, implemented by the
// telegram adapter.
type Notifier interface {
	Notify(ctx context.Context, agentName, message, level string) error
}

// Gateway is the hook-facing HTTP server.
type Gateway struct {
	addr      string
	store     *state.Store
	approver  Approver
	notifier  Notifier
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time

	// maxApproval caps per-request /approve deadlines; the server's
	// write timeout is sized from it, so anything longer would be cut
	// off mid-wait.
	maxApproval time.Duration
}

// Options configures a Gateway.
type Options struct {
	Host  string
	Port  int
	Store *state.Store
	// Approver handles /approve. Its deadline bounds how long handlers
	// may block, so server write timeouts are derived from it.
	Approver Approver
	Notifier Notifier
	Logger   *slog.Logger
	// ApprovalTimeout is the default /approve deadline; HTTP timeouts
	// are sized above it so the server never cuts a blocked hook off.
	ApprovalTimeout time.Duration
}

// New creates a Gateway.
func New(opts Options) *Gateway {
	g := &Gateway{
		addr:      fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		store:     opts.Store,
		approver:  opts.Approver,
		notifier:  opts.Notifier,
		logger:    opts.Logger,
		startedAt: time.Now(),
	}

	timeout := opts.ApprovalTimeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	g.maxApproval = timeout

	g.server = &http.Server{
		Addr:              g.addr,
		Handler:           g.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
		// /approve blocks up to its deadline; give it headroom.
		ReadTimeout:  timeout + 10*time.Second,
		WriteTimeout: timeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return g
}

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(g.logRequests)

	r.Get("/health", g.handleHealth)
	r.Get("/status", g.handleStatus)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/notify", g.handleNotify)
	r.Post("/approve", g.handleApprove)
	r.Post("/check_auto_approve", g.handleCheckAutoApprove)
	r.Post("/register_agent", g.handleRegisterAgent)
	r.Post("/unregister_agent", g.handleUnregisterAgent)
	r.Post("/send_message", g.handleSendMessage)

	return r
}

// Handler exposes the mux for in-process tests.
func (g *Gateway) Handler() http.Handler {
	return g.server.Handler
}

// Start begins serving. It returns once the listener is bound; serve
// errors after that are logged.
func (g *Gateway) Start() error {
	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.addr)
	if err != nil {
		return fmt.Errorf("gateway: listen on %s: %w", g.addr, err)
	}

	go func() {
		g.logger.Info("gateway listening", "addr", g.addr)
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (g *Gateway) Stop(ctx context.Context) error {
	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(ctx)
}

// logRequests is a minimal slog access log.
func (g *Gateway) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		g.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}
