// Package reminder periodically re-surfaces pending approvals in the
// operator chat so a prompt buried under later messages is not
// forgotten until its timeout.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flemzord/clawbridge/internal/state"
)

// Poster is the outbound chat surface the reminder needs.
type Poster interface {
	PostPlain(ctx context.Context, text string) error
}

// Reminder posts a pending-approval digest on a cron schedule.
type Reminder struct {
	cron   *cron.Cron
	store  *state.Store
	poster Poster
	logger *slog.Logger
}

// New creates a Reminder from a cron expression. An empty schedule
// returns (nil, nil): the feature is off.
func New(schedule string, store *state.Store, poster Poster, logger *slog.Logger) (*Reminder, error) {
	if schedule == "" {
		return nil, nil
	}

	r := &Reminder{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		store:  store,
		poster: poster,
		logger: logger,
	}
	if _, err := r.cron.AddFunc(schedule, r.run); err != nil {
		return nil, fmt.Errorf("reminder: invalid schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start begins the schedule.
func (r *Reminder) Start() {
	r.cron.Start()
	r.logger.Info("approval reminder scheduled")
}

// Stop halts the schedule and waits for a running job to finish.
func (r *Reminder) Stop() {
	<-r.cron.Stop().Done()
}

func (r *Reminder) run() {
	pending := r.store.PendingApprovals()
	if len(pending) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := r.poster.PostPlain(ctx, digest(pending)); err != nil {
		r.logger.Warn("reminder not delivered", "error", err)
	}
}

func digest(pending []state.Approval) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⏳ Rappel: %d approbation(s) en attente\n", len(pending))
	for _, p := range pending {
		age := int(time.Since(p.CreatedAt).Seconds())
		fmt.Fprintf(&b, "• [%s] %s → %s (%ds)\n", p.ID, p.AgentName, p.ToolName, age)
	}
	return b.String()
}
