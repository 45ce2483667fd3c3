package telegram

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	maxConsecutivePollingErrors = 5
	errorPauseDuration          = 30 * time.Second
)

// Poller long-polls getUpdates and hands each update to the adapter.
// Any backlog accumulated while the bridge was down is dropped at
// startup so stale button presses are never acted on.
type Poller struct {
	client      *Client
	handler     func(ctx context.Context, update Update)
	logger      *slog.Logger
	pollTimeout int

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewPoller creates a Poller. pollTimeout is the getUpdates long-poll
// window in seconds.
func NewPoller(client *Client, handler func(ctx context.Context, update Update), logger *slog.Logger, pollTimeout int) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		client:      client,
		handler:     handler,
		logger:      logger,
		pollTimeout: pollTimeout,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// Start launches the polling loop in a goroutine.
func (p *Poller) Start() {
	go p.loop()
}

// Stop cancels the polling loop and waits for it to finish.
// Safe to call multiple times.
func (p *Poller) Stop() {
	p.stopOnce.Do(p.cancel)
	<-p.done
}

func (p *Poller) loop() {
	defer close(p.done)

	offset := p.dropBacklog()
	var consecutiveErrors int

	for {
		if p.ctx.Err() != nil {
			return
		}

		updates, err := p.client.GetUpdates(p.ctx, GetUpdatesRequest{
			Offset:         offset,
			Timeout:        p.pollTimeout,
			AllowedUpdates: []string{"message", "callback_query"},
		})
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			consecutiveErrors++
			p.logger.Error("polling getUpdates failed",
				"error", err,
				"consecutive_errors", consecutiveErrors,
			)

			if consecutiveErrors >= maxConsecutivePollingErrors {
				p.logger.Warn("polling paused after consecutive errors",
					"pause", errorPauseDuration,
				)
				select {
				case <-p.ctx.Done():
					return
				case <-time.After(errorPauseDuration):
				}
				consecutiveErrors = 0
			}
			continue
		}

		consecutiveErrors = 0

		for _, update := range updates {
			offset = update.UpdateID + 1
			p.handler(p.ctx, update)
		}
	}
}

// dropBacklog fetches whatever is already queued server-side and
// returns the offset just past it, without handling any of it.
func (p *Poller) dropBacklog() int {
	updates, err := p.client.GetUpdates(p.ctx, GetUpdatesRequest{Offset: -1, Timeout: 0})
	if err != nil || len(updates) == 0 {
		return 0
	}
	last := updates[len(updates)-1].UpdateID
	p.logger.Info("dropped pending update backlog", "through_update_id", last)
	return last + 1
}
