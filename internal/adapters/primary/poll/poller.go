// Package poll implements the request/response fallback that bootstraps the
// feed and fills gaps the push channel missed. It is a generic scheduled task
// with an explicit cancellation token, so re-subscription never leaves an
// orphaned timer running.
package poll

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
)

// Poller runs a task once eagerly and then on a fixed interval. Ticks that
// arrive while a run is still in flight are skipped, not queued, so a slow
// backend can never pile up concurrent requests.
type Poller struct {
	interval time.Duration
	task     func(ctx context.Context) error
	logger   *slog.Logger

	inFlight atomic.Bool
	kick     chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

var _ ports.Resyncer = (*Poller)(nil)

// New builds a poller around the given task.
func New(interval time.Duration, task func(ctx context.Context) error, logger *slog.Logger) *Poller {
	return &Poller{
		interval: interval,
		task:     task,
		logger:   logger.With("component", "poll_fallback"),
		kick:     make(chan struct{}, 1),
	}
}

// Start launches the poll loop with one eager run. The loop stops when ctx is
// cancelled or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.run(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.run(ctx)
			case <-p.kick:
				p.run(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for any in-flight run to return.
func (p *Poller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// PollNow requests an out-of-band cycle, e.g. after a self-healing mutation.
// Coalesces: at most one pending request is kept.
func (p *Poller) PollNow() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *Poller) run(ctx context.Context) {
	// Reentrancy guard: a tick firing mid-fetch is dropped.
	if !p.inFlight.CompareAndSwap(false, true) {
		p.logger.Debug("poll tick skipped, fetch in flight")
		return
	}
	defer p.inFlight.Store(false)

	if err := p.task(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		// Poll failures are absorbed; the next tick retries.
		p.logger.Warn("poll cycle failed", "error", err)
	}
}

// feedEnvelope is the paginated response shape, `{"results": [...]}`.
type feedEnvelope struct {
	Results []domain.Notification `json:"results"`
}

// NormalizeFeed accepts both response shapes the backend is known to emit, a
// paginated envelope and a flat array, and returns a single ordered list.
func NormalizeFeed(payload json.RawMessage) ([]domain.Notification, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	var flat []domain.Notification
	if err := json.Unmarshal(payload, &flat); err == nil {
		return flat, nil
	}

	var envelope feedEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("unrecognized feed payload shape: %w", err)
	}
	return envelope.Results, nil
}
