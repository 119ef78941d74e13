package services

import (
	"log/slog"
	"sync"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
)

// DiffListener receives the batch of newly admitted notifications after each
// merge. Duplicates never reach listeners, which is what gives toasts their
// at-most-once guarantee.
type DiffListener func(admitted []domain.Notification)

// Reconciler merges events from the realtime channel and the poll fallback
// into the canonical feed. Ordering between the two sources is deliberately
// unspecified; the merge being idempotent and commutative is what makes the
// final state independent of which source delivered an item first.
type Reconciler struct {
	store  *Store
	logger *slog.Logger

	mu        sync.RWMutex
	listeners []DiffListener
}

var _ ports.EventSink = (*Reconciler)(nil)

// NewReconciler builds a reconciler writing into the given store.
func NewReconciler(store *Store, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		logger: logger.With("component", "reconciler"),
	}
}

// Subscribe registers a diff listener. Listeners are invoked synchronously,
// in registration order, after each merge that admitted something.
func (r *Reconciler) Subscribe(fn DiffListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Deliver consumes one classified event from the realtime channel.
func (r *Reconciler) Deliver(ev domain.RawEvent) {
	n, err := domain.NotificationFromRaw(ev)
	if err != nil {
		// Offer events and such are not feed items; other sinks handle them.
		r.logger.Debug("event does not map to a feed item", "event_type", ev.Type)
		return
	}
	r.Merge([]domain.Notification{n})
}

// Merge admits a batch of notifications into the feed and fans the diff out.
func (r *Reconciler) Merge(items []domain.Notification) {
	admitted := r.store.Admit(items)
	if len(admitted) == 0 {
		return
	}

	r.logger.Debug("merged feed items", "incoming", len(items), "admitted", len(admitted))

	r.mu.RLock()
	listeners := make([]DiffListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()

	for _, fn := range listeners {
		fn(admitted)
	}
}
