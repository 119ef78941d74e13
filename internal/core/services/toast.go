package services

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
)

// DefaultBacklogThreshold is the diff size above which the first batch after
// a (re)connect is treated as historical catch-up rather than live events.
const DefaultBacklogThreshold = 5

// ToastDispatcher surfaces at most one transient alert per distinguishable
// event. Backlog bursts after a (re)connect and events for the conversation
// the user is already looking at are suppressed.
type ToastDispatcher struct {
	alerter   ports.Alerter
	threshold int
	logger    *slog.Logger

	// activeRoom reports the room the user's navigation context currently
	// corresponds to, or "" for none.
	activeRoom func() string

	mu        sync.Mutex
	surfaced  map[string]struct{}
	firstDiff bool
}

// NewToastDispatcher builds a dispatcher. threshold <= 0 selects the default.
func NewToastDispatcher(alerter ports.Alerter, activeRoom func() string, threshold int, logger *slog.Logger) *ToastDispatcher {
	if threshold <= 0 {
		threshold = DefaultBacklogThreshold
	}
	if activeRoom == nil {
		activeRoom = func() string { return "" }
	}
	return &ToastDispatcher{
		alerter:    alerter,
		threshold:  threshold,
		activeRoom: activeRoom,
		logger:     logger.With("component", "toast_dispatcher"),
		surfaced:   make(map[string]struct{}),
		firstDiff:  true,
	}
}

// ResetBacklog arms backlog suppression again. Called on every (re)connect so
// the catch-up batch delivered at subscription start stays silent.
func (d *ToastDispatcher) ResetBacklog() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.firstDiff = true
}

// HandleDiff consumes one reconciler diff. Safe to register directly as a
// DiffListener.
func (d *ToastDispatcher) HandleDiff(admitted []domain.Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()

	backlog := d.firstDiff && len(admitted) > d.threshold
	d.firstDiff = false

	if backlog {
		// Historical catch-up: remember the ids so later retransmits stay
		// silent too, but alert for none of them.
		for i := range admitted {
			d.surfaced[admitted[i].ID] = struct{}{}
		}
		d.logger.Debug("suppressed backlog burst", "items", len(admitted))
		return
	}

	room := d.activeRoom()
	for i := range admitted {
		n := &admitted[i]
		if _, seen := d.surfaced[n.ID]; seen {
			continue
		}
		d.surfaced[n.ID] = struct{}{}

		if room != "" && n.RelatedRoomID != nil && *n.RelatedRoomID == room {
			// Already looking at that conversation.
			continue
		}

		d.alerter.Alert(ports.Toast{
			Key:    n.ID,
			Title:  titleFor(n.Kind),
			Body:   bodyFor(n),
			RoomID: n.RelatedRoomID,
		})
	}
}

func titleFor(kind domain.NotificationKind) string {
	switch kind {
	case domain.KindTicketCreated:
		return "New ticket"
	case domain.KindTicketAssigned:
		return "Ticket assigned to you"
	case domain.KindTicketReassigned:
		return "Ticket reassigned"
	case domain.KindTicketClosed:
		return "Ticket closed"
	case domain.KindChatMessage:
		return "New message"
	default:
		return "Notification"
	}
}

func bodyFor(n *domain.Notification) string {
	switch n.Kind {
	case domain.KindTicketCreated, domain.KindTicketAssigned,
		domain.KindTicketReassigned, domain.KindTicketClosed:
		if n.RelatedTicketID != nil {
			return fmt.Sprintf("#%d: %s", *n.RelatedTicketID, n.Message)
		}
		return n.Message
	default:
		// Unknown kinds fall back to the raw message.
		return n.Message
	}
}
