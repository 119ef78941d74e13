package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
)

// OfferListener is notified whenever an offer is created or changes state.
type OfferListener func(offer domain.ReassignmentOffer)

// Handoff runs the client side of the ticket reassignment offer protocol.
// The server is authoritative for every transition: accept and reject apply
// no optimistic local mutation, and expiry is only ever adopted from a server
// response, never from the local countdown.
type Handoff struct {
	api     ports.TicketAPI
	agentID uuid.UUID
	resync  ports.Resyncer
	logger  *slog.Logger

	mu        sync.Mutex
	offers    map[int64]*domain.ReassignmentOffer
	inFlight  map[int64]bool
	listeners []OfferListener
}

var _ ports.EventSink = (*Handoff)(nil)

// NewHandoff builds a coordinator for the signed-in agent.
func NewHandoff(api ports.TicketAPI, agentID uuid.UUID, logger *slog.Logger) *Handoff {
	return &Handoff{
		api:      api,
		agentID:  agentID,
		logger:   logger.With("component", "handoff"),
		offers:   make(map[int64]*domain.ReassignmentOffer),
		inFlight: make(map[int64]bool),
	}
}

// SetResyncer wires the trigger used when a push frame needs server-side
// confirmation before it can be trusted. Optional.
func (h *Handoff) SetResyncer(r ports.Resyncer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resync = r
}

// Subscribe registers an offer listener.
func (h *Handoff) Subscribe(fn OfferListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Offer proposes transferring a ticket to another agent. Self-offers and
// offers on tickets that already have a pending offer are rejected before any
// network call; the server stays authoritative and may still refuse.
func (h *Handoff) Offer(ctx context.Context, ticketID int64, toAgentID uuid.UUID, windowSeconds int) (*domain.ReassignmentOffer, error) {
	if _, err := domain.NewReassignmentOffer(ticketID, h.agentID, toAgentID, windowSeconds); err != nil {
		return nil, apperrors.NewValidationError(err, "invalid reassignment offer")
	}

	h.mu.Lock()
	if existing, ok := h.offers[ticketID]; ok && existing.State == domain.OfferPending {
		h.mu.Unlock()
		return nil, apperrors.NewConflictError(domain.ErrOfferPending, "ticket already has a pending offer")
	}
	h.mu.Unlock()

	offer, err := h.api.OfferReassignment(ctx, ports.OfferParams{
		TicketID:      ticketID,
		ToAgentID:     toAgentID,
		WindowSeconds: windowSeconds,
	})
	if err != nil {
		return nil, err
	}

	h.adopt(offer)
	h.logger.Info("reassignment offered",
		"ticket_id", ticketID,
		"to_agent", toAgentID,
		"window_seconds", offer.WindowSeconds,
	)
	return offer, nil
}

// Accept confirms an incoming offer. The local offer only becomes Accepted
// once the server says so; ticket ownership is safety-critical.
func (h *Handoff) Accept(ctx context.Context, ticketID int64) (*domain.ReassignmentOffer, error) {
	return h.respond(ctx, ticketID, h.api.AcceptReassignment)
}

// Reject declines an incoming offer; the ticket returns to the prior owner or
// the unassigned pool per server decision.
func (h *Handoff) Reject(ctx context.Context, ticketID int64) (*domain.ReassignmentOffer, error) {
	return h.respond(ctx, ticketID, h.api.RejectReassignment)
}

func (h *Handoff) respond(ctx context.Context, ticketID int64, call func(context.Context, int64) (*domain.ReassignmentOffer, error)) (*domain.ReassignmentOffer, error) {
	h.mu.Lock()
	offer, ok := h.offers[ticketID]
	if !ok {
		h.mu.Unlock()
		return nil, apperrors.NewNotFoundError(nil, "no offer for this ticket")
	}
	if offer.IsTerminal() {
		h.mu.Unlock()
		return nil, apperrors.NewConflictError(domain.ErrOfferResolved, "offer already resolved")
	}
	if h.inFlight[ticketID] {
		h.mu.Unlock()
		return nil, apperrors.NewConflictError(apperrors.ErrInFlight, "a response is already in flight")
	}
	h.inFlight[ticketID] = true
	h.mu.Unlock()

	resolved, err := call(ctx, ticketID)
	if err != nil {
		h.mu.Lock()
		if !apperrors.IsConflict(err) {
			// Re-enable controls. On a conflict the offer got resolved
			// elsewhere, so controls stay disabled until a refresh
			// reconciles the authoritative state.
			delete(h.inFlight, ticketID)
		}
		h.mu.Unlock()
		return nil, err
	}

	h.mu.Lock()
	delete(h.inFlight, ticketID)
	h.mu.Unlock()
	h.adopt(resolved)
	return resolved, nil
}

// Refresh reconciles local offers with the server. This is the only path
// through which Expired becomes visible.
func (h *Handoff) Refresh(ctx context.Context) error {
	offers, err := h.api.ListOffers(ctx)
	if err != nil {
		return err
	}
	for _, offer := range offers {
		h.adopt(offer)
	}
	return nil
}

// Deliver consumes offer-related events from the realtime channel.
func (h *Handoff) Deliver(ev domain.RawEvent) {
	switch ev.Type {
	case domain.EventOfferCreated, domain.EventOfferAccepted, domain.EventOfferRejected:
		var offer domain.ReassignmentOffer
		if err := json.Unmarshal(ev.Payload, &offer); err != nil {
			h.logger.Warn("dropping malformed offer event", "event_type", ev.Type, "error", err)
			return
		}
		h.adopt(&offer)

	case domain.EventOfferExpired:
		// Whether the backend pushes expiry at all is unconfirmed; treat the
		// frame as a hint and reconcile with the REST surface instead of
		// trusting it directly.
		h.mu.Lock()
		resync := h.resync
		h.mu.Unlock()
		if resync != nil {
			resync.PollNow()
		}
	}
}

// adopt installs a server-confirmed offer state. Terminal local offers are
// immutable: a stale frame can never resurrect or flip a resolved offer.
func (h *Handoff) adopt(offer *domain.ReassignmentOffer) {
	if offer == nil {
		return
	}

	h.mu.Lock()
	current, ok := h.offers[offer.TicketID]
	switch {
	case !ok:
		clone := *offer
		h.offers[offer.TicketID] = &clone
	case current.IsTerminal():
		// A fresh pending offer may follow a resolved one on the same ticket;
		// anything else aimed at a terminal offer is stale.
		if offer.State == domain.OfferPending && offer.OfferedAt.After(current.OfferedAt) {
			clone := *offer
			h.offers[offer.TicketID] = &clone
		} else {
			h.mu.Unlock()
			return
		}
	default:
		if offer.State == domain.OfferPending {
			current.RemainingSeconds = offer.RemainingSeconds
		} else if err := current.Resolve(offer.State); err != nil {
			h.mu.Unlock()
			return
		}
		if current.IsTerminal() {
			delete(h.inFlight, offer.TicketID)
		}
	}
	updated := *h.offers[offer.TicketID]
	listeners := make([]OfferListener, len(h.listeners))
	copy(listeners, h.listeners)
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(updated)
	}
}

// CanReassign reports whether the reassign affordance should be enabled for a
// ticket. False while a pending offer exists.
func (h *Handoff) CanReassign(ticketID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	offer, ok := h.offers[ticketID]
	return !ok || offer.State != domain.OfferPending
}

// ResponseInFlight reports whether accept/reject controls for a ticket should
// be disabled right now.
func (h *Handoff) ResponseInFlight(ticketID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inFlight[ticketID]
}

// OfferFor returns the tracked offer for a ticket, if any.
func (h *Handoff) OfferFor(ticketID int64) (domain.ReassignmentOffer, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	offer, ok := h.offers[ticketID]
	if !ok {
		return domain.ReassignmentOffer{}, false
	}
	return *offer, true
}

// PendingOffers returns every offer still awaiting a response.
func (h *Handoff) PendingOffers() []domain.ReassignmentOffer {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]domain.ReassignmentOffer, 0, len(h.offers))
	for _, offer := range h.offers {
		if offer.State == domain.OfferPending {
			out = append(out, *offer)
		}
	}
	return out
}

// TickCountdown decrements the courtesy countdown of every pending offer by
// one second. Driven at 1 Hz by the session; display only, never a transition.
func (h *Handoff) TickCountdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, offer := range h.offers {
		offer.Countdown()
	}
}
