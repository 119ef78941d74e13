package ports

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/lorrc/service-desk-realtime/internal/core/domain"
)

// NotificationAPI is the collaborator REST surface for the feed.
type NotificationAPI interface {
	// FetchFeed returns the canonical feed payload as delivered by the
	// backend. The body may be a flat array or a paginated envelope; shape
	// normalization is the poll fallback's job.
	FetchFeed(ctx context.Context) (json.RawMessage, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	Delete(ctx context.Context, id string) error
	ClearAll(ctx context.Context) error
}

// OfferParams defines the input for proposing a reassignment.
type OfferParams struct {
	TicketID      int64
	ToAgentID     uuid.UUID
	WindowSeconds int
}

// TicketAPI is the collaborator REST surface for the hand-off protocol.
type TicketAPI interface {
	OfferReassignment(ctx context.Context, params OfferParams) (*domain.ReassignmentOffer, error)
	AcceptReassignment(ctx context.Context, ticketID int64) (*domain.ReassignmentOffer, error)
	RejectReassignment(ctx context.Context, ticketID int64) (*domain.ReassignmentOffer, error)
	// ListOffers returns every offer currently relevant to the signed-in
	// agent, including recently resolved ones, with their authoritative
	// states. This is how Expired transitions reach the client.
	ListOffers(ctx context.Context) ([]*domain.ReassignmentOffer, error)
}

// SnapshotCache persists the feed as one whole-snapshot blob. Load returns
// (nil, nil) when nothing has been saved yet.
type SnapshotCache interface {
	Load() (*domain.FeedSnapshot, error)
	Save(snapshot *domain.FeedSnapshot) error
}

// Toast is a transient alert surfaced at most once per distinguishable event.
type Toast struct {
	Key    string
	Title  string
	Body   string
	RoomID *string
}

// Alerter is the port to whatever surfaces toasts to the user.
type Alerter interface {
	Alert(toast Toast)
}

// EventSink consumes classified realtime events. The reconciler and the
// hand-off coordinator both implement it, fed independently from the same
// channel.
type EventSink interface {
	Deliver(ev domain.RawEvent)
}

// Resyncer requests an out-of-band poll cycle, e.g. after a self-healing
// mutation discovered local state drifted from the server.
type Resyncer interface {
	PollNow()
}
