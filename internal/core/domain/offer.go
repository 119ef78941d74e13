package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Pre-defined errors for offer-specific validation.
var (
	ErrSelfOffer     = errors.New("cannot offer a ticket to the offering agent")
	ErrOfferPending  = errors.New("ticket already has a pending offer")
	ErrOfferResolved = errors.New("offer has already been resolved")
	ErrInvalidWindow = errors.New("offer window must be positive")
)

// OfferState represents the lifecycle of a reassignment offer.
type OfferState string

const (
	OfferPending  OfferState = "PENDING"
	OfferAccepted OfferState = "ACCEPTED"
	OfferRejected OfferState = "REJECTED"
	OfferExpired  OfferState = "EXPIRED"
)

// DefaultOfferWindowSeconds is applied when the caller does not choose a window.
const DefaultOfferWindowSeconds = 300

// ReassignmentOffer is a time-bounded request to transfer ticket ownership.
// The server is authoritative for every state transition; RemainingSeconds is
// a courtesy value for countdown display only.
type ReassignmentOffer struct {
	TicketID         int64      `json:"ticketId"`
	FromAgentID      uuid.UUID  `json:"fromAgentId"`
	ToAgentID        uuid.UUID  `json:"toAgentId"`
	WindowSeconds    int        `json:"windowSeconds"`
	OfferedAt        time.Time  `json:"offeredAt"`
	RemainingSeconds int        `json:"remainingSeconds"`
	State            OfferState `json:"state"`
}

// NewReassignmentOffer validates and builds a pending offer.
func NewReassignmentOffer(ticketID int64, from, to uuid.UUID, windowSeconds int) (*ReassignmentOffer, error) {
	if to == from {
		return nil, ErrSelfOffer
	}
	if windowSeconds == 0 {
		windowSeconds = DefaultOfferWindowSeconds
	}
	if windowSeconds < 0 {
		return nil, ErrInvalidWindow
	}

	return &ReassignmentOffer{
		TicketID:         ticketID,
		FromAgentID:      from,
		ToAgentID:        to,
		WindowSeconds:    windowSeconds,
		OfferedAt:        time.Now().UTC(),
		RemainingSeconds: windowSeconds,
		State:            OfferPending,
	}, nil
}

// IsTerminal reports whether the offer can no longer change state.
func (o *ReassignmentOffer) IsTerminal() bool {
	return o.State == OfferAccepted || o.State == OfferRejected || o.State == OfferExpired
}

// Resolve moves a pending offer into a terminal state. Terminal offers are
// immutable; resolving one again is an error even for the same state.
func (o *ReassignmentOffer) Resolve(next OfferState) error {
	if o.State != OfferPending {
		return ErrOfferResolved
	}
	switch next {
	case OfferAccepted, OfferRejected, OfferExpired:
		o.State = next
		o.RemainingSeconds = 0
		return nil
	default:
		return ErrOfferResolved
	}
}

// Countdown decrements the courtesy remaining-seconds display value. It never
// transitions state: only the server decides that an offer expired.
func (o *ReassignmentOffer) Countdown() {
	if o.State != OfferPending {
		return
	}
	if o.RemainingSeconds > 0 {
		o.RemainingSeconds--
	}
}
