package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
)

// wireFrame is the envelope of every inbound push frame. The Type field is
// the discriminator; Topic names the subscription the frame belongs to.
type wireFrame struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// outboundFrame is what the client sends to manage subscriptions over the
// single multiplexed connection.
type outboundFrame struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

// classifyFrame turns a decoded frame into a RawEvent with a stable id, so
// retransmits collapse under the reconciler's dedup.
func classifyFrame(frame wireFrame, receivedAt time.Time) (domain.RawEvent, error) {
	ev := domain.RawEvent{
		Type:       domain.EventType(frame.Type),
		Payload:    frame.Payload,
		ReceivedAt: receivedAt,
	}

	switch ev.Type {
	case domain.EventNotification:
		var peek struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(frame.Payload, &peek); err != nil {
			return domain.RawEvent{}, fmt.Errorf("notification frame: %w", err)
		}
		if peek.ID == "" {
			return domain.RawEvent{}, fmt.Errorf("notification frame without id")
		}
		ev.ID = peek.ID

	case domain.EventChatMessage:
		// Chat pushes carry no feed id; synthesize a deterministic one from
		// the message id so the same message never surfaces twice.
		var peek struct {
			MessageID string `json:"messageId"`
		}
		if err := json.Unmarshal(frame.Payload, &peek); err != nil {
			return domain.RawEvent{}, fmt.Errorf("chat frame: %w", err)
		}
		if peek.MessageID == "" {
			return domain.RawEvent{}, fmt.Errorf("chat frame without messageId")
		}
		ev.ID = "chat-" + peek.MessageID

	case domain.EventOfferCreated, domain.EventOfferAccepted,
		domain.EventOfferRejected, domain.EventOfferExpired:
		var peek struct {
			TicketID int64 `json:"ticketId"`
		}
		if err := json.Unmarshal(frame.Payload, &peek); err != nil {
			return domain.RawEvent{}, fmt.Errorf("offer frame: %w", err)
		}
		ev.ID = fmt.Sprintf("%s-%d", frame.Type, peek.TicketID)

	default:
		return domain.RawEvent{}, fmt.Errorf("unknown frame type %q", frame.Type)
	}

	return ev, nil
}
