package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the discriminator carried by each inbound push frame.
type EventType string

const (
	EventNotification  EventType = "notification"
	EventChatMessage   EventType = "chat_message"
	EventOfferCreated  EventType = "offer_created"
	EventOfferAccepted EventType = "offer_accepted"
	EventOfferRejected EventType = "offer_rejected"
	EventOfferExpired  EventType = "offer_expired"
)

// RawEvent is a classified push frame, normalized so that both delivery
// sources (socket and poll) speak the same language to the reconciler.
type RawEvent struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// TopicKind scopes a realtime subscription.
type TopicKind string

const (
	TopicPersonal TopicKind = "personal"
	TopicTicket   TopicKind = "ticket"
	TopicGroup    TopicKind = "group"
)

// Topic is a logical channel name. The personal feed has no qualifier;
// ticket and group rooms are qualified by an id.
type Topic struct {
	Kind TopicKind
	ID   string
}

// PersonalTopic is the always-on feed subscription for the signed-in agent.
func PersonalTopic() Topic {
	return Topic{Kind: TopicPersonal}
}

// TicketTopic scopes a subscription to a single ticket room.
func TicketTopic(ticketID int64) Topic {
	return Topic{Kind: TopicTicket, ID: fmt.Sprintf("%d", ticketID)}
}

// GroupTopic scopes a subscription to a group room.
func GroupTopic(groupID string) Topic {
	return Topic{Kind: TopicGroup, ID: groupID}
}

// Name returns the wire name of the topic, e.g. "ticket:42".
func (t Topic) Name() string {
	if t.ID == "" {
		return string(t.Kind)
	}
	return string(t.Kind) + ":" + t.ID
}

// ConnectionState tracks the realtime channel lifecycle. It is owned by the
// channel and never persisted.
type ConnectionState int

const (
	StateClosed ConnectionState = iota
	StateConnecting
	StateOpen
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return "CLOSED"
	}
}
