package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// NotificationKind classifies what a feed item is about.
type NotificationKind string

const (
	KindTicketCreated    NotificationKind = "ticket_created"
	KindTicketAssigned   NotificationKind = "ticket_assigned"
	KindTicketReassigned NotificationKind = "ticket_reassigned"
	KindTicketClosed     NotificationKind = "ticket_closed"
	KindChatMessage      NotificationKind = "chat_message"
	KindGeneric          NotificationKind = "generic"
)

// Notification is a single item of the feed. IDs are unique within the feed
// and stable across delivery sources, which is what makes merging safe.
type Notification struct {
	ID              string           `json:"id"`
	Kind            NotificationKind `json:"kind"`
	Message         string           `json:"message"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       *time.Time       `json:"updatedAt,omitempty"`
	Read            bool             `json:"read"`
	RelatedTicketID *int64           `json:"relatedTicketId,omitempty"`
	RelatedRoomID   *string          `json:"relatedRoomId,omitempty"`
}

// FeedSnapshot is the unit of persistence: the whole feed, written as one
// blob. Partial patches are never persisted.
type FeedSnapshot struct {
	Notifications []Notification `json:"notifications"`
	SavedAt       time.Time      `json:"savedAt"`
}

// SortFeed orders a feed newest-first. Ties on CreatedAt break on ID so the
// resulting order is deterministic regardless of arrival order.
func SortFeed(items []Notification) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}

// CountUnread returns the number of unread items.
func CountUnread(items []Notification) int {
	count := 0
	for i := range items {
		if !items[i].Read {
			count++
		}
	}
	return count
}

// chatPayload is the wire shape of a chat push. Chat pushes carry no feed id
// of their own; one is synthesized from the message id.
type chatPayload struct {
	MessageID  string    `json:"messageId"`
	RoomID     string    `json:"roomId"`
	TicketID   *int64    `json:"ticketId"`
	SenderName string    `json:"senderName"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NotificationFromRaw maps a classified realtime event onto a feed item.
func NotificationFromRaw(ev RawEvent) (Notification, error) {
	switch ev.Type {
	case EventNotification:
		var n Notification
		if err := json.Unmarshal(ev.Payload, &n); err != nil {
			return Notification{}, fmt.Errorf("decode notification payload: %w", err)
		}
		if n.ID == "" {
			n.ID = ev.ID
		}
		if n.Kind == "" {
			n.Kind = KindGeneric
		}
		if n.CreatedAt.IsZero() {
			n.CreatedAt = ev.ReceivedAt
		}
		return n, nil

	case EventChatMessage:
		var p chatPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return Notification{}, fmt.Errorf("decode chat payload: %w", err)
		}
		createdAt := p.CreatedAt
		if createdAt.IsZero() {
			createdAt = ev.ReceivedAt
		}
		n := Notification{
			ID:              ev.ID,
			Kind:            KindChatMessage,
			Message:         fmt.Sprintf("%s: %s", p.SenderName, p.Body),
			CreatedAt:       createdAt,
			RelatedTicketID: p.TicketID,
		}
		if p.RoomID != "" {
			room := p.RoomID
			n.RelatedRoomID = &room
		}
		return n, nil

	default:
		return Notification{}, fmt.Errorf("event type %q does not map to a notification", ev.Type)
	}
}
