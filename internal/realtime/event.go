// ABOUTME: Wire types for message row-change notifications
// ABOUTME: Shared by the gateway feed endpoints, the Redis relay and the Go client

package realtime

import (
	"time"

	"github.com/2389/lectern/internal/store"
)

// EventType is the kind of row change.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
)

// TableMessages is the only table the feed carries.
const TableMessages = "messages"

// MessageRow is the JSON form of a messages row.
type MessageRow struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     string    `json:"receiver_id"`
	Content        string    `json:"content"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
	Seq            int64     `json:"seq"`
}

// RowFromMessage converts a stored message to its wire row.
func RowFromMessage(m *store.Message) *MessageRow {
	return &MessageRow{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ReceiverID:     m.ReceiverID,
		Content:        m.Content,
		Read:           m.Read,
		CreatedAt:      m.CreatedAt,
		Seq:            m.Seq,
	}
}

// Message converts the row back to a store message.
func (r *MessageRow) Message() *store.Message {
	return &store.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		ReceiverID:     r.ReceiverID,
		Content:        r.Content,
		Read:           r.Read,
		CreatedAt:      r.CreatedAt,
		Seq:            r.Seq,
	}
}

// ChangeEvent is one insert or update of a messages row.
type ChangeEvent struct {
	ID     string      `json:"id"`
	Type   EventType   `json:"type"`
	Table  string      `json:"table"`
	Row    *MessageRow `json:"row"`
	At     time.Time   `json:"at"`
	Origin string      `json:"origin,omitempty"` // gateway instance that published it
}

// Involves reports whether userID sent or received the row.
func (e *ChangeEvent) Involves(userID string) bool {
	if e.Row == nil || userID == "" {
		return false
	}
	return e.Row.SenderID == userID || e.Row.ReceiverID == userID
}

// Filter selects which events a subscriber receives. A nil Filter accepts
// everything.
type Filter func(*ChangeEvent) bool

// ForUser returns a filter accepting only events that involve userID.
func ForUser(userID string) Filter {
	return func(e *ChangeEvent) bool {
		return e.Involves(userID)
	}
}
