// ABOUTME: JSON request and response bodies of the lectern HTTP API
// ABOUTME: Shared by the gateway handlers and the Go client so both sides agree on the wire

package api

import (
	"time"

	"github.com/2389/lectern/internal/directory"
	"github.com/2389/lectern/internal/realtime"
	"github.com/2389/lectern/internal/store"
)

// Message is the JSON form of a message; identical to a feed row.
type Message = realtime.MessageRow

// User is the JSON response for GET /api/me and the other participant of a
// conversation.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Role        string `json:"role"`
}

// Conversation is a directory entry as seen by the requesting user.
type Conversation struct {
	ID             string     `json:"id"`
	Participant1ID string     `json:"participant_1_id"`
	Participant2ID string     `json:"participant_2_id"`
	LastMessage    *string    `json:"last_message"`
	LastMessageAt  *time.Time `json:"last_message_at"`
	CreatedAt      time.Time  `json:"created_at"`
	OtherUser      *User      `json:"other_user,omitempty"`
	UnreadCount    int        `json:"unread_count"`
}

// ConversationsResponse is the JSON response for GET /api/conversations.
type ConversationsResponse struct {
	Conversations []*Conversation `json:"conversations"`
}

// SeedResponse is the JSON response for POST /api/conversations/seed.
// Error is set when some instructors could not be seeded.
type SeedResponse struct {
	Conversations []*Conversation `json:"conversations"`
	Error         string          `json:"error,omitempty"`
}

// EnsureConversationRequest is the JSON body for POST /api/conversations.
type EnsureConversationRequest struct {
	ParticipantID string `json:"participant_id"`
}

// MessagesResponse is the JSON response for GET /api/conversations/{id}/messages.
type MessagesResponse struct {
	ConversationID string     `json:"conversation_id"`
	Messages       []*Message `json:"messages"`
}

// SendMessageRequest is the JSON body for POST /api/conversations/{id}/messages.
type SendMessageRequest struct {
	Content    string `json:"content"`
	ReceiverID string `json:"receiver_id,omitempty"`
}

// MarkReadResponse is the JSON response for POST /api/conversations/{id}/read.
type MarkReadResponse struct {
	Updated  int        `json:"updated"`
	Messages []*Message `json:"messages"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// UserFromStore converts a stored profile. A nil user yields nil.
func UserFromStore(u *store.User) *User {
	if u == nil {
		return nil
	}
	return &User{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Role:        string(u.Role),
	}
}

// ToStore converts the response back to a profile.
func (u *User) ToStore() *store.User {
	return &store.User{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Role:        store.Role(u.Role),
	}
}

// ConversationFromEntry converts a directory entry.
func ConversationFromEntry(e *directory.Entry) *Conversation {
	c := e.Conversation
	return &Conversation{
		ID:             c.ID,
		Participant1ID: c.Participant1ID,
		Participant2ID: c.Participant2ID,
		LastMessage:    c.LastMessage,
		LastMessageAt:  c.LastMessageAt,
		CreatedAt:      c.CreatedAt,
		OtherUser:      UserFromStore(e.Other),
		UnreadCount:    e.UnreadCount,
	}
}

// ConversationsFromEntries converts a directory listing, never returning nil.
func ConversationsFromEntries(entries []*directory.Entry) []*Conversation {
	out := make([]*Conversation, 0, len(entries))
	for _, e := range entries {
		out = append(out, ConversationFromEntry(e))
	}
	return out
}

// ToEntry converts the response back to a directory entry.
func (c *Conversation) ToEntry() *directory.Entry {
	e := &directory.Entry{
		Conversation: &store.Conversation{
			ID:             c.ID,
			Participant1ID: c.Participant1ID,
			Participant2ID: c.Participant2ID,
			LastMessage:    c.LastMessage,
			LastMessageAt:  c.LastMessageAt,
			CreatedAt:      c.CreatedAt,
		},
		UnreadCount: c.UnreadCount,
	}
	if c.OtherUser != nil {
		e.Other = c.OtherUser.ToStore()
	}
	return e
}

// MessagesFromStore converts stored messages, never returning nil.
func MessagesFromStore(msgs []*store.Message) []*Message {
	out := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, realtime.RowFromMessage(m))
	}
	return out
}

// MessagesToStore converts wire messages back to store messages.
func MessagesToStore(msgs []*Message) []*store.Message {
	out := make([]*store.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Message())
	}
	return out
}
