// ABOUTME: Store interfaces and data types for lectern messaging persistence
// ABOUTME: Defines Conversation, Message, User and enrollment records plus the Store contract

package store

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned by backends that surface a uniqueness
// conflict on the participant pair instead of resolving it themselves.
var ErrDuplicateConversation = errors.New("conversation already exists")

// Role is the marketplace role of a user
type Role string

const (
	RoleStudent  Role = "student"
	RoleEducator Role = "educator"
)

// User mirrors the identity provider's profile for display purposes
type User struct {
	ID          string
	Email       string
	DisplayName string
	AvatarURL   string
	Role        Role
	CreatedAt   time.Time
}

// Conversation is a two-party thread. Participants are stored in canonical
// order (Participant1ID < Participant2ID) so the pair is unique regardless
// of who initiated contact.
type Conversation struct {
	ID             string
	Participant1ID string
	Participant2ID string
	LastMessage    *string
	LastMessageAt  *time.Time
	CreatedAt      time.Time
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.Participant1ID == userID || c.Participant2ID == userID)
}

// OtherParticipant returns the participant that is not userID, or "" if
// userID is not part of the conversation.
func (c *Conversation) OtherParticipant(userID string) string {
	switch userID {
	case c.Participant1ID:
		return c.Participant2ID
	case c.Participant2ID:
		return c.Participant1ID
	default:
		return ""
	}
}

// ListsBefore reports whether c comes before o in a directory listing.
// Conversations with messages come first, newest message first; empty ones
// follow, newest first. The id breaks ties.
func (c *Conversation) ListsBefore(o *Conversation) bool {
	switch {
	case c.LastMessageAt != nil && o.LastMessageAt == nil:
		return true
	case c.LastMessageAt == nil && o.LastMessageAt != nil:
		return false
	case c.LastMessageAt != nil && !c.LastMessageAt.Equal(*o.LastMessageAt):
		return c.LastMessageAt.After(*o.LastMessageAt)
	case !c.CreatedAt.Equal(o.CreatedAt):
		return c.CreatedAt.After(o.CreatedAt)
	}
	return c.ID < o.ID
}

// CanonicalPair orders two user ids so that an unordered pair has exactly
// one representation.
func CanonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// Message is a single direct message. Content is immutable; the only
// permitted mutation is Read moving from false to true.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	ReceiverID     string
	Content        string
	Read           bool
	CreatedAt      time.Time
	Seq            int64 // store insertion sequence, breaks CreatedAt ties
}

// Before reports whether m sorts before other in conversation order.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.Seq < other.Seq
}

// sortMessages orders msgs in conversation order.
func sortMessages(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Before(msgs[j])
	})
}

// Course is the minimal course record needed to find a student's instructors
type Course struct {
	ID           string
	Title        string
	InstructorID string
	CreatedAt    time.Time
}

// EnrollmentStatus is the lifecycle state of an enrollment
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCancelled EnrollmentStatus = "cancelled"
	EnrollmentCompleted EnrollmentStatus = "completed"
)

// Enrollment links a student to a course
type Enrollment struct {
	StudentID string
	CourseID  string
	Status    EnrollmentStatus
	CreatedAt time.Time
}

// ConversationStore persists two-party conversations
type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	// FindConversationByPair looks up a conversation by its unordered pair.
	FindConversationByPair(ctx context.Context, userA, userB string) (*Conversation, error)
	// InsertConversationIfAbsent inserts conv unless a conversation for the
	// same unordered pair exists. It returns the stored row and whether
	// this call created it.
	InsertConversationIfAbsent(ctx context.Context, conv *Conversation) (*Conversation, bool, error)
	// ListConversationsForUser returns conversations ordered by activity,
	// most recent first.
	ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error)
}

// MessageStore is the append-only message log
type MessageStore interface {
	// AppendMessage assigns ID (if empty), CreatedAt and Seq, persists the
	// message and advances the owning conversation's summary in one
	// transaction.
	AppendMessage(ctx context.Context, msg *Message) (*Message, error)
	GetMessage(ctx context.Context, id string) (*Message, error)
	// ListMessages returns the most recent limit messages in ascending
	// conversation order. limit <= 0 returns all messages.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)
	CountUnread(ctx context.Context, conversationID, userID string) (int, error)
	// MarkConversationRead flips every unread message addressed to userID
	// and returns the flipped messages.
	MarkConversationRead(ctx context.Context, conversationID, userID string) ([]*Message, error)
	// MarkMessageRead flips one message and reports whether it changed.
	MarkMessageRead(ctx context.Context, id string) (*Message, bool, error)
}

// ProfileStore reads the mirrored user profiles
type ProfileStore interface {
	UpsertUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUsers(ctx context.Context, ids []string) (map[string]*User, error)
}

// EnrollmentStore exposes the enrollment collaborator
type EnrollmentStore interface {
	CreateCourse(ctx context.Context, course *Course) error
	CreateEnrollment(ctx context.Context, enrollment *Enrollment) error
	// ListActiveInstructorIDs returns the distinct instructors of the
	// student's active enrollments.
	ListActiveInstructorIDs(ctx context.Context, studentID string) ([]string, error)
}

// Store is the full persistence contract of the gateway
type Store interface {
	ConversationStore
	MessageStore
	ProfileStore
	EnrollmentStore

	// Close releases any resources held by the store
	Close() error
}
