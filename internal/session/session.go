// ABOUTME: Per-user client session state: conversation list, open thread and pending sends
// ABOUTME: One mutex guards everything and is never held across a backend call

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/lectern/internal/client"
	"github.com/2389/lectern/internal/dedupe"
	"github.com/2389/lectern/internal/directory"
	"github.com/2389/lectern/internal/realtime"
	"github.com/2389/lectern/internal/store"
)

const (
	DefaultHistoryLimit       = 200
	DefaultDoubleSubmitWindow = 2 * time.Second
	DefaultReconnectInitial   = 500 * time.Millisecond
	DefaultReconnectMax       = 30 * time.Second
)

var (
	// ErrDuplicateSubmit is returned when identical content is submitted to
	// the same conversation while an earlier submit is still pending.
	ErrDuplicateSubmit = errors.New("duplicate submit")

	// ErrAlreadyRunning is returned by a second concurrent Run.
	ErrAlreadyRunning = errors.New("session feed already running")
)

// Backend is the gateway as seen by one user. *client.Client implements it.
type Backend interface {
	Me(ctx context.Context) (*store.User, error)
	ListConversations(ctx context.Context) ([]*directory.Entry, error)
	SeedConversations(ctx context.Context) ([]*directory.Entry, error)
	EnsureConversation(ctx context.Context, participantID string) (*directory.Entry, error)
	History(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)
	Send(ctx context.Context, conversationID, receiverID, content string) (*store.Message, error)
	MarkConversationRead(ctx context.Context, conversationID string) ([]*store.Message, error)
	MarkMessageRead(ctx context.Context, messageID string) (*store.Message, error)
	Subscribe(ctx context.Context) (<-chan *realtime.ChangeEvent, error)
}

var _ Backend = (*client.Client)(nil)

// Config tunes a session. Zero values take defaults.
type Config struct {
	HistoryLimit       int
	MaxContentLength   int // in runes; 0 leaves the check to the gateway
	DoubleSubmitWindow time.Duration
	ReconnectInitial   time.Duration
	ReconnectMax       time.Duration
}

func (c *Config) applyDefaults() {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.DoubleSubmitWindow <= 0 {
		c.DoubleSubmitWindow = DefaultDoubleSubmitWindow
	}
	if c.ReconnectInitial <= 0 {
		c.ReconnectInitial = DefaultReconnectInitial
	}
	if c.ReconnectMax < c.ReconnectInitial {
		c.ReconnectMax = DefaultReconnectMax
		if c.ReconnectMax < c.ReconnectInitial {
			c.ReconnectMax = c.ReconnectInitial
		}
	}
}

// Session holds one user's view of their conversations.
type Session struct {
	backend Backend
	cfg     Config
	guard   *dedupe.Guard
	logger  *slog.Logger
	user    *store.User

	mu       sync.Mutex
	entries  []*directory.Entry // most recently active first
	openID   string
	messages []*store.Message          // open conversation, conversation order
	pending  map[string]*store.Message // temp id -> optimistic message
	running  bool

	refreshing    bool
	refreshQueued bool
	seeded        bool // enrollment bootstrap already attempted

	background sync.WaitGroup
	changed    chan struct{}
}

// New identifies the user through the backend and returns an empty
// session. Pass nil logger for default.
func New(ctx context.Context, backend Backend, cfg Config, logger *slog.Logger) (*Session, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	user, err := backend.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("identifying user: %w", err)
	}

	return &Session{
		backend: backend,
		cfg:     cfg,
		guard:   dedupe.New(cfg.DoubleSubmitWindow, 256),
		logger:  logger.With("component", "session", "user_id", user.ID),
		user:    user,
		pending: make(map[string]*store.Message),
		changed: make(chan struct{}, 1),
	}, nil
}

// User returns the signed-in user.
func (s *Session) User() *store.User {
	u := *s.user
	return &u
}

// Changed signals after any change to the session's state. Signals
// coalesce; readers should re-read whatever they display.
func (s *Session) Changed() <-chan struct{} {
	return s.changed
}

func (s *Session) notify() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// Conversations returns a snapshot of the conversation list.
func (s *Session) Conversations() []*directory.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*directory.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, cloneEntry(e))
	}
	return out
}

// Conversation returns a snapshot of one entry, or nil.
func (s *Session) Conversation(conversationID string) *directory.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.entryIndexLocked(conversationID); i >= 0 {
		return cloneEntry(s.entries[i])
	}
	return nil
}

// OpenConversationID returns the open conversation, or "".
func (s *Session) OpenConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openID
}

// Messages returns a snapshot of the open conversation's messages,
// including pending sends. Pending messages carry a temporary id.
func (s *Session) Messages() []*store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*store.Message, 0, len(s.messages))
	for _, m := range s.messages {
		c := *m
		out = append(out, &c)
	}
	return out
}

// IsPending reports whether the message is an unconfirmed local send.
func (s *Session) IsPending(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[messageID]
	return ok
}

// Wait blocks until fire-and-forget work started by event handling
// settles. Run waits for it before returning.
func (s *Session) Wait() {
	s.background.Wait()
}

func (s *Session) entryIndexLocked(conversationID string) int {
	return indexOf(s.entries, conversationID)
}

func (s *Session) messageIndexLocked(messageID string) int {
	for i, m := range s.messages {
		if m.ID == messageID {
			return i
		}
	}
	return -1
}

// touchEntryLocked records msg as the latest message of its conversation
// and moves the entry to the top of the list.
func (s *Session) touchEntryLocked(msg *store.Message) {
	i := s.entryIndexLocked(msg.ConversationID)
	if i < 0 {
		return
	}
	e := s.entries[i]
	if at := e.Conversation.LastMessageAt; at != nil && at.After(msg.CreatedAt) {
		return
	}

	conv := *e.Conversation
	content, at := msg.Content, msg.CreatedAt
	conv.LastMessage, conv.LastMessageAt = &content, &at
	e.Conversation = &conv

	copy(s.entries[1:i+1], s.entries[:i])
	s.entries[0] = e
}

func cloneEntry(e *directory.Entry) *directory.Entry {
	c := *e
	if e.Conversation != nil {
		conv := *e.Conversation
		c.Conversation = &conv
	}
	if e.Other != nil {
		other := *e.Other
		c.Other = &other
	}
	return &c
}
