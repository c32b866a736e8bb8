// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject backend failures

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation // keyed by conversation ID
	pairIndex     map[[2]string]string     // canonical pair -> conversation ID
	messages      map[string][]*Message    // keyed by conversation ID
	messageIndex  map[string]*Message      // keyed by message ID
	users         map[string]*User
	courses       map[string]*Course
	enrollments   map[[2]string]*Enrollment // keyed by (student, course)
	seq           int64

	// Now supplies store timestamps; tests may pin it.
	Now func() time.Time

	// AppendErr, when set, is returned by AppendMessage.
	AppendErr error
	// ListErr, when set, is returned by ListConversationsForUser.
	ListErr error
	// EnrollmentErr, when set, is returned by ListActiveInstructorIDs.
	EnrollmentErr error
	// RaceOnInsert makes the next InsertConversationIfAbsent report a
	// uniqueness conflict after storing the row, as a backend that lost
	// a race would.
	RaceOnInsert bool
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		pairIndex:     make(map[[2]string]string),
		messages:      make(map[string][]*Message),
		messageIndex:  make(map[string]*Message),
		users:         make(map[string]*User),
		courses:       make(map[string]*Course),
		enrollments:   make(map[[2]string]*Enrollment),
		Now:           time.Now,
	}
}

func copyConversation(c *Conversation) *Conversation {
	result := *c
	if c.LastMessage != nil {
		s := *c.LastMessage
		result.LastMessage = &s
	}
	if c.LastMessageAt != nil {
		t := *c.LastMessageAt
		result.LastMessageAt = &t
	}
	return &result
}

func copyMessage(msg *Message) *Message {
	result := *msg
	return &result
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(c), nil
}

// FindConversationByPair retrieves a conversation by its unordered pair.
func (m *MockStore) FindConversationByPair(ctx context.Context, userA, userB string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p1, p2 := CanonicalPair(userA, userB)
	id, ok := m.pairIndex[[2]string{p1, p2}]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(m.conversations[id]), nil
}

// InsertConversationIfAbsent stores conv unless its pair is already taken.
func (m *MockStore) InsertConversationIfAbsent(ctx context.Context, conv *Conversation) (*Conversation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p1, p2 := CanonicalPair(conv.Participant1ID, conv.Participant2ID)
	key := [2]string{p1, p2}

	if id, ok := m.pairIndex[key]; ok {
		return copyConversation(m.conversations[id]), false, nil
	}

	c := copyConversation(conv)
	c.Participant1ID, c.Participant2ID = p1, p2
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.Now().UTC()
	}
	m.conversations[c.ID] = c
	m.pairIndex[key] = c.ID

	if m.RaceOnInsert {
		m.RaceOnInsert = false
		return nil, false, ErrDuplicateConversation
	}
	return copyConversation(c), true, nil
}

// ListConversationsForUser returns the user's conversations in listing
// order (see Conversation.ListsBefore).
func (m *MockStore) ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.ListErr != nil {
		return nil, m.ListErr
	}

	var result []*Conversation
	for _, c := range m.conversations {
		if c.HasParticipant(userID) {
			result = append(result, copyConversation(c))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ListsBefore(result[j])
	})
	return result, nil
}

// AppendMessage stores a message and advances the conversation summary.
func (m *MockStore) AppendMessage(ctx context.Context, msg *Message) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AppendErr != nil {
		return nil, m.AppendErr
	}

	conv, ok := m.conversations[msg.ConversationID]
	if !ok {
		return nil, ErrNotFound
	}

	stored := copyMessage(msg)
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	m.seq++
	stored.Seq = m.seq
	stored.CreatedAt = m.Now().UTC()
	stored.Read = false

	m.messages[stored.ConversationID] = append(m.messages[stored.ConversationID], stored)
	m.messageIndex[stored.ID] = stored

	if conv.LastMessageAt == nil || !conv.LastMessageAt.After(stored.CreatedAt) {
		content := stored.Content
		at := stored.CreatedAt
		conv.LastMessage = &content
		conv.LastMessageAt = &at
	}

	return copyMessage(stored), nil
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messageIndex[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMessage(msg), nil
}

// ListMessages returns the newest limit messages in ascending order.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.messages[conversationID]
	sorted := make([]*Message, len(all))
	for i, msg := range all {
		sorted[i] = copyMessage(msg)
	}
	sortMessages(sorted)

	if limit > 0 && len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}
	return sorted, nil
}

// CountUnread counts unread messages addressed to userID.
func (m *MockStore) CountUnread(ctx context.Context, conversationID, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, msg := range m.messages[conversationID] {
		if msg.ReceiverID == userID && !msg.Read {
			count++
		}
	}
	return count, nil
}

// MarkConversationRead flips unread messages addressed to userID.
func (m *MockStore) MarkConversationRead(ctx context.Context, conversationID, userID string) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var flipped []*Message
	for _, msg := range m.messages[conversationID] {
		if msg.ReceiverID == userID && !msg.Read {
			msg.Read = true
			flipped = append(flipped, copyMessage(msg))
		}
	}
	return flipped, nil
}

// MarkMessageRead flips a single message.
func (m *MockStore) MarkMessageRead(ctx context.Context, id string) (*Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messageIndex[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	changed := !msg.Read
	msg.Read = true
	return copyMessage(msg), changed, nil
}

// UpsertUser creates or replaces a profile.
func (m *MockStore) UpsertUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := *user
	if existing, ok := m.users[u.ID]; ok {
		u.CreatedAt = existing.CreatedAt
	} else if u.CreatedAt.IsZero() {
		u.CreatedAt = m.Now().UTC()
	}
	m.users[u.ID] = &u
	return nil
}

// GetUser retrieves a profile by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// GetUsers retrieves the profiles that exist among ids.
func (m *MockStore) GetUsers(ctx context.Context, ids []string) (map[string]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]*User, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			copied := *u
			result[id] = &copied
		}
	}
	return result, nil
}

// CreateCourse stores a course.
func (m *MockStore) CreateCourse(ctx context.Context, course *Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *course
	m.courses[c.ID] = &c
	return nil
}

// CreateEnrollment stores or updates an enrollment.
func (m *MockStore) CreateEnrollment(ctx context.Context, enrollment *Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.courses[enrollment.CourseID]; !ok {
		return ErrNotFound
	}
	e := *enrollment
	if e.Status == "" {
		e.Status = EnrollmentActive
	}
	m.enrollments[[2]string{e.StudentID, e.CourseID}] = &e
	return nil
}

// ListActiveInstructorIDs returns the distinct instructors of the student's
// active enrollments, sorted.
func (m *MockStore) ListActiveInstructorIDs(ctx context.Context, studentID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.EnrollmentErr != nil {
		return nil, m.EnrollmentErr
	}

	seen := make(map[string]bool)
	var ids []string
	for key, e := range m.enrollments {
		if key[0] != studentID || e.Status != EnrollmentActive {
			continue
		}
		course := m.courses[e.CourseID]
		if course == nil || seen[course.InstructorID] {
			continue
		}
		seen[course.InstructorID] = true
		ids = append(ids, course.InstructorID)
	}
	sort.Strings(ids)
	return ids, nil
}

// ConversationCount returns the number of stored conversations.
func (m *MockStore) ConversationCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conversations)
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
