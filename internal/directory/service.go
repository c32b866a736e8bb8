// ABOUTME: Conversation directory: get-or-create, enrollment seeding and enriched listings
// ABOUTME: Tolerates concurrent creation of the same pair by treating conflicts as success

package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/lectern/internal/msgerr"
	"github.com/2389/lectern/internal/store"
)

// Store is the persistence the directory needs.
type Store interface {
	store.ConversationStore
	store.ProfileStore
	store.EnrollmentStore
	CountUnread(ctx context.Context, conversationID, userID string) (int, error)
}

// Entry is a conversation as seen by one participant.
type Entry struct {
	Conversation *store.Conversation
	Other        *store.User // the other participant's profile
	UnreadCount  int
}

// Service manages two-party conversations.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a directory service. Pass nil logger for default.
func NewService(s Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  s,
		logger: logger.With("component", "directory"),
	}
}

// ListConversations returns every conversation userID takes part in, most
// recently active first, each with the other participant's profile and the
// user's unread count.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]*Entry, error) {
	const op = "list_conversations"
	if strings.TrimSpace(userID) == "" {
		return nil, msgerr.Validation(op, "user id is required")
	}

	convs, err := s.store.ListConversationsForUser(ctx, userID)
	if err != nil {
		return nil, msgerr.Persistence(op, err)
	}
	return s.enrich(ctx, op, userID, convs)
}

// Get returns a single entry. Users who are not participants get NotFound.
func (s *Service) Get(ctx context.Context, conversationID, userID string) (*Entry, error) {
	const op = "get_conversation"

	conv, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, msgerr.NotFound(op, fmt.Errorf("conversation %s", conversationID))
	}
	if err != nil {
		return nil, msgerr.Persistence(op, err)
	}
	if !conv.HasParticipant(userID) {
		return nil, msgerr.NotFound(op, fmt.Errorf("conversation %s", conversationID))
	}

	entries, err := s.enrich(ctx, op, userID, []*store.Conversation{conv})
	if err != nil {
		return nil, err
	}
	return entries[0], nil
}

// enrich attaches profiles and unread counts.
func (s *Service) enrich(ctx context.Context, op, userID string, convs []*store.Conversation) ([]*Entry, error) {
	otherIDs := make([]string, 0, len(convs))
	for _, c := range convs {
		otherIDs = append(otherIDs, c.OtherParticipant(userID))
	}

	profiles, err := s.store.GetUsers(ctx, otherIDs)
	if err != nil {
		return nil, msgerr.Persistence(op, err)
	}

	entries := make([]*Entry, 0, len(convs))
	for i, c := range convs {
		unread, err := s.store.CountUnread(ctx, c.ID, userID)
		if err != nil {
			return nil, msgerr.Persistence(op, err)
		}

		other := profiles[otherIDs[i]]
		if other == nil {
			// Profiles are mirrored lazily; fall back to a bare reference
			other = &store.User{ID: otherIDs[i]}
		}

		entries = append(entries, &Entry{
			Conversation: c,
			Other:        other,
			UnreadCount:  unread,
		})
	}
	return entries, nil
}

// EnsureConversation returns the conversation between userA and userB,
// creating it if needed. Argument order does not matter, and concurrent
// callers for the same pair all receive the same row.
func (s *Service) EnsureConversation(ctx context.Context, userA, userB string) (*store.Conversation, error) {
	const op = "ensure_conversation"

	userA, userB = strings.TrimSpace(userA), strings.TrimSpace(userB)
	if userA == "" || userB == "" {
		return nil, msgerr.Validation(op, "both participant ids are required")
	}
	if userA == userB {
		return nil, msgerr.Validation(op, "cannot start a conversation with yourself")
	}

	conv, err := s.store.FindConversationByPair(ctx, userA, userB)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, msgerr.Persistence(op, err)
	}

	conv, created, err := s.store.InsertConversationIfAbsent(ctx, &store.Conversation{
		Participant1ID: userA,
		Participant2ID: userB,
	})
	if errors.Is(err, store.ErrDuplicateConversation) {
		// Another caller won the race; their row is the answer
		s.logger.Debug("conversation created concurrently", "user_a", userA, "user_b", userB)
		conv, err = s.store.FindConversationByPair(ctx, userA, userB)
		if err != nil {
			return nil, msgerr.Persistence(op, fmt.Errorf("re-fetching after conflict: %w", err))
		}
		return conv, nil
	}
	if err != nil {
		return nil, msgerr.Persistence(op, err)
	}

	if created {
		s.logger.Info("conversation created",
			"conversation_id", conv.ID,
			"participant_1", conv.Participant1ID,
			"participant_2", conv.Participant2ID)
	}
	return conv, nil
}

// SeedFromEnrollments ensures one conversation between the student and each
// distinct instructor of their active enrollments. Conversations that could
// not be created are reported in the returned error; the rest are returned.
func (s *Service) SeedFromEnrollments(ctx context.Context, studentID string) ([]*store.Conversation, error) {
	const op = "seed_from_enrollments"

	user, err := s.store.GetUser(ctx, studentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, msgerr.NotFound(op, fmt.Errorf("user %s", studentID))
	}
	if err != nil {
		return nil, msgerr.Persistence(op, err)
	}
	if user.Role != store.RoleStudent {
		return nil, msgerr.Forbidden(op, "only students are seeded from enrollments")
	}

	instructors, err := s.store.ListActiveInstructorIDs(ctx, studentID)
	if err != nil {
		return nil, msgerr.Persistence(op, err)
	}

	var (
		seeded []*store.Conversation
		errs   []error
	)
	for _, instructorID := range instructors {
		if instructorID == studentID {
			continue
		}
		conv, err := s.EnsureConversation(ctx, studentID, instructorID)
		if err != nil {
			s.logger.Warn("failed to seed conversation",
				"student_id", studentID,
				"instructor_id", instructorID,
				"error", err)
			errs = append(errs, err)
			continue
		}
		seeded = append(seeded, conv)
	}

	s.logger.Debug("seeded conversations from enrollments",
		"student_id", studentID,
		"instructors", len(instructors),
		"seeded", len(seeded))

	return seeded, errors.Join(errs...)
}
