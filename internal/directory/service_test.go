// ABOUTME: Tests for the conversation directory service
// ABOUTME: Covers idempotent ensure under races, symmetry, enrollment seeding and enrichment

package directory

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/lectern/internal/msgerr"
	"github.com/2389/lectern/internal/store"
)

func seedUsers(t *testing.T, s store.ProfileStore, users ...*store.User) {
	t.Helper()
	for _, u := range users {
		require.NoError(t, s.UpsertUser(context.Background(), u))
	}
}

func student(id string) *store.User {
	return &store.User{ID: id, Email: id + "@example.com", DisplayName: "Student " + id, Role: store.RoleStudent}
}

func educator(id string) *store.User {
	return &store.User{ID: id, Email: id + "@example.com", DisplayName: "Educator " + id, Role: store.RoleEducator}
}

func TestEnsureConversation_Validation(t *testing.T) {
	svc := NewService(store.NewMockStore(), nil)
	ctx := context.Background()

	_, err := svc.EnsureConversation(ctx, "a", "a")
	assert.ErrorIs(t, err, msgerr.ErrValidation)

	_, err = svc.EnsureConversation(ctx, "", "b")
	assert.ErrorIs(t, err, msgerr.ErrValidation)

	_, err = svc.EnsureConversation(ctx, "a", "   ")
	assert.ErrorIs(t, err, msgerr.ErrValidation)
}

func TestEnsureConversation_Idempotent(t *testing.T) {
	ms := store.NewMockStore()
	svc := NewService(ms, nil)
	ctx := context.Background()

	first, err := svc.EnsureConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	second, err := svc.EnsureConversation(ctx, "bob", "alice")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, ms.ConversationCount())
}

func TestEnsureConversation_ConflictTreatedAsSuccess(t *testing.T) {
	ms := store.NewMockStore()
	ms.RaceOnInsert = true
	svc := NewService(ms, nil)

	conv, err := svc.EnsureConversation(context.Background(), "alice", "bob")
	require.NoError(t, err, "a lost creation race is not an error")
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, 1, ms.ConversationCount())
}

// Two tabs for A and B call ensure at the same instant.
func TestEnsureConversation_ConcurrentBothSides(t *testing.T) {
	backends := map[string]func(t *testing.T) Store{
		"mock": func(t *testing.T) Store { return store.NewMockStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "dir.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			svc := NewService(s, nil)
			ctx := context.Background()

			const callers = 12
			ids := make([]string, callers)
			var wg sync.WaitGroup
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					a, b := "A", "B"
					if i%2 == 1 {
						a, b = b, a
					}
					conv, err := svc.EnsureConversation(ctx, a, b)
					if assert.NoError(t, err) {
						ids[i] = conv.ID
					}
				}(i)
			}
			wg.Wait()

			for i := range ids {
				assert.Equal(t, ids[0], ids[i], "caller %d got a different conversation", i)
			}

			convs, err := s.ListConversationsForUser(ctx, "A")
			require.NoError(t, err)
			assert.Len(t, convs, 1)
		})
	}
}

func TestListConversations_Symmetry(t *testing.T) {
	ms := store.NewMockStore()
	seedUsers(t, ms, student("a"), educator("b"))
	svc := NewService(ms, nil)
	ctx := context.Background()

	conv, err := svc.EnsureConversation(ctx, "a", "b")
	require.NoError(t, err)

	forA, err := svc.ListConversations(ctx, "a")
	require.NoError(t, err)
	forB, err := svc.ListConversations(ctx, "b")
	require.NoError(t, err)

	require.Len(t, forA, 1)
	require.Len(t, forB, 1)
	assert.Equal(t, conv.ID, forA[0].Conversation.ID)
	assert.Equal(t, conv.ID, forB[0].Conversation.ID)
	assert.Equal(t, "b", forA[0].Other.ID)
	assert.Equal(t, "Educator b", forA[0].Other.DisplayName)
	assert.Equal(t, "a", forB[0].Other.ID)
}

func TestListConversations_UnreadAndSummary(t *testing.T) {
	ms := store.NewMockStore()
	seedUsers(t, ms, student("a"), educator("b"))
	svc := NewService(ms, nil)
	ctx := context.Background()

	conv, err := svc.EnsureConversation(ctx, "a", "b")
	require.NoError(t, err)

	before, err := svc.ListConversations(ctx, "b")
	require.NoError(t, err)
	require.Len(t, before, 1)
	assert.Equal(t, 0, before[0].UnreadCount)

	_, err = ms.AppendMessage(ctx, &store.Message{ConversationID: conv.ID, SenderID: "a", ReceiverID: "b", Content: "hello"})
	require.NoError(t, err)

	after, err := svc.ListConversations(ctx, "b")
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, 1, after[0].UnreadCount)
	require.NotNil(t, after[0].Conversation.LastMessage)
	assert.Equal(t, "hello", *after[0].Conversation.LastMessage)

	// The sender has nothing unread
	forA, err := svc.ListConversations(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 0, forA[0].UnreadCount)
}

func TestListConversations_MissingProfileFallsBack(t *testing.T) {
	ms := store.NewMockStore()
	svc := NewService(ms, nil)
	ctx := context.Background()

	_, err := svc.EnsureConversation(ctx, "a", "ghost")
	require.NoError(t, err)

	entries, err := svc.ListConversations(ctx, "a")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ghost", entries[0].Other.ID)
}

func TestListConversations_PersistenceError(t *testing.T) {
	ms := store.NewMockStore()
	ms.ListErr = errors.New("connection reset")
	svc := NewService(ms, nil)

	_, err := svc.ListConversations(context.Background(), "a")
	assert.ErrorIs(t, err, msgerr.ErrPersistence)
}

func TestGet_NonParticipantIsNotFound(t *testing.T) {
	ms := store.NewMockStore()
	svc := NewService(ms, nil)
	ctx := context.Background()

	conv, err := svc.EnsureConversation(ctx, "a", "b")
	require.NoError(t, err)

	entry, err := svc.Get(ctx, conv.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, "b", entry.Other.ID)

	_, err = svc.Get(ctx, conv.ID, "eve")
	assert.ErrorIs(t, err, msgerr.ErrNotFound)

	_, err = svc.Get(ctx, "missing", "a")
	assert.ErrorIs(t, err, msgerr.ErrNotFound)
}

func enroll(t *testing.T, s store.EnrollmentStore, studentID string, courses map[string]string, status store.EnrollmentStatus) {
	t.Helper()
	ctx := context.Background()
	for courseID, instructorID := range courses {
		require.NoError(t, s.CreateCourse(ctx, &store.Course{ID: courseID, Title: courseID, InstructorID: instructorID}))
		require.NoError(t, s.CreateEnrollment(ctx, &store.Enrollment{StudentID: studentID, CourseID: courseID, Status: status}))
	}
}

// Student A enrolled with instructors X and Y ends up with exactly two
// conversations after seeding.
func TestSeedFromEnrollments_TwoInstructors(t *testing.T) {
	ms := store.NewMockStore()
	seedUsers(t, ms, student("A"), educator("X"), educator("Y"))
	enroll(t, ms, "A", map[string]string{"go-101": "X", "go-201": "X", "sql-101": "Y"}, store.EnrollmentActive)
	enroll(t, ms, "A", map[string]string{"old": "Z"}, store.EnrollmentCancelled)
	svc := NewService(ms, nil)
	ctx := context.Background()

	empty, err := svc.ListConversations(ctx, "A")
	require.NoError(t, err)
	require.Empty(t, empty)

	seeded, err := svc.SeedFromEnrollments(ctx, "A")
	require.NoError(t, err)
	assert.Len(t, seeded, 2)

	entries, err := svc.ListConversations(ctx, "A")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	others := map[string]bool{}
	for _, e := range entries {
		others[e.Other.ID] = true
	}
	assert.Equal(t, map[string]bool{"X": true, "Y": true}, others)

	// Seeding again does not duplicate anything
	_, err = svc.SeedFromEnrollments(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 2, ms.ConversationCount())
}

func TestSeedFromEnrollments_SkipsSelf(t *testing.T) {
	ms := store.NewMockStore()
	seedUsers(t, ms, student("A"))
	enroll(t, ms, "A", map[string]string{"self-study": "A"}, store.EnrollmentActive)
	svc := NewService(ms, nil)

	seeded, err := svc.SeedFromEnrollments(context.Background(), "A")
	require.NoError(t, err)
	assert.Empty(t, seeded)
}

func TestSeedFromEnrollments_EducatorsForbidden(t *testing.T) {
	ms := store.NewMockStore()
	seedUsers(t, ms, educator("X"))
	svc := NewService(ms, nil)

	_, err := svc.SeedFromEnrollments(context.Background(), "X")
	assert.ErrorIs(t, err, msgerr.ErrForbidden)
}

func TestSeedFromEnrollments_EnrollmentFailure(t *testing.T) {
	ms := store.NewMockStore()
	seedUsers(t, ms, student("A"))
	ms.EnrollmentErr = errors.New("enrollment service unavailable")
	svc := NewService(ms, nil)

	_, err := svc.SeedFromEnrollments(context.Background(), "A")
	assert.ErrorIs(t, err, msgerr.ErrPersistence)
}
