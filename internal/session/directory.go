// ABOUTME: Conversation list loading, enrollment bootstrap and coalesced refreshes
// ABOUTME: Failed reads keep the last-known-good list

package session

import (
	"context"
	"errors"
	"slices"

	"github.com/2389/lectern/internal/client"
	"github.com/2389/lectern/internal/directory"
	"github.com/2389/lectern/internal/msgerr"
	"github.com/2389/lectern/internal/store"
)

// Load fetches the conversation list. A student with no conversations is
// bootstrapped from their enrollments, at most once per session; a failed
// bootstrap leaves the list empty without an error.
func (s *Session) Load(ctx context.Context) ([]*directory.Entry, error) {
	entries, err := s.backend.ListConversations(ctx)
	if err != nil {
		s.logger.Warn("failed to load conversations", "error", err)
		return s.Conversations(), err
	}

	if len(entries) == 0 && s.user.Role == store.RoleStudent && s.claimSeed() {
		entries = s.seed(ctx)
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
	s.notify()

	return s.Conversations(), nil
}

// claimSeed reports whether this call may run the enrollment bootstrap.
func (s *Session) claimSeed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seeded {
		return false
	}
	s.seeded = true
	return true
}

func (s *Session) seed(ctx context.Context) []*directory.Entry {
	entries, err := s.backend.SeedConversations(ctx)
	switch {
	case err == nil:
		s.logger.Info("seeded conversations from enrollments", "count", len(entries))
		return entries
	case errors.Is(err, client.ErrPartialSeed):
		s.logger.Warn("some enrollment conversations could not be created", "seeded", len(entries))
		return entries
	default:
		s.logger.Warn("enrollment seed failed", "error", err)
		return nil
	}
}

// StartConversation gets or creates the conversation with participantID,
// adds it to the list and opens it.
func (s *Session) StartConversation(ctx context.Context, participantID string) (*directory.Entry, error) {
	if participantID == s.user.ID {
		return nil, msgerr.Validation("start_conversation", "cannot start a conversation with yourself")
	}

	entry, err := s.backend.EnsureConversation(ctx, participantID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if i := s.entryIndexLocked(entry.Conversation.ID); i >= 0 {
		s.entries[i] = entry
	} else {
		at := len(s.entries)
		for j, e := range s.entries {
			if entry.Conversation.ListsBefore(e.Conversation) {
				at = j
				break
			}
		}
		s.entries = slices.Insert(s.entries, at, entry)
	}
	s.mu.Unlock()

	if err := s.Open(ctx, entry.Conversation.ID); err != nil {
		return cloneEntry(entry), err
	}
	return s.Conversation(entry.Conversation.ID), nil
}

// requestRefresh refetches the conversation list in the background. At
// most one refresh is in flight; requests made meanwhile collapse into a
// single trailing refresh.
func (s *Session) requestRefresh(ctx context.Context) {
	s.mu.Lock()
	if s.refreshing {
		s.refreshQueued = true
		s.mu.Unlock()
		return
	}
	s.refreshing = true
	s.mu.Unlock()

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		for {
			s.refresh(ctx)

			s.mu.Lock()
			if !s.refreshQueued || ctx.Err() != nil {
				s.refreshing = false
				s.refreshQueued = false
				s.mu.Unlock()
				return
			}
			s.refreshQueued = false
			s.mu.Unlock()
		}
	}()
}

func (s *Session) refresh(ctx context.Context) {
	entries, err := s.backend.ListConversations(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("failed to refresh conversations", "error", err)
		}
		return
	}

	s.mu.Lock()
	// The open conversation is being read as it arrives
	if i := indexOf(entries, s.openID); i >= 0 {
		entries[i].UnreadCount = 0
	}
	s.entries = entries
	s.mu.Unlock()
	s.notify()
}

func indexOf(entries []*directory.Entry, conversationID string) int {
	if conversationID == "" {
		return -1
	}
	for i, e := range entries {
		if e.Conversation != nil && e.Conversation.ID == conversationID {
			return i
		}
	}
	return -1
}
