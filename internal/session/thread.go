// ABOUTME: Open conversation handling: history load, bulk read and optimistic send
// ABOUTME: Pending sends are keyed by a temporary id and reconciled by server id

package session

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/2389/lectern/internal/dedupe"
	"github.com/2389/lectern/internal/messaging"
	"github.com/2389/lectern/internal/msgerr"
	"github.com/2389/lectern/internal/store"
)

// TempIDPrefix marks the ids of optimistic messages.
const TempIDPrefix = "tmp-"

// Open makes conversationID the open conversation, loads its history and
// marks everything addressed to the user read.
func (s *Session) Open(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	if s.openID != conversationID {
		s.openID = conversationID
		s.messages = s.pendingForLocked(conversationID)
	}
	s.mu.Unlock()
	s.notify()

	if err := s.loadHistory(ctx, conversationID); err != nil {
		return err
	}
	s.markConversationRead(ctx, conversationID)
	return nil
}

// Close leaves the open conversation. Pending sends keep running.
func (s *Session) Close() {
	s.mu.Lock()
	s.openID = ""
	s.messages = nil
	s.mu.Unlock()
	s.notify()
}

func (s *Session) loadHistory(ctx context.Context, conversationID string) error {
	history, err := s.backend.History(ctx, conversationID, s.cfg.HistoryLimit)
	if err != nil {
		s.logger.Warn("failed to load history", "conversation_id", conversationID, "error", err)
		return err
	}

	s.mu.Lock()
	if s.openID == conversationID {
		s.messages = s.mergeLocked(history)
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

// mergeLocked combines fetched history with what is already on screen:
// events that arrived during the fetch are kept, read flags never go back
// to false, and pending sends stay at the end.
func (s *Session) mergeLocked(history []*store.Message) []*store.Message {
	merged := make([]*store.Message, 0, len(history)+len(s.messages))
	seen := make(map[string]bool, len(history))
	for _, m := range history {
		if i := s.messageIndexLocked(m.ID); i >= 0 && s.messages[i].Read {
			m.Read = true
		}
		seen[m.ID] = true
		merged = append(merged, m)
	}

	var pending []*store.Message
	for _, m := range s.messages {
		switch {
		case s.pending[m.ID] != nil:
			pending = append(pending, m)
		case !seen[m.ID]:
			merged = insertSorted(merged, m)
		}
	}
	return append(merged, pending...)
}

func (s *Session) pendingForLocked(conversationID string) []*store.Message {
	var out []*store.Message
	for _, m := range s.pending {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	sortByCreated(out)
	return out
}

func (s *Session) markConversationRead(ctx context.Context, conversationID string) {
	flipped, err := s.backend.MarkConversationRead(ctx, conversationID)
	if err != nil {
		s.logger.Warn("failed to mark conversation read", "conversation_id", conversationID, "error", err)
		return
	}

	s.mu.Lock()
	for _, m := range flipped {
		s.markReadLocked(m)
	}
	if i := s.entryIndexLocked(conversationID); i >= 0 {
		s.entries[i].UnreadCount = 0
	}
	s.mu.Unlock()
	s.notify()
}

// Send posts content to the open conversation. The message appears at once
// under a temporary id and is replaced by the stored message when the
// gateway confirms it. The send stays bound to the conversation that was
// open when it started; opening another conversation does not cancel it.
func (s *Session) Send(ctx context.Context, content string) (*store.Message, error) {
	const op = "send"

	content, err := messaging.NormalizeContent(content, s.cfg.MaxContentLength)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	conversationID := s.openID
	var receiverID string
	if i := s.entryIndexLocked(conversationID); i >= 0 {
		receiverID = s.entries[i].Conversation.OtherParticipant(s.user.ID)
	}
	s.mu.Unlock()

	if conversationID == "" {
		return nil, msgerr.Validation(op, "no conversation is open")
	}

	key := dedupe.Key(conversationID, content)
	if !s.guard.Claim(key) {
		s.logger.Debug("duplicate send suppressed",
			"conversation_id", conversationID,
			"in_flight", s.guard.Len())
		return nil, ErrDuplicateSubmit
	}
	defer s.guard.Release(key)

	temp := &store.Message{
		ID:             TempIDPrefix + uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       s.user.ID,
		ReceiverID:     receiverID,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}

	s.mu.Lock()
	s.pending[temp.ID] = temp
	if s.openID == conversationID {
		s.messages = append(s.messages, temp)
	}
	s.mu.Unlock()
	s.notify()

	msg, err := s.backend.Send(ctx, conversationID, receiverID, content)

	s.mu.Lock()
	delete(s.pending, temp.ID)
	if err != nil {
		s.removeMessageLocked(temp.ID)
		s.mu.Unlock()
		s.notify()

		s.logger.Warn("send failed", "conversation_id", conversationID, "error", err)
		if msgerr.KindOf(err) == msgerr.KindUnknown {
			err = msgerr.Persistence(op, err)
		}
		return nil, err
	}
	s.reconcileLocked(temp.ID, msg)
	s.touchEntryLocked(msg)
	s.mu.Unlock()
	s.notify()

	confirmed := *msg
	return &confirmed, nil
}

// reconcileLocked swaps a pending entry for its confirmed message. If the
// feed delivered the message first, the pending entry is dropped instead.
func (s *Session) reconcileLocked(tempID string, msg *store.Message) {
	if s.openID != msg.ConversationID {
		return
	}
	if s.messageIndexLocked(msg.ID) >= 0 {
		s.removeMessageLocked(tempID)
		return
	}
	if i := s.messageIndexLocked(tempID); i >= 0 {
		s.messages[i] = msg
		return
	}
	s.insertMessageLocked(msg)
}

// insertMessageLocked places a confirmed message in conversation order,
// ahead of any pending sends.
func (s *Session) insertMessageLocked(msg *store.Message) {
	pos := len(s.messages)
	for pos > 0 {
		prev := s.messages[pos-1]
		if s.pending[prev.ID] == nil && !msg.Before(prev) {
			break
		}
		pos--
	}
	s.messages = append(s.messages, nil)
	copy(s.messages[pos+1:], s.messages[pos:])
	s.messages[pos] = msg
}

func (s *Session) removeMessageLocked(messageID string) {
	if i := s.messageIndexLocked(messageID); i >= 0 {
		s.messages = append(s.messages[:i], s.messages[i+1:]...)
	}
}

// markReadLocked applies a read flag to the open conversation. Flags only
// move from unread to read.
func (s *Session) markReadLocked(msg *store.Message) {
	if !msg.Read || msg.ConversationID != s.openID {
		return
	}
	if i := s.messageIndexLocked(msg.ID); i >= 0 {
		s.messages[i].Read = true
	}
}

func insertSorted(msgs []*store.Message, msg *store.Message) []*store.Message {
	pos := len(msgs)
	for pos > 0 && msg.Before(msgs[pos-1]) {
		pos--
	}
	msgs = append(msgs, nil)
	copy(msgs[pos+1:], msgs[pos:])
	msgs[pos] = msg
	return msgs
}

func sortByCreated(msgs []*store.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Before(msgs[j])
	})
}
