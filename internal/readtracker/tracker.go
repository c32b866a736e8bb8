// ABOUTME: Read tracker that flips message read flags and announces the flips
// ABOUTME: Flags only move from unread to read; repeated marks are no-ops

package readtracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/lectern/internal/msgerr"
	"github.com/2389/lectern/internal/realtime"
	"github.com/2389/lectern/internal/store"
)

// Store is the persistence the tracker needs.
type Store interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetMessage(ctx context.Context, id string) (*store.Message, error)
	MarkConversationRead(ctx context.Context, conversationID, userID string) ([]*store.Message, error)
	MarkMessageRead(ctx context.Context, id string) (*store.Message, bool, error)
}

// Tracker marks messages read on behalf of their receivers.
type Tracker struct {
	store     Store
	publisher realtime.Publisher
	logger    *slog.Logger
}

// New creates a tracker. Pass nil logger for default.
func New(s Store, publisher realtime.Publisher, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:     s,
		publisher: publisher,
		logger:    logger.With("component", "readtracker"),
	}
}

// MarkConversationRead flips every unread message addressed to userID in
// the conversation and publishes one update per flipped message.
func (t *Tracker) MarkConversationRead(ctx context.Context, conversationID, userID string) ([]*store.Message, error) {
	const op = "mark_conversation_read"

	conv, err := t.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, msgerr.NotFound(op, fmt.Errorf("conversation %s", conversationID))
	}
	if err != nil {
		return nil, msgerr.Persistence(op, err)
	}
	if !conv.HasParticipant(userID) {
		return nil, msgerr.Forbidden(op, "not a participant of conversation %s", conversationID)
	}

	flipped, err := t.store.MarkConversationRead(ctx, conversationID, userID)
	if err != nil {
		return nil, msgerr.Persistence(op, err)
	}

	if len(flipped) > 0 {
		t.logger.Debug("conversation marked read",
			"conversation_id", conversationID,
			"user_id", userID,
			"count", len(flipped))
	}
	t.publish(ctx, flipped...)
	return flipped, nil
}

// MarkMessageRead flips a single message. Only its receiver may do so.
// Marking an already-read message returns it without publishing.
func (t *Tracker) MarkMessageRead(ctx context.Context, messageID, userID string) (*store.Message, error) {
	const op = "mark_message_read"

	msg, err := t.store.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, msgerr.NotFound(op, fmt.Errorf("message %s", messageID))
	}
	if err != nil {
		return nil, msgerr.Persistence(op, err)
	}
	if msg.ReceiverID != userID {
		return nil, msgerr.Forbidden(op, "only the receiver can mark message %s read", messageID)
	}
	if msg.Read {
		return msg, nil
	}

	msg, changed, err := t.store.MarkMessageRead(ctx, messageID)
	if err != nil {
		return nil, msgerr.Persistence(op, err)
	}
	if changed {
		t.publish(ctx, msg)
	}
	return msg, nil
}

func (t *Tracker) publish(ctx context.Context, msgs ...*store.Message) {
	if t.publisher == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	for _, m := range msgs {
		t.publisher.Publish(detached, realtime.NewMessageEvent(realtime.EventUpdate, m))
	}
}
