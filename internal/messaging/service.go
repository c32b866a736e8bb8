// ABOUTME: Server half of the send protocol plus history reads
// ABOUTME: Validates, persists through the store and announces inserts on the realtime bus

package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/2389/lectern/internal/msgerr"
	"github.com/2389/lectern/internal/realtime"
	"github.com/2389/lectern/internal/store"
)

const (
	DefaultHistoryLimit     = 200
	DefaultMaxContentLength = 4000
)

// Store is the persistence the message service needs.
type Store interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	AppendMessage(ctx context.Context, msg *store.Message) (*store.Message, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)
}

// Config bounds message size and history reads.
type Config struct {
	HistoryLimit     int
	MaxContentLength int // in runes
}

// Service persists and reads direct messages.
type Service struct {
	store     Store
	publisher realtime.Publisher
	cfg       Config
	logger    *slog.Logger
}

// NewService creates a message service. Zero config values take defaults.
// Pass nil logger for default.
func NewService(s Store, publisher realtime.Publisher, cfg Config, logger *slog.Logger) *Service {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = DefaultMaxContentLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     s,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.With("component", "messaging"),
	}
}

// NormalizeContent trims content and rejects it when empty or longer than
// maxRunes. maxRunes <= 0 disables the length check.
func NormalizeContent(content string, maxRunes int) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", msgerr.Validation("send", "message content is empty")
	}
	if maxRunes > 0 && utf8.RuneCountInString(trimmed) > maxRunes {
		return "", msgerr.Validation("send", "message exceeds %d characters", maxRunes)
	}
	return trimmed, nil
}

// SendRequest is a message submitted by an authenticated sender.
type SendRequest struct {
	ConversationID string
	SenderID       string
	ReceiverID     string // optional; must be the other participant when set
	Content        string
}

// Send validates and persists a message, then publishes an insert event.
// The returned message carries the store-assigned id, timestamp and seq.
func (s *Service) Send(ctx context.Context, req *SendRequest) (*store.Message, error) {
	const op = "send"

	content, err := NormalizeContent(req.Content, s.cfg.MaxContentLength)
	if err != nil {
		return nil, err
	}

	conv, err := s.store.GetConversation(ctx, req.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, msgerr.NotFound(op, fmt.Errorf("conversation %s", req.ConversationID))
	}
	if err != nil {
		return nil, msgerr.Persistence(op, err)
	}

	if !conv.HasParticipant(req.SenderID) {
		return nil, msgerr.Validation(op, "sender is not a participant of conversation %s", conv.ID)
	}
	receiverID := conv.OtherParticipant(req.SenderID)
	if req.ReceiverID != "" && req.ReceiverID != receiverID {
		return nil, msgerr.Validation(op, "receiver is not the other participant")
	}

	msg, err := s.store.AppendMessage(ctx, &store.Message{
		ConversationID: conv.ID,
		SenderID:       req.SenderID,
		ReceiverID:     receiverID,
		Content:        content,
	})
	if err != nil {
		return nil, msgerr.Persistence(op, err)
	}

	s.logger.Debug("message stored",
		"message_id", msg.ID,
		"conversation_id", msg.ConversationID,
		"sender_id", msg.SenderID)

	if s.publisher != nil {
		// The message is committed; a caller hanging up must not stop the fan-out
		s.publisher.Publish(context.WithoutCancel(ctx), realtime.NewMessageEvent(realtime.EventInsert, msg))
	}

	return msg, nil
}

// History returns the newest limit messages of a conversation in ascending
// order. limit <= 0 or above the configured limit uses the configured limit.
func (s *Service) History(ctx context.Context, conversationID, userID string, limit int) ([]*store.Message, error) {
	const op = "history"

	conv, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, msgerr.NotFound(op, fmt.Errorf("conversation %s", conversationID))
	}
	if err != nil {
		return nil, msgerr.Persistence(op, err)
	}
	if !conv.HasParticipant(userID) {
		return nil, msgerr.Forbidden(op, "not a participant of conversation %s", conversationID)
	}

	if limit <= 0 || limit > s.cfg.HistoryLimit {
		limit = s.cfg.HistoryLimit
	}

	msgs, err := s.store.ListMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, msgerr.Persistence(op, err)
	}
	return msgs, nil
}
