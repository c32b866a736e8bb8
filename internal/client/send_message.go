// ABOUTME: Send and read-receipt requests
// ABOUTME: Send returns the stored message with its server-assigned id

package client

import (
	"context"

	"github.com/2389/lectern/internal/api"
	"github.com/2389/lectern/internal/store"
)

// Send posts a message to a conversation. receiverID may be empty.
func (c *Client) Send(ctx context.Context, conversationID, receiverID, content string) (*store.Message, error) {
	var out api.Message
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", conversationID).
		SetBody(api.SendMessageRequest{Content: content, ReceiverID: receiverID}).
		SetResult(&out).
		Post("/api/conversations/{id}/messages")
	if err := check("send", resp, err); err != nil {
		return nil, err
	}
	return out.Message(), nil
}

// MarkConversationRead marks every message addressed to the user in the
// conversation read and returns the messages that changed.
func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) ([]*store.Message, error) {
	var out api.MarkReadResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", conversationID).
		SetResult(&out).
		Post("/api/conversations/{id}/read")
	if err := check("mark_conversation_read", resp, err); err != nil {
		return nil, err
	}
	return api.MessagesToStore(out.Messages), nil
}

// MarkMessageRead marks one received message read.
func (c *Client) MarkMessageRead(ctx context.Context, messageID string) (*store.Message, error) {
	var out api.Message
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", messageID).
		SetResult(&out).
		Post("/api/messages/{id}/read")
	if err := check("mark_message_read", resp, err); err != nil {
		return nil, err
	}
	return out.Message(), nil
}
