// ABOUTME: History request for a conversation's most recent messages
// ABOUTME: Returns messages in ascending conversation order

package client

import (
	"context"
	"strconv"

	"github.com/2389/lectern/internal/api"
	"github.com/2389/lectern/internal/store"
)

// History returns up to limit of the newest messages in ascending order.
// limit <= 0 uses the gateway's default.
func (c *Client) History(ctx context.Context, conversationID string, limit int) ([]*store.Message, error) {
	req := c.http.R().
		SetContext(ctx).
		SetPathParam("id", conversationID)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}

	var out api.MessagesResponse
	resp, err := req.SetResult(&out).Get("/api/conversations/{id}/messages")
	if err := check("history", resp, err); err != nil {
		return nil, err
	}
	return api.MessagesToStore(out.Messages), nil
}
