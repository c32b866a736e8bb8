// ABOUTME: Conversation directory requests: list, get, get-or-create and enrollment seeding
// ABOUTME: Responses are converted back to directory entries for the session

package client

import (
	"context"
	"fmt"

	"github.com/2389/lectern/internal/api"
	"github.com/2389/lectern/internal/directory"
)

func toEntries(convs []*api.Conversation) []*directory.Entry {
	entries := make([]*directory.Entry, 0, len(convs))
	for _, c := range convs {
		entries = append(entries, c.ToEntry())
	}
	return entries
}

// ListConversations returns the user's conversations, most recent first.
func (c *Client) ListConversations(ctx context.Context) ([]*directory.Entry, error) {
	var out api.ConversationsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/api/conversations")
	if err := check("list_conversations", resp, err); err != nil {
		return nil, err
	}
	return toEntries(out.Conversations), nil
}

// GetConversation returns one conversation entry.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (*directory.Entry, error) {
	var out api.Conversation
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", conversationID).
		SetResult(&out).
		Get("/api/conversations/{id}")
	if err := check("get_conversation", resp, err); err != nil {
		return nil, err
	}
	return out.ToEntry(), nil
}

// EnsureConversation returns the conversation with participantID, creating
// it on first contact.
func (c *Client) EnsureConversation(ctx context.Context, participantID string) (*directory.Entry, error) {
	var out api.Conversation
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(api.EnsureConversationRequest{ParticipantID: participantID}).
		SetResult(&out).
		Post("/api/conversations")
	if err := check("ensure_conversation", resp, err); err != nil {
		return nil, err
	}
	return out.ToEntry(), nil
}

// SeedConversations asks the gateway to create a conversation with each
// of the student's instructors and returns the resulting listing. When
// some could not be created the listing is returned with ErrPartialSeed.
func (c *Client) SeedConversations(ctx context.Context) ([]*directory.Entry, error) {
	var out api.SeedResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Post("/api/conversations/seed")
	if err := check("seed_conversations", resp, err); err != nil {
		return nil, err
	}

	entries := toEntries(out.Conversations)
	if out.Error != "" {
		return entries, fmt.Errorf("%w: %s", ErrPartialSeed, out.Error)
	}
	return entries, nil
}
