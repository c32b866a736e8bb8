// ABOUTME: Me request for resolving the authenticated user's profile
// ABOUTME: The session uses it to learn its own id and email

package client

import (
	"context"

	"github.com/2389/lectern/internal/api"
	"github.com/2389/lectern/internal/store"
)

// Me returns the authenticated user's profile.
func (c *Client) Me(ctx context.Context) (*store.User, error) {
	var out api.User
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/api/me")
	if err := check("me", resp, err); err != nil {
		return nil, err
	}
	return out.ToStore(), nil
}
