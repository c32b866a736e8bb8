// Package client is the Go client for the lectern gateway API.
//
// # Overview
//
// A Client talks to one gateway on behalf of one user, authenticating
// every request with that user's bearer token. It is the backend of
// session.Session and of the lectern-chat terminal client.
//
// # Requests
//
//   - Me: the authenticated user's profile
//   - ListConversations, GetConversation: directory entries
//   - EnsureConversation: get-or-create with another user
//   - SeedConversations: one conversation per instructor (students only)
//   - History: newest messages of a conversation, ascending
//   - Send: post a message, returns it with its server id
//   - MarkConversationRead, MarkMessageRead: read receipts
//   - Subscribe: the realtime change feed over WebSocket
//
// # Errors
//
// Error responses are mapped back to msgerr kinds, so callers can use
// errors.Is(err, msgerr.ErrValidation) and friends on either side of the
// wire. A rejected token yields ErrUnauthorized.
//
// # Usage
//
//	c := client.New("https://lectern.example.ts.net", token)
//	me, err := c.Me(ctx)
//	events, err := c.Subscribe(ctx)
package client
