// Package session holds one user's client-side view of their direct
// messages.
//
// A Session caches the conversation list and the open conversation's
// messages, applies realtime feed events to them and sends messages
// optimistically. It talks to the gateway through a Backend, normally a
// *client.Client.
//
// # Lifecycle
//
//	s, err := session.New(ctx, c, session.Config{}, logger)
//	go s.Run(ctx)           // the session's single feed subscription
//	entries, err := s.Load(ctx)
//	err = s.Open(ctx, entries[0].Conversation.ID)
//	msg, err := s.Send(ctx, "hello")
//
// # Optimistic sends
//
// Send shows the message immediately under a "tmp-" id, then swaps in the
// stored message once the gateway confirms it. The feed may deliver the
// same message before or after the confirmation; either way the thread
// ends up with exactly one copy, keyed by the server id. A failed send is
// removed from the thread and reported to the caller. Identical content
// submitted to the same conversation while a send is pending is rejected
// with ErrDuplicateSubmit.
//
// # Feed
//
// Run keeps one subscription open, reconnecting with jittered exponential
// backoff. After a reconnect it refetches the conversation list and the
// open conversation so nothing missed while offline is lost.
package session
