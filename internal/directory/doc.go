// Package directory maintains the two-party conversations between students
// and instructors.
//
// # Service
//
//	svc := directory.NewService(store, logger)
//
// Key operations:
//
//   - ListConversations(ctx, userID): enriched listing, most recent first
//   - Get(ctx, conversationID, userID): one enriched entry
//   - EnsureConversation(ctx, a, b): idempotent get-or-create
//   - SeedFromEnrollments(ctx, studentID): one conversation per instructor
//
// # Deduplication
//
// A pair of users has at most one conversation. EnsureConversation looks the
// pair up in either order and otherwise performs a conditional insert. A
// backend that reports a uniqueness conflict instead of returning the
// existing row is handled by re-fetching, so concurrent callers from both
// sides always converge on the same conversation.
//
// # Unread Counts
//
// Unread counts are never stored. Every listing counts the messages
// addressed to the caller that are still unread.
package directory
