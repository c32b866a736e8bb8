// Package store provides persistent storage for the lectern gateway.
//
// # Architecture
//
// The store package splits its contract into narrow interfaces:
//
//   - ConversationStore: two-party conversations keyed by an unordered pair
//   - MessageStore: the append-only message log and read flags
//   - ProfileStore: users mirrored from the identity provider
//   - EnrollmentStore: the course/enrollment collaborator tables
//
// Store embeds all of them. SQLiteStore, PostgresStore and MockStore each
// implement Store in a single struct.
//
// # Conversations
//
// Participants are stored canonically (participant_1_id < participant_2_id)
// behind a unique index, so a pair has at most one row.
// InsertConversationIfAbsent is a conditional insert: callers that lose a
// creation race get the winner's row back rather than an error.
//
// # Messages
//
// The store assigns created_at and a monotonically increasing seq. History
// is ordered by (created_at, seq). Content is never updated and the read
// flag is only ever set to true; the SQLite schema enforces the latter with
// a trigger.
//
// # SQLite Configuration
//
// Pragmas are applied per connection through the DSN:
//
//	_pragma=foreign_keys(1)
//	_pragma=busy_timeout(5000)
//	_pragma=journal_mode(WAL)
//	_txlock=immediate
//
// Database file locations:
//
//   - Production: /var/lib/lectern/lectern.db
//   - Development: ~/.local/share/lectern/lectern.db
//   - Testing: t.TempDir() or :memory:
//
// # Postgres
//
// NewPostgresStore takes a postgres:// URL and builds a pgx pool. Timestamps
// come from clock_timestamp() so rows inserted within one transaction still
// get distinct times.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateConversation: a backend surfaced a pair uniqueness conflict
//
// # Testing
//
// Use NewMockStore() for unit tests. Its AppendErr, ListErr, EnrollmentErr
// and RaceOnInsert fields inject failures.
package store
