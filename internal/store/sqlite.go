// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout keeps a fixed-width fraction so stored timestamps sort
// lexicographically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	memory := path == ":memory:"
	if !memory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every connection to :memory: is a separate database
	if memory {
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// sqliteDSN applies per-connection pragmas through the DSN so that every
// pooled connection gets them, not just the first one.
func sqliteDSN(path string) string {
	params := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
		"_txlock=immediate",
	}
	if path != ":memory:" {
		params = append(params, "_pragma=journal_mode(WAL)")
	}
	return path + "?" + strings.Join(params, "&")
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id           TEXT PRIMARY KEY,
			email        TEXT NOT NULL,
			display_name TEXT NOT NULL,
			avatar_url   TEXT,
			role         TEXT NOT NULL,
			created_at   TEXT NOT NULL,

			CHECK (role IN ('student', 'educator'))
		);

		CREATE TABLE IF NOT EXISTS courses (
			id            TEXT PRIMARY KEY,
			title         TEXT NOT NULL,
			instructor_id TEXT NOT NULL,
			created_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_courses_instructor ON courses(instructor_id);

		CREATE TABLE IF NOT EXISTS enrollments (
			student_id TEXT NOT NULL,
			course_id  TEXT NOT NULL REFERENCES courses(id),
			status     TEXT NOT NULL DEFAULT 'active',
			created_at TEXT NOT NULL,

			PRIMARY KEY (student_id, course_id),
			CHECK (status IN ('active', 'cancelled', 'completed'))
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id               TEXT PRIMARY KEY,
			participant_1_id TEXT NOT NULL,
			participant_2_id TEXT NOT NULL,
			last_message     TEXT,
			last_message_at  TEXT,
			created_at       TEXT NOT NULL,

			CHECK (participant_1_id < participant_2_id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_pair
			ON conversations(participant_1_id, participant_2_id);
		CREATE INDEX IF NOT EXISTS idx_conversations_p2
			ON conversations(participant_2_id);

		CREATE TABLE IF NOT EXISTS messages (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			sender_id       TEXT NOT NULL,
			receiver_id     TEXT NOT NULL,
			content         TEXT NOT NULL,
			read            INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at, seq);
		CREATE INDEX IF NOT EXISTS idx_messages_unread
			ON messages(conversation_id, receiver_id, read);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "users",
			column: "avatar_url",
			apply:  `ALTER TABLE users ADD COLUMN avatar_url TEXT`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	// Read flags only ever move forward
	_, err := s.db.Exec(`
		CREATE TRIGGER IF NOT EXISTS trg_messages_read_monotonic
		BEFORE UPDATE OF read ON messages
		WHEN OLD.read = 1 AND NEW.read = 0
		BEGIN
			SELECT RAISE(ABORT, 'read flag cannot be cleared');
		END;
	`)
	if err != nil {
		return fmt.Errorf("creating read monotonic trigger: %w", err)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

const conversationColumns = `id, participant_1_id, participant_2_id, last_message, last_message_at, created_at`

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	var lastMessage, lastMessageAt sql.NullString
	var createdAt string

	if err := row.Scan(&c.ID, &c.Participant1ID, &c.Participant2ID, &lastMessage, &lastMessageAt, &createdAt); err != nil {
		return nil, err
	}

	var err error
	c.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if lastMessage.Valid {
		c.LastMessage = &lastMessage.String
	}
	if lastMessageAt.Valid {
		t, err := parseTime(lastMessageAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_message_at: %w", err)
		}
		c.LastMessageAt = &t
	}
	return &c, nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// FindConversationByPair retrieves the conversation between two users in
// either order. Returns ErrNotFound if none exists.
func (s *SQLiteStore) FindConversationByPair(ctx context.Context, userA, userB string) (*Conversation, error) {
	p1, p2 := CanonicalPair(userA, userB)
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE participant_1_id = ? AND participant_2_id = ?
	`, p1, p2)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation by pair: %w", err)
	}
	return conv, nil
}

// InsertConversationIfAbsent inserts conv unless its pair already has a
// conversation, in which case the existing row is returned.
func (s *SQLiteStore) InsertConversationIfAbsent(ctx context.Context, conv *Conversation) (*Conversation, bool, error) {
	p1, p2 := CanonicalPair(conv.Participant1ID, conv.Participant2ID)
	id := conv.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := conv.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, participant_1_id, participant_2_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (participant_1_id, participant_2_id) DO NOTHING
	`, id, p1, p2, formatTime(createdAt))
	if err != nil {
		if isConstraintViolation(err) {
			return nil, false, ErrDuplicateConversation
		}
		return nil, false, fmt.Errorf("inserting conversation: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("getting rows affected: %w", err)
	}

	stored, err := s.FindConversationByPair(ctx, p1, p2)
	if err != nil {
		return nil, false, err
	}

	if inserted > 0 {
		s.logger.Debug("created conversation", "id", stored.ID, "participant_1", p1, "participant_2", p2)
	}
	return stored, inserted > 0, nil
}

// ListConversationsForUser returns every conversation the user takes part
// in: those with messages by last message, newest first, then empty ones by
// creation time.
func (s *SQLiteStore) ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE participant_1_id = ? OR participant_2_id = ?
		ORDER BY last_message_at IS NULL, last_message_at DESC, created_at DESC, id ASC
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		conversations = append(conversations, conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return conversations, nil
}

const messageColumns = `seq, id, conversation_id, sender_id, receiver_id, content, read, created_at`

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var read int
	var createdAt string

	if err := row.Scan(&m.Seq, &m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Content, &read, &createdAt); err != nil {
		return nil, err
	}

	var err error
	m.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing message created_at: %w", err)
	}
	m.Read = read != 0
	return &m, nil
}

// AppendMessage persists msg and advances the conversation summary.
// The store assigns CreatedAt and Seq; ID is generated when empty.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) (*Message, error) {
	stored := *msg
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	stored.CreatedAt = s.now().UTC()
	stored.Read = false

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content, read, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`, stored.ID, stored.ConversationID, stored.SenderID, stored.ReceiverID, stored.Content, formatTime(stored.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	stored.Seq, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading message seq: %w", err)
	}

	// A slower writer must not roll the summary back to an older message
	summary, err := tx.ExecContext(ctx, `
		UPDATE conversations
		SET last_message = ?, last_message_at = ?
		WHERE id = ? AND (last_message_at IS NULL OR last_message_at <= ?)
	`, stored.Content, formatTime(stored.CreatedAt), stored.ConversationID, formatTime(stored.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("updating conversation summary: %w", err)
	}
	if n, _ := summary.RowsAffected(); n == 0 {
		s.logger.Debug("conversation summary already newer", "conversation_id", stored.ConversationID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing message: %w", err)
	}

	s.logger.Debug("appended message", "id", stored.ID, "conversation_id", stored.ConversationID, "seq", stored.Seq)
	return &stored, nil
}

// GetMessage retrieves a message by ID.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return msg, nil
}

// ListMessages retrieves messages for a conversation, limited to the most
// recent `limit` messages. Messages are returned oldest first.
// If limit is 0 or negative, all messages are returned.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	var query string
	var args []any

	if limit > 0 {
		// Take the newest N, then flip back to chronological order
		query = `
			SELECT ` + messageColumns + `
			FROM (
				SELECT ` + messageColumns + `
				FROM messages
				WHERE conversation_id = ?
				ORDER BY created_at DESC, seq DESC
				LIMIT ?
			)
			ORDER BY created_at ASC, seq ASC
		`
		args = []any{conversationID, limit}
	} else {
		query = `
			SELECT ` + messageColumns + `
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at ASC, seq ASC
		`
		args = []any{conversationID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

func collectMessages(rows *sql.Rows) ([]*Message, error) {
	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// CountUnread counts messages in the conversation addressed to userID that
// have not been read.
func (s *SQLiteStore) CountUnread(ctx context.Context, conversationID, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND receiver_id = ? AND read = 0
	`, conversationID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread messages: %w", err)
	}
	return count, nil
}

// MarkConversationRead flips all unread messages addressed to userID in the
// conversation and returns them with Read set.
func (s *SQLiteStore) MarkConversationRead(ctx context.Context, conversationID, userID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE messages SET read = 1
		WHERE conversation_id = ? AND receiver_id = ? AND read = 0
		RETURNING `+messageColumns, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("marking conversation read: %w", err)
	}
	defer rows.Close()

	flipped, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	sortMessages(flipped)

	if len(flipped) > 0 {
		s.logger.Debug("marked conversation read", "conversation_id", conversationID, "user_id", userID, "count", len(flipped))
	}
	return flipped, nil
}

// MarkMessageRead flips a single message. changed is false when the message
// was already read. Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) MarkMessageRead(ctx context.Context, id string) (*Message, bool, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE messages SET read = 1 WHERE id = ? AND read = 0`, id)
	if err != nil {
		return nil, false, fmt.Errorf("marking message read: %w", err)
	}
	changed, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("getting rows affected: %w", err)
	}

	msg, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return msg, changed > 0, nil
}

// UpsertUser creates or refreshes a mirrored profile.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *User) error {
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, avatar_url, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			email = excluded.email,
			display_name = excluded.display_name,
			avatar_url = excluded.avatar_url,
			role = excluded.role
	`, user.ID, user.Email, user.DisplayName, nullString(user.AvatarURL), string(user.Role), formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

const userColumns = `id, email, display_name, avatar_url, role, created_at`

func scanUser(row rowScanner) (*User, error) {
	var u User
	var avatar sql.NullString
	var role, createdAt string

	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &avatar, &role, &createdAt); err != nil {
		return nil, err
	}
	u.AvatarURL = avatar.String
	u.Role = Role(role)

	var err error
	u.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing user created_at: %w", err)
	}
	return &u, nil
}

// GetUser retrieves a profile by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return user, nil
}

// GetUsers retrieves the profiles that exist among ids, keyed by ID.
func (s *SQLiteStore) GetUsers(ctx context.Context, ids []string) (map[string]*User, error) {
	users := make(map[string]*User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user row: %w", err)
		}
		users[user.ID] = user
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user rows: %w", err)
	}
	return users, nil
}

// CreateCourse inserts a course record.
func (s *SQLiteStore) CreateCourse(ctx context.Context, course *Course) error {
	createdAt := course.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO courses (id, title, instructor_id, created_at) VALUES (?, ?, ?, ?)
	`, course.ID, course.Title, course.InstructorID, formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("inserting course: %w", err)
	}
	return nil
}

// CreateEnrollment inserts or updates an enrollment's status.
func (s *SQLiteStore) CreateEnrollment(ctx context.Context, enrollment *Enrollment) error {
	status := enrollment.Status
	if status == "" {
		status = EnrollmentActive
	}
	createdAt := enrollment.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enrollments (student_id, course_id, status, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (student_id, course_id) DO UPDATE SET status = excluded.status
	`, enrollment.StudentID, enrollment.CourseID, string(status), formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("inserting enrollment: %w", err)
	}
	return nil
}

// ListActiveInstructorIDs returns the distinct instructors teaching the
// courses the student is actively enrolled in.
func (s *SQLiteStore) ListActiveInstructorIDs(ctx context.Context, studentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT c.instructor_id
		FROM enrollments e
		JOIN courses c ON c.id = e.course_id
		WHERE e.student_id = ? AND e.status = 'active'
		ORDER BY c.instructor_id
	`, studentID)
	if err != nil {
		return nil, fmt.Errorf("querying instructors: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning instructor row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating instructor rows: %w", err)
	}
	return ids, nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
