// ABOUTME: Postgres implementation of the Store interface using pgx connection pools
// ABOUTME: Mirrors the SQLite schema with native timestamps and BIGSERIAL ordering

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface on a pgx pool
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects to dsn, verifies the connection and creates the
// schema if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	logger := slog.Default().With("component", "store")

	cfg, err := pgxpool.ParseConfig(normalizeDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 4
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = 5 * time.Minute
	}
	if cfg.MaxConnLifetime == 0 {
		cfg.MaxConnLifetime = 60 * time.Minute
	}
	if cfg.HealthCheckPeriod == 0 {
		cfg.HealthCheckPeriod = time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("Postgres store initialized", "host", cfg.ConnConfig.Host, "database", cfg.ConnConfig.Database)
	return s, nil
}

// normalizeDSN converts driver-suffixed URLs found in .env files to plain
// postgres URLs.
func normalizeDSN(dsn string) string {
	s := strings.TrimSpace(dsn)
	s = strings.Replace(s, "postgresql+asyncpg://", "postgresql://", 1)
	s = strings.Replace(s, "postgres+asyncpg://", "postgres://", 1)
	s = strings.Replace(s, "postgresql+pgx://", "postgresql://", 1)
	s = strings.Replace(s, "postgres+pgx://", "postgres://", 1)
	return s
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id           TEXT PRIMARY KEY,
			email        TEXT NOT NULL,
			display_name TEXT NOT NULL,
			avatar_url   TEXT,
			role         TEXT NOT NULL CHECK (role IN ('student', 'educator')),
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS courses (
			id            TEXT PRIMARY KEY,
			title         TEXT NOT NULL,
			instructor_id TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS enrollments (
			student_id TEXT NOT NULL,
			course_id  TEXT NOT NULL REFERENCES courses(id),
			status     TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'cancelled', 'completed')),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (student_id, course_id)
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id               TEXT PRIMARY KEY,
			participant_1_id TEXT NOT NULL,
			participant_2_id TEXT NOT NULL,
			last_message     TEXT,
			last_message_at  TIMESTAMPTZ,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			CHECK (participant_1_id < participant_2_id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_pair
			ON conversations(participant_1_id, participant_2_id);
		CREATE INDEX IF NOT EXISTS idx_conversations_p2
			ON conversations(participant_2_id);

		CREATE TABLE IF NOT EXISTS messages (
			seq             BIGSERIAL PRIMARY KEY,
			id              TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			sender_id       TEXT NOT NULL,
			receiver_id     TEXT NOT NULL,
			content         TEXT NOT NULL,
			read            BOOLEAN NOT NULL DEFAULT false,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at, seq);
		CREATE INDEX IF NOT EXISTS idx_messages_unread
			ON messages(conversation_id, receiver_id) WHERE NOT read;
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close closes the pool
func (s *PostgresStore) Close() error {
	s.logger.Info("closing Postgres store")
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanPgConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	if err := row.Scan(&c.ID, &c.Participant1ID, &c.Participant2ID, &c.LastMessage, &c.LastMessageAt, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	if c.LastMessageAt != nil {
		t := c.LastMessageAt.UTC()
		c.LastMessageAt = &t
	}
	return &c, nil
}

// GetConversation retrieves a conversation by ID.
func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	conv, err := scanPgConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// FindConversationByPair retrieves a conversation by its unordered pair.
func (s *PostgresStore) FindConversationByPair(ctx context.Context, userA, userB string) (*Conversation, error) {
	p1, p2 := CanonicalPair(userA, userB)
	row := s.pool.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE participant_1_id = $1 AND participant_2_id = $2
	`, p1, p2)
	conv, err := scanPgConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation by pair: %w", err)
	}
	return conv, nil
}

// InsertConversationIfAbsent inserts conv unless its pair already exists.
func (s *PostgresStore) InsertConversationIfAbsent(ctx context.Context, conv *Conversation) (*Conversation, bool, error) {
	p1, p2 := CanonicalPair(conv.Participant1ID, conv.Participant2ID)
	id := conv.ID
	if id == "" {
		id = uuid.New().String()
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (id, participant_1_id, participant_2_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (participant_1_id, participant_2_id) DO NOTHING
	`, id, p1, p2)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, false, ErrDuplicateConversation
		}
		return nil, false, fmt.Errorf("inserting conversation: %w", err)
	}

	stored, err := s.FindConversationByPair(ctx, p1, p2)
	if err != nil {
		return nil, false, err
	}
	return stored, tag.RowsAffected() > 0, nil
}

// ListConversationsForUser returns the user's conversations by activity.
func (s *PostgresStore) ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE participant_1_id = $1 OR participant_2_id = $1
		ORDER BY last_message_at DESC NULLS LAST, created_at DESC, id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		conv, err := scanPgConversation(rows)
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

func scanPgMessage(row pgx.Row) (*Message, error) {
	var m Message
	if err := row.Scan(&m.Seq, &m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Read, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}

func collectPgMessages(rows pgx.Rows) ([]*Message, error) {
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanPgMessage(rows)
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

// AppendMessage persists msg and advances the conversation summary in one
// transaction. created_at comes from the database clock.
func (s *PostgresStore) AppendMessage(ctx context.Context, msg *Message) (*Message, error) {
	id := msg.ID
	if id == "" {
		id = uuid.New().String()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+messageColumns,
		id, msg.ConversationID, msg.SenderID, msg.ReceiverID, msg.Content)
	stored, err := scanPgMessage(row)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE conversations
		SET last_message = $1, last_message_at = $2
		WHERE id = $3 AND (last_message_at IS NULL OR last_message_at <= $2)
	`, stored.Content, stored.CreatedAt, stored.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("updating conversation summary: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing message: %w", err)
	}
	return stored, nil
}

// GetMessage retrieves a message by ID.
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	msg, err := scanPgMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return msg, nil
}

// ListMessages returns the newest limit messages in ascending order.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	var rows pgx.Rows
	var err error

	if limit > 0 {
		rows, err = s.pool.Query(ctx, `
			SELECT `+messageColumns+` FROM (
				SELECT `+messageColumns+`
				FROM messages
				WHERE conversation_id = $1
				ORDER BY created_at DESC, seq DESC
				LIMIT $2
			) recent
			ORDER BY created_at ASC, seq ASC
		`, conversationID, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT `+messageColumns+`
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at ASC, seq ASC
		`, conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	return collectPgMessages(rows)
}

// CountUnread counts unread messages addressed to userID.
func (s *PostgresStore) CountUnread(ctx context.Context, conversationID, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = $1 AND receiver_id = $2 AND NOT read
	`, conversationID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread messages: %w", err)
	}
	return count, nil
}

// MarkConversationRead flips unread messages addressed to userID.
func (s *PostgresStore) MarkConversationRead(ctx context.Context, conversationID, userID string) ([]*Message, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE messages SET read = true
		WHERE conversation_id = $1 AND receiver_id = $2 AND NOT read
		RETURNING `+messageColumns, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("marking conversation read: %w", err)
	}
	flipped, err := collectPgMessages(rows)
	if err != nil {
		return nil, err
	}
	sortMessages(flipped)
	return flipped, nil
}

// MarkMessageRead flips a single message.
func (s *PostgresStore) MarkMessageRead(ctx context.Context, id string) (*Message, bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE messages SET read = true WHERE id = $1 AND NOT read`, id)
	if err != nil {
		return nil, false, fmt.Errorf("marking message read: %w", err)
	}
	msg, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return msg, tag.RowsAffected() > 0, nil
}

// UpsertUser creates or refreshes a mirrored profile.
func (s *PostgresStore) UpsertUser(ctx context.Context, user *User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, display_name, avatar_url, role)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			avatar_url = EXCLUDED.avatar_url,
			role = EXCLUDED.role
	`, user.ID, user.Email, user.DisplayName, nullString(user.AvatarURL), string(user.Role))
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

func scanPgUser(row pgx.Row) (*User, error) {
	var u User
	var avatar *string
	var role string
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &avatar, &role, &u.CreatedAt); err != nil {
		return nil, err
	}
	if avatar != nil {
		u.AvatarURL = *avatar
	}
	u.Role = Role(role)
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

// GetUser retrieves a profile by ID.
func (s *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanPgUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return user, nil
}

// GetUsers retrieves the profiles that exist among ids.
func (s *PostgresStore) GetUsers(ctx context.Context, ids []string) (map[string]*User, error) {
	users := make(map[string]*User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		user, err := scanPgUser(rows)
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
func (s *PostgresStore) CreateCourse(ctx context.Context, course *Course) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO courses (id, title, instructor_id) VALUES ($1, $2, $3)
	`, course.ID, course.Title, course.InstructorID)
	if err != nil {
		return fmt.Errorf("inserting course: %w", err)
	}
	return nil
}

// CreateEnrollment inserts or updates an enrollment's status.
func (s *PostgresStore) CreateEnrollment(ctx context.Context, enrollment *Enrollment) error {
	status := enrollment.Status
	if status == "" {
		status = EnrollmentActive
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO enrollments (student_id, course_id, status) VALUES ($1, $2, $3)
		ON CONFLICT (student_id, course_id) DO UPDATE SET status = EXCLUDED.status
	`, enrollment.StudentID, enrollment.CourseID, string(status))
	if err != nil {
		return fmt.Errorf("inserting enrollment: %w", err)
	}
	return nil
}

// ListActiveInstructorIDs returns the distinct instructors of the student's
// active enrollments.
func (s *PostgresStore) ListActiveInstructorIDs(ctx context.Context, studentID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT c.instructor_id
		FROM enrollments e
		JOIN courses c ON c.id = e.course_id
		WHERE e.student_id = $1 AND e.status = 'active'
		ORDER BY c.instructor_id
	`, studentID)
	if err != nil {
		return nil, fmt.Errorf("querying instructors: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collecting instructors: %w", err)
	}
	return ids, nil
}

// Ensure PostgresStore implements Store interface
var _ Store = (*PostgresStore)(nil)
