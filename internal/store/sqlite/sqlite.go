package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ostrovskym/relaygate-server/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	last_seen_at  INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chats (
	id         TEXT PRIMARY KEY,
	direct_key TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chat_members (
	chat_id   TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	joined_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (chat_id, user_id),
	FOREIGN KEY (chat_id) REFERENCES chats(id),
	FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	chat_id    TEXT NOT NULL,
	sender_id  TEXT NOT NULL,
	content    TEXT NOT NULL,
	client_ts  INTEGER NOT NULL,
	stored_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (chat_id) REFERENCES chats(id),
	FOREIGN KEY (sender_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS message_seen (
	message_id TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	seen_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (message_id, user_id),
	FOREIGN KEY (message_id) REFERENCES messages(id),
	FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, rowid DESC);
CREATE INDEX IF NOT EXISTS idx_chat_members_user ON chat_members(user_id);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(schema)
		return err
	})
}

// NewWithSetup opens the database and runs a setup function before use.
// Tests use this with ":memory:" and a custom schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates a new user with a hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	id := uuid.NewString()
	query := `
		INSERT INTO users (id, username, password_hash)
		VALUES (?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, id, username, passwordHash); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, last_seen_at, created_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, last_seen_at, created_at
		FROM users
		WHERE username = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var u store.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.LastSeenAt, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// ==== ChatStore implementation ====

// DirectKey builds the deterministic dedupe key for a one-to-one chat.
func DirectKey(userA, userB string) string {
	if strings.Compare(userA, userB) > 0 {
		userA, userB = userB, userA
	}
	return "dm:" + userA + ":" + userB
}

// FindOrCreateDirectChat returns the one-to-one chat between the two users,
// creating it if absent. The UNIQUE constraint on direct_key makes concurrent
// creation attempts converge on a single row.
func (s *SQLiteStore) FindOrCreateDirectChat(ctx context.Context, userA, userB string) (string, error) {
	key := DirectKey(userA, userB)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `SELECT id FROM chats WHERE direct_key = ?`, key).Scan(&id)
	if err == nil {
		return id, tx.Commit()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("find chat: %w", err)
	}

	id = uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO chats (id, direct_key) VALUES (?, ?)
		ON CONFLICT(direct_key) DO NOTHING
	`, id, key)
	if err != nil {
		return "", fmt.Errorf("insert chat: %w", err)
	}

	// Re-read: on conflict another writer won and owns the id.
	if err := tx.QueryRowContext(ctx, `SELECT id FROM chats WHERE direct_key = ?`, key).Scan(&id); err != nil {
		return "", fmt.Errorf("reread chat: %w", err)
	}

	for _, userID := range []string{userA, userB} {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chat_members (chat_id, user_id) VALUES (?, ?)
			ON CONFLICT(chat_id, user_id) DO NOTHING
		`, id, userID)
		if err != nil {
			return "", fmt.Errorf("insert chat member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit chat: %w", err)
	}
	return id, nil
}

// ListChatsOf lists the IDs of every chat the user is a member of.
func (s *SQLiteStore) ListChatsOf(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT chat_id FROM chat_members
		WHERE user_id = ?
		ORDER BY joined_at
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chat id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListChatMembers lists the user IDs participating in a chat.
func (s *SQLiteStore) ListChatMembers(ctx context.Context, chatID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM chat_members WHERE chat_id = ?`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list chat members: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ==== MessageStore implementation ====

// CreateMessages persists an ordered batch of messages for a chat and returns
// the stored rows most-recent-first.
func (s *SQLiteStore) CreateMessages(ctx context.Context, chatID string, msgs []store.NewMessage) ([]*store.Message, error) {
	if len(msgs) == 0 {
		return nil, errors.New("empty message batch")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	stored := make([]*store.Message, 0, len(msgs))
	for _, m := range msgs {
		msg := &store.Message{
			ID:       uuid.NewString(),
			ChatID:   chatID,
			SenderID: m.SenderID,
			Content:  m.Content,
			ClientTS: m.ClientTS,
			StoredAt: now,
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, chat_id, sender_id, content, client_ts, stored_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, msg.ID, msg.ChatID, msg.SenderID, msg.Content, msg.ClientTS, msg.StoredAt)
		if err != nil {
			return nil, fmt.Errorf("insert message: %w", err)
		}
		stored = append(stored, msg)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit messages: %w", err)
	}

	// Most-recent-first, matching insertion rowid order reversed.
	out := make([]*store.Message, len(stored))
	for i, m := range stored {
		out[len(stored)-1-i] = m
	}
	return out, nil
}

// MarkMessagesSeen records that the marker has seen the given messages.
// The marker's own messages are skipped and re-marking is a no-op.
func (s *SQLiteStore) MarkMessagesSeen(ctx context.Context, markerID, chatID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, msgID := range messageIDs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO message_seen (message_id, user_id)
			SELECT m.id, ? FROM messages m
			WHERE m.id = ? AND m.chat_id = ? AND m.sender_id != ?
			ON CONFLICT(message_id, user_id) DO NOTHING
		`, markerID, msgID, chatID, markerID)
		if err != nil {
			return fmt.Errorf("mark seen: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seen marks: %w", err)
	}
	return nil
}

// ListMessages retrieves messages from a chat, newest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, chat_id, sender_id, content, client_ts, stored_at
		FROM messages
		WHERE chat_id = ?
		ORDER BY rowid DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.ClientTS, &m.StoredAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// ==== PresenceStore implementation ====

// SetLastSeen records when the user was last connected.
func (s *SQLiteStore) SetLastSeen(ctx context.Context, userID string, tsMillis int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_seen_at = ? WHERE id = ?`, tsMillis, userID)
	if err != nil {
		return fmt.Errorf("set last seen: %w", err)
	}
	return nil
}

// GetLastSeen returns the persisted last-seen timestamp.
func (s *SQLiteStore) GetLastSeen(ctx context.Context, userID string) (int64, bool, error) {
	var ts int64
	err := s.db.QueryRowContext(ctx, `SELECT last_seen_at FROM users WHERE id = ?`, userID).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get last seen: %w", err)
	}
	return ts, ts != 0, nil
}
