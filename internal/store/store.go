package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// User represents a registered user.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	LastSeenAt   int64 // unix milliseconds, 0 when never seen
	CreatedAt    time.Time
}

// Chat represents a persisted conversation. Only one-to-one chats exist at
// the gateway level; DirectKey is the deterministic dedupe key
// "dm:{minUserID}:{maxUserID}".
type Chat struct {
	ID        string
	DirectKey string
	CreatedAt time.Time
}

// Message represents a persisted chat message.
type Message struct {
	ID       string
	ChatID   string
	SenderID string
	Content  string
	ClientTS int64 // client-supplied timestamp, unix milliseconds
	StoredAt time.Time
}

// NewMessage is the input for batched message persistence.
type NewMessage struct {
	SenderID string
	Content  string
	ClientTS int64
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with a hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// ChatStore handles conversation persistence.
type ChatStore interface {
	// FindOrCreateDirectChat returns the one-to-one chat between the two
	// users, creating it if absent. Deduplication is done via the direct
	// key, so concurrent calls for the same pair converge on one chat.
	FindOrCreateDirectChat(ctx context.Context, userA, userB string) (string, error)

	// ListChatsOf lists the IDs of every chat the user is a member of.
	ListChatsOf(ctx context.Context, userID string) ([]string, error)

	// ListChatMembers lists the user IDs participating in a chat.
	ListChatMembers(ctx context.Context, chatID string) ([]string, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// CreateMessages persists an ordered batch of messages for a chat and
	// returns the stored rows most-recent-first.
	CreateMessages(ctx context.Context, chatID string, msgs []NewMessage) ([]*Message, error)

	// MarkMessagesSeen records that the marker has seen the given messages.
	// Messages authored by the marker and messages already marked are
	// skipped, so the call is idempotent.
	MarkMessagesSeen(ctx context.Context, markerID, chatID string, messageIDs []string) error

	// ListMessages retrieves messages from a chat, newest first, for
	// post-reconnect history reconciliation.
	ListMessages(ctx context.Context, chatID string, limit int) ([]*Message, error)
}

// PresenceStore persists last-seen timestamps for offline users.
type PresenceStore interface {
	// SetLastSeen records when the user was last connected.
	SetLastSeen(ctx context.Context, userID string, tsMillis int64) error

	// GetLastSeen returns the persisted last-seen timestamp. ok is false
	// when the user was never seen.
	GetLastSeen(ctx context.Context, userID string) (ts int64, ok bool, err error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ChatStore
	MessageStore
	PresenceStore

	// Close closes the underlying database connection.
	Close() error
}
