package gateway

import "strconv"

// ChatRef identifies a conversation either by its permanent ID or, before
// the conversation exists, by a client-minted provisional number.
type ChatRef struct {
	ID          string
	Provisional int64
}

// IsProvisional reports whether the conversation has no permanent ID yet.
func (r ChatRef) IsProvisional() bool {
	return r.ID == ""
}

// Key renders the reference for use in coordination buffer keys. Permanent
// IDs are UUIDs, so the two forms never collide.
func (r ChatRef) Key() string {
	if r.ID != "" {
		return r.ID
	}
	return strconv.FormatInt(r.Provisional, 10)
}

// MessageBody carries the client-side view of a message: its provisional ID,
// content and client timestamp (unix milliseconds).
type MessageBody struct {
	ProvisionalID int64
	Content       string
	SentAt        int64
}

// ChatIDPair maps a provisional chat ID to the permanent one.
type ChatIDPair struct {
	Provisional int64
	ChatID      string
}

// MessageIDPair maps a provisional message ID to the permanent one.
type MessageIDPair struct {
	Provisional int64
	MessageID   string
	Sender      string
}

// MessageRef references a message by permanent ID or, while reconciliation
// is pending, by provisional ID. Sender is the message's original author.
type MessageRef struct {
	ID          string
	Provisional int64
	Sender      string
}

// EventKind is a notification the gateway emits to clients.
type EventKind int

const (
	// EventChatMessage relays a peer's message, possibly still carrying
	// only provisional identifiers.
	EventChatMessage EventKind = iota
	// EventMessageAck acknowledges receipt of a message to its sender.
	// It does not imply durability.
	EventMessageAck
	// EventReconciliation carries the provisional-to-permanent ID mapping
	// for a chat and its messages.
	EventReconciliation
	// EventSeenBy notifies a message author that a peer has seen messages.
	EventSeenBy
	// EventTyping forwards a typing indicator.
	EventTyping
	// EventUserOnline notifies that a chat peer connected.
	EventUserOnline
	// EventUserOffline notifies that a chat peer disconnected.
	EventUserOffline
	// EventUserStatus answers an on-demand presence query.
	EventUserStatus
	// EventError reports a gateway-level failure to the issuing connection.
	EventError
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind     EventKind
	Chat     ChatRef
	UserID   string // subject of presence events
	Online   bool
	LastSeen int64 // unix milliseconds
	Sender   string
	Target   string
	Message  MessageBody
	ChatPair *ChatIDPair
	Pairs    []MessageIDPair
	Marker   string
	Seen     []MessageRef
	Error    *Error
}

// Error codes surfaced in error events.
const (
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeBadRequest   = "bad_request"
	ErrCodePersistence  = "persistence_failed"
)

// Error wraps a machine code and a human-readable message.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
