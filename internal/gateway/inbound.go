package gateway

// InboundKind enumerates every event a connection can send after
// authentication. The dispatcher switches exhaustively on it, so adding a
// kind is a compile-time-checked change.
type InboundKind int

const (
	// InboundChatMessage delivers a chat message into a permanent or
	// provisional room.
	InboundChatMessage InboundKind = iota
	// InboundMessagesSeen reports that the connection's user has seen a
	// set of messages.
	InboundMessagesSeen
	// InboundTyping signals that the user is typing in a room.
	InboundTyping
	// InboundPresenceQuery asks whether a user is currently online.
	InboundPresenceQuery
)

// Inbound is the closed variant of post-authentication client events.
// Exactly one payload field matching Kind is non-nil.
type Inbound struct {
	Kind   InboundKind
	Chat   *ChatMessage
	Seen   *SeenReceipt
	Typing *Typing
	Query  *PresenceQuery
}

// ChatMessage is a message sent into a room. Target names the peer user and
// is required when the room reference is provisional (no conversation row
// exists yet).
type ChatMessage struct {
	Chat    ChatRef
	Target  string
	Message MessageBody
}

// SeenReceipt reports messages seen by the connection's user.
type SeenReceipt struct {
	Chat     ChatRef
	Messages []MessageRef
}

// Typing is a transient typing indicator for a room.
type Typing struct {
	Chat ChatRef
}

// PresenceQuery asks for a user's live status.
type PresenceQuery struct {
	UserID string
}
