// Package proto defines the JSON wire protocol between clients and the
// gateway. Every frame is an envelope {type, data}.
package proto

import "encoding/json"

// Inbound is the envelope for frames coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	InboundTypeHello        = "hello"
	InboundTypeChatMessage  = "chat_message"
	InboundTypeMessagesSeen = "messages_seen"
	InboundTypeTyping       = "typing"
	InboundTypeIsUserOnline = "is_user_online"

	OutboundTypeChatMessage    = "chat_message"
	OutboundTypeMessageAck     = "message_ack"
	OutboundTypeReconciliation = "id_reconciliation"
	OutboundTypeSeenBy         = "seen_by"
	OutboundTypeTyping         = "typing"
	OutboundTypeUserOnline     = "user_online"
	OutboundTypeUserOffline    = "user_offline"
	OutboundTypeUserStatus     = "user_status"
	OutboundTypeError          = "error"
)

// ChatRef names a conversation by permanent ID or, before creation, by a
// client-minted provisional number. Exactly one field is set.
type ChatRef struct {
	ID          string `json:"id,omitempty"`
	Provisional int64  `json:"provisional,omitempty"`
}

// MessagePayload is the client-side view of one message.
type MessagePayload struct {
	ProvisionalID int64  `json:"provisionalId"`
	Content       string `json:"content"`
	SentAt        int64  `json:"sentAt"` // client clock, unix milliseconds
}

// MessageRefPayload references a message by permanent or provisional ID,
// together with its original author.
type MessageRefPayload struct {
	ID          string `json:"id,omitempty"`
	Provisional int64  `json:"provisional,omitempty"`
	Sender      string `json:"sender"`
}

// HelloData authenticates the connection.
type HelloData struct {
	Token string `json:"token"`
}

// ChatMessageData is a message sent into a room. Target is the peer user ID
// and is required while the chat reference is provisional.
type ChatMessageData struct {
	Chat    ChatRef        `json:"chat"`
	Target  string         `json:"target,omitempty"`
	Message MessagePayload `json:"message"`
}

// MessagesSeenData reports messages the connection's user has seen.
type MessagesSeenData struct {
	Chat     ChatRef             `json:"chat"`
	Messages []MessageRefPayload `json:"messages"`
}

// TypingData signals typing activity in a room.
type TypingData struct {
	Chat ChatRef `json:"chat"`
}

// IsUserOnlineData asks for a user's live status.
type IsUserOnlineData struct {
	UserID string `json:"userId"`
}

// Outbound is the envelope for frames sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// EventChatMessage relays a peer's message, possibly still provisional.
type EventChatMessage struct {
	Chat    ChatRef        `json:"chat"`
	Sender  string         `json:"sender"`
	Target  string         `json:"target,omitempty"`
	Message MessagePayload `json:"message"`
}

// EventMessageAck acknowledges receipt of a message; it does not imply the
// message has been durably stored.
type EventMessageAck struct {
	Chat          ChatRef `json:"chat"`
	ProvisionalID int64   `json:"provisionalId"`
}

// ChatIDPair maps a provisional chat ID to the permanent one.
type ChatIDPair struct {
	Provisional int64  `json:"provisional"`
	ChatID      string `json:"chatId"`
}

// MessageIDPair maps a provisional message ID to the permanent one.
type MessageIDPair struct {
	Provisional int64  `json:"provisional"`
	MessageID   string `json:"messageId"`
	Sender      string `json:"sender"`
}

// EventReconciliation carries the provisional-to-permanent mapping for a
// chat and its messages.
type EventReconciliation struct {
	Chat     *ChatIDPair     `json:"chat,omitempty"`
	ChatID   string          `json:"chatId"`
	Messages []MessageIDPair `json:"messages"`
}

// EventSeenBy notifies a message author that a peer has seen messages.
type EventSeenBy struct {
	Chat     ChatRef             `json:"chat"`
	SeenBy   string              `json:"seenBy"`
	Messages []MessageRefPayload `json:"messages"`
}

// EventTyping forwards a typing indicator.
type EventTyping struct {
	Chat   ChatRef `json:"chat"`
	UserID string  `json:"userId"`
}

// EventUserOnline notifies that a chat peer connected.
type EventUserOnline struct {
	UserID string `json:"userId"`
}

// EventUserOffline notifies that a chat peer disconnected.
type EventUserOffline struct {
	UserID     string `json:"userId"`
	LastSeenAt int64  `json:"lastSeenAt"`
}

// EventUserStatus answers an is_user_online query.
type EventUserStatus struct {
	UserID     string `json:"userId"`
	Online     bool   `json:"online"`
	LastSeenAt int64  `json:"lastSeenAt,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
