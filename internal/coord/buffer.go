// Package coord provides the durable coordination buffer: a shared,
// key-ordered list store used as a rendezvous primitive between gateway
// processes. Its schema is limited to two key families: pending chat
// creation and pending seen receipts.
package coord

import (
	"context"
	"strconv"
)

// Buffer is an append-only ordered list store keyed by string.
//
// Append returns the list length after the append; a result of 1 means the
// key did not exist before, which callers use as the atomic "first writer"
// signal when arbitrating concurrent chat creation.
type Buffer interface {
	Exists(ctx context.Context, key string) (bool, error)
	Append(ctx context.Context, key string, value []byte) (int64, error)
	ListAll(ctx context.Context, key string) ([][]byte, error)
	Delete(ctx context.Context, key string) error
}

// PendingChatKey is the buffer key for messages accumulated while a chat
// identified only by a client-minted provisional ID is being created.
func PendingChatKey(provisionalChatID int64) string {
	return "pending:chat:" + strconv.FormatInt(provisionalChatID, 10)
}

// PendingSeenKey is the buffer key for seen receipts that reference
// messages without permanent IDs yet. ref is either the provisional chat
// ID rendered as a number or the permanent chat ID; the two never collide
// because permanent IDs are UUIDs.
func PendingSeenKey(ref string) string {
	return "pending:seen:" + ref
}
