package gateway

import (
	"context"
	"encoding/json"

	"github.com/ostrovskym/relaygate-server/internal/coord"
	"github.com/ostrovskym/relaygate-server/internal/store"
)

// bufferedMessage is the coordination buffer entry for a message sent into
// a not-yet-created chat.
type bufferedMessage struct {
	ProvisionalID int64  `json:"provisionalId"`
	Content       string `json:"content"`
	SentAt        int64  `json:"sentAt"`
	Sender        string `json:"sender"`
	Target        string `json:"target"`
}

// bufferedReceipt is the coordination buffer entry for a seen receipt that
// references a message without a permanent ID yet.
type bufferedReceipt struct {
	Provisional int64  `json:"provisional"`
	Marker      string `json:"marker"`
}

// handleChatMessage is the reconciliation entry point. The sender is always
// acknowledged first; durability follows.
func (g *Gateway) handleChatMessage(ctx context.Context, c *Client, msg *ChatMessage) {
	sender := c.UserID

	c.send(&Event{
		Kind:    EventMessageAck,
		Chat:    msg.Chat,
		Message: MessageBody{ProvisionalID: msg.Message.ProvisionalID},
	})

	if !msg.Chat.IsProvisional() {
		g.persistToExistingChat(ctx, c, msg, sender)
		return
	}

	if msg.Target == "" {
		// Malformed: a provisional room needs a target peer. Ignored.
		return
	}

	// Best-effort relay so the recipient sees the message before any
	// conversation row exists.
	if peer, ok := g.dir.Lookup(msg.Target); ok {
		peer.send(&Event{
			Kind:    EventChatMessage,
			Chat:    msg.Chat,
			Sender:  sender,
			Target:  msg.Target,
			Message: msg.Message,
		})
	}

	entry := bufferedMessage{
		ProvisionalID: msg.Message.ProvisionalID,
		Content:       msg.Message.Content,
		SentAt:        msg.Message.SentAt,
		Sender:        sender,
		Target:        msg.Target,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		g.failPersist(c, err, "encode pending message")
		return
	}

	key := coord.PendingChatKey(msg.Chat.Provisional)
	n, err := g.buf.Append(ctx, key, raw)
	if err != nil {
		g.failPersist(c, err, "buffer pending message")
		return
	}
	if n > 1 {
		// Another handler is already driving creation for this provisional
		// room; our envelope rides along in the buffer and will be paired
		// in the creator's broadcast.
		return
	}

	g.createChatFromBuffer(ctx, c, msg, sender)
}

// persistToExistingChat handles the permanent-room path: relay, persist one
// row, broadcast the single ID pair, then drain pending receipts.
func (g *Gateway) persistToExistingChat(ctx context.Context, c *Client, msg *ChatMessage, sender string) {
	chatID := msg.Chat.ID

	for conn := range g.dir.MembersOf(chatID) {
		if conn == c {
			continue
		}
		conn.send(&Event{
			Kind:    EventChatMessage,
			Chat:    msg.Chat,
			Sender:  sender,
			Message: msg.Message,
		})
	}

	stored, err := g.store.CreateMessages(ctx, chatID, []store.NewMessage{{
		SenderID: sender,
		Content:  msg.Message.Content,
		ClientTS: msg.Message.SentAt,
	}})
	if err != nil {
		g.failPersist(c, err, "store message")
		return
	}

	pairs := []MessageIDPair{{
		Provisional: msg.Message.ProvisionalID,
		MessageID:   stored[0].ID,
		Sender:      sender,
	}}
	g.broadcastReconciliation(chatID, nil, pairs)
	g.drainPendingSeen(ctx, chatID, pairs)
}

// createChatFromBuffer is the creator path: this connection won the atomic
// first-append and is responsible for creating the conversation, persisting
// the full buffered batch, migrating pending receipts, and broadcasting the
// complete ID mapping.
func (g *Gateway) createChatFromBuffer(ctx context.Context, c *Client, msg *ChatMessage, sender string) {
	chatID, err := g.store.FindOrCreateDirectChat(ctx, sender, msg.Target)
	if err != nil {
		g.failPersist(c, err, "create chat")
		return
	}

	pendingKey := coord.PendingChatKey(msg.Chat.Provisional)
	rawEntries, err := g.buf.ListAll(ctx, pendingKey)
	if err != nil {
		g.failPersist(c, err, "drain pending messages")
		return
	}

	buffered := make([]bufferedMessage, 0, len(rawEntries))
	batch := make([]store.NewMessage, 0, len(rawEntries))
	for _, raw := range rawEntries {
		var bm bufferedMessage
		if err := json.Unmarshal(raw, &bm); err != nil {
			g.log.Warn().Err(err).Str("key", pendingKey).Msg("skip undecodable buffer entry")
			continue
		}
		buffered = append(buffered, bm)
		batch = append(batch, store.NewMessage{
			SenderID: bm.Sender,
			Content:  bm.Content,
			ClientTS: bm.SentAt,
		})
	}
	if len(batch) == 0 {
		return
	}

	stored, err := g.store.CreateMessages(ctx, chatID, batch)
	if err != nil {
		g.failPersist(c, err, "store message batch")
		return
	}
	pairs := pairProvisionalIDs(buffered, stored)

	// Re-key receipts buffered against the provisional chat before retiring
	// the provisional ID.
	g.migratePendingSeen(ctx, msg.Chat.Key(), chatID)
	if err := g.buf.Delete(ctx, pendingKey); err != nil {
		g.log.Error().Err(err).Str("key", pendingKey).Msg("retire pending chat key")
	}

	g.dir.Bind(chatID, sender, c)
	if peer, ok := g.dir.Lookup(msg.Target); ok {
		g.dir.Bind(chatID, msg.Target, peer)
	}

	g.broadcastReconciliation(chatID, &ChatIDPair{
		Provisional: msg.Chat.Provisional,
		ChatID:      chatID,
	}, pairs)
	g.drainPendingSeen(ctx, chatID, pairs)
}

// pairProvisionalIDs matches buffered envelopes with stored rows. The store
// returns rows most-recent-first, so the stored list is walked backward
// against the buffered list to preserve original relative send order for
// any batch size.
func pairProvisionalIDs(buffered []bufferedMessage, stored []*store.Message) []MessageIDPair {
	pairs := make([]MessageIDPair, 0, len(buffered))
	i, j := 0, len(stored)-1
	for i < len(buffered) && j >= 0 {
		pairs = append(pairs, MessageIDPair{
			Provisional: buffered[i].ProvisionalID,
			MessageID:   stored[j].ID,
			Sender:      buffered[i].Sender,
		})
		i++
		j--
	}
	return pairs
}

// broadcastReconciliation sends the ID mapping to every present member of
// the room, sender included, so each client can fix up its optimistic copy.
func (g *Gateway) broadcastReconciliation(chatID string, chatPair *ChatIDPair, pairs []MessageIDPair) {
	ev := &Event{
		Kind:     EventReconciliation,
		Chat:     ChatRef{ID: chatID},
		ChatPair: chatPair,
		Pairs:    pairs,
	}
	for conn := range g.dir.MembersOf(chatID) {
		conn.send(ev)
	}
}

// migratePendingSeen appends every receipt buffered under the provisional
// reference to the permanent key, then deletes the provisional key.
func (g *Gateway) migratePendingSeen(ctx context.Context, provisionalRef, chatID string) {
	provKey := coord.PendingSeenKey(provisionalRef)
	ok, err := g.buf.Exists(ctx, provKey)
	if err != nil {
		g.log.Error().Err(err).Str("key", provKey).Msg("check pending receipts")
		return
	}
	if !ok {
		return
	}

	entries, err := g.buf.ListAll(ctx, provKey)
	if err != nil {
		g.log.Error().Err(err).Str("key", provKey).Msg("read pending receipts")
		return
	}
	permKey := coord.PendingSeenKey(chatID)
	for _, e := range entries {
		if _, err := g.buf.Append(ctx, permKey, e); err != nil {
			g.log.Error().Err(err).Str("key", permKey).Msg("migrate pending receipt")
		}
	}
	if err := g.buf.Delete(ctx, provKey); err != nil {
		g.log.Error().Err(err).Str("key", provKey).Msg("retire pending receipt key")
	}
}

// drainPendingSeen applies every buffered receipt that resolves against the
// ID mapping just produced. Receipts that do not resolve (they reference
// messages from a batch still in flight) are re-appended rather than lost.
func (g *Gateway) drainPendingSeen(ctx context.Context, chatID string, pairs []MessageIDPair) {
	key := coord.PendingSeenKey(chatID)
	ok, err := g.buf.Exists(ctx, key)
	if err != nil || !ok {
		return
	}

	entries, err := g.buf.ListAll(ctx, key)
	if err != nil {
		g.log.Error().Err(err).Str("key", key).Msg("read pending receipts")
		return
	}
	if err := g.buf.Delete(ctx, key); err != nil {
		g.log.Error().Err(err).Str("key", key).Msg("clear pending receipts")
		return
	}

	byProvisional := make(map[int64]string, len(pairs))
	for _, p := range pairs {
		byProvisional[p.Provisional] = p.MessageID
	}

	resolved := make(map[string][]string) // marker -> permanent message ids
	for _, raw := range entries {
		var r bufferedReceipt
		if err := json.Unmarshal(raw, &r); err != nil {
			continue
		}
		msgID, found := byProvisional[r.Provisional]
		if !found {
			if _, err := g.buf.Append(ctx, key, raw); err != nil {
				g.log.Error().Err(err).Str("key", key).Msg("requeue pending receipt")
			}
			continue
		}
		resolved[r.Marker] = append(resolved[r.Marker], msgID)
	}

	for marker, ids := range resolved {
		if err := g.store.MarkMessagesSeen(ctx, marker, chatID, ids); err != nil {
			g.log.Error().Err(err).Str("marker", marker).Str("chat_id", chatID).Msg("apply pending seen marks")
		}
	}
}

// handleSeenReceipt applies a seen receipt: authors with live connections
// are notified, and the seen state is persisted unless any referenced
// message still carries a provisional ID, in which case those references
// are buffered for the reconciliation drain.
func (g *Gateway) handleSeenReceipt(ctx context.Context, c *Client, receipt *SeenReceipt) {
	marker := c.UserID
	if len(receipt.Messages) == 0 {
		return
	}

	seenKey := coord.PendingSeenKey(receipt.Chat.Key())
	bySender := make(map[string][]MessageRef)
	pending := false

	for _, ref := range receipt.Messages {
		bySender[ref.Sender] = append(bySender[ref.Sender], ref)
		if ref.ID != "" {
			continue
		}
		pending = true
		raw, err := json.Marshal(bufferedReceipt{Provisional: ref.Provisional, Marker: marker})
		if err != nil {
			continue
		}
		if _, err := g.buf.Append(ctx, seenKey, raw); err != nil {
			g.log.Error().Err(err).Str("key", seenKey).Msg("buffer pending receipt")
		}
	}

	for senderID, refs := range bySender {
		if senderID == marker {
			// A marker never "sees" its own messages.
			continue
		}
		if conn, ok := g.dir.Lookup(senderID); ok {
			conn.send(&Event{
				Kind:   EventSeenBy,
				Chat:   receipt.Chat,
				Marker: marker,
				Seen:   refs,
			})
		}
	}

	if pending || receipt.Chat.IsProvisional() {
		return
	}

	ids := make([]string, 0, len(receipt.Messages))
	for _, ref := range receipt.Messages {
		ids = append(ids, ref.ID)
	}
	if err := g.store.MarkMessagesSeen(ctx, marker, receipt.Chat.ID, ids); err != nil {
		g.failPersist(c, err, "mark seen")
	}
}
