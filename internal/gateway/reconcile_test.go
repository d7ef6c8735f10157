package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ostrovskym/relaygate-server/internal/coord"
	"github.com/ostrovskym/relaygate-server/internal/store"
	"github.com/rs/zerolog"
)

func TestMessageToExistingChat(t *testing.T) {
	gw, st, _ := newTestGateway(t)
	st.addChat("chat-1", "alice", "bob")
	alice := connect(t, gw, "alice")
	bob := connect(t, gw, "bob")
	drainEvents(alice)

	gw.Dispatch(context.Background(), alice, &Inbound{
		Kind: InboundChatMessage,
		Chat: &ChatMessage{
			Chat:    ChatRef{ID: "chat-1"},
			Message: MessageBody{ProvisionalID: -5, Content: "hi", SentAt: 111},
		},
	})

	// The sender is acknowledged before anything touches storage.
	ack := mustEvent(t, alice, EventMessageAck)
	if ack.Message.ProvisionalID != -5 || ack.Chat.ID != "chat-1" {
		t.Fatalf("ack = %+v, want provisional -5 in chat-1", ack)
	}

	relay := mustEvent(t, bob, EventChatMessage)
	if relay.Sender != "alice" || relay.Message.Content != "hi" {
		t.Fatalf("relay = %+v, want alice's message", relay)
	}

	for _, c := range []*Client{alice, bob} {
		rec := mustEvent(t, c, EventReconciliation)
		if rec.ChatPair != nil {
			t.Fatalf("unexpected chat pair on permanent-room path: %+v", rec.ChatPair)
		}
		if len(rec.Pairs) != 1 {
			t.Fatalf("pairs = %d, want 1", len(rec.Pairs))
		}
		p := rec.Pairs[0]
		if p.Provisional != -5 || p.MessageID == "" || p.Sender != "alice" {
			t.Fatalf("pair = %+v", p)
		}
	}

	if got := st.contents("chat-1"); len(got) != 1 || got[0] != "hi" {
		t.Fatalf("stored contents = %v, want [hi]", got)
	}
}

func TestFirstMessageCreatesChat(t *testing.T) {
	gw, st, buf := newTestGateway(t)
	alice := connect(t, gw, "alice")
	bob := connect(t, gw, "bob")

	gw.Dispatch(context.Background(), alice, &Inbound{
		Kind: InboundChatMessage,
		Chat: &ChatMessage{
			Chat:    ChatRef{Provisional: -1},
			Target:  "bob",
			Message: MessageBody{ProvisionalID: -10, Content: "hello", SentAt: 222},
		},
	})

	mustEvent(t, alice, EventMessageAck)

	// The target saw the message before any conversation row existed.
	relay := mustEvent(t, bob, EventChatMessage)
	if !relay.Chat.IsProvisional() || relay.Chat.Provisional != -1 {
		t.Fatalf("relay chat ref = %+v, want provisional -1", relay.Chat)
	}
	if relay.Sender != "alice" || relay.Target != "bob" {
		t.Fatalf("relay = %+v", relay)
	}

	var chatID string
	for _, c := range []*Client{alice, bob} {
		rec := mustEvent(t, c, EventReconciliation)
		if rec.ChatPair == nil || rec.ChatPair.Provisional != -1 {
			t.Fatalf("reconciliation missing chat pair: %+v", rec)
		}
		chatID = rec.ChatPair.ChatID
		if len(rec.Pairs) != 1 || rec.Pairs[0].Provisional != -10 {
			t.Fatalf("pairs = %+v, want single -10 mapping", rec.Pairs)
		}
	}

	// Both sides are live members of the permanent room now.
	members := gw.Directory().MembersOf(chatID)
	if len(members) != 2 {
		t.Fatalf("members = %d, want 2", len(members))
	}

	// The pending buffer was retired.
	ok, err := buf.Exists(context.Background(), coord.PendingChatKey(-1))
	if err != nil || ok {
		t.Fatalf("pending key still present (ok=%v, err=%v)", ok, err)
	}

	if got := st.contents(chatID); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("stored contents = %v, want [hello]", got)
	}
}

func TestFirstMessageToOfflineTarget(t *testing.T) {
	gw, st, _ := newTestGateway(t)
	alice := connect(t, gw, "alice")

	gw.Dispatch(context.Background(), alice, &Inbound{
		Kind: InboundChatMessage,
		Chat: &ChatMessage{
			Chat:    ChatRef{Provisional: -1},
			Target:  "bob",
			Message: MessageBody{ProvisionalID: -10, Content: "hello", SentAt: 222},
		},
	})

	mustEvent(t, alice, EventMessageAck)
	rec := mustEvent(t, alice, EventReconciliation)
	if rec.ChatPair == nil {
		t.Fatal("reconciliation missing chat pair")
	}

	// Bob reconciles through chat history on his next connect.
	if got := st.contents(rec.ChatPair.ChatID); len(got) != 1 {
		t.Fatalf("stored contents = %v, want one message", got)
	}
}

func TestProvisionalMessageWithoutTargetIgnored(t *testing.T) {
	gw, st, buf := newTestGateway(t)
	alice := connect(t, gw, "alice")

	gw.Dispatch(context.Background(), alice, &Inbound{
		Kind: InboundChatMessage,
		Chat: &ChatMessage{
			Chat:    ChatRef{Provisional: -1},
			Message: MessageBody{ProvisionalID: -10, Content: "hello"},
		},
	})

	mustEvent(t, alice, EventMessageAck)
	mustNoEvent(t, alice)

	if len(st.chatByKey) != 0 {
		t.Fatal("chat created for malformed message")
	}
	if ok, _ := buf.Exists(context.Background(), coord.PendingChatKey(-1)); ok {
		t.Fatal("malformed message was buffered")
	}
}

func TestSimultaneousFirstMessagesConverge(t *testing.T) {
	gw, st, _ := newTestGateway(t)
	alice := connect(t, gw, "alice")
	bob := connect(t, gw, "bob")

	// Each side minted its own provisional room number before either knew
	// the conversation existed.
	gw.Dispatch(context.Background(), alice, &Inbound{
		Kind: InboundChatMessage,
		Chat: &ChatMessage{
			Chat:    ChatRef{Provisional: -1},
			Target:  "bob",
			Message: MessageBody{ProvisionalID: -10, Content: "from alice"},
		},
	})
	gw.Dispatch(context.Background(), bob, &Inbound{
		Kind: InboundChatMessage,
		Chat: &ChatMessage{
			Chat:    ChatRef{Provisional: -2},
			Target:  "alice",
			Message: MessageBody{ProvisionalID: -20, Content: "from bob"},
		},
	})

	if len(st.chatByKey) != 1 {
		t.Fatalf("chats created = %d, want 1", len(st.chatByKey))
	}
	chatID := st.chatByKey[directKey("alice", "bob")]

	got := st.contents(chatID)
	if len(got) != 2 || got[0] != "from alice" || got[1] != "from bob" {
		t.Fatalf("stored contents = %v", got)
	}
}

// hookBuffer lets a test splice extra envelopes into the pending buffer
// between the creator's winning append and its drain, reproducing the
// append-rides-along interleaving.
type hookBuffer struct {
	*coord.MemoryBuffer
	onAppend func(key string)
}

func (h *hookBuffer) Append(ctx context.Context, key string, value []byte) (int64, error) {
	n, err := h.MemoryBuffer.Append(ctx, key, value)
	if h.onAppend != nil {
		hook := h.onAppend
		h.onAppend = nil
		hook(key)
	}
	return n, err
}

func TestCreatorDrainsRiddenAlongMessages(t *testing.T) {
	st := newFakeStore()
	buf := &hookBuffer{MemoryBuffer: coord.NewMemory()}
	logger := zerolog.Nop()
	gw := New(st, buf, &logger)

	alice := connect(t, gw, "alice")
	bob := connect(t, gw, "bob")

	// Bob's envelope lands in the buffer after alice's winning append but
	// before her drain; her batch must carry it.
	buf.onAppend = func(key string) {
		raw, err := json.Marshal(bufferedMessage{
			ProvisionalID: -20,
			Content:       "from bob",
			SentAt:        2,
			Sender:        "bob",
			Target:        "alice",
		})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if _, err := buf.MemoryBuffer.Append(context.Background(), key, raw); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	gw.Dispatch(context.Background(), alice, &Inbound{
		Kind: InboundChatMessage,
		Chat: &ChatMessage{
			Chat:    ChatRef{Provisional: -1},
			Target:  "bob",
			Message: MessageBody{ProvisionalID: -10, Content: "from alice", SentAt: 1},
		},
	})

	mustEvent(t, alice, EventMessageAck)
	rec := mustEvent(t, alice, EventReconciliation)
	if len(rec.Pairs) != 2 {
		t.Fatalf("pairs = %d, want 2", len(rec.Pairs))
	}
	if rec.Pairs[0].Provisional != -10 || rec.Pairs[0].Sender != "alice" {
		t.Fatalf("first pair = %+v, want alice's -10", rec.Pairs[0])
	}
	if rec.Pairs[1].Provisional != -20 || rec.Pairs[1].Sender != "bob" {
		t.Fatalf("second pair = %+v, want bob's -20", rec.Pairs[1])
	}

	chatID := rec.ChatPair.ChatID
	got := st.contents(chatID)
	if len(got) != 2 || got[0] != "from alice" || got[1] != "from bob" {
		t.Fatalf("stored contents = %v", got)
	}
	drainEvents(bob)
}

func TestPairProvisionalIDsPreservesSendOrder(t *testing.T) {
	buffered := []bufferedMessage{
		{ProvisionalID: -1, Sender: "alice"},
		{ProvisionalID: -2, Sender: "alice"},
		{ProvisionalID: -3, Sender: "bob"},
	}
	// Stored rows arrive most-recent-first.
	stored := []*store.Message{
		{ID: "msg-3"},
		{ID: "msg-2"},
		{ID: "msg-1"},
	}

	pairs := pairProvisionalIDs(buffered, stored)
	if len(pairs) != 3 {
		t.Fatalf("pairs = %d, want 3", len(pairs))
	}
	want := []MessageIDPair{
		{Provisional: -1, MessageID: "msg-1", Sender: "alice"},
		{Provisional: -2, MessageID: "msg-2", Sender: "alice"},
		{Provisional: -3, MessageID: "msg-3", Sender: "bob"},
	}
	for i, p := range pairs {
		if p != want[i] {
			t.Fatalf("pair[%d] = %+v, want %+v", i, p, want[i])
		}
	}
}

func TestSeenReceiptPersistsAndNotifiesAuthor(t *testing.T) {
	gw, st, _ := newTestGateway(t)
	st.addChat("chat-1", "alice", "bob")
	alice := connect(t, gw, "alice")
	bob := connect(t, gw, "bob")
	drainEvents(alice)

	stored, err := st.CreateMessages(context.Background(), "chat-1", []store.NewMessage{
		{SenderID: "alice", Content: "hi"},
	})
	if err != nil {
		t.Fatalf("seed message: %v", err)
	}
	msgID := stored[0].ID

	gw.Dispatch(context.Background(), bob, &Inbound{
		Kind: InboundMessagesSeen,
		Seen: &SeenReceipt{
			Chat:     ChatRef{ID: "chat-1"},
			Messages: []MessageRef{{ID: msgID, Sender: "alice"}},
		},
	})

	ev := mustEvent(t, alice, EventSeenBy)
	if ev.Marker != "bob" || len(ev.Seen) != 1 || ev.Seen[0].ID != msgID {
		t.Fatalf("seen event = %+v", ev)
	}

	if got := st.seenBy(msgID); len(got) != 1 || got[0] != "bob" {
		t.Fatalf("seen markers = %v, want [bob]", got)
	}
}

func TestSeenReceiptNeverMarksOwnMessages(t *testing.T) {
	gw, st, _ := newTestGateway(t)
	st.addChat("chat-1", "alice", "bob")
	bob := connect(t, gw, "bob")

	stored, err := st.CreateMessages(context.Background(), "chat-1", []store.NewMessage{
		{SenderID: "bob", Content: "mine"},
	})
	if err != nil {
		t.Fatalf("seed message: %v", err)
	}
	msgID := stored[0].ID

	gw.Dispatch(context.Background(), bob, &Inbound{
		Kind: InboundMessagesSeen,
		Seen: &SeenReceipt{
			Chat:     ChatRef{ID: "chat-1"},
			Messages: []MessageRef{{ID: msgID, Sender: "bob"}},
		},
	})

	// No self-notification and no seen record for the author's own message.
	mustNoEvent(t, bob)
	if got := st.seenBy(msgID); len(got) != 0 {
		t.Fatalf("seen markers = %v, want none", got)
	}
}

func TestSeenReceiptIsIdempotent(t *testing.T) {
	gw, st, _ := newTestGateway(t)
	st.addChat("chat-1", "alice", "bob")
	bob := connect(t, gw, "bob")

	stored, err := st.CreateMessages(context.Background(), "chat-1", []store.NewMessage{
		{SenderID: "alice", Content: "hi"},
	})
	if err != nil {
		t.Fatalf("seed message: %v", err)
	}
	msgID := stored[0].ID

	receipt := &Inbound{
		Kind: InboundMessagesSeen,
		Seen: &SeenReceipt{
			Chat:     ChatRef{ID: "chat-1"},
			Messages: []MessageRef{{ID: msgID, Sender: "alice"}},
		},
	}
	gw.Dispatch(context.Background(), bob, receipt)
	gw.Dispatch(context.Background(), bob, receipt)

	if got := st.seenBy(msgID); len(got) != 1 || got[0] != "bob" {
		t.Fatalf("seen markers = %v, want [bob] exactly once", got)
	}
}

func TestProvisionalSeenAppliedAfterReconciliation(t *testing.T) {
	gw, st, _ := newTestGateway(t)
	alice := connect(t, gw, "alice")
	bob := connect(t, gw, "bob")

	// Bob saw alice's optimistic message before any row existed; the receipt
	// references only provisional IDs.
	gw.Dispatch(context.Background(), bob, &Inbound{
		Kind: InboundMessagesSeen,
		Seen: &SeenReceipt{
			Chat:     ChatRef{Provisional: -1},
			Messages: []MessageRef{{Provisional: -10, Sender: "alice"}},
		},
	})

	// The author still gets a live notification with provisional refs.
	ev := mustEvent(t, alice, EventSeenBy)
	if ev.Marker != "bob" || ev.Seen[0].Provisional != -10 {
		t.Fatalf("seen event = %+v", ev)
	}

	// Nothing persisted yet.
	for id := range st.seen {
		t.Fatalf("premature seen record for %s", id)
	}

	gw.Dispatch(context.Background(), alice, &Inbound{
		Kind: InboundChatMessage,
		Chat: &ChatMessage{
			Chat:    ChatRef{Provisional: -1},
			Target:  "bob",
			Message: MessageBody{ProvisionalID: -10, Content: "hello"},
		},
	})

	mustEvent(t, alice, EventMessageAck)
	rec := mustEvent(t, alice, EventReconciliation)
	msgID := rec.Pairs[0].MessageID

	if got := st.seenBy(msgID); len(got) != 1 || got[0] != "bob" {
		t.Fatalf("seen markers = %v, want [bob] after reconciliation", got)
	}
}

func TestUnresolvedSeenReceiptIsRequeued(t *testing.T) {
	gw, _, buf := newTestGateway(t)
	alice := connect(t, gw, "alice")
	bob := connect(t, gw, "bob")

	// Two receipts: one for the message about to reconcile, one for a
	// message still in flight.
	gw.Dispatch(context.Background(), bob, &Inbound{
		Kind: InboundMessagesSeen,
		Seen: &SeenReceipt{
			Chat: ChatRef{Provisional: -1},
			Messages: []MessageRef{
				{Provisional: -10, Sender: "alice"},
				{Provisional: -99, Sender: "alice"},
			},
		},
	})
	drainEvents(alice)

	gw.Dispatch(context.Background(), alice, &Inbound{
		Kind: InboundChatMessage,
		Chat: &ChatMessage{
			Chat:    ChatRef{Provisional: -1},
			Target:  "bob",
			Message: MessageBody{ProvisionalID: -10, Content: "hello"},
		},
	})
	mustEvent(t, alice, EventMessageAck)
	rec := mustEvent(t, alice, EventReconciliation)

	// The receipt for -99 could not resolve and must still be buffered
	// under the permanent room key.
	key := coord.PendingSeenKey(rec.ChatPair.ChatID)
	entries, err := buf.ListAll(context.Background(), key)
	if err != nil {
		t.Fatalf("list pending receipts: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("requeued receipts = %d, want 1", len(entries))
	}
	var r bufferedReceipt
	if err := json.Unmarshal(entries[0], &r); err != nil {
		t.Fatalf("decode requeued receipt: %v", err)
	}
	if r.Provisional != -99 || r.Marker != "bob" {
		t.Fatalf("requeued receipt = %+v", r)
	}
}

func TestPersistenceFailureSurfacesError(t *testing.T) {
	gw, st, _ := newTestGateway(t)
	st.addChat("chat-1", "alice", "bob")
	alice := connect(t, gw, "alice")
	st.failCreateMessages = true

	gw.Dispatch(context.Background(), alice, &Inbound{
		Kind: InboundChatMessage,
		Chat: &ChatMessage{
			Chat:    ChatRef{ID: "chat-1"},
			Message: MessageBody{ProvisionalID: -5, Content: "hi"},
		},
	})

	// Ack still arrives first; the failure follows as an error event.
	mustEvent(t, alice, EventMessageAck)
	ev := mustEvent(t, alice, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodePersistence {
		t.Fatalf("error event = %+v, want persistence code", ev)
	}
}
