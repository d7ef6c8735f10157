package gateway

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ostrovskym/relaygate-server/internal/coord"
	"github.com/ostrovskym/relaygate-server/internal/store"
)

// fakeStore is an in-memory store.Store for gateway tests. It mirrors the
// SQLite behavior the gateway relies on: direct-key dedupe, batches returned
// most-recent-first, and seen marks skipping the marker's own messages.
type fakeStore struct {
	mu        sync.Mutex
	chatByKey map[string]string   // direct key -> chat id
	members   map[string][]string // chat id -> user ids
	userChats map[string][]string // user id -> chat ids
	messages  map[string][]*store.Message
	seen      map[string]map[string]bool // message id -> markers
	lastSeen  map[string]int64
	nextChat  int
	nextMsg   int

	failCreateMessages bool
	failMarkSeen       bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		chatByKey: make(map[string]string),
		members:   make(map[string][]string),
		userChats: make(map[string][]string),
		messages:  make(map[string][]*store.Message),
		seen:      make(map[string]map[string]bool),
		lastSeen:  make(map[string]int64),
	}
}

func directKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

func (f *fakeStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	return &store.User{ID: username, Username: username, PasswordHash: passwordHash}, nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	return nil, store.ErrNotFound
}

func (f *fakeStore) FindOrCreateDirectChat(ctx context.Context, userA, userB string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := directKey(userA, userB)
	if id, ok := f.chatByKey[key]; ok {
		return id, nil
	}
	f.nextChat++
	id := "chat-" + strconv.Itoa(f.nextChat)
	f.chatByKey[key] = id
	f.members[id] = []string{userA, userB}
	f.userChats[userA] = append(f.userChats[userA], id)
	f.userChats[userB] = append(f.userChats[userB], id)
	return id, nil
}

// addChat seeds an existing conversation without going through creation.
func (f *fakeStore) addChat(id string, users ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[id] = users
	for _, u := range users {
		f.userChats[u] = append(f.userChats[u], id)
	}
}

func (f *fakeStore) ListChatsOf(ctx context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.userChats[userID]...), nil
}

func (f *fakeStore) ListChatMembers(ctx context.Context, chatID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.members[chatID]...), nil
}

func (f *fakeStore) CreateMessages(ctx context.Context, chatID string, msgs []store.NewMessage) ([]*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failCreateMessages {
		return nil, errStoreDown
	}

	stored := make([]*store.Message, 0, len(msgs))
	for _, m := range msgs {
		f.nextMsg++
		msg := &store.Message{
			ID:       "msg-" + strconv.Itoa(f.nextMsg),
			ChatID:   chatID,
			SenderID: m.SenderID,
			Content:  m.Content,
			ClientTS: m.ClientTS,
		}
		f.messages[chatID] = append(f.messages[chatID], msg)
		stored = append(stored, msg)
	}

	out := make([]*store.Message, len(stored))
	for i, m := range stored {
		out[len(stored)-1-i] = m
	}
	return out, nil
}

func (f *fakeStore) MarkMessagesSeen(ctx context.Context, markerID, chatID string, messageIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failMarkSeen {
		return errStoreDown
	}

	for _, id := range messageIDs {
		var msg *store.Message
		for _, m := range f.messages[chatID] {
			if m.ID == id {
				msg = m
				break
			}
		}
		if msg == nil || msg.SenderID == markerID {
			continue
		}
		if f.seen[id] == nil {
			f.seen[id] = make(map[string]bool)
		}
		f.seen[id][markerID] = true
	}
	return nil
}

func (f *fakeStore) ListMessages(ctx context.Context, chatID string, limit int) ([]*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[chatID]
	out := make([]*store.Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		out = append(out, msgs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) SetLastSeen(ctx context.Context, userID string, tsMillis int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSeen[userID] = tsMillis
	return nil
}

func (f *fakeStore) GetLastSeen(ctx context.Context, userID string) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts, ok := f.lastSeen[userID]
	return ts, ok, nil
}

func (f *fakeStore) Close() error { return nil }

// seenBy reports the markers recorded for a message, sorted.
func (f *fakeStore) seenBy(messageID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	markers := make([]string, 0, len(f.seen[messageID]))
	for m := range f.seen[messageID] {
		markers = append(markers, m)
	}
	sort.Strings(markers)
	return markers
}

// contents returns message contents for a chat in insertion order.
func (f *fakeStore) contents(chatID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.messages[chatID]))
	for _, m := range f.messages[chatID] {
		out = append(out, m.Content)
	}
	return out
}

var errStoreDown = &Error{Code: ErrCodePersistence, Message: "store down"}

func newTestGateway(t *testing.T) (*Gateway, *fakeStore, *coord.MemoryBuffer) {
	t.Helper()
	st := newFakeStore()
	buf := coord.NewMemory()
	logger := zerolog.Nop()
	return New(st, buf, &logger), st, buf
}

// connect registers a client for the user and drains any presence events
// produced by registration so tests start from an empty channel.
func connect(t *testing.T, gw *Gateway, userID string) *Client {
	t.Helper()
	c := NewClient("conn-" + userID)
	if err := gw.Connect(context.Background(), c, userID); err != nil {
		t.Fatalf("connect %s: %v", userID, err)
	}
	drainEvents(c)
	return c
}

func drainEvents(c *Client) {
	for {
		select {
		case <-c.Events:
		default:
			return
		}
	}
}

// mustEvent pops the next pending event and asserts its kind. Handlers run
// synchronously, so delivered events are already buffered.
func mustEvent(t *testing.T, c *Client, kind EventKind) *Event {
	t.Helper()
	select {
	case ev := <-c.Events:
		if ev.Kind != kind {
			t.Fatalf("event kind = %d, want %d", ev.Kind, kind)
		}
		return ev
	default:
		t.Fatalf("no buffered event, want kind %d", kind)
		return nil
	}
}

func mustNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case ev := <-c.Events:
		t.Fatalf("unexpected event kind %d", ev.Kind)
	default:
	}
}
