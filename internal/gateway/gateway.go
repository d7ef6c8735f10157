// Package gateway implements the real-time chat gateway: presence tracking
// over live connections, best-effort message relay, and reconciliation of
// client-minted provisional identifiers with permanent ones once rows are
// durably stored.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ostrovskym/relaygate-server/internal/coord"
	"github.com/ostrovskym/relaygate-server/internal/store"
)

// Gateway coordinates the presence directory, the persistence collaborator
// and the durable coordination buffer. Handlers are invoked synchronously
// from each connection's read loop, so events from one connection are
// processed in arrival order; handlers for different connections interleave
// only at calls into the store or the buffer.
type Gateway struct {
	dir   *Directory
	store store.Store
	buf   coord.Buffer
	log   *zerolog.Logger
}

// New constructs a gateway over the given collaborators.
func New(st store.Store, buf coord.Buffer, logger *zerolog.Logger) *Gateway {
	return &Gateway{
		dir:   NewDirectory(),
		store: st,
		buf:   buf,
		log:   logger,
	}
}

// Directory exposes the presence directory for transport-level queries.
func (g *Gateway) Directory() *Directory {
	return g.dir
}

// Connect registers an authenticated connection: it resolves the user's
// existing conversations, joins their rooms, and exchanges one online
// notification per distinct already-present peer in both directions.
func (g *Gateway) Connect(ctx context.Context, c *Client, userID string) error {
	chats, err := g.store.ListChatsOf(ctx, userID)
	if err != nil {
		return fmt.Errorf("list chats of %s: %w", userID, err)
	}

	peers := g.dir.Register(userID, c, chats)
	c.UserID = userID

	for peerID, peerConn := range peers {
		peerConn.send(&Event{Kind: EventUserOnline, UserID: userID})
		c.send(&Event{Kind: EventUserOnline, UserID: peerID})
	}

	g.log.Debug().
		Str("user_id", userID).
		Str("conn_id", c.ID).
		Int("rooms", len(chats)).
		Int("online_peers", len(peers)).
		Msg("connection registered")
	return nil
}

// Disconnect removes the connection from every room it occupied, notifies
// each distinct remaining peer exactly once, and persists the last-seen
// timestamp. Safe to call for connections that never authenticated.
func (g *Gateway) Disconnect(ctx context.Context, c *Client) {
	userID, peers, ok := g.dir.Remove(c)
	if !ok {
		return
	}

	lastSeen := time.Now().UnixMilli()
	for _, peerConn := range peers {
		peerConn.send(&Event{Kind: EventUserOffline, UserID: userID, LastSeen: lastSeen})
	}

	if err := g.store.SetLastSeen(ctx, userID, lastSeen); err != nil {
		g.log.Error().Err(err).Str("user_id", userID).Msg("persist last seen")
	}

	g.log.Debug().
		Str("user_id", userID).
		Str("conn_id", c.ID).
		Int("notified_peers", len(peers)).
		Msg("connection removed")
}

// Dispatch routes one inbound event to its handler. The switch is
// exhaustive over InboundKind; unknown payloads are ignored without reply.
func (g *Gateway) Dispatch(ctx context.Context, c *Client, in *Inbound) {
	switch in.Kind {
	case InboundChatMessage:
		if in.Chat == nil {
			return
		}
		g.handleChatMessage(ctx, c, in.Chat)
	case InboundMessagesSeen:
		if in.Seen == nil {
			return
		}
		g.handleSeenReceipt(ctx, c, in.Seen)
	case InboundTyping:
		if in.Typing == nil {
			return
		}
		g.handleTyping(c, in.Typing)
	case InboundPresenceQuery:
		if in.Query == nil {
			return
		}
		g.handlePresenceQuery(ctx, c, in.Query)
	}
}

// handleTyping forwards the indicator to every other connection in the
// room. No state is kept; peers of a room that has not been reconciled yet
// simply receive nothing.
func (g *Gateway) handleTyping(c *Client, t *Typing) {
	if t.Chat.IsProvisional() {
		return
	}
	for conn := range g.dir.MembersOf(t.Chat.ID) {
		if conn == c {
			continue
		}
		conn.send(&Event{Kind: EventTyping, Chat: t.Chat, Sender: c.UserID})
	}
}

// handlePresenceQuery answers with live status, falling back to the
// persisted last-seen timestamp. Unknown users are answered as offline.
func (g *Gateway) handlePresenceQuery(ctx context.Context, c *Client, q *PresenceQuery) {
	if _, ok := g.dir.Lookup(q.UserID); ok {
		c.send(&Event{Kind: EventUserStatus, UserID: q.UserID, Online: true})
		return
	}

	ts, _, err := g.store.GetLastSeen(ctx, q.UserID)
	if err != nil {
		g.log.Warn().Err(err).Str("user_id", q.UserID).Msg("read last seen")
		ts = 0
	}
	c.send(&Event{Kind: EventUserStatus, UserID: q.UserID, Online: false, LastSeen: ts})
}

// failPersist logs a persistence failure and surfaces it to the issuing
// connection as an error event. There is no automatic retry; the persisted
// history remains the source of truth for reconnecting clients.
func (g *Gateway) failPersist(c *Client, err error, op string) {
	g.log.Error().Err(err).Str("op", op).Str("user_id", c.UserID).Msg("persistence failure")
	c.send(&Event{Kind: EventError, Error: &Error{Code: ErrCodePersistence, Message: op + " failed"}})
}
