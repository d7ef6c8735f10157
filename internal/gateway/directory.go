package gateway

import "sync"

// Directory is the in-memory presence directory: bidirectional maps between
// connections, user identities and rooms. It is strictly process-local; the
// only cross-process state lives in the coordination buffer.
//
// All maps belonging to one connection are updated under a single lock, so
// a handler running for a different connection never observes a partial
// registration or removal.
type Directory struct {
	mu          sync.RWMutex
	userConn    map[string]*Client
	connUser    map[*Client]string
	roomMembers map[string]map[*Client]string // room -> conn -> user
	connRooms   map[*Client]map[string]struct{}
}

// NewDirectory creates an empty presence directory.
func NewDirectory() *Directory {
	return &Directory{
		userConn:    make(map[string]*Client),
		connUser:    make(map[*Client]string),
		roomMembers: make(map[string]map[*Client]string),
		connRooms:   make(map[*Client]map[string]struct{}),
	}
}

// Register atomically associates the connection with the user and inserts it
// into every given room. It returns the distinct peers that were already
// present in any of those rooms (one connection per peer identity, the user
// itself excluded), captured before the insertion — the caller uses this set
// for online broadcasts.
//
// A newer connection for the same user overwrites the identity mapping; the
// older connection stays in its rooms until its own close removes it.
func (d *Directory) Register(userID string, c *Client, roomIDs []string) map[string]*Client {
	d.mu.Lock()
	defer d.mu.Unlock()

	peers := make(map[string]*Client)
	for _, roomID := range roomIDs {
		for conn, uid := range d.roomMembers[roomID] {
			if uid == userID {
				continue
			}
			if _, seen := peers[uid]; !seen {
				peers[uid] = conn
			}
		}
	}

	for _, roomID := range roomIDs {
		d.bindLocked(roomID, userID, c)
	}
	d.userConn[userID] = c
	d.connUser[c] = userID

	return peers
}

// Bind inserts a (user, connection) pair into a single room. Reconciliation
// uses it once a permanent room ID is known.
func (d *Directory) Bind(roomID, userID string, c *Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bindLocked(roomID, userID, c)
}

func (d *Directory) bindLocked(roomID, userID string, c *Client) {
	members := d.roomMembers[roomID]
	if members == nil {
		members = make(map[*Client]string)
		d.roomMembers[roomID] = members
	}
	members[c] = userID

	rooms := d.connRooms[c]
	if rooms == nil {
		rooms = make(map[string]struct{})
		d.connRooms[c] = rooms
	}
	rooms[roomID] = struct{}{}
}

// Remove atomically deletes the connection from every room it occupied and
// drops its identity association. It returns the connection's user and the
// distinct peers remaining in the vacated rooms (for offline broadcasts).
// Rooms left empty are deleted. The identity mapping is only cleared when it
// still points at this connection, so a newer connection for the same user
// stays addressable.
func (d *Directory) Remove(c *Client) (string, map[string]*Client, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	userID, ok := d.connUser[c]
	peers := make(map[string]*Client)

	for roomID := range d.connRooms[c] {
		members := d.roomMembers[roomID]
		if members == nil {
			continue
		}
		delete(members, c)
		if len(members) == 0 {
			delete(d.roomMembers, roomID)
			continue
		}
		for conn, uid := range members {
			if uid == userID {
				continue
			}
			if _, seen := peers[uid]; !seen {
				peers[uid] = conn
			}
		}
	}

	delete(d.connRooms, c)
	delete(d.connUser, c)
	if ok && d.userConn[userID] == c {
		delete(d.userConn, userID)
	}

	return userID, peers, ok
}

// Lookup returns the most recent live connection for a user. Absence is a
// normal condition, not an error.
func (d *Directory) Lookup(userID string) (*Client, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.userConn[userID]
	return c, ok
}

// RoomsOf returns the rooms the connection currently occupies.
func (d *Directory) RoomsOf(c *Client) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rooms := make([]string, 0, len(d.connRooms[c]))
	for roomID := range d.connRooms[c] {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// MembersOf returns a snapshot of the (connection, user) pairs present in a
// room. An unknown room yields an empty snapshot.
func (d *Directory) MembersOf(roomID string) map[*Client]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	members := d.roomMembers[roomID]
	out := make(map[*Client]string, len(members))
	for conn, uid := range members {
		out[conn] = uid
	}
	return out
}
