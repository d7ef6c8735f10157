package gateway

// Client is one open connection as seen by the gateway. It is owned by the
// transport goroutine that accepted it and is associated with at most one
// user identity at a time.
type Client struct {
	ID     string
	UserID string // set by Connect after authentication
	Events chan *Event
}

// NewClient constructs a client with a buffered outbound event channel.
func NewClient(id string) *Client {
	return &Client{
		ID:     id,
		Events: make(chan *Event, 32),
	}
}

// send delivers an event without blocking. Slow consumers drop events; a
// persisted message remains the source of truth and clients reconcile via
// chat history on reconnect.
func (c *Client) send(ev *Event) {
	select {
	case c.Events <- ev:
	default:
	}
}
