package session

import "github.com/risa-org/ticksync/protocol"

// Client is the server side of one accepted connection. It belongs to at
// most one session at a time and drives at most one player in it.
type Client struct {
	uid    uint64
	connID string
	name   string
	hash   string

	session  *Session
	player   *Player
	watching bool
}

// NewClient creates a client for an accepted connection. hash is the
// reconnection hash the client presented, or a freshly issued one.
func NewClient(uid uint64, connID, name, hash string) *Client {
	return &Client{uid: uid, connID: connID, name: name, hash: hash}
}

func (c *Client) UID() uint64       { return c.uid }
func (c *Client) ConnID() string    { return c.connID }
func (c *Client) Name() string      { return c.name }
func (c *Client) Hash() string      { return c.hash }
func (c *Client) Session() *Session { return c.session }
func (c *Client) Player() *Player   { return c.player }
func (c *Client) Watching() bool    { return c.watching }

func (c *Client) info(viewer *Client) protocol.ClientInfo {
	return protocol.ClientInfo{ID: c.uid, Name: c.name, Local: c == viewer}
}
