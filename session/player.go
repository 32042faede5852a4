package session

import (
	"time"

	"github.com/risa-org/ticksync/protocol"
)

// Player is a participant of one session. It outlives the connection of the
// client driving it: on a transport drop the player is unbound and waits for
// a client presenting the stored hash, until the session's player timeout.
//
// Neutral players are created by game logic, are never bound and never time
// out.
type Player struct {
	id      int
	session *Session
	client  *Client
	neutral bool

	// set while unbound
	hash           string
	disconnectedAt time.Time
}

func (p *Player) ID() int                   { return p.id }
func (p *Player) Session() *Session         { return p.session }
func (p *Player) Client() *Client           { return p.client }
func (p *Player) Neutral() bool             { return p.neutral }
func (p *Player) Bound() bool               { return p.client != nil }
func (p *Player) DisconnectedAt() time.Time { return p.disconnectedAt }

// timedOut reports whether the player has been unbound for longer than
// timeout. Only unbound human players can time out.
func (p *Player) timedOut(now time.Time, timeout time.Duration) bool {
	if p.neutral || p.client != nil {
		return false
	}
	return now.Sub(p.disconnectedAt) > timeout
}

// reclaimableBy reports whether c may take over this player.
func (p *Player) reclaimableBy(c *Client) bool {
	return !p.neutral && p.client == nil && hashesEqual(p.hash, c.hash)
}

func (p *Player) bind(c *Client) {
	p.client = c
	p.hash = ""
	p.disconnectedAt = time.Time{}
	c.player = p
}

func (p *Player) unbind(now time.Time) {
	if p.client == nil {
		return
	}
	p.hash = p.client.hash
	p.disconnectedAt = now
	p.client.player = nil
	p.client = nil
}

// Send delivers an application message to the bound client, stamped with the
// current tick. It is a no-op while the player is unbound.
func (p *Player) Send(t protocol.Type, payload any) error {
	if p.client == nil {
		return nil
	}
	msg, err := protocol.New(t, p.session.tickCount, payload)
	if err != nil {
		return err
	}
	p.session.host.Send(p.client, msg)
	return nil
}

// info describes the player as seen by viewer.
func (p *Player) info(viewer *Client) protocol.PlayerInfo {
	info := protocol.PlayerInfo{ID: p.id, Neutral: p.neutral}
	if p.client != nil {
		info.ClientID = p.client.uid
		info.Own = p.client == viewer
	}
	return info
}
