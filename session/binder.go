package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/risa-org/ticksync/protocol"
	"github.com/risa-org/ticksync/registry"
)

// Join puts c into s. Unless watching, c also gets a player: the unbound
// player its hash reclaims, or a new one.
//
// If s has no room for another player c still joins as a watcher and Join
// returns ErrSessionFull. Either way c receives the session state: JOINED,
// settings, STARTED while running, the client and player lists and a TICK
// value.
func (c *Client) Join(s *Session, watching bool, now time.Time) error {
	if c.session == s {
		return ErrSameSession
	}
	if s.state == StateStopped {
		return ErrSessionStopped
	}
	if c.session != nil {
		_ = c.Leave(now)
	}

	if err := s.clients.Add(c.uid, c); err != nil {
		if errors.Is(err, registry.ErrExists) {
			return ErrAlreadyJoined
		}
		return fmt.Errorf("session %d: %w", s.id, err)
	}
	c.session = s
	c.watching = watching
	s.broadcast(s.stamped(protocol.TypeClientJoined, c.info(nil)), c)

	var err error
	if !watching {
		err = s.bindPlayer(c)
	}
	s.sendState(c)
	return err
}

// bindPlayer rebinds a reclaimable player or creates a new one.
func (s *Session) bindPlayer(c *Client) error {
	var found *Player
	s.players.Each(func(_ int, p *Player) bool {
		if p.reclaimableBy(c) {
			found = p
			return true
		}
		return false
	})

	if found != nil {
		found.bind(c)
		s.log.Info().Int("player", found.id).Uint64("client", c.uid).Msg("player rejoined")
		s.broadcast(s.stamped(protocol.TypePlayerRejoined, found.info(nil)), c)
		if s.hooks.OnPlayerJoin != nil {
			s.hooks.OnPlayerJoin(found, true)
		}
		s.rotateHash(c)
		return nil
	}

	if s.players.Full() {
		c.watching = true
		return ErrSessionFull
	}
	p := &Player{id: int(s.playerIDs.Next()), session: s}
	if err := s.players.Add(p.id, p); err != nil {
		c.watching = true
		return fmt.Errorf("session %d: %w", s.id, err)
	}
	p.bind(c)
	s.log.Info().Int("player", p.id).Uint64("client", c.uid).Msg("player joined")
	s.broadcast(s.stamped(protocol.TypePlayerJoined, p.info(nil)), c)
	if s.hooks.OnPlayerJoin != nil {
		s.hooks.OnPlayerJoin(p, false)
	}
	return nil
}

// rotateHash retires the hash c just used to reclaim a player.
func (s *Session) rotateHash(c *Client) {
	if s.hashes == nil {
		return
	}
	c.hash = s.hashes.Issue(c.connID, c.uid)
	s.host.Send(c, protocol.MustNew(protocol.TypeHash, 0, protocol.Hash{Hash: c.hash}))
}

func (s *Session) sendState(c *Client) {
	s.host.Send(c, protocol.MustNew(protocol.TypeJoined, 0, protocol.Joined{ID: s.id}))
	s.host.Send(c, protocol.MustNew(protocol.TypeSessionSettings, 0, s.Settings()))
	if s.state == StateRunning {
		s.host.Send(c, s.stamped(protocol.TypeStarted, nil))
	}
	s.host.Send(c, s.stamped(protocol.TypeClientList,
		registry.Map(s.clients, func(_ uint64, other *Client) protocol.ClientInfo {
			return other.info(c)
		})))
	s.host.Send(c, s.stamped(protocol.TypePlayerList,
		registry.Map(s.players, func(_ int, p *Player) protocol.PlayerInfo {
			return p.info(c)
		})))
	if s.state == StateRunning {
		s.host.Send(c, protocol.TickMessage(s.tickCount))
	}
}

// Leave takes c out of its session voluntarily. Its player is removed for
// good and c receives LEFT.
func (c *Client) Leave(now time.Time) error {
	s := c.session
	if s == nil {
		return ErrNotInSession
	}
	if p := c.player; p != nil {
		s.removePlayer(p, false)
	}
	s.host.Send(c, s.stamped(protocol.TypeLeft, nil))
	s.detach(c, now)
	return nil
}

// Disconnect handles a transport drop. The player stays in the session,
// unbound, and can be reclaimed with c's hash until it times out.
// Disconnecting a client whose session already stopped does nothing.
func (c *Client) Disconnect(now time.Time) {
	s := c.session
	if s == nil {
		return
	}
	if p := c.player; p != nil {
		s.log.Info().Int("player", p.id).Uint64("client", c.uid).Msg("player disconnected")
		p.unbind(now)
	}
	s.detach(c, now)
}

// removePlayer drops p from the registry. Removing a player that is already
// gone is a no-op.
func (s *Session) removePlayer(p *Player, timeout bool) {
	if err := s.players.Remove(p.id); err != nil {
		return
	}
	leaver := p.client
	if leaver != nil {
		leaver.player = nil
		p.client = nil
	}
	s.broadcast(s.stamped(protocol.TypePlayerLeft, protocol.PlayerLeft{ID: p.id, Timeout: timeout}), leaver)
	if s.hooks.OnPlayerLeave != nil {
		s.hooks.OnPlayerLeave(p, timeout)
	}
}

// detach removes c from the client registry and stops the session once no
// players are left.
func (s *Session) detach(c *Client, now time.Time) {
	if err := s.clients.Remove(c.uid); err != nil {
		return
	}
	c.session = nil
	c.player = nil
	c.watching = false
	s.broadcast(s.stamped(protocol.TypeClientLeft, c.info(nil)))

	if s.players.Len() == 0 {
		s.Stop(now)
	}
}
