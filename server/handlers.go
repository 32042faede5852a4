package server

import (
	"fmt"
	"time"

	"github.com/risa-org/ticksync/handshake"
	"github.com/risa-org/ticksync/protocol"
	"github.com/risa-org/ticksync/session"
)

// handleMessage routes one decoded frame. It runs on the dispatcher.
func (s *Server) handleMessage(c *conn, msg protocol.Message) {
	if _, ok := s.conns[c.id]; !ok {
		return
	}
	if c.client == nil {
		s.login(c, msg)
		return
	}

	switch msg.Type {
	case protocol.TypeJoin:
		s.join(c, msg)
	case protocol.TypeLeave:
		if err := c.client.Leave(time.Now()); err != nil {
			s.fail(c, err)
		}
		s.publish()
	case protocol.TypeConnect:
		s.fail(c, fmt.Errorf("%w: already connected", ErrUnexpected))
	default:
		if msg.Type < protocol.TypeApplication {
			s.fail(c, fmt.Errorf("%w: %s", ErrUnexpected, msg.Type))
			return
		}
		if sess := c.client.Session(); sess != nil {
			sess.HandleMessage(c.client, msg)
		}
	}
}

// login runs the handshake on the first frame of a connection. A rejected
// client stays connected and may try again.
func (s *Server) login(c *conn, msg protocol.Message) {
	result := s.handshake.Connect(msg)
	if !result.Accepted {
		c.log.Info().Str("reason", result.Reason).Msg("handshake rejected")
		if result.Reason == handshake.ReasonNotConnect {
			s.fail(c, ErrNotLoggedIn)
			return
		}
		s.send(c, result.ErrorMessage())
		return
	}

	uid := s.clientIDs.Next()
	hash := result.Hash
	if hash == "" {
		hash = s.hashes.Issue(c.id, uid)
	}
	c.client = session.NewClient(uid, c.id, result.Name, hash)
	c.log = c.log.With().Uint64("client", uid).Logger()
	c.log.Info().Str("name", result.Name).Bool("returning", result.Hash != "").Msg("client connected")

	s.send(c, protocol.MustNew(protocol.TypeConnect, 0, protocol.ClientInfo{ID: uid, Name: result.Name, Local: true}))
	s.send(c, protocol.MustNew(protocol.TypeHash, 0, protocol.Hash{Hash: hash}))
	s.send(c, s.sessionList())
}

func (s *Server) join(c *conn, msg protocol.Message) {
	req, err := protocol.DecodePayload[protocol.JoinRequest](msg)
	if err != nil {
		s.fail(c, fmt.Errorf("%w: join: %v", ErrUnexpected, err))
		return
	}
	sess, err := s.sessionFor(req.Session)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := c.client.Join(sess, req.Watch, time.Now()); err != nil {
		c.log.Info().Err(err).Int("session", req.Session).Msg("join refused")
		s.fail(c, err)
	}
	s.publish()
}
