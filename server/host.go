package server

import (
	"cmp"
	"slices"

	"github.com/samber/lo"

	"github.com/risa-org/ticksync/protocol"
	"github.com/risa-org/ticksync/session"
)

// The methods below make Server the session.Host of every session.
// They run on the dispatcher.

var _ session.Host = (*Server)(nil)

// Send delivers msg to the connection of c, if it is still open.
func (s *Server) Send(c *session.Client, msg protocol.Message) {
	if conn, ok := s.conns[c.ConnID()]; ok {
		s.send(conn, msg)
	}
}

// Broadcast encodes msg once and queues it for every recipient that is not
// excluded.
func (s *Server) Broadcast(msg protocol.Message, recipients, exclude []*session.Client) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		s.log.Error().Err(err).Stringer("type", msg.Type).Msg("encode broadcast")
		return
	}
	for _, c := range lo.Without(recipients, exclude...) {
		if conn, ok := s.conns[c.ConnID()]; ok {
			s.write(conn, frame)
		}
	}
}

// RemoveSession forgets a stopped session.
func (s *Server) RemoveSession(id int) {
	if _, ok := s.sessions[id]; !ok {
		return
	}
	delete(s.sessions, id)
	s.publish()
	if !s.closing {
		s.broadcastSessionList()
	}
}

func (s *Server) send(c *conn, msg protocol.Message) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		c.log.Error().Err(err).Stringer("type", msg.Type).Msg("encode")
		return
	}
	s.write(c, frame)
}

func (s *Server) write(c *conn, frame []byte) {
	if err := c.out.Send(frame); err != nil {
		c.log.Debug().Err(err).Msg("send failed")
	}
}

// fail reports err to the client of c.
func (s *Server) fail(c *conn, err error) {
	if _, ok := s.conns[c.id]; !ok {
		return
	}
	s.send(c, errorMessage(err))
}

// sessionFor returns the session with id, creating it on first use.
func (s *Server) sessionFor(id int) (*session.Session, error) {
	if id < 1 || id >= s.cfg.MaxSessions {
		return nil, ErrInvalidSession
	}
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}

	sess := session.New(session.Params{
		ID:     id,
		Config: s.cfg.Session,
		Host:   s,
		Hashes: s.hashes,
		Logger: s.log,
	})
	if s.cfg.NewHooks != nil {
		sess.SetHooks(s.cfg.NewHooks(sess))
	}
	s.sessions[id] = sess
	sess.Schedule(s.dispatch)
	s.log.Info().Int("session", id).Msg("session created")

	s.publish()
	s.broadcastSessionList()
	return sess, nil
}

// publish copies the session rows into the directory.
func (s *Server) publish() {
	s.directory.Replace(lo.MapToSlice(s.sessions, func(_ int, sess *session.Session) protocol.SessionInfo {
		return sess.Info()
	}))
}

func (s *Server) sessionList() protocol.Message {
	return protocol.MustNew(protocol.TypeSessionList, 0, s.directory.List())
}

// broadcastSessionList sends the session list to every logged in client.
func (s *Server) broadcastSessionList() {
	frame, err := protocol.Encode(s.sessionList())
	if err != nil {
		return
	}
	conns := lo.Filter(lo.Values(s.conns), func(c *conn, _ int) bool { return c.client != nil })
	slices.SortFunc(conns, func(a, b *conn) int { return cmp.Compare(a.client.UID(), b.client.UID()) })
	for _, c := range conns {
		s.write(c, frame)
	}
}
