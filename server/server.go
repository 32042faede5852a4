package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"github.com/risa-org/ticksync/directory"
	"github.com/risa-org/ticksync/handshake"
	"github.com/risa-org/ticksync/protocol"
	"github.com/risa-org/ticksync/session"
	"github.com/risa-org/ticksync/transport"
	"github.com/risa-org/ticksync/transport/sender"
	"github.com/risa-org/ticksync/transport/tcp"
)

// Server owns every connection and every session.
//
// The client table and the session table, and everything reachable from
// them, are only touched by one dispatcher goroutine. Connection goroutines
// and session timers hand work to it as closures.
type Server struct {
	cfg       Config
	log       zerolog.Logger
	hashes    *session.HashIssuer
	handshake *handshake.Handler
	directory *directory.Store
	ips       *ipLimiter
	clientIDs session.IDs
	started   time.Time

	work    chan func()
	done    chan struct{}
	exited  chan struct{}
	stopped sync.Once

	listenMu  sync.Mutex
	listeners []net.Listener

	clients atomic.Int64
	sent    atomic.Uint64

	// dispatcher only
	conns    map[string]*conn
	sessions map[int]*session.Session
	closing  bool
}

// conn is one transport connection. client stays nil until the handshake
// is accepted.
type conn struct {
	id      string
	remote  string
	out     *sender.Sender
	limiter *rate.Limiter
	client  *session.Client
	log     zerolog.Logger
}

// Stats is a snapshot of the server's counters.
type Stats struct {
	Clients   int           `json:"clients"`
	Sessions  int           `json:"sessions"`
	Players   int           `json:"players"`
	BytesSent uint64        `json:"bytesSent"`
	Uptime    time.Duration `json:"uptime"`
}

// New creates a server and starts its dispatcher.
func New(cfg Config) (*Server, error) {
	cfg = cfg.withDefaults()
	hashes := cfg.Hashes
	if hashes == nil {
		var err error
		if hashes, err = session.NewRandomHashIssuer(); err != nil {
			return nil, fmt.Errorf("server: hash secret: %w", err)
		}
	}

	s := &Server{
		cfg:       cfg,
		log:       cfg.Logger,
		hashes:    hashes,
		handshake: handshake.NewHandler(),
		directory: directory.New(),
		ips:       newIPLimiter(rate.Limit(cfg.HTTPRate), cfg.HTTPBurst),
		started:   time.Now(),
		work:      make(chan func(), 1024),
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
		conns:     make(map[string]*conn),
		sessions:  make(map[int]*session.Session),
	}
	go s.run()
	return s, nil
}

// Directory exposes the published session snapshot.
func (s *Server) Directory() *directory.Store {
	return s.directory
}

// Stats returns the current counters.
func (s *Server) Stats() Stats {
	return Stats{
		Clients:   int(s.clients.Load()),
		Sessions:  s.directory.Count(),
		Players:   s.directory.Players(),
		BytesSent: s.sent.Load(),
		Uptime:    time.Since(s.started),
	}
}

func (s *Server) run() {
	defer close(s.exited)
	for {
		select {
		case fn := <-s.work:
			s.safely(fn)
		case <-s.done:
			return
		}
	}
}

// safely runs fn and keeps a panic in one session or handler from taking
// the whole server down.
func (s *Server) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered in dispatcher")
		}
	}()
	fn()
}

// dispatch queues fn for the dispatcher. It returns false once the server
// has shut down.
func (s *Server) dispatch(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.work <- fn:
		return true
	case <-s.done:
		return false
	}
}

// Serve runs one connection until it closes. It blocks, so transports call
// it from the goroutine that owns the connection.
func (s *Server) Serve(a transport.Adapter, remote string) {
	c := &conn{
		id:      uuid.NewString(),
		remote:  remote,
		limiter: rate.NewLimiter(rate.Limit(s.cfg.MessageRate), s.cfg.MessageBurst),
	}
	c.log = s.log.With().Str("conn", c.id).Str("remote", remote).Logger()

	opened := make(chan error, 1)
	if !s.dispatch(func() { opened <- s.open(c, a) }) {
		_ = a.Close()
		return
	}
	var err error
	select {
	case err = <-opened:
	case <-s.exited:
		err = ErrServerFull
	}
	if err != nil {
		c.log.Info().Err(err).Msg("connection refused")
		if frame, encErr := protocol.Encode(errorMessage(err)); encErr == nil {
			_ = a.Send(frame)
		}
		_ = a.Close()
		return
	}

	limited := false
	for frame := range a.Receive() {
		msg, decErr := protocol.Decode(frame)
		if decErr != nil {
			c.log.Debug().Err(decErr).Int("bytes", len(frame)).Msg("dropping malformed frame")
			continue
		}
		if !c.limiter.Allow() {
			// tell the client once per burst, not once per dropped frame
			if !limited {
				limited = true
				s.dispatch(func() { s.fail(c, ErrRateLimited) })
			}
			continue
		}
		limited = false
		if !s.dispatch(func() { s.handleMessage(c, msg) }) {
			break
		}
	}

	var ev transport.DisconnectEvent
	select {
	case ev = <-a.Disconnected():
	default:
	}
	c.log.Debug().Stringer("reason", ev.Reason).AnErr("cause", ev.Err).Msg("transport closed")

	closed := make(chan struct{})
	if s.dispatch(func() {
		defer close(closed)
		s.close(c)
	}) {
		select {
		case <-closed:
		case <-s.exited:
		}
	}
	_ = c.out.Close()
}

// open registers a connection, or refuses it when the server is full.
func (s *Server) open(c *conn, a transport.Adapter) error {
	if s.closing {
		return ErrServerFull
	}
	if len(s.conns) >= s.cfg.MaxClients {
		return ErrServerFull
	}
	c.out = sender.New(a, sender.Options{
		QueueSize: s.cfg.QueueSize,
		Total:     &s.sent,
		OnClose: func(reason transport.DisconnectReason) {
			if reason == transport.ReasonSlowConsumer {
				c.log.Warn().Msg("slow consumer disconnected")
			}
		},
	})
	s.conns[c.id] = c
	s.clients.Store(int64(len(s.conns)))
	c.log.Debug().Msg("connection opened")

	s.send(c, protocol.MustNew(protocol.TypeServerSettings, 0, protocol.ServerSettings{
		MaxClients:  s.cfg.MaxClients,
		MaxSessions: s.cfg.MaxSessions,
	}))
	return nil
}

// close runs the disconnect path before the connection is forgotten.
func (s *Server) close(c *conn) {
	if _, ok := s.conns[c.id]; !ok {
		return
	}
	if c.client != nil {
		c.client.Disconnect(time.Now())
	}
	delete(s.conns, c.id)
	s.clients.Store(int64(len(s.conns)))
	_ = c.out.Close()
	s.publish()
	c.log.Debug().Msg("connection closed")
}

// ServeTCP accepts raw TCP connections on l until l is closed.
func (s *Server) ServeTCP(l net.Listener) error {
	s.listenMu.Lock()
	s.listeners = append(s.listeners, l)
	s.listenMu.Unlock()

	for {
		nc, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.Serve(tcp.New(nc), nc.RemoteAddr().String())
	}
}

// Shutdown stops every session, flushes what is queued for each client and
// closes every connection. It returns once the dispatcher has exited or ctx
// is done.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.stopped.Do(func() {
		s.listenMu.Lock()
		for _, l := range s.listeners {
			_ = l.Close()
		}
		s.listenMu.Unlock()

		var outs []*sender.Sender
		finished := make(chan struct{})
		if s.dispatch(func() {
			defer close(finished)
			s.closing = true
			now := time.Now()
			for _, sess := range lo.Values(s.sessions) {
				sess.Stop(now)
			}
			for _, c := range s.conns {
				outs = append(outs, c.out)
			}
		}) {
			select {
			case <-finished:
				for _, out := range outs {
					_ = out.Flush(ctx)
					_ = out.Close()
				}
			case <-ctx.Done():
				err = ctx.Err()
			}
		}
		close(s.done)

		select {
		case <-s.exited:
		case <-ctx.Done():
			err = ctx.Err()
		}
		s.log.Info().Msg("server stopped")
	})
	return err
}
