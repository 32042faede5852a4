package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/risa-org/ticksync/protocol"
	"github.com/risa-org/ticksync/random"
	"github.com/risa-org/ticksync/registry"
)

// Host is what a session needs from the server that owns it.
// Every method is called from the server's dispatcher goroutine and must not
// block on the network.
type Host interface {
	Send(c *Client, msg protocol.Message)
	Broadcast(msg protocol.Message, recipients, exclude []*Client)
	RemoveSession(id int)
}

// Hooks are the game logic callbacks of one session. Any of them may be nil.
type Hooks struct {
	OnStart func()
	// OnTick runs every LogicRate ticks. Returning true ends the session.
	OnTick func(elapsed time.Duration, tick uint64) (end bool)
	OnEnd  func()
	// OnClientMessage sees application messages first. Returning true
	// marks the message as handled and keeps it from the player hook.
	OnClientMessage func(c *Client, msg protocol.Message) (handled bool)
	OnPlayerMessage func(p *Player, msg protocol.Message)
	OnPlayerJoin    func(p *Player, reconnect bool)
	OnPlayerLeave   func(p *Player, timeout bool)
}

// Params bundles what New needs.
type Params struct {
	ID     int
	Config Config
	Host   Host
	Hashes *HashIssuer
	Hooks  Hooks
	Logger zerolog.Logger
}

// Session is one authoritative game instance with its own tick clock,
// client and player registries and random sequence.
//
// A Session is not safe for concurrent use. All calls, including the timer
// firings wired up by Schedule, go through the owning server's dispatcher.
type Session struct {
	id     int
	cfg    Config
	host   Host
	hashes *HashIssuer
	hooks  Hooks
	log    zerolog.Logger

	state     State
	clients   *registry.Registry[uint64, *Client]
	players   *registry.Registry[int, *Player]
	playerIDs IDs
	random    *random.Sequence

	startedAt time.Time
	tickCount uint64
	tickTime  time.Duration // simulated time of the next owed tick

	dispatch   func(func()) bool
	startTimer *time.Timer
	cancel     context.CancelFunc
	inFlight   atomic.Bool
	coalesced  atomic.Uint64
}

// New creates a waiting session. Call Schedule to arm its timers, or drive
// it by hand with Start and Tick.
func New(p Params) *Session {
	cfg := p.Config.withDefaults()
	return &Session{
		id:      p.ID,
		cfg:     cfg,
		host:    p.Host,
		hashes:  p.Hashes,
		hooks:   p.Hooks,
		log:     p.Logger.With().Int("session", p.ID).Logger(),
		state:   StateWaiting,
		clients: registry.New[uint64, *Client](registry.Unbounded),
		players: registry.New[int, *Player](cfg.MaxPlayers),
		random:  random.New(random.NewSeed()),
	}
}

func (s *Session) ID() int                  { return s.id }
func (s *Session) Config() Config           { return s.cfg }
func (s *Session) State() State             { return s.state }
func (s *Session) Running() bool            { return s.state == StateRunning }
func (s *Session) Stopped() bool            { return s.state == StateStopped }
func (s *Session) TickCount() uint64        { return s.tickCount }
func (s *Session) Random() *random.Sequence { return s.random }

// SetHooks replaces the game logic callbacks. Use it before the session
// starts when the hooks need a reference to the session itself.
func (s *Session) SetHooks(h Hooks) {
	s.hooks = h
}

// Coalesced returns how many timer firings were folded into an earlier,
// still pending tick.
func (s *Session) Coalesced() uint64 {
	return s.coalesced.Load()
}

// Clients returns the clients in join order.
func (s *Session) Clients() []*Client {
	return s.clients.Values()
}

// Players returns the players in join order.
func (s *Session) Players() []*Player {
	return s.players.Values()
}

// Player looks up a player by id.
func (s *Session) Player(id int) (*Player, bool) {
	return s.players.Get(id)
}

// Info is the session's row in the session list.
func (s *Session) Info() protocol.SessionInfo {
	return protocol.SessionInfo{
		ID:         s.id,
		Players:    s.players.Len(),
		MaxPlayers: s.players.Cap(),
		Running:    s.state == StateRunning,
	}
}

// Settings is what a joining client needs to mirror the clock and the
// random sequence.
func (s *Session) Settings() protocol.SessionSettings {
	return protocol.SessionSettings{
		ID:         s.id,
		TickRate:   int(s.cfg.TickDuration / time.Millisecond),
		LogicRate:  s.cfg.LogicRate,
		SyncRate:   s.cfg.SyncRate,
		RandomSeed: s.random.Seed(),
	}
}

// Broadcast sends an application message to every client of the session,
// stamped with the current tick.
func (s *Session) Broadcast(t protocol.Type, payload any, exclude ...*Client) error {
	msg, err := protocol.New(t, s.tickCount, payload)
	if err != nil {
		return err
	}
	s.broadcast(msg, exclude...)
	return nil
}

func (s *Session) broadcast(msg protocol.Message, exclude ...*Client) {
	if s.clients.Len() == 0 {
		return
	}
	s.host.Broadcast(msg, s.clients.Values(), exclude)
}

// stamped builds a membership message carrying the current tick.
func (s *Session) stamped(t protocol.Type, payload any) protocol.Message {
	return protocol.MustNew(t, s.tickCount, payload)
}

// AddNeutral creates a system controlled player.
func (s *Session) AddNeutral() (*Player, error) {
	if s.state == StateStopped {
		return nil, ErrSessionStopped
	}
	if s.players.Full() {
		return nil, ErrSessionFull
	}
	p := &Player{id: int(s.playerIDs.Next()), session: s, neutral: true}
	if err := s.players.Add(p.id, p); err != nil {
		return nil, err
	}
	s.broadcast(s.stamped(protocol.TypePlayerJoined, p.info(nil)))
	if s.hooks.OnPlayerJoin != nil {
		s.hooks.OnPlayerJoin(p, false)
	}
	return p, nil
}

// RemovePlayer removes a player the way a voluntary leave does, without
// detaching its client from the session.
func (s *Session) RemovePlayer(p *Player) {
	s.removePlayer(p, false)
}

// HandleMessage routes an application message from c. Messages from clients
// that are not in this session are ignored.
func (s *Session) HandleMessage(c *Client, msg protocol.Message) {
	if c.session != s {
		return
	}
	if s.hooks.OnClientMessage != nil && s.hooks.OnClientMessage(c, msg) {
		return
	}
	if c.player != nil && s.hooks.OnPlayerMessage != nil {
		s.hooks.OnPlayerMessage(c.player, msg)
	}
}
