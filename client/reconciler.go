package client

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/risa-org/ticksync/protocol"
	"github.com/risa-org/ticksync/random"
	"github.com/risa-org/ticksync/registry"
)

// DefaultInboxSize is the number of delivered messages that may wait for
// the next Update before Deliver blocks.
const DefaultInboxSize = 1024

// Reconciler is the client side of a session. It rebuilds the server's tick
// from sync values, holds back messages stamped ahead of the local tick and
// applies them in arrival order once the local tick catches up.
//
// Deliver and Disconnected may be called from any goroutine. Everything
// else, including every handler, belongs to the goroutine that calls Update.
type Reconciler struct {
	handlers Handlers
	log      zerolog.Logger

	inbox     chan protocol.Message
	eof       chan struct{}
	eofOnce   sync.Once
	closed    chan struct{}
	closeOnce sync.Once

	state   State
	gone    bool
	self    protocol.ClientInfo
	hash    string
	session int

	settings  protocol.SessionSettings
	tickRate  time.Duration
	logicRate uint64

	tickCount    uint64    // server tick at the last sync
	tickSyncTime time.Time // local clock at the last sync
	baseTick     uint64    // number of sync wraps seen
	serverTick   uint8     // last raw sync value
	lastTick     uint64    // last logic tick applied locally

	random  *random.Sequence
	pending pending
	clients *registry.Registry[uint64, *protocol.ClientInfo]
	players *registry.Registry[int, *protocol.PlayerInfo]
}

// NewReconciler creates a disconnected reconciler.
func NewReconciler(h Handlers, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		handlers: h,
		log:      log,
		inbox:    make(chan protocol.Message, DefaultInboxSize),
		eof:      make(chan struct{}),
		closed:   make(chan struct{}),
		random:   random.New(0),
		clients:  registry.New[uint64, *protocol.ClientInfo](registry.Unbounded),
		players:  registry.New[int, *protocol.PlayerInfo](registry.Unbounded),
	}
}

// Deliver hands an inbound message to the reconciler. It blocks while the
// inbox is full and returns false once the reconciler is closed.
func (r *Reconciler) Deliver(msg protocol.Message) bool {
	select {
	case <-r.closed:
		return false
	default:
	}
	select {
	case r.inbox <- msg:
		return true
	case <-r.closed:
		return false
	}
}

// Disconnected marks the transport as gone. Messages delivered before the
// call are still applied by the next Update.
func (r *Reconciler) Disconnected() {
	r.eofOnce.Do(func() { close(r.eof) })
}

// Close unblocks pending Deliver calls and refuses new ones.
func (r *Reconciler) Close() {
	r.closeOnce.Do(func() { close(r.closed) })
}

func (r *Reconciler) State() State              { return r.state }
func (r *Reconciler) Gone() bool                { return r.gone }
func (r *Reconciler) Self() protocol.ClientInfo { return r.self }
func (r *Reconciler) Hash() string              { return r.hash }
func (r *Reconciler) Session() int              { return r.session }
func (r *Reconciler) LastTick() uint64          { return r.lastTick }
func (r *Reconciler) Pending() int              { return r.pending.len() }
func (r *Reconciler) Random() *random.Sequence  { return r.random }

// Settings returns the settings of the current session.
func (r *Reconciler) Settings() protocol.SessionSettings {
	return r.settings
}

// Clients returns the mirrored client list in join order.
func (r *Reconciler) Clients() []protocol.ClientInfo {
	return registry.Map(r.clients, func(_ uint64, c *protocol.ClientInfo) protocol.ClientInfo { return *c })
}

// Players returns the mirrored player list in join order.
func (r *Reconciler) Players() []protocol.PlayerInfo {
	return registry.Map(r.players, func(_ int, p *protocol.PlayerInfo) protocol.PlayerInfo { return *p })
}

// Player looks up a mirrored player.
func (r *Reconciler) Player(id int) (protocol.PlayerInfo, bool) {
	p, ok := r.players.Get(id)
	if !ok {
		return protocol.PlayerInfo{}, false
	}
	return *p, true
}

// Tick estimates the server's current tick at now.
func (r *Reconciler) Tick(now time.Time) uint64 {
	if r.tickRate <= 0 || r.tickSyncTime.IsZero() {
		return r.tickCount
	}
	ahead := math.Round(float64(now.Sub(r.tickSyncTime)) / float64(r.tickRate))
	if ahead < 0 && uint64(-ahead) > r.tickCount {
		return 0
	}
	return uint64(int64(r.tickCount) + int64(ahead))
}

// Time estimates the server's session time at now.
func (r *Reconciler) Time(now time.Time) time.Duration {
	t := time.Duration(r.tickCount) * r.tickRate
	if !r.tickSyncTime.IsZero() {
		t += now.Sub(r.tickSyncTime)
	}
	return t
}

// Update applies what arrived since the last call and runs every logic
// tick the estimated server tick has passed. At each logic tick the held
// back messages are offered again, the random sequence is reset to the
// tick and OnTick runs.
func (r *Reconciler) Update(now time.Time) {
	r.pump(now)
	if r.state != StatePlaying || r.logicRate == 0 {
		return
	}

	tick := r.Tick(now)
	for t := (r.lastTick/r.logicRate + 1) * r.logicRate; t <= tick; t += r.logicRate {
		r.lastTick = t
		r.drain(now, false)
		if r.state != StatePlaying {
			return
		}
		r.random.Reset(t)
		if r.handlers.OnTick != nil {
			r.handlers.OnTick(time.Duration(t)*r.tickRate-r.tickRate, t)
		}
	}
}

// Flush applies every held back message regardless of its tick.
func (r *Reconciler) Flush() {
	r.drain(time.Now(), true)
}

func (r *Reconciler) pump(now time.Time) {
	gone := false
	select {
	case <-r.eof:
		gone = true
	default:
	}

	for {
		select {
		case msg := <-r.inbox:
			r.handle(msg, now, true, false)
			continue
		default:
		}
		break
	}

	if gone && !r.gone {
		r.gone = true
		r.log.Debug().Msg("transport gone")
		r.reset()
		r.setState(StateDisconnected)
		if r.handlers.OnDisconnect != nil {
			r.handlers.OnDisconnect()
		}
	}
}

func (r *Reconciler) drain(now time.Time, flush bool) {
	r.pending.drain(func(msg protocol.Message) bool {
		return r.handle(msg, now, false, flush)
	})
}

// handle runs the admission test for one message. Fresh arrivals that are
// stamped ahead of the last applied tick are queued. It reports whether the
// message was consumed.
func (r *Reconciler) handle(msg protocol.Message, now time.Time, fresh, flush bool) bool {
	if msg.Type == protocol.TypeTick {
		r.sync(msg.Sync, now)
		return true
	}
	if !protocol.Gated(msg.Type) {
		r.handleBase(msg, now)
		return true
	}
	if !flush && msg.Tick > 0 && msg.Tick > r.lastTick {
		if fresh {
			r.pending.push(msg)
		}
		return false
	}
	r.apply(msg)
	return true
}

// sync takes a wrapped tick value. A value lower than the previous one
// means the counter wrapped.
func (r *Reconciler) sync(raw uint8, now time.Time) {
	if raw < r.serverTick {
		r.baseTick++
	}
	r.serverTick = raw
	r.tickSyncTime = now
	r.tickCount = r.baseTick*protocol.TickWrap + uint64(raw)
}

func (r *Reconciler) handleBase(msg protocol.Message, now time.Time) {
	switch msg.Type {
	case protocol.TypeHash:
		if h, ok := decode[protocol.Hash](r, msg); ok {
			r.hash = h.Hash
			if r.handlers.OnHash != nil {
				r.handlers.OnHash(h.Hash)
			}
		}

	case protocol.TypeConnect:
		if info, ok := decode[protocol.ClientInfo](r, msg); ok {
			r.self = info
			r.setState(StateConnected)
			if r.handlers.OnConnect != nil {
				r.handlers.OnConnect(info)
			}
		}

	case protocol.TypeServerSettings:
		if s, ok := decode[protocol.ServerSettings](r, msg); ok && r.handlers.OnServerSettings != nil {
			r.handlers.OnServerSettings(s)
		}

	case protocol.TypeSessionSettings:
		if s, ok := decode[protocol.SessionSettings](r, msg); ok {
			r.settings = s
			r.tickRate = time.Duration(s.TickRate) * time.Millisecond
			r.logicRate = uint64(max(s.LogicRate, 0))
			r.random = random.New(s.RandomSeed)
			if r.handlers.OnSettings != nil {
				r.handlers.OnSettings(s)
			}
		}

	case protocol.TypeSessionList:
		var list []protocol.SessionInfo
		if len(msg.Payload) > 0 {
			var ok bool
			if list, ok = decode[[]protocol.SessionInfo](r, msg); !ok {
				return
			}
		}
		if r.handlers.OnSessionList != nil {
			r.handlers.OnSessionList(list)
		}

	case protocol.TypeJoined:
		if j, ok := decode[protocol.Joined](r, msg); ok {
			r.session = j.ID
			if r.handlers.OnJoin != nil {
				r.handlers.OnJoin(j.ID)
			}
		}

	case protocol.TypeStarted:
		if r.state != StateConnected {
			return
		}
		r.serverTick = 0
		r.baseTick = msg.Tick / protocol.TickWrap
		r.tickSyncTime = now
		r.tickCount = msg.Tick
		r.lastTick = msg.Tick
		r.setState(StatePlaying)
		if r.handlers.OnStart != nil {
			r.handlers.OnStart(msg.Tick)
		}

	case protocol.TypeEnded:
		r.drain(now, true)
		if r.handlers.OnEnd != nil {
			r.handlers.OnEnd()
		}
		r.closeSession()

	// LEFT is the last message of the old session. A JOIN into another
	// session is answered right behind it, so it is applied on arrival.
	case protocol.TypeLeft:
		r.drain(now, true)
		if r.handlers.OnLeave != nil {
			r.handlers.OnLeave()
		}
		r.closeSession()

	case protocol.TypeError:
		if e, ok := decode[protocol.Error](r, msg); ok && r.handlers.OnError != nil {
			r.handlers.OnError(e)
		}
	}
}

// apply changes the mirrored session state. List messages replace the
// mirror; join and leave messages check presence first so a redelivered
// message changes nothing.
func (r *Reconciler) apply(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeClientList:
		list, ok := decode[[]protocol.ClientInfo](r, msg)
		if !ok {
			return
		}
		r.clients.Clear()
		for i := range list {
			_ = r.clients.Add(list[i].ID, &list[i])
		}
		if r.handlers.OnClientList != nil {
			r.handlers.OnClientList(r.Clients())
		}

	case protocol.TypeClientJoined:
		c, ok := decode[protocol.ClientInfo](r, msg)
		if !ok || r.clients.Add(c.ID, &c) != nil {
			return
		}
		if r.handlers.OnClientJoin != nil {
			r.handlers.OnClientJoin(c)
		}

	case protocol.TypeClientLeft:
		c, ok := decode[protocol.ClientInfo](r, msg)
		if !ok || r.clients.Remove(c.ID) != nil {
			return
		}
		if r.handlers.OnClientLeave != nil {
			r.handlers.OnClientLeave(c)
		}

	case protocol.TypePlayerList:
		list, ok := decode[[]protocol.PlayerInfo](r, msg)
		if !ok {
			return
		}
		r.players.Clear()
		for i := range list {
			_ = r.players.Add(list[i].ID, &list[i])
		}
		if r.handlers.OnPlayerList != nil {
			r.handlers.OnPlayerList(r.Players())
		}

	case protocol.TypePlayerJoined:
		p, ok := decode[protocol.PlayerInfo](r, msg)
		if !ok || r.players.Add(p.ID, &p) != nil {
			return
		}
		if r.handlers.OnPlayerJoin != nil {
			r.handlers.OnPlayerJoin(p, false)
		}

	case protocol.TypePlayerRejoined:
		p, ok := decode[protocol.PlayerInfo](r, msg)
		if !ok {
			return
		}
		if known, exists := r.players.Get(p.ID); exists {
			if known.ClientID == p.ClientID {
				return
			}
			known.ClientID = p.ClientID
		} else if r.players.Add(p.ID, &p) != nil {
			return
		}
		if r.handlers.OnPlayerJoin != nil {
			r.handlers.OnPlayerJoin(p, true)
		}

	case protocol.TypePlayerLeft:
		left, ok := decode[protocol.PlayerLeft](r, msg)
		if !ok {
			return
		}
		p, exists := r.players.Get(left.ID)
		if !exists {
			return
		}
		_ = r.players.Remove(left.ID)
		if r.handlers.OnPlayerLeave != nil {
			r.handlers.OnPlayerLeave(*p, left.Timeout)
		}

	default:
		if r.handlers.OnMessage != nil {
			r.handlers.OnMessage(msg)
		}
	}
}

// reset forgets the session: mirrors, held back messages and clock.
func (r *Reconciler) reset() {
	r.clients.Clear()
	r.players.Clear()
	r.pending.clear()
	r.session = 0
	r.lastTick = 0
	r.tickCount = 0
	r.baseTick = 0
	r.serverTick = 0
	r.tickSyncTime = time.Time{}
}

// closeSession forgets the current session and leaves the client ready to
// accept STARTED from the next one.
func (r *Reconciler) closeSession() {
	r.reset()
	if r.state == StatePlaying {
		r.setState(StateConnected)
	}
}

func (r *Reconciler) setState(next State) {
	if r.state == next {
		return
	}
	if !r.state.Transition(next) {
		r.log.Warn().Stringer("from", r.state).Stringer("to", next).Msg("illegal state transition")
		return
	}
	r.log.Debug().Stringer("from", r.state).Stringer("to", next).Msg("state")
	r.state = next
}

func decode[T any](r *Reconciler, msg protocol.Message) (T, bool) {
	v, err := protocol.DecodePayload[T](msg)
	if err != nil {
		r.log.Debug().Err(err).Stringer("type", msg.Type).Msg("dropping undecodable payload")
		return v, false
	}
	return v, true
}
