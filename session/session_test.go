package session

import (
	"slices"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/risa-org/ticksync/protocol"
)

// fakeHost records every message per client instead of sending it.
type fakeHost struct {
	sent    map[*Client][]protocol.Message
	removed []int
}

func newFakeHost() *fakeHost {
	return &fakeHost{sent: map[*Client][]protocol.Message{}}
}

func (h *fakeHost) Send(c *Client, msg protocol.Message) {
	h.sent[c] = append(h.sent[c], msg)
}

func (h *fakeHost) Broadcast(msg protocol.Message, recipients, exclude []*Client) {
	for _, c := range recipients {
		if !slices.Contains(exclude, c) {
			h.Send(c, msg)
		}
	}
}

func (h *fakeHost) RemoveSession(id int) {
	h.removed = append(h.removed, id)
}

func (h *fakeHost) types(c *Client) []protocol.Type {
	var out []protocol.Type
	for _, m := range h.sent[c] {
		out = append(out, m.Type)
	}
	return out
}

func (h *fakeHost) ofType(c *Client, t protocol.Type) []protocol.Message {
	var out []protocol.Message
	for _, m := range h.sent[c] {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (h *fakeHost) reset() {
	h.sent = map[*Client][]protocol.Message{}
}

func newTestSession(t *testing.T, cfg Config, hooks Hooks) (*Session, *fakeHost) {
	t.Helper()
	host := newFakeHost()
	s := New(Params{
		ID:     1,
		Config: cfg,
		Host:   host,
		Hashes: NewHashIssuer([]byte("test-secret")),
		Hooks:  hooks,
		Logger: zerolog.Nop(),
	})
	return s, host
}

var clientIDs IDs

func newTestClient(hash string) *Client {
	uid := clientIDs.Next()
	if hash == "" {
		hash = NewHashIssuer([]byte("client")).Issue("conn", uid)
	}
	return NewClient(uid, "conn", "player", hash)
}

func TestStateTransitions(t *testing.T) {
	s, _ := newTestSession(t, Config{}, Hooks{})

	assert.Equal(t, StateWaiting, s.State())
	assert.True(t, s.transition(StateRunning))
	assert.False(t, s.transition(StateWaiting), "running → waiting must be rejected")
	assert.True(t, s.transition(StateStopped))
	assert.False(t, s.transition(StateRunning), "stopped is terminal")
	assert.Equal(t, "stopped", s.State().String())
}

func TestConfigDefaults(t *testing.T) {
	s, _ := newTestSession(t, Config{MaxPlayers: 3}, Hooks{})
	cfg := s.Config()

	assert.Equal(t, 3, cfg.MaxPlayers)
	assert.Equal(t, DefaultTickDuration, cfg.TickDuration)
	assert.Equal(t, DefaultLogicRate, cfg.LogicRate)
	assert.Equal(t, DefaultSyncRate, cfg.SyncRate)

	settings := s.Settings()
	assert.Equal(t, 66, settings.TickRate)
	assert.GreaterOrEqual(t, settings.RandomSeed, uint32(500000))
}

func TestJoinFullSession(t *testing.T) {
	s, host := newTestSession(t, Config{MaxPlayers: 2}, Hooks{})
	now := time.Now()

	a, b, c := newTestClient(""), newTestClient(""), newTestClient("")
	require.NoError(t, a.Join(s, false, now))
	require.NoError(t, b.Join(s, false, now))

	err := c.Join(s, false, now)
	assert.ErrorIs(t, err, ErrSessionFull)
	assert.Len(t, s.Players(), 2)
	assert.Nil(t, c.Player())
	assert.True(t, c.Watching(), "a rejected player stays as a watcher")
	assert.Equal(t, s, c.Session())

	// the rejected client still gets the session state
	assert.Contains(t, host.types(c), protocol.TypeSessionSettings)
	assert.Contains(t, host.types(c), protocol.TypePlayerList)
}

func TestJoinSameSession(t *testing.T) {
	s, _ := newTestSession(t, Config{}, Hooks{})
	c := newTestClient("")
	require.NoError(t, c.Join(s, false, time.Now()))

	assert.ErrorIs(t, c.Join(s, false, time.Now()), ErrSameSession)
	assert.Len(t, s.Players(), 1)
}

func TestJoinStoppedSession(t *testing.T) {
	s, _ := newTestSession(t, Config{}, Hooks{})
	s.Stop(time.Now())

	assert.ErrorIs(t, newTestClient("").Join(s, false, time.Now()), ErrSessionStopped)
}

func TestJoinLeavesPreviousSession(t *testing.T) {
	first, host := newTestSession(t, Config{}, Hooks{})
	second := New(Params{ID: 2, Host: host, Logger: zerolog.Nop()})
	now := time.Now()

	c := newTestClient("")
	require.NoError(t, c.Join(first, false, now))
	require.NoError(t, c.Join(second, false, now))

	assert.Equal(t, second, c.Session())
	assert.True(t, first.Stopped(), "first session lost its only player")
	assert.Contains(t, host.types(c), protocol.TypeLeft)
}

func TestJoinStateOrder(t *testing.T) {
	s, host := newTestSession(t, Config{}, Hooks{})
	now := time.Now()

	a := newTestClient("")
	require.NoError(t, a.Join(s, false, now))
	require.True(t, s.Start(now))

	b := newTestClient("")
	host.reset()
	require.NoError(t, b.Join(s, false, now))

	assert.Equal(t, []protocol.Type{
		protocol.TypeJoined,
		protocol.TypeSessionSettings,
		protocol.TypeStarted,
		protocol.TypeClientList,
		protocol.TypePlayerList,
		protocol.TypeTick,
	}, host.types(b))

	players, err := protocol.DecodePayload[[]protocol.PlayerInfo](host.ofType(b, protocol.TypePlayerList)[0])
	require.NoError(t, err)
	require.Len(t, players, 2)
	assert.False(t, players[0].Own)
	assert.True(t, players[1].Own)
	assert.Equal(t, b.UID(), players[1].ClientID)

	clients, err := protocol.DecodePayload[[]protocol.ClientInfo](host.ofType(b, protocol.TypeClientList)[0])
	require.NoError(t, err)
	require.Len(t, clients, 2)
	assert.True(t, clients[1].Local)

	// a hears about b, b does not hear about itself
	assert.Equal(t, []protocol.Type{protocol.TypeClientJoined, protocol.TypePlayerJoined}, host.types(a))
}

func TestWatcherGetsNoPlayer(t *testing.T) {
	s, _ := newTestSession(t, Config{}, Hooks{})
	now := time.Now()

	p := newTestClient("")
	require.NoError(t, p.Join(s, false, now))
	w := newTestClient("")
	require.NoError(t, w.Join(s, true, now))

	assert.Nil(t, w.Player())
	assert.True(t, w.Watching())
	assert.Len(t, s.Players(), 1)
	assert.Len(t, s.Clients(), 2)
}

func TestReconnectKeepsPlayer(t *testing.T) {
	var joins []bool
	s, host := newTestSession(t, Config{}, Hooks{
		OnPlayerJoin: func(_ *Player, reconnect bool) { joins = append(joins, reconnect) },
	})
	now := time.Now()

	watcher := newTestClient("")
	require.NoError(t, watcher.Join(s, true, now))

	a := newTestClient("")
	require.NoError(t, a.Join(s, false, now))
	p := a.Player()
	require.NotNil(t, p)

	a.Disconnect(now)
	assert.False(t, p.Bound())
	assert.Equal(t, now, p.DisconnectedAt())
	assert.Nil(t, a.Session())
	assert.Len(t, s.Players(), 1, "a disconnected player stays in the session")
	assert.Empty(t, host.ofType(watcher, protocol.TypePlayerLeft), "no player-left on disconnect")
	assert.Len(t, host.ofType(watcher, protocol.TypeClientLeft), 1)

	oldHash := a.Hash()
	back := NewClient(clientIDs.Next(), "conn-2", "player", oldHash)
	require.NoError(t, back.Join(s, false, now.Add(500*time.Millisecond)))

	assert.Same(t, p, back.Player(), "same player, same id")
	assert.True(t, p.Bound())
	assert.True(t, p.DisconnectedAt().IsZero())
	assert.NotEqual(t, oldHash, back.Hash(), "a used hash is rotated")
	assert.Len(t, host.ofType(back, protocol.TypeHash), 1)
	assert.Len(t, host.ofType(watcher, protocol.TypePlayerRejoined), 1)
	assert.Equal(t, []bool{false, true}, joins)
}

func TestUsedHashCannotReclaim(t *testing.T) {
	s, _ := newTestSession(t, Config{}, Hooks{})
	now := time.Now()

	a := newTestClient("")
	require.NoError(t, a.Join(s, false, now))
	first := a.Player()
	oldHash := a.Hash()
	a.Disconnect(now)

	b := NewClient(clientIDs.Next(), "conn", "player", oldHash)
	require.NoError(t, b.Join(s, false, now))
	require.Same(t, first, b.Player())
	b.Disconnect(now)

	// the old hash was retired, so this is a brand new player
	c := NewClient(clientIDs.Next(), "conn", "player", oldHash)
	require.NoError(t, c.Join(s, false, now))
	assert.NotSame(t, first, c.Player())
	assert.Len(t, s.Players(), 2)
}

func TestNeutralPlayerIsNotReclaimed(t *testing.T) {
	s, _ := newTestSession(t, Config{}, Hooks{})
	n, err := s.AddNeutral()
	require.NoError(t, err)

	c := newTestClient("")
	require.NoError(t, c.Join(s, false, time.Now()))
	assert.NotSame(t, n, c.Player())
	assert.True(t, n.Neutral())
}

func TestTimeoutEvictsOnce(t *testing.T) {
	var leaves []bool
	s, host := newTestSession(t, Config{PlayerTimeout: time.Second, TickDuration: 50 * time.Millisecond}, Hooks{
		OnPlayerLeave: func(_ *Player, timeout bool) { leaves = append(leaves, timeout) },
	})
	t0 := time.Now()

	watcher := newTestClient("")
	require.NoError(t, watcher.Join(s, true, t0))
	a := newTestClient("")
	require.NoError(t, a.Join(s, false, t0))
	require.True(t, s.Start(t0))

	a.Disconnect(t0)
	s.Tick(t0.Add(500 * time.Millisecond))
	assert.Len(t, s.Players(), 1, "still inside the timeout window")
	assert.True(t, s.Running())

	s.Tick(t0.Add(1100 * time.Millisecond))
	s.Tick(t0.Add(1200 * time.Millisecond))

	left := host.ofType(watcher, protocol.TypePlayerLeft)
	require.Len(t, left, 1)
	payload, err := protocol.DecodePayload[protocol.PlayerLeft](left[0])
	require.NoError(t, err)
	assert.True(t, payload.Timeout)
	assert.Equal(t, []bool{true}, leaves)

	// eviction runs before the empty check, so the session ends in the same tick
	assert.True(t, s.Stopped())
	assert.Equal(t, []int{1}, host.removed)
	assert.Len(t, host.ofType(watcher, protocol.TypeEnded), 1)
}

func TestNeutralPlayersNeverTimeOut(t *testing.T) {
	s, _ := newTestSession(t, Config{PlayerTimeout: time.Millisecond}, Hooks{})
	t0 := time.Now()
	_, err := s.AddNeutral()
	require.NoError(t, err)

	require.True(t, s.Start(t0))
	s.Tick(t0.Add(time.Minute))
	assert.Len(t, s.Players(), 1)
	assert.True(t, s.Running())
}

func TestTickSyncAndLogicRates(t *testing.T) {
	type call struct {
		elapsed time.Duration
		tick    uint64
		state   uint32
	}
	var calls []call
	var s *Session
	s, host := newTestSession(t, Config{TickDuration: 10 * time.Millisecond, SyncRate: 3, LogicRate: 4}, Hooks{
		OnTick: func(elapsed time.Duration, tick uint64) bool {
			calls = append(calls, call{elapsed, tick, s.Random().State()})
			return false
		},
	})
	t0 := time.Now()

	_, err := s.AddNeutral()
	require.NoError(t, err)
	watcher := newTestClient("")
	require.NoError(t, watcher.Join(s, true, t0))

	require.True(t, s.Start(t0))
	s.Tick(t0.Add(95 * time.Millisecond))

	assert.Equal(t, uint64(10), s.TickCount(), "one call catches up on every owed tick")

	var syncs []uint8
	for _, m := range host.ofType(watcher, protocol.TypeTick) {
		syncs = append(syncs, m.Sync)
	}
	assert.Equal(t, []uint8{0, 3, 6, 9}, syncs)
	assert.Len(t, host.ofType(watcher, protocol.TypeStarted), 1)

	assert.Equal(t, []call{
		{0, 0, 0},
		{40 * time.Millisecond, 4, 4},
		{80 * time.Millisecond, 8, 8},
	}, calls)
	assert.Equal(t, uint32(10), s.Random().State())
}

func TestTickSyncWraps(t *testing.T) {
	s, host := newTestSession(t, Config{TickDuration: time.Millisecond, SyncRate: 100}, Hooks{})
	t0 := time.Now()
	_, err := s.AddNeutral()
	require.NoError(t, err)
	watcher := newTestClient("")
	require.NoError(t, watcher.Join(s, true, t0))

	require.True(t, s.Start(t0))
	s.Tick(t0.Add(300 * time.Millisecond))

	var syncs []uint8
	for _, m := range host.ofType(watcher, protocol.TypeTick) {
		syncs = append(syncs, m.Sync)
	}
	assert.Equal(t, []uint8{0, 100, 200, 50}, syncs)
}

func TestLogicEndStopsSession(t *testing.T) {
	ended := 0
	s, host := newTestSession(t, Config{TickDuration: 10 * time.Millisecond, LogicRate: 1}, Hooks{
		OnTick: func(_ time.Duration, tick uint64) bool { return tick == 3 },
		OnEnd:  func() { ended++ },
	})
	t0 := time.Now()
	a := newTestClient("")
	require.NoError(t, a.Join(s, false, t0))

	require.True(t, s.Start(t0))
	s.Tick(t0.Add(time.Second))

	assert.True(t, s.Stopped())
	assert.Equal(t, uint64(3), s.TickCount(), "no ticks run after the end")
	assert.Equal(t, 1, ended)
	assert.Nil(t, a.Session(), "clients are detached")
	assert.Nil(t, a.Player())
	assert.Len(t, host.ofType(a, protocol.TypeEnded), 1)
}

func TestStopIsIdempotent(t *testing.T) {
	ended := 0
	s, host := newTestSession(t, Config{}, Hooks{OnEnd: func() { ended++ }})
	now := time.Now()
	a, b := newTestClient(""), newTestClient("")
	require.NoError(t, a.Join(s, false, now))
	require.NoError(t, b.Join(s, false, now))

	s.Stop(now)
	s.Stop(now)

	assert.Equal(t, 1, ended)
	assert.Equal(t, []int{1}, host.removed)
	assert.Len(t, host.ofType(a, protocol.TypeEnded), 1)
	assert.Len(t, host.ofType(b, protocol.TypeEnded), 1)
	assert.Empty(t, s.Players())
	assert.Empty(t, s.Clients())

	// a transport drop after the stop is a no-op
	a.Disconnect(now)
	assert.ErrorIs(t, b.Leave(now), ErrNotInSession)
}

func TestVoluntaryLeave(t *testing.T) {
	var leaves []bool
	s, host := newTestSession(t, Config{}, Hooks{
		OnPlayerLeave: func(_ *Player, timeout bool) { leaves = append(leaves, timeout) },
	})
	now := time.Now()
	a, b := newTestClient(""), newTestClient("")
	require.NoError(t, a.Join(s, false, now))
	require.NoError(t, b.Join(s, false, now))
	host.reset()

	require.NoError(t, a.Leave(now))

	assert.Equal(t, []protocol.Type{protocol.TypeLeft}, host.types(a))
	assert.Equal(t, []protocol.Type{protocol.TypePlayerLeft, protocol.TypeClientLeft}, host.types(b))
	payload, err := protocol.DecodePayload[protocol.PlayerLeft](host.ofType(b, protocol.TypePlayerLeft)[0])
	require.NoError(t, err)
	assert.False(t, payload.Timeout)
	assert.Equal(t, []bool{false}, leaves)
	assert.Len(t, s.Players(), 1)
	assert.False(t, s.Stopped())

	require.NoError(t, b.Leave(now))
	assert.True(t, s.Stopped(), "last player left")
}

func TestRemovePlayerIsIdempotent(t *testing.T) {
	s, host := newTestSession(t, Config{}, Hooks{})
	now := time.Now()
	watcher := newTestClient("")
	require.NoError(t, watcher.Join(s, true, now))
	n, err := s.AddNeutral()
	require.NoError(t, err)

	s.RemovePlayer(n)
	s.RemovePlayer(n)
	assert.Len(t, host.ofType(watcher, protocol.TypePlayerLeft), 1)
}

func TestEmptySessionStopsOnFirstTick(t *testing.T) {
	s, host := newTestSession(t, Config{}, Hooks{})
	require.True(t, s.Start(time.Now()))
	assert.True(t, s.Stopped())
	assert.Equal(t, []int{1}, host.removed)
}

func TestHandleMessageRouting(t *testing.T) {
	var byClient, byPlayer int
	s, _ := newTestSession(t, Config{}, Hooks{
		OnClientMessage: func(_ *Client, msg protocol.Message) bool {
			byClient++
			return msg.Type == protocol.TypeApplication
		},
		OnPlayerMessage: func(*Player, protocol.Message) { byPlayer++ },
	})
	now := time.Now()
	a := newTestClient("")
	require.NoError(t, a.Join(s, false, now))

	s.HandleMessage(a, protocol.Message{Type: protocol.TypeApplication})
	s.HandleMessage(a, protocol.Message{Type: protocol.TypeApplication + 1})
	s.HandleMessage(newTestClient(""), protocol.Message{Type: protocol.TypeApplication + 1})

	assert.Equal(t, 2, byClient)
	assert.Equal(t, 1, byPlayer)
}

func TestPlayerSendStampsTick(t *testing.T) {
	s, host := newTestSession(t, Config{TickDuration: 10 * time.Millisecond}, Hooks{})
	t0 := time.Now()
	a := newTestClient("")
	require.NoError(t, a.Join(s, false, t0))
	require.True(t, s.Start(t0))
	s.Tick(t0.Add(25 * time.Millisecond))

	require.NoError(t, a.Player().Send(protocol.TypeApplication, map[string]int{"hp": 3}))
	sent := host.ofType(a, protocol.TypeApplication)
	require.Len(t, sent, 1)
	assert.Equal(t, uint64(3), sent[0].Tick)
}

func TestScheduleCoalescesTicks(t *testing.T) {
	s, _ := newTestSession(t, Config{TickDuration: 2 * time.Millisecond, StartDelay: time.Millisecond}, Hooks{})
	_, err := s.AddNeutral()
	require.NoError(t, err)

	queue := make(chan func(), 64)
	s.Schedule(func(fn func()) bool {
		queue <- fn
		return true
	})

	next := func() func() {
		select {
		case fn := <-queue:
			return fn
		case <-time.After(time.Second):
			t.Fatal("nothing dispatched")
			return nil
		}
	}

	next()() // start
	require.True(t, s.Running())

	// nobody runs the queued tick, so every further firing is folded into it
	time.Sleep(40 * time.Millisecond)
	assert.Len(t, queue, 1)
	assert.Positive(t, s.Coalesced())

	before := s.TickCount()
	next()()
	assert.Greater(t, s.TickCount(), before+1, "the single tick caught up on the missed ones")

	s.Stop(time.Now())
}
