package session

import (
	"context"
	"time"

	"github.com/risa-org/ticksync/protocol"
)

// Schedule arms the start grace timer. Once it fires the session starts and
// a periodic ticker begins posting ticks. dispatch hands a closure to the
// goroutine that owns the session; it returns false once that goroutine is
// gone, which stops the ticker.
//
// At most one tick per session is ever queued or running. Firings that land
// while one is pending are dropped and counted; the catch-up loop in Tick
// makes up for them.
func (s *Session) Schedule(dispatch func(func()) bool) {
	ctx, cancel := context.WithCancel(context.Background())
	s.dispatch = dispatch
	s.cancel = cancel
	s.startTimer = time.AfterFunc(s.cfg.StartDelay, func() {
		dispatch(func() {
			if ctx.Err() != nil {
				return
			}
			if s.Start(time.Now()) {
				go s.runTicker(ctx)
			}
		})
	})
}

func (s *Session) runTicker(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.inFlight.CompareAndSwap(false, true) {
				s.coalesced.Add(1)
				continue
			}
			ok := s.dispatch(func() {
				defer s.inFlight.Store(false)
				s.Tick(time.Now())
			})
			if !ok {
				s.inFlight.Store(false)
				return
			}
		}
	}
}

// Start begins ticking at now and runs the first tick immediately.
// It returns false if the session was not waiting.
func (s *Session) Start(now time.Time) bool {
	if !s.transition(StateRunning) {
		return false
	}
	s.startedAt = now
	s.tickTime = 0
	s.log.Debug().Msg("session started")
	s.Tick(now)
	return true
}

// Tick runs every tick owed up to now. Timer firings are not exact and may
// be coalesced, so one call can run several ticks.
func (s *Session) Tick(now time.Time) {
	if s.state != StateRunning {
		return
	}
	dur := s.cfg.TickDuration
	elapsed := now.Sub(s.startedAt)

	for elapsed >= s.tickTime {
		if s.tickCount == 0 {
			s.broadcast(s.stamped(protocol.TypeStarted, nil))
			if s.hooks.OnStart != nil {
				s.hooks.OnStart()
			}
		}

		if s.tickCount%uint64(s.cfg.SyncRate) == 0 {
			s.broadcast(protocol.TickMessage(s.tickCount))
		}

		s.evictTimedOut(now)

		if s.tickCount%uint64(s.cfg.LogicRate) == 0 && s.hooks.OnTick != nil {
			if s.hooks.OnTick(s.tickTime, s.tickCount) {
				s.Stop(now)
				return
			}
		}

		s.tickCount++
		s.random.Reset(s.tickCount)
		s.tickTime += dur
	}

	if s.players.Len() == 0 {
		s.Stop(now)
	}
}

func (s *Session) evictTimedOut(now time.Time) {
	s.players.Each(func(_ int, p *Player) bool {
		if p.timedOut(now, s.cfg.PlayerTimeout) {
			s.log.Info().Int("player", p.id).Msg("player timed out")
			s.removePlayer(p, true)
		}
		return false
	})
}

// Stop ends the session. It is safe to call more than once.
//
// Every player leaves, every client receives ENDED and is detached, and the
// host is told to forget the session.
func (s *Session) Stop(now time.Time) {
	if !s.transition(StateStopped) {
		return
	}
	if s.startTimer != nil {
		s.startTimer.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.hooks.OnEnd != nil {
		s.hooks.OnEnd()
	}

	s.players.Each(func(_ int, p *Player) bool {
		s.removePlayer(p, false)
		return false
	})

	clients := s.clients.Values()
	if len(clients) > 0 {
		s.host.Broadcast(s.stamped(protocol.TypeEnded, nil), clients, nil)
	}
	for _, c := range clients {
		c.session = nil
		c.player = nil
		c.watching = false
	}

	s.players.Clear()
	s.clients.Clear()
	ev := s.log.Info().Uint64("ticks", s.tickCount)
	if !s.startedAt.IsZero() {
		ev = ev.Dur("ran", now.Sub(s.startedAt))
	}
	ev.Msg("session stopped")
	s.host.RemoveSession(s.id)
}
