package server

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/risa-org/ticksync/session"
)

// Config is what New needs to run a server.
type Config struct {
	MaxClients  int
	MaxSessions int // session ids run from 1 to MaxSessions-1
	Session     session.Config

	MessageRate  float64 // inbound frames per second per connection
	MessageBurst int
	HTTPRate     float64 // websocket upgrades per second per IP
	HTTPBurst    int
	QueueSize    int // outbound frames buffered per connection

	// PingInterval is how often websocket peers are pinged. Peers that stop
	// answering are disconnected, which starts their player's timeout.
	// Negative disables pings.
	PingInterval time.Duration

	// OriginPatterns are passed to the websocket accept. Empty means
	// same-origin only for browsers that send an Origin header.
	OriginPatterns []string

	// Hashes issues reconnection hashes. A random one is created if nil.
	Hashes *session.HashIssuer

	// NewHooks builds the game logic of a freshly created session.
	NewHooks func(*session.Session) session.Hooks

	Logger zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxClients <= 0 {
		c.MaxClients = 60
	}
	if c.MaxSessions < 2 {
		c.MaxSessions = 12
	}
	if c.MessageRate <= 0 {
		c.MessageRate = 30
	}
	if c.MessageBurst <= 0 {
		c.MessageBurst = 60
	}
	if c.HTTPRate <= 0 {
		c.HTTPRate = 5
	}
	if c.HTTPBurst <= 0 {
		c.HTTPBurst = 10
	}
	if c.PingInterval == 0 {
		c.PingInterval = 15 * time.Second
	}
	return c
}
