package session

import "time"

// Config holds the per-session timing and capacity settings.
// Zero fields are replaced by the defaults below.
type Config struct {
	MaxPlayers    int
	PlayerTimeout time.Duration
	TickDuration  time.Duration
	LogicRate     int // logic runs every LogicRate ticks
	SyncRate      int // a TICK value is broadcast every SyncRate ticks
	StartDelay    time.Duration
}

const (
	DefaultMaxPlayers    = 6
	DefaultPlayerTimeout = time.Second
	DefaultTickDuration  = 66 * time.Millisecond
	DefaultLogicRate     = 10
	DefaultSyncRate      = 30
	DefaultStartDelay    = 2 * time.Second
)

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		MaxPlayers:    DefaultMaxPlayers,
		PlayerTimeout: DefaultPlayerTimeout,
		TickDuration:  DefaultTickDuration,
		LogicRate:     DefaultLogicRate,
		SyncRate:      DefaultSyncRate,
		StartDelay:    DefaultStartDelay,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxPlayers <= 0 {
		c.MaxPlayers = d.MaxPlayers
	}
	if c.PlayerTimeout <= 0 {
		c.PlayerTimeout = d.PlayerTimeout
	}
	if c.TickDuration <= 0 {
		c.TickDuration = d.TickDuration
	}
	if c.LogicRate <= 0 {
		c.LogicRate = d.LogicRate
	}
	if c.SyncRate <= 0 {
		c.SyncRate = d.SyncRate
	}
	// a zero StartDelay is valid and starts on the next dispatch
	if c.StartDelay < 0 {
		c.StartDelay = 0
	}
	return c
}
