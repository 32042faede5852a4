package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/risa-org/ticksync/session"
)

// Config is everything the server binary reads from the environment.
type Config struct {
	Addr        string // HTTP and websocket listen address
	TCPAddr     string // raw TCP listen address, empty disables it
	MaxClients  int
	MaxSessions int
	Session     session.Config

	MessageRate  float64 // inbound frames per second per client
	MessageBurst int
	HTTPRate     float64 // upgrade requests per second per IP
	HTTPBurst    int
	PingInterval time.Duration // websocket keepalive, negative disables it

	HashSecret string // empty means a random secret per process
	LogLevel   string
	LogPretty  bool
}

// Load reads a .env file if there is one, then the environment. Values that
// fail to parse are logged and replaced by their default.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:        getEnvString("TICKSYNC_ADDR", ":13451"),
		TCPAddr:     getEnvString("TICKSYNC_TCP_ADDR", ""),
		MaxClients:  getEnvInt("TICKSYNC_MAX_CLIENTS", 60),
		MaxSessions: getEnvInt("TICKSYNC_MAX_SESSIONS", 12),
		Session: session.Config{
			MaxPlayers:    getEnvInt("TICKSYNC_MAX_PLAYERS", session.DefaultMaxPlayers),
			PlayerTimeout: getEnvDuration("TICKSYNC_PLAYER_TIMEOUT", session.DefaultPlayerTimeout),
			TickDuration:  getEnvDuration("TICKSYNC_TICK_DURATION", session.DefaultTickDuration),
			LogicRate:     getEnvInt("TICKSYNC_LOGIC_RATE", session.DefaultLogicRate),
			SyncRate:      getEnvInt("TICKSYNC_SYNC_RATE", session.DefaultSyncRate),
			StartDelay:    getEnvDuration("TICKSYNC_START_DELAY", session.DefaultStartDelay),
		},
		MessageRate:  getEnvFloat("TICKSYNC_MESSAGE_RATE", 30),
		MessageBurst: getEnvInt("TICKSYNC_MESSAGE_BURST", 60),
		HTTPRate:     getEnvFloat("TICKSYNC_HTTP_RATE", 5),
		HTTPBurst:    getEnvInt("TICKSYNC_HTTP_BURST", 10),
		PingInterval: getEnvDuration("TICKSYNC_PING_INTERVAL", 15*time.Second),
		HashSecret:   getEnvString("TICKSYNC_HASH_SECRET", ""),
		LogLevel:     getEnvString("TICKSYNC_LOG_LEVEL", "info"),
		LogPretty:    getEnvBool("TICKSYNC_LOG_PRETTY", false),
	}
}

// Validate reports every setting that cannot work.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("TICKSYNC_ADDR must not be empty"))
	}
	if c.MaxClients <= 0 {
		errs = append(errs, fmt.Errorf("TICKSYNC_MAX_CLIENTS must be positive, got %d", c.MaxClients))
	}
	// session id 0 is reserved, so one session needs a maximum of 2
	if c.MaxSessions < 2 {
		errs = append(errs, fmt.Errorf("TICKSYNC_MAX_SESSIONS must be at least 2, got %d", c.MaxSessions))
	}
	if c.Session.MaxPlayers <= 0 {
		errs = append(errs, fmt.Errorf("TICKSYNC_MAX_PLAYERS must be positive, got %d", c.Session.MaxPlayers))
	}
	if c.Session.PlayerTimeout <= 0 {
		errs = append(errs, fmt.Errorf("TICKSYNC_PLAYER_TIMEOUT must be positive, got %s", c.Session.PlayerTimeout))
	}
	if c.Session.TickDuration < time.Millisecond {
		errs = append(errs, fmt.Errorf("TICKSYNC_TICK_DURATION must be at least 1ms, got %s", c.Session.TickDuration))
	}
	if c.Session.LogicRate <= 0 {
		errs = append(errs, fmt.Errorf("TICKSYNC_LOGIC_RATE must be positive, got %d", c.Session.LogicRate))
	}
	if c.Session.SyncRate <= 0 {
		errs = append(errs, fmt.Errorf("TICKSYNC_SYNC_RATE must be positive, got %d", c.Session.SyncRate))
	}
	if c.Session.StartDelay < 0 {
		errs = append(errs, fmt.Errorf("TICKSYNC_START_DELAY must not be negative, got %s", c.Session.StartDelay))
	}
	if c.MessageRate <= 0 || c.MessageBurst <= 0 {
		errs = append(errs, errors.New("TICKSYNC_MESSAGE_RATE and TICKSYNC_MESSAGE_BURST must be positive"))
	}
	if c.HTTPRate <= 0 || c.HTTPBurst <= 0 {
		errs = append(errs, errors.New("TICKSYNC_HTTP_RATE and TICKSYNC_HTTP_BURST must be positive"))
	}
	return errors.Join(errs...)
}

func getEnvString(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(val)
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		log.Warn().Str("key", key).Err(err).Dur("default", fallback).Msg("invalid duration, using default")
		return fallback
	}
	return d
}

func getEnvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		log.Warn().Str("key", key).Err(err).Int("default", fallback).Msg("invalid int, using default")
		return fallback
	}
	return i
}

func getEnvFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		log.Warn().Str("key", key).Err(err).Float64("default", fallback).Msg("invalid number, using default")
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		log.Warn().Str("key", key).Err(err).Bool("default", fallback).Msg("invalid bool, using default")
		return fallback
	}
	return b
}
