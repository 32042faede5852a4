package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/risa-org/ticksync/config"
	"github.com/risa-org/ticksync/logging"
	"github.com/risa-org/ticksync/protocol"
	"github.com/risa-org/ticksync/server"
	"github.com/risa-org/ticksync/session"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogPretty, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if logger.GetLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	var hashes *session.HashIssuer
	if cfg.HashSecret != "" {
		hashes = session.NewHashIssuer([]byte(cfg.HashSecret))
	} else {
		logger.Warn().Msg("TICKSYNC_HASH_SECRET not set, reconnection hashes will not survive a restart")
	}

	srv, err := server.New(server.Config{
		MaxClients:   cfg.MaxClients,
		MaxSessions:  cfg.MaxSessions,
		Session:      cfg.Session,
		MessageRate:  cfg.MessageRate,
		MessageBurst: cfg.MessageBurst,
		HTTPRate:     cfg.HTTPRate,
		HTTPBurst:    cfg.HTTPBurst,
		PingInterval: cfg.PingInterval,
		Hashes:       hashes,
		NewHooks:     relay,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create server")
	}

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if cfg.TCPAddr != "" {
		l, err := net.Listen("tcp", cfg.TCPAddr)
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.TCPAddr).Msg("failed to listen")
		}
		go func() {
			if err := srv.ServeTCP(l); err != nil {
				logger.Error().Err(err).Msg("tcp listener stopped")
			}
		}()
		logger.Info().Str("addr", cfg.TCPAddr).Msg("accepting raw tcp")
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
		<-sigint
		logger.Info().Msg("shutdown signal received, shutting down gracefully")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("session server shutdown")
		}
		if err := httpSrv.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("http server shutdown")
		}
		close(idleConnsClosed)
	}()

	logger.Info().
		Str("addr", cfg.Addr).
		Int("maxClients", cfg.MaxClients).
		Int("maxSessions", cfg.MaxSessions).
		Dur("tick", cfg.Session.TickDuration).
		Msg("server starting")
	if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server failed")
	}
	<-idleConnsClosed
	logger.Info().Msg("server shutdown complete")
}

// relay is the stock game logic: every application message a player sends
// is forwarded to the rest of the session, stamped with the server tick.
func relay(sess *session.Session) session.Hooks {
	return session.Hooks{
		OnPlayerMessage: func(p *session.Player, msg protocol.Message) {
			_ = sess.Broadcast(msg.Type, msg.Payload, p.Client())
		},
	}
}
