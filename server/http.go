package server

import (
	"net/http"
	"time"

	ginGzip "github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	cachecontrol "go.eigsys.de/gin-cachecontrol/v2"
	nws "nhooyr.io/websocket"

	"github.com/risa-org/ticksync/transport/websocket"
)

// Router returns the HTTP surface of the server:
//
//	GET /ws        websocket upgrade, then the session protocol
//	GET /sessions  the session directory as JSON
//	GET /healthz   counters
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(s.accessLog())

	router.GET("/ws", s.ips.middleware(), s.upgrade)

	// compression and cache headers would break the websocket hijack
	api := router.Group("/",
		ginGzip.Gzip(ginGzip.DefaultCompression),
		cachecontrol.New(cachecontrol.Config{
			NoStore:        true,
			NoCache:        true,
			MustRevalidate: true,
		}),
	)
	api.GET("/sessions", s.listSessions)
	api.GET("/healthz", s.healthz)

	return router
}

func (s *Server) upgrade(c *gin.Context) {
	a, err := websocket.Accept(c.Writer, c.Request, &nws.AcceptOptions{
		OriginPatterns: s.cfg.OriginPatterns,
	}, websocket.Options{PingInterval: s.cfg.PingInterval})
	if err != nil {
		// Accept has already written the response
		s.log.Debug().Err(err).Str("remote", c.ClientIP()).Msg("websocket upgrade failed")
		return
	}
	s.Serve(a, c.ClientIP())
}

func (s *Server) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.directory.List()})
}

func (s *Server) healthz(c *gin.Context) {
	stats := s.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"clients":   stats.Clients,
		"sessions":  stats.Sessions,
		"players":   stats.Players,
		"bytesSent": stats.BytesSent,
		"uptime":    stats.Uptime.Round(time.Second).String(),
	})
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set("requestID", reqID)
		c.Header("X-Request-Id", reqID)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", c.GetString("requestID")).
			Msg("http")
	}
}
