package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/time/rate"
)

const (
	limiterTTL  = time.Hour
	sweepEvery  = 10 * time.Minute
	maxLimiters = 10000
)

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// ipLimiter hands out one token bucket per remote address.
type ipLimiter struct {
	mu        deadlock.Mutex
	limit     rate.Limit
	burst     int
	entries   map[string]*limiterEntry
	lastSweep time.Time
}

func newIPLimiter(limit rate.Limit, burst int) *ipLimiter {
	return &ipLimiter{
		limit:     limit,
		burst:     burst,
		entries:   make(map[string]*limiterEntry),
		lastSweep: time.Now(),
	}
}

// get returns the bucket of key, creating it on first use.
func (l *ipLimiter) get(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= sweepEvery || len(l.entries) >= maxLimiters {
		l.sweep(now)
	}
	if e, ok := l.entries[key]; ok {
		e.lastAccess = now
		return e.limiter
	}
	e := &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst), lastAccess: now}
	l.entries[key] = e
	return e.limiter
}

// sweep drops buckets nobody used within limiterTTL. Caller holds mu.
func (l *ipLimiter) sweep(now time.Time) {
	cutoff := now.Add(-limiterTTL)
	for key, e := range l.entries {
		if e.lastAccess.Before(cutoff) {
			delete(l.entries, key)
		}
	}
	l.lastSweep = now
}

func (l *ipLimiter) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// middleware rejects requests over the per-IP rate with 429.
func (l *ipLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.get(c.ClientIP(), time.Now()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests. Please slow down."})
			return
		}
		c.Next()
	}
}
