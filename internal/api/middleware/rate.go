package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// DefaultRateLimitConfig bounds the browser-driven keepalive traffic. The
// refresh timer fires at most every 30 seconds per tab, so even a modest
// budget only ever throttles misbehaving clients.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		Burst:             100,
	}
}

// idleEviction is how long an IP may stay quiet before its limiter state
// is dropped.
const idleEviction = 10 * time.Minute

// RateLimit creates a per-IP rate limiting middleware. Idle entries are
// swept on the fly so the map cannot grow without bound.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	var (
		mu        sync.Mutex
		clients   = make(map[string]*client)
		lastSweep = time.Now()
	)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		now := time.Now()

		mu.Lock()
		if now.Sub(lastSweep) > idleEviction {
			for addr, entry := range clients {
				if now.Sub(entry.lastSeen) > idleEviction {
					delete(clients, addr)
				}
			}
			lastSweep = now
		}
		entry, exists := clients[ip]
		if !exists {
			entry = &client{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)}
			clients[ip] = entry
		}
		entry.lastSeen = now
		limiter := entry.limiter
		mu.Unlock()

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
