// Package security holds the HTTP hardening middleware: response headers
// and per-client rate limiting.
package security

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Headers adds standard security headers to all responses.
func Headers() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		c.Next()
	}
}

// LimiterConfig configures per-client rate limiting.
type LimiterConfig struct {
	RequestsPerMinute int
	Burst             int
	// IdleTTL controls when an inactive client's limiter is discarded.
	IdleTTL time.Duration
}

// DefaultLimiterConfig returns limits suited to interactive dashboard use.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		RequestsPerMinute: 120,
		Burst:             30,
		IdleTTL:           time.Hour,
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientLimiter rate-limits requests per client IP. Limiters for idle
// clients are evicted lazily on each lookup pass.
type ClientLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	cfg     LimiterConfig
	lastGC  time.Time
}

// NewClientLimiter creates a per-IP limiter.
func NewClientLimiter(cfg LimiterConfig) *ClientLimiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg = DefaultLimiterConfig()
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RequestsPerMinute / 4
		if cfg.Burst < 5 {
			cfg.Burst = 5
		}
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = time.Hour
	}
	return &ClientLimiter{
		clients: make(map[string]*clientLimiter),
		cfg:     cfg,
		lastGC:  time.Now(),
	}
}

// Allow reports whether the client identified by key may proceed.
func (cl *ClientLimiter) Allow(key string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	now := time.Now()
	if now.Sub(cl.lastGC) > cl.cfg.IdleTTL {
		for k, c := range cl.clients {
			if now.Sub(c.lastSeen) > cl.cfg.IdleTTL {
				delete(cl.clients, k)
			}
		}
		cl.lastGC = now
	}

	c, ok := cl.clients[key]
	if !ok {
		c = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(float64(cl.cfg.RequestsPerMinute)/60.0), cl.cfg.Burst),
		}
		cl.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.Allow()
}

// Middleware rejects requests over the per-IP limit with 429.
func (cl *ClientLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cl.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": "60",
			})
			return
		}
		c.Next()
	}
}
