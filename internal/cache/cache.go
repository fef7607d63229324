// Package cache provides a TTL response cache for read-heavy endpoints.
// Project-wide pressure reads fan out over every group member, so their
// responses are held briefly to absorb dashboard polling.
package cache

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/itss-group/projectpulse/internal/monitoring"
)

type entry struct {
	body        []byte
	contentType string
	expiresAt   time.Time
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// ResponseCache is a thread-safe in-memory cache of rendered responses
// keyed by request URL.
type ResponseCache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ttl     time.Duration
	clock   func() time.Time
}

// NewResponseCache creates a cache whose entries live for ttl. Expired
// entries are pruned in the background.
func NewResponseCache(ttl time.Duration) *ResponseCache {
	c := &ResponseCache{
		entries: make(map[string]*entry),
		ttl:     ttl,
		clock:   time.Now,
	}
	go c.prune()
	return c
}

func (c *ResponseCache) prune() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		now := c.clock()
		c.mu.Lock()
		for key, e := range c.entries {
			if e.expired(now) {
				delete(c.entries, key)
			}
		}
		c.mu.Unlock()
	}
}

func (c *ResponseCache) get(key string) (*entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || e.expired(c.clock()) {
		return nil, false
	}
	return e, true
}

func (c *ResponseCache) set(key string, e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.expiresAt = c.clock().Add(c.ttl)
	c.entries[key] = e
}

// Invalidate drops all cached responses. Called after writes that change
// what cached reads would return.
func (c *ResponseCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// Size returns the number of cached responses, expired or not.
func (c *ResponseCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Middleware serves cached responses for GET requests whose path is
// accepted by cacheable, and captures successful responses on miss.
func (c *ResponseCache) Middleware(cacheable func(path string) bool) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if ctx.Request.Method != http.MethodGet || !cacheable(ctx.Request.URL.Path) {
			ctx.Next()
			return
		}

		key := ctx.Request.URL.RequestURI()
		if e, ok := c.get(key); ok {
			monitoring.ObserveCacheLookup("hit")
			ctx.Data(http.StatusOK, e.contentType, e.body)
			ctx.Abort()
			return
		}
		monitoring.ObserveCacheLookup("miss")

		w := &captureWriter{ResponseWriter: ctx.Writer, body: &bytes.Buffer{}}
		ctx.Writer = w
		ctx.Next()

		if ctx.Writer.Status() == http.StatusOK {
			c.set(key, &entry{
				body:        w.body.Bytes(),
				contentType: ctx.Writer.Header().Get("Content-Type"),
			})
		}
	}
}

type captureWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *captureWriter) Write(data []byte) (int, error) {
	w.body.Write(data)
	return w.ResponseWriter.Write(data)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
