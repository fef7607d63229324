package cache

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRouter(c *ResponseCache) (*gin.Engine, *int) {
	gin.SetMode(gin.TestMode)
	hits := 0
	r := gin.New()
	r.Use(c.Middleware(func(path string) bool {
		return strings.HasPrefix(path, "/pressure/")
	}))
	r.GET("/pressure/project/:id", func(ctx *gin.Context) {
		hits++
		ctx.JSON(http.StatusOK, gin.H{"serve": hits})
	})
	r.GET("/uncached", func(ctx *gin.Context) {
		hits++
		ctx.JSON(http.StatusOK, gin.H{"serve": hits})
	})
	return r, &hits
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestMiddlewareServesFromCache(t *testing.T) {
	c := NewResponseCache(time.Minute)
	r, hits := testRouter(c)

	first := get(r, "/pressure/project/5")
	require.Equal(t, http.StatusOK, first.Code)

	second := get(r, "/pressure/project/5")
	require.Equal(t, http.StatusOK, second.Code)

	assert.Equal(t, 1, *hits, "second request must not reach the handler")
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestMiddlewareKeysOnFullURI(t *testing.T) {
	c := NewResponseCache(time.Minute)
	r, hits := testRouter(c)

	get(r, "/pressure/project/5")
	get(r, "/pressure/project/6")
	assert.Equal(t, 2, *hits)
	assert.Equal(t, 2, c.Size())
}

func TestMiddlewareSkipsUncachedPaths(t *testing.T) {
	c := NewResponseCache(time.Minute)
	r, hits := testRouter(c)

	get(r, "/uncached")
	get(r, "/uncached")
	assert.Equal(t, 2, *hits)
	assert.Equal(t, 0, c.Size())
}

func TestEntriesExpire(t *testing.T) {
	c := NewResponseCache(time.Minute)
	now := time.Now()
	c.clock = func() time.Time { return now }
	r, hits := testRouter(c)

	get(r, "/pressure/project/5")
	now = now.Add(2 * time.Minute)
	get(r, "/pressure/project/5")

	assert.Equal(t, 2, *hits, "expired entry must be recomputed")
}

func TestInvalidateDropsEverything(t *testing.T) {
	c := NewResponseCache(time.Minute)
	r, hits := testRouter(c)

	for i := 0; i < 3; i++ {
		get(r, "/pressure/project/"+strconv.Itoa(i))
	}
	require.Equal(t, 3, c.Size())

	c.Invalidate()
	assert.Equal(t, 0, c.Size())

	get(r, "/pressure/project/0")
	assert.Equal(t, 4, *hits)
}
