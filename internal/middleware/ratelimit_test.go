package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"

	redisstate "github.com/mohsinalimat/watchparty/internal/infra/state/redis"
)

type brokenLimiter struct{}

func (brokenLimiter) CheckRateLimit(context.Context, string, int, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func newRouter(limiter Limiter, max int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(limiter, max, time.Minute))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func request(r *gin.Engine, ip string) int {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = ip + ":1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	r := newRouter(redisstate.NewRedisStateRepository(client, "wp:"), 2)

	assert.Equal(t, http.StatusOK, request(r, "10.0.0.1"))
	assert.Equal(t, http.StatusOK, request(r, "10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, request(r, "10.0.0.1"))
	assert.Equal(t, http.StatusOK, request(r, "10.0.0.2"), "limits are per client IP")
	assert.True(t, mr.Exists("wp:ratelimit:10.0.0.1"))

	mr.FastForward(time.Minute + time.Second)
	assert.Equal(t, http.StatusOK, request(r, "10.0.0.1"))
}

func TestRateLimit_FailsOpen(t *testing.T) {
	r := newRouter(brokenLimiter{}, 1)

	assert.Equal(t, http.StatusOK, request(r, "10.0.0.1"))
	assert.Equal(t, http.StatusOK, request(r, "10.0.0.1"))
}

func TestRateLimit_PanicsOnBadConfig(t *testing.T) {
	assert.Panics(t, func() { RateLimit(nil, 1, time.Second) })
	assert.Panics(t, func() { RateLimit(brokenLimiter{}, 0, time.Second) })
	assert.Panics(t, func() { RateLimit(brokenLimiter{}, 1, 0) })
}
