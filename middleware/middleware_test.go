package middleware

import (
	"context"
	"errors"
	"guardian/utils"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	logrus.SetOutput(io.Discard)
}

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func deviceEcho(c *gin.Context) {
	c.String(http.StatusOK, c.GetString("deviceID"))
}

func TestAuthDisabled(t *testing.T) {
	auth := NewAuthMiddleware(nil)
	assert.False(t, auth.Enabled())

	router := gin.New()
	router.GET("/me", auth.RequireDevice(), deviceEcho)

	w := serve(router, httptest.NewRequest(http.MethodGet, "/me", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "local", w.Body.String())
}

func TestAuthWithToken(t *testing.T) {
	jwtService := utils.NewJWTService("middleware-secret", time.Hour)
	token, err := jwtService.GenerateDeviceToken("hallway-panel")
	require.NoError(t, err)

	router := gin.New()
	router.GET("/me", NewAuthMiddleware(jwtService).RequireDevice(), deviceEcho)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token.Token)
	w := serve(router, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hallway-panel", w.Body.String())

	w = serve(router, httptest.NewRequest(http.MethodGet, "/me?token="+token.Token, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hallway-panel", w.Body.String())

	w = serve(router, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Authentication token required")

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer forged")
	w = serve(router, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid authentication token")
}

func TestMemoryRateLimit(t *testing.T) {
	config := RateLimitConfig{Requests: 2, Window: time.Hour}
	router := gin.New()
	router.POST("/trigger", RateLimit(NewMemoryRateLimitStore(2, time.Hour), config), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})

	newRequest := func(ip string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/trigger", nil)
		req.RemoteAddr = ip + ":5555"
		return req
	}

	w := serve(router, newRequest("10.0.0.1"))
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))

	w = serve(router, newRequest("10.0.0.1"))
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = serve(router, newRequest("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "3600", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = serve(router, newRequest("10.0.0.2"))
	assert.Equal(t, http.StatusAccepted, w.Code)
}

type brokenStore struct{}

func (brokenStore) Allow(context.Context, string) (bool, int, error) {
	return false, 0, errors.New("redis: connection refused")
}

func TestRateLimitFailsOpen(t *testing.T) {
	router := gin.New()
	router.GET("/", RateLimit(brokenStore{}, RateLimitConfig{}), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

// stalledStore waits for the caller's deadline, like a Redis that stopped
// replying.
type stalledStore struct{}

func (stalledStore) Allow(ctx context.Context, _ string) (bool, int, error) {
	<-ctx.Done()
	return false, 0, ctx.Err()
}

func TestRateLimitCheckIsBounded(t *testing.T) {
	router := gin.New()
	router.POST("/trigger", RateLimit(stalledStore{}, RateLimitConfig{CheckTimeout: 20 * time.Millisecond}), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})

	start := time.Now()
	w := serve(router, httptest.NewRequest(http.MethodPost, "/trigger", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Less(t, time.Since(start), time.Second)
}

func TestMemoryRateLimitDropsIdleKeys(t *testing.T) {
	store := NewMemoryRateLimitStore(1, time.Minute)
	clock := time.Now()
	store.now = func() time.Time { return clock }
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		allowed, _, err := store.Allow(ctx, key)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, _, _ := store.Allow(ctx, "a")
	assert.False(t, allowed)
	assert.Equal(t, 3, store.Len())

	clock = clock.Add(30 * time.Second)
	_, _, _ = store.Allow(ctx, "b")

	clock = clock.Add(45 * time.Second)
	allowed, _, _ = store.Allow(ctx, "d")
	assert.True(t, allowed)
	assert.Equal(t, 2, store.Len())

	allowed, remaining, _ := store.Allow(ctx, "a")
	assert.True(t, allowed)
	assert.Zero(t, remaining)
}

func TestRateLimitKeyPrefersDevice(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "192.0.2.7:1234"

	assert.Equal(t, "rl:ip:192.0.2.7", rateLimitKey(c, "rl"))
	c.Set("deviceID", "local")
	assert.Equal(t, "rl:ip:192.0.2.7", rateLimitKey(c, "rl"))
	c.Set("deviceID", "panel-2")
	assert.Equal(t, "rl:device:panel-2", rateLimitKey(c, "rl"))
}

func TestCORS(t *testing.T) {
	config := DefaultCORSConfig([]string{"https://app.example.com", "*.guardian.test"})
	assert.True(t, isOriginAllowed(config, "https://app.example.com"))
	assert.True(t, isOriginAllowed(config, "https://ops.guardian.test"))
	assert.False(t, isOriginAllowed(config, "https://evil.example.org"))
	assert.True(t, isOriginAllowed(DefaultCORSConfig(nil), "https://anything.test"))

	router := gin.New()
	router.Use(CORS(config))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := serve(router, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "43200", w.Header().Get("Access-Control-Max-Age"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.org")
	w = serve(router, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestErrorHandlerRecoversPanics(t *testing.T) {
	router := gin.New()
	router.Use(NewErrorHandler("development", nil).Handle())
	router.GET("/panic", func(c *gin.Context) { panic("sensor overflow") })
	router.GET("/fail", func(c *gin.Context) { _ = c.Error(utils.NewContactNotFoundError()) })

	w := serve(router, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "sensor overflow")

	w = serve(router, httptest.NewRequest(http.MethodGet, "/fail", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLoggerAssignsRequestID(t *testing.T) {
	router := gin.New()
	router.Use(LoggerMiddleware(LoggerConfig{}))
	router.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("request_id")) })

	w := serve(router, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Body.String())
	assert.Equal(t, w.Body.String(), w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "given")
	w = serve(router, req)
	assert.Equal(t, "given", w.Body.String())
}
