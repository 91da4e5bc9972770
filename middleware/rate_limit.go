package middleware

import (
	"context"
	"fmt"
	"guardian/utils"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimitStore counts requests per key.
type RateLimitStore interface {
	Allow(ctx context.Context, key string) (allowed bool, remaining int, err error)
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Requests     int           // Number of requests allowed
	Window       time.Duration // Time window
	KeyPrefix    string
	ErrorMessage string
	CheckTimeout time.Duration // bounds the store call; the request passes on timeout
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	if c.Requests <= 0 {
		c.Requests = 10
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "rate_limit"
	}
	if c.ErrorMessage == "" {
		c.ErrorMessage = "Rate limit exceeded"
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = 500 * time.Millisecond
	}
	return c
}

// RateLimit limits requests per device, or per client IP when auth is off.
// Store errors let the request through.
func RateLimit(store RateLimitStore, config RateLimitConfig) gin.HandlerFunc {
	config = config.withDefaults()

	return func(c *gin.Context) {
		key := rateLimitKey(c, config.KeyPrefix)

		ctx, cancel := context.WithTimeout(c.Request.Context(), config.CheckTimeout)
		allowed, remaining, err := store.Allow(ctx, key)
		cancel()
		if err != nil {
			logrus.Errorf("Rate limit check failed: %v", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(config.Requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(config.Window.Seconds())))
			logrus.WithFields(logrus.Fields{
				"key":        key,
				"path":       c.Request.URL.Path,
				"request_id": c.GetString("request_id"),
			}).Warn("Rate limit exceeded")
			utils.ErrorResponse(c, http.StatusTooManyRequests, config.ErrorMessage, nil)
			c.Abort()
			return
		}

		c.Next()
	}
}

// TriggerRateLimit guards the emergency trigger. Redis is used when
// configured so the limit holds across replicas.
func TriggerRateLimit(redisClient *redis.Client, requests int, window time.Duration) gin.HandlerFunc {
	config := RateLimitConfig{
		Requests:     requests,
		Window:       window,
		KeyPrefix:    "rate_limit:trigger",
		ErrorMessage: "Too many emergency triggers, please wait before retrying",
	}.withDefaults()

	var store RateLimitStore
	if redisClient != nil {
		store = NewRedisRateLimitStore(redisClient, config.Requests, config.Window)
	} else {
		store = NewMemoryRateLimitStore(config.Requests, config.Window)
	}
	return RateLimit(store, config)
}

func rateLimitKey(c *gin.Context, prefix string) string {
	if deviceID := c.GetString("deviceID"); deviceID != "" && deviceID != "local" {
		return fmt.Sprintf("%s:device:%s", prefix, deviceID)
	}
	return fmt.Sprintf("%s:ip:%s", prefix, c.ClientIP())
}

// =================== REDIS ===================

// RedisRateLimitStore is a sliding window log kept in a sorted set.
type RedisRateLimitStore struct {
	client   *redis.Client
	requests int
	window   time.Duration
}

func NewRedisRateLimitStore(client *redis.Client, requests int, window time.Duration) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client, requests: requests, window: window}
}

func (s *RedisRateLimitStore) Allow(ctx context.Context, key string) (bool, int, error) {
	now := time.Now()
	member := strconv.FormatInt(now.UnixNano(), 10)

	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(now.Add(-s.window).UnixNano(), 10))
	count := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, &redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, key, s.window+time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}

	current := int(count.Val())
	if current >= s.requests {
		// Rejected requests do not count against the window.
		s.client.ZRem(ctx, key, member)
		return false, 0, nil
	}
	return true, s.requests - current - 1, nil
}

// =================== MEMORY ===================

// MemoryRateLimitStore keeps one token bucket per key in process. Buckets
// idle for a whole window are full again and get dropped.
type MemoryRateLimitStore struct {
	mu        sync.Mutex
	limiters  map[string]*memoryLimiter
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type memoryLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewMemoryRateLimitStore(requests int, window time.Duration) *MemoryRateLimitStore {
	if requests <= 0 {
		requests = 1
	}
	return &MemoryRateLimitStore{
		limiters:  make(map[string]*memoryLimiter),
		limit:     rate.Every(window / time.Duration(requests)),
		burst:     requests,
		idle:      window,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (s *MemoryRateLimitStore) Allow(_ context.Context, key string) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= s.idle {
		s.sweepLocked(now)
	}

	entry, ok := s.limiters[key]
	if !ok {
		entry = &memoryLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[key] = entry
	}
	entry.lastSeen = now

	allowed := entry.limiter.AllowN(now, 1)
	remaining := int(entry.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining, nil
}

func (s *MemoryRateLimitStore) sweepLocked(now time.Time) {
	for key, entry := range s.limiters {
		if now.Sub(entry.lastSeen) >= s.idle {
			delete(s.limiters, key)
		}
	}
	s.lastSweep = now
}

// Len reports how many keys are tracked.
func (s *MemoryRateLimitStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}
