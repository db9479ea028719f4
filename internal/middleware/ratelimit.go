// ratelimit.go provides Gin middleware that enforces per-principal rate limits, returning
// 429 responses when a limit is exceeded. Two limiters are provided: an in-process token
// bucket for the general request rate, and a Redis-backed limiter shared by all replicas
// for the hourly cap on access requests.
package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of a single rate limit check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Take(ctx context.Context, key string) (Decision, error)
}

// RateLimitConfig holds configuration for the in-process token bucket
type RateLimitConfig struct {
	// Requests is the number of requests refilled per Period
	Requests int
	// Period is the refill window; defaults to one minute
	Period time.Duration
	// BurstSize is the maximum burst of requests allowed
	BurstSize int
	// CleanupInterval is how often to clean up idle entries
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns the general API defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Requests:        120,
		Period:          time.Minute,
		BurstSize:       20,
		CleanupInterval: 5 * time.Minute,
	}
}

func (c RateLimitConfig) perSecond() float64 {
	period := c.Period
	if period <= 0 {
		period = time.Minute
	}
	return float64(c.Requests) / period.Seconds()
}

// idleTTL is how long an untouched bucket is kept: long enough to refill fully.
func (c RateLimitConfig) idleTTL() time.Duration {
	rate := c.perSecond()
	if rate <= 0 {
		return 10 * time.Minute
	}
	full := time.Duration(float64(c.BurstSize) / rate * float64(time.Second))
	return max(full, 10*time.Minute)
}

// rateLimitEntry tracks the bucket of a single client
type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
}

// RateLimiter implements an in-process token bucket rate limiter
type RateLimiter struct {
	config  RateLimitConfig
	entries map[string]*rateLimitEntry
	mu      sync.Mutex
	stopCh  chan struct{}
	once    sync.Once
	now     func() time.Time
}

// NewRateLimiter creates a new rate limiter with the given config
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config:  config,
		entries: make(map[string]*rateLimitEntry),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}

	go rl.cleanup()

	return rl
}

// cleanup periodically removes idle entries
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) evictIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	ttl := rl.config.idleTTL()
	for key, entry := range rl.entries {
		if now.Sub(entry.lastUpdate) > ttl {
			delete(rl.entries, key)
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}

// Take consumes one token for key.
func (rl *RateLimiter) Take(_ context.Context, key string) (Decision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	burst := float64(rl.config.BurstSize)
	rate := rl.config.perSecond()

	entry, exists := rl.entries[key]
	if !exists {
		entry = &rateLimitEntry{tokens: burst, lastUpdate: now}
		rl.entries[key] = entry
	} else {
		elapsed := now.Sub(entry.lastUpdate).Seconds()
		entry.tokens = math.Min(burst, entry.tokens+elapsed*rate)
		entry.lastUpdate = now
	}

	d := Decision{Limit: rl.config.Requests}
	if entry.tokens >= 1 {
		entry.tokens--
		d.Allowed = true
		d.Remaining = int(entry.tokens)
		return d, nil
	}

	d.Remaining = 0
	if rate > 0 {
		d.RetryAfter = time.Duration((1 - entry.tokens) / rate * float64(time.Second))
	} else {
		d.RetryAfter = time.Minute
	}
	return d, nil
}

// RedisLimiter enforces a limit shared by every replica through Redis (GCRA
// via redis_rate). When Redis is unreachable requests are let through and the
// failure is logged.
type RedisLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

// NewRedisLimiter limits each key to perHour requests per hour.
func NewRedisLimiter(client *redis.Client, prefix string, perHour int) *RedisLimiter {
	return &RedisLimiter{
		limiter: redis_rate.NewLimiter(client),
		limit:   redis_rate.PerHour(perHour),
		prefix:  prefix,
	}
}

// Take consumes one request for key.
func (l *RedisLimiter) Take(ctx context.Context, key string) (Decision, error) {
	res, err := l.limiter.Allow(ctx, l.prefix+key, l.limit)
	if err != nil {
		slog.Warn("distributed rate limiter unavailable, allowing request", "key", l.prefix+key, "error", err)
		return Decision{Allowed: true, Limit: l.limit.Rate, Remaining: -1}, nil
	}
	d := Decision{
		Allowed:   res.Allowed > 0,
		Limit:     l.limit.Rate,
		Remaining: res.Remaining,
	}
	if !d.Allowed {
		d.RetryAfter = res.RetryAfter
	}
	return d, nil
}

// RateLimitMiddleware creates a Gin middleware that rate limits requests with limiter.
// A limiter error fails the request closed with 503.
func RateLimitMiddleware(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := getRateLimitKey(c)

		d, err := limiter.Take(c.Request.Context(), key)
		if err != nil {
			slog.Error("rate limiter failed", "key", key, "error", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "Rate limiter unavailable",
			})
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		if d.Remaining >= 0 {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		}

		if !d.Allowed {
			retry := max(1, int(math.Ceil(d.RetryAfter.Seconds())))
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retry,
			})
			return
		}

		c.Next()
	}
}

// getRateLimitKey determines the key to use for rate limiting
// Priority: user_id > IP address
func getRateLimitKey(c *gin.Context) string {
	if userID, exists := c.Get("user_id"); exists {
		if id, ok := userID.(string); ok && id != "" {
			return "user:" + id
		}
	}

	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
