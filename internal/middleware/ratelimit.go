package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimitAlgorithm selects the limiter script.
type RateLimitAlgorithm string

const (
	TokenBucket RateLimitAlgorithm = "token_bucket"
	FixedWindow RateLimitAlgorithm = "fixed_window"
)

// RateLimitType selects what a request is counted against.
type RateLimitType string

const (
	RateLimitByIP       RateLimitType = "ip"
	RateLimitByUser     RateLimitType = "user"
	RateLimitByEndpoint RateLimitType = "endpoint"
)

// RateLimitConfig is one limit rule.
type RateLimitConfig struct {
	Limit int
	// Window in seconds
	Window    int
	Algorithm RateLimitAlgorithm
	Type      RateLimitType
	// KeyFunc overrides Type when set.
	KeyFunc func(*gin.Context) string
}

// RateLimiter decides whether key may make another request.
type RateLimiter interface {
	Allow(ctx context.Context, key string, config *RateLimitConfig) (*RateLimitResult, error)
}

type RateLimitResult struct {
	Allowed   bool
	Remaining int
	// ResetAt is a unix timestamp
	ResetAt int64
	Limit   int
}

// RedisRateLimiter runs the limiter scripts in Redis so every API replica
// shares the counters.
type RedisRateLimiter struct {
	redis *redis.Client
	now   func() time.Time
}

func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{redis: client, now: time.Now}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string, config *RateLimitConfig) (*RateLimitResult, error) {
	if config.Limit <= 0 || config.Window <= 0 {
		return &RateLimitResult{Allowed: true, Remaining: -1}, nil
	}
	switch config.Algorithm {
	case FixedWindow:
		return r.fixedWindow(ctx, key, config)
	default:
		return r.tokenBucket(ctx, key, config)
	}
}

var tokenBucketScript = redis.NewScript(`
	local bucket = redis.call('HMGET', KEYS[1], 'tokens', 'last_update')
	local capacity = tonumber(ARGV[1])
	local rate = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local requested = tonumber(ARGV[4])

	local tokens = tonumber(bucket[1]) or capacity
	local last_update = tonumber(bucket[2]) or now

	local elapsed = math.max(0, now - last_update)
	local new_tokens = math.min(capacity, tokens + elapsed * rate)

	local allowed = new_tokens >= requested
	local remaining = 0
	if allowed then
		new_tokens = new_tokens - requested
		remaining = math.floor(new_tokens)
	end

	redis.call('HMSET', KEYS[1], 'tokens', new_tokens, 'last_update', now)
	redis.call('EXPIRE', KEYS[1], math.ceil(capacity / rate) + 1)

	return {allowed and 1 or 0, remaining, capacity}
`)

func (r *RedisRateLimiter) tokenBucket(ctx context.Context, key string, config *RateLimitConfig) (*RateLimitResult, error) {
	now := r.now().Unix()
	bucketKey := fmt.Sprintf("tourguard:ratelimit:token:%s", key)
	ratePerSecond := float64(config.Limit) / float64(config.Window)

	result, err := tokenBucketScript.Run(ctx, r.redis, []string{bucketKey},
		config.Limit,
		ratePerSecond,
		now,
		1,
	).Int64Slice()
	if err != nil {
		return nil, err
	}
	return &RateLimitResult{
		Allowed:   result[0] == 1,
		Remaining: int(result[1]),
		ResetAt:   now + int64(config.Window),
		Limit:     int(result[2]),
	}, nil
}

var fixedWindowScript = redis.NewScript(`
	local current = tonumber(redis.call('GET', KEYS[1]) or 0)
	local limit = tonumber(ARGV[1])
	local ttl = tonumber(ARGV[2])

	local allowed = current < limit
	local remaining = limit - current - 1

	if allowed then
		redis.call('INCR', KEYS[1])
		if current == 0 then
			redis.call('EXPIRE', KEYS[1], ttl)
		end
	else
		remaining = 0
	end

	return {allowed and 1 or 0, remaining, limit}
`)

func (r *RedisRateLimiter) fixedWindow(ctx context.Context, key string, config *RateLimitConfig) (*RateLimitResult, error) {
	now := r.now().Unix()
	window := now / int64(config.Window)
	windowKey := fmt.Sprintf("tourguard:ratelimit:fixed:%s:%d", key, window)

	result, err := fixedWindowScript.Run(ctx, r.redis, []string{windowKey},
		config.Limit,
		config.Window+1,
	).Int64Slice()
	if err != nil {
		return nil, err
	}
	return &RateLimitResult{
		Allowed:   result[0] == 1,
		Remaining: int(result[1]),
		ResetAt:   (window + 1) * int64(config.Window),
		Limit:     int(result[2]),
	}, nil
}

// RateLimitGroup applies a default rule plus rules matched by path prefix.
// Each rule keeps its own counters. Rules of type RateLimitByUser need the
// caller's claims and only run from UserMiddleware, mounted after Auth.
type RateLimitGroup struct {
	limiter       RateLimiter
	defaultConfig *RateLimitConfig
	prefixes      []string
	configs       map[string]*RateLimitConfig
	exempt        map[string]bool
}

// defaultRule names the default rule's counters.
const defaultRule = "*"

func NewRateLimitGroup(limiter RateLimiter, defaultConfig *RateLimitConfig) *RateLimitGroup {
	return &RateLimitGroup{
		limiter:       limiter,
		defaultConfig: defaultConfig,
		configs:       make(map[string]*RateLimitConfig),
		exempt:        make(map[string]bool),
	}
}

// AddSpecificConfig registers a rule for every path starting with prefix.
// Earlier prefixes win.
func (g *RateLimitGroup) AddSpecificConfig(prefix string, config *RateLimitConfig) {
	if _, ok := g.configs[prefix]; !ok {
		g.prefixes = append(g.prefixes, prefix)
	}
	g.configs[prefix] = config
}

// Exempt turns limiting off for the given route patterns, as registered with
// gin (e.g. "/api/v1/tourists/:id/panic").
func (g *RateLimitGroup) Exempt(routes ...string) {
	for _, r := range routes {
		g.exempt[r] = true
	}
}

func (g *RateLimitGroup) configFor(path string) (string, *RateLimitConfig) {
	for _, p := range g.prefixes {
		if strings.HasPrefix(path, p) {
			return p, g.configs[p]
		}
	}
	return defaultRule, g.defaultConfig
}

// Middleware applies the IP and endpoint rules. It lets requests through
// when Redis is unavailable.
func (g *RateLimitGroup) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		g.apply(c, false)
	}
}

// UserMiddleware applies the per-user rules. Mount it after Auth.
func (g *RateLimitGroup) UserMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		g.apply(c, true)
	}
}

func (g *RateLimitGroup) apply(c *gin.Context, byUser bool) {
	if g.exempt[c.FullPath()] {
		c.Next()
		return
	}
	rule, config := g.configFor(c.Request.URL.Path)
	if config == nil || (config.Type == RateLimitByUser) != byUser {
		c.Next()
		return
	}
	if byUser && config.KeyFunc == nil && GetClaims(c) == nil {
		c.Next()
		return
	}
	key := rule + ":" + generateKey(c, config)

	result, err := g.limiter.Allow(c.Request.Context(), key, config)
	if err != nil {
		c.Next()
		return
	}

	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))

	if !result.Allowed {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       "rate limit exceeded",
			"retry_after": result.ResetAt - time.Now().Unix(),
		})
		c.Abort()
		return
	}
	c.Next()
}

func generateKey(c *gin.Context, config *RateLimitConfig) string {
	if config.KeyFunc != nil {
		return config.KeyFunc(c)
	}
	switch config.Type {
	case RateLimitByUser:
		if claims := GetClaims(c); claims != nil {
			return "user:" + claims.Subject
		}
		return "ip:" + clientIP(c)
	case RateLimitByEndpoint:
		return fmt.Sprintf("endpoint:%s:%s", c.Request.Method, c.Request.URL.Path)
	default:
		return "ip:" + clientIP(c)
	}
}

// clientIP relies on gin's trusted proxy list; forwarding headers from
// untrusted peers are ignored.
func clientIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}
