package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/hotspotbill/backend/internal/metrics"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const rateLimitPrefix = "hotspotbill:ratelimit:"

// Decision is the outcome of one rate limit check
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimitStore counts requests in a sliding window per key
type RateLimitStore interface {
	Take(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// MemoryStore keeps request timestamps per key in process memory
type MemoryStore struct {
	mu    sync.Mutex
	hits  map[string][]time.Time
	calls int
	now   func() time.Time
}

// NewMemoryStore creates an in-process sliding window store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{hits: make(map[string][]time.Time), now: time.Now}
}

func (s *MemoryStore) Take(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-window)
	hits := trimBefore(s.hits[key], cutoff)

	s.calls++
	if s.calls%1000 == 0 {
		s.sweep(cutoff)
	}

	if len(hits) >= limit {
		s.hits[key] = hits
		return Decision{RetryAfter: hits[0].Add(window).Sub(now)}, nil
	}
	hits = append(hits, now)
	s.hits[key] = hits
	return Decision{Allowed: true, Remaining: limit - len(hits)}, nil
}

// sweep drops keys without hits in the current window
func (s *MemoryStore) sweep(cutoff time.Time) {
	for k, hits := range s.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(s.hits, k)
		}
	}
}

func trimBefore(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

// slidingWindow trims the sorted set to the window and adds the request
// when under the limit. Returns {count, retry_after_ms}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
	redis.call('ZADD', key, now, ARGV[4])
	redis.call('PEXPIRE', key, window)
	return {count + 1, 0}
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {count, tonumber(oldest[2]) + window - now}
`)

// RedisStore shares the window between API instances through a sorted set
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis backed sliding window store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Take(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := time.Now().UnixMilli()
	res, err := slidingWindow.Run(ctx, s.client,
		[]string{rateLimitPrefix + key},
		now, window.Milliseconds(), limit, strconv.FormatInt(now, 10)+"-"+uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Decision{Allowed: true}, err
	}
	count, retry := int(res[0]), time.Duration(res[1])*time.Millisecond
	if retry > 0 {
		return Decision{RetryAfter: retry}, nil
	}
	return Decision{Allowed: true, Remaining: limit - count}, nil
}

// RateLimitConfig configures RateLimiter
type RateLimitConfig struct {
	Store  RateLimitStore
	Window time.Duration
	// Limit is read per request so a settings change applies immediately
	Limit func(c *fiber.Ctx) int
	// KeyFunc defaults to the user id when authenticated, else the client IP
	KeyFunc func(c *fiber.Ctx) string
}

func rateLimitKey(c *fiber.Ctx) string {
	if id := GetCurrentUserID(c); id != 0 {
		return "user:" + strconv.FormatUint(uint64(id), 10)
	}
	return "ip:" + c.IP()
}

// RateLimiter rejects clients exceeding Limit requests per Window
func RateLimiter(cfg RateLimitConfig) fiber.Handler {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = rateLimitKey
	}

	return func(c *fiber.Ctx) error {
		limit := 100
		if cfg.Limit != nil {
			if l := cfg.Limit(c); l > 0 {
				limit = l
			}
		}

		d, err := cfg.Store.Take(c.UserContext(), cfg.KeyFunc(c), limit, cfg.Window)
		if err != nil {
			// an unreachable store must not take the API down
			log.WithError(err).Warn("Rate limit store failed")
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			metrics.RateLimited.Inc()
			seconds := int((d.RetryAfter + time.Second - 1) / time.Second)
			if seconds < 1 {
				seconds = 1
			}
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(seconds))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"message": "Rate limit exceeded. Try again in " + strconv.Itoa(seconds) + " seconds",
			})
		}
		return c.Next()
	}
}
