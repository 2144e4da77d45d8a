package ratelimit

import (
	"context"
	"time"

	"github.com/authsvc/apiserver/config"
	"github.com/redis/go-redis/v9"
)

// hitScript counts a hit and makes sure the counter expires. The expiry is
// also restored on keys left without one.
const hitScript = `
local count = redis.call("INCR", KEYS[1])
if redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter is a fixed-window counter in Redis. A client exceeding the limit is
// blocked for the configured duration.
type Limiter struct {
	rdb    redis.Cmdable
	limit  int
	window time.Duration
	block  time.Duration
	prefix string
}

// NewClient opens a Redis client from config.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func New(rdb redis.Cmdable, cfg config.RedisConfig, prefix string) *Limiter {
	limit := cfg.RateLimit
	if limit < 1 {
		limit = 10
	}
	window := cfg.RateWindow
	if window <= 0 {
		window = time.Minute
	}
	block := cfg.BlockDuration
	if block <= 0 {
		block = window
	}
	return &Limiter{rdb: rdb, limit: limit, window: window, block: block, prefix: prefix}
}

// Allow counts one hit for clientID. On Redis errors the hit is allowed and
// the error returned so the caller can log it.
func (l *Limiter) Allow(ctx context.Context, clientID string) (Decision, error) {
	key := l.prefix + ":" + clientID
	blockKey := key + ":blocked"

	blockedFor, err := l.rdb.TTL(ctx, blockKey).Result()
	if err != nil {
		return Decision{Allowed: true, Limit: l.limit}, err
	}
	if blockedFor > 0 {
		return Decision{Allowed: false, Limit: l.limit, RetryAfter: blockedFor}, nil
	}

	count, err := l.rdb.Eval(ctx, hitScript, []string{key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return Decision{Allowed: true, Limit: l.limit}, err
	}

	if count > int64(l.limit) {
		if err := l.rdb.Set(ctx, blockKey, "1", l.block).Err(); err != nil {
			return Decision{Allowed: true, Limit: l.limit}, err
		}
		return Decision{Allowed: false, Limit: l.limit, RetryAfter: l.block}, nil
	}

	return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit - int(count)}, nil
}
