package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/authsvc/apiserver/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis keeps counters in memory; only the commands Limiter uses are implemented.
type fakeRedis struct {
	redis.Cmdable
	counts  map[string]int64
	expiry  map[string]time.Duration
	blocked map[string]time.Duration
	err     error
	evalErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		counts:  map[string]int64{},
		expiry:  map[string]time.Duration{},
		blocked: map[string]time.Duration{},
	}
}

func (f *fakeRedis) TTL(_ context.Context, key string) *redis.DurationCmd {
	if f.err != nil {
		return redis.NewDurationResult(0, f.err)
	}
	if ttl, ok := f.blocked[key]; ok {
		return redis.NewDurationResult(ttl, nil)
	}
	return redis.NewDurationResult(-2, nil)
}

// Eval applies hitScript: one increment plus an expiry in a single call.
func (f *fakeRedis) Eval(_ context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	if f.evalErr != nil {
		return redis.NewCmdResult(nil, f.evalErr)
	}
	if script != hitScript || len(keys) != 1 || len(args) != 1 {
		return redis.NewCmdResult(nil, errors.New("unexpected eval"))
	}
	key := keys[0]
	f.counts[key]++
	if _, ok := f.expiry[key]; !ok {
		f.expiry[key] = time.Duration(args[0].(int64)) * time.Millisecond
	}
	return redis.NewCmdResult(f.counts[key], nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, _ interface{}, ttl time.Duration) *redis.StatusCmd {
	f.blocked[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func TestLimiter_BlocksAfterLimit(t *testing.T) {
	rdb := newFakeRedis()
	limiter := New(rdb, config.RedisConfig{RateLimit: 2, RateWindow: time.Minute, BlockDuration: 5 * time.Minute}, "otp")
	ctx := context.Background()

	first, err := limiter.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.Equal(t, 1, first.Remaining)

	second, err := limiter.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, second.Allowed)
	assert.Zero(t, second.Remaining)

	third, err := limiter.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, third.Allowed)
	assert.Equal(t, 5*time.Minute, third.RetryAfter)

	blocked, err := limiter.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, blocked.Allowed)

	other, err := limiter.Allow(ctx, "ip:5.6.7.8")
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}

func TestLimiter_FailsOpen(t *testing.T) {
	rdb := newFakeRedis()
	rdb.err = errors.New("connection refused")
	limiter := New(rdb, config.RedisConfig{}, "otp")

	decision, err := limiter.Allow(context.Background(), "ip:1.2.3.4")
	assert.Error(t, err)
	assert.True(t, decision.Allowed)
}

func TestLimiter_CountsAndExpiresInOneCall(t *testing.T) {
	rdb := newFakeRedis()
	limiter := New(rdb, config.RedisConfig{RateLimit: 5, RateWindow: 90 * time.Second}, "otp")

	decision, err := limiter.Allow(context.Background(), "ip:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 4, decision.Remaining)
	assert.Equal(t, int64(1), rdb.counts["otp:ip:1.2.3.4"])
	assert.Equal(t, 90*time.Second, rdb.expiry["otp:ip:1.2.3.4"])
}

func TestLimiter_FailsOpenOnCounterError(t *testing.T) {
	rdb := newFakeRedis()
	rdb.evalErr = errors.New("NOSCRIPT")
	limiter := New(rdb, config.RedisConfig{RateLimit: 1}, "otp")

	decision, err := limiter.Allow(context.Background(), "ip:1.2.3.4")
	assert.Error(t, err)
	assert.True(t, decision.Allowed)
	assert.Empty(t, rdb.blocked)
}
