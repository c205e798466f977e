package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"SocietyPortal/internal/config"
)

func newRedisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestRedisLimiterWindow(t *testing.T) {
	client, mr := newRedisClient(t)
	l := NewRedisLimiter(client, 3, time.Minute)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, allowed, "attempt %d is within the limit", i+1)
		now = now.Add(time.Millisecond)
	}
	allowed, err := l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, allowed, "the attempt past the limit is denied")

	allowed, err = l.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, allowed, "keys are limited independently")

	// Entries at start and start+1ms fall out of the window, leaving two.
	now = start.Add(time.Minute + time.Millisecond)
	allowed, err = l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, allowed, "count equal to the limit is allowed")

	allowed, err = l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, allowed)

	members, err := mr.ZMembers("ratelimit:login:10.0.0.1")
	require.NoError(t, err)
	assert.Len(t, members, 4)
	assert.Equal(t, time.Minute, mr.TTL("ratelimit:login:10.0.0.1"))
}

func TestRedisLimiterFailsOpen(t *testing.T) {
	client, mr := newRedisClient(t)
	l := NewRedisLimiter(client, 1, time.Minute)
	mr.Close()

	allowed, err := l.Allow(context.Background(), "10.0.0.1")
	assert.Error(t, err)
	assert.True(t, allowed)
}

func TestNewLoginLimiterPicksBackend(t *testing.T) {
	cfg := &config.Config{RateLimit: config.RateLimitConfig{LoginPerMinute: 10, LoginBurst: 5}}

	client, _ := newRedisClient(t)
	withRedis := NewLoginLimiter(cfg, client, zap.NewNop())
	require.IsType(t, &RedisLimiter{}, withRedis)
	assert.Equal(t, 10, withRedis.(*RedisLimiter).limit)
	assert.Equal(t, time.Minute, withRedis.(*RedisLimiter).window)

	withoutRedis := NewLoginLimiter(cfg, nil, zap.NewNop())
	require.IsType(t, &MemoryLimiter{}, withoutRedis)
	assert.Equal(t, 5, withoutRedis.(*MemoryLimiter).burst)
}
