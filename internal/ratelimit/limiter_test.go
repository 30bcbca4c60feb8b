package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, max int, window time.Duration) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLimiter(client, "login", max, window), mr
}

func TestRedisLimiter_AllowsUpToMax(t *testing.T) {
	l, _ := newTestLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, ttl, err := l.Allow(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.True(t, ok, "attempt %d", i+1)
		assert.LessOrEqual(t, ttl, time.Minute)
		assert.Positive(t, ttl)
	}

	ok, _, err := l.Allow(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	ok, _, err := l.Allow(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _, err = l.Allow(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLimiter_WindowExpires(t *testing.T) {
	l, mr := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	_, _, _ = l.Allow(ctx, "k")
	ok, _, _ := l.Allow(ctx, "k")
	assert.False(t, ok)

	mr.FastForward(61 * time.Second)
	ok, _, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLimiter_Reset(t *testing.T) {
	l, mr := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	_, _, _ = l.Allow(ctx, "k")
	assert.True(t, mr.Exists("login:k"))

	require.NoError(t, l.Reset(ctx, "k"))
	assert.False(t, mr.Exists("login:k"))

	ok, _, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLimiter_RedisDown(t *testing.T) {
	l, mr := newTestLimiter(t, 1, time.Minute)
	mr.Close()

	_, _, err := l.Allow(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, l.Reset(context.Background(), "k"))
}

func TestNoop(t *testing.T) {
	var l Limiter = Noop{}
	ok, _, err := l.Allow(context.Background(), "x")
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.NoError(t, l.Reset(context.Background(), "x"))
}
