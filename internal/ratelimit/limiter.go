// Package ratelimit counts failed attempts per key in Redis fixed windows.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether another attempt is allowed for a key.
type Limiter interface {
	// Allow counts one attempt and reports whether it is within the limit,
	// plus the time left until the window resets.
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
	// Reset forgets all attempts for key.
	Reset(ctx context.Context, key string) error
}

// incrScript increments the counter and starts the window on first use.
var incrScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

// RedisLimiter is a fixed-window counter. Counters live under
// "<prefix>:<key>" and expire with the window.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	max    int
	window time.Duration
}

// NewRedisLimiter allows max attempts per window for each key.
func NewRedisLimiter(client *redis.Client, prefix string, max int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, max: max, window: window}
}

func (l *RedisLimiter) key(k string) string {
	return l.prefix + ":" + k
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	res, err := incrScript.Run(ctx, l.client, []string{l.key(key)}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("count attempt: %w", err)
	}
	count, ttl := res[0], time.Duration(res[1])*time.Millisecond
	if ttl < 0 {
		ttl = l.window
	}
	return count <= int64(l.max), ttl, nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("reset attempts: %w", err)
	}
	return nil
}

// Noop allows everything. It stands in when Redis is disabled.
type Noop struct{}

func (Noop) Allow(context.Context, string) (bool, time.Duration, error) { return true, 0, nil }
func (Noop) Reset(context.Context, string) error                        { return nil }
