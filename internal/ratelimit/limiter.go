package ratelimit

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"
)

// Limiter caps how many turns one user may send per window.
type Limiter interface {
	Allow(ctx context.Context, userID string) (bool, error)
}

// Noop allows everything. Used when TURN_LIMIT is 0.
type Noop struct{}

func (Noop) Allow(context.Context, string) (bool, error) { return true, nil }

// RedisLimiter is a fixed-window counter shared across replicas.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = time.Hour
	}
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Dial connects to addr and verifies it answers PING.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        strings.TrimSpace(addr),
		DialTimeout: 2 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, goerr.Wrap(err, "ping redis", goerr.V("addr", addr))
	}
	return client, nil
}

func (r *RedisLimiter) Allow(ctx context.Context, userID string) (bool, error) {
	key := windowKey(userID, r.now(), r.window)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, goerr.Wrap(err, "count turn", goerr.V("key", key))
	}
	return incr.Val() <= int64(r.limit), nil
}

func windowKey(userID string, now time.Time, window time.Duration) string {
	start := now.Truncate(window).Unix()
	return "turns:" + userID + ":" + strconv.FormatInt(start, 10)
}

// MemoryLimiter is the single-process fixed-window limiter used when no
// Redis address is configured.
type MemoryLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	counts map[string]int
	now    func() time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if window <= 0 {
		window = time.Hour
	}
	return &MemoryLimiter{
		limit:  limit,
		window: window,
		counts: make(map[string]int),
		now:    time.Now,
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, userID string) (bool, error) {
	now := m.now()
	key := windowKey(userID, now, m.window)
	prefix := "turns:" + userID + ":"

	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.counts {
		if strings.HasPrefix(k, prefix) && k != key {
			delete(m.counts, k)
		}
	}
	m.counts[key]++
	return m.counts[key] <= m.limit, nil
}
