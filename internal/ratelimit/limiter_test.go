package ratelimit

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterWindow(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(2, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i, want := range []bool{true, true, false} {
		ok, err := l.Allow(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, want, ok, "call %d", i)
	}

	ok, err := l.Allow(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, ok, "limits are per user")

	now = now.Add(time.Minute)
	ok, err = l.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok, "a new window resets the count")
	assert.Len(t, l.counts, 2)
}

func TestNoopAlwaysAllows(t *testing.T) {
	ok, err := Noop{}.Allow(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWindowKey(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 59, 59, 0, time.UTC)
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC).Unix()
	assert.Equal(t, "turns:u1:"+strconv.FormatInt(start, 10), windowKey("u1", at, time.Hour))
}

func TestRedisLimiterUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	client := redis.NewClient(&redis.Options{Addr: addr, DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	l := NewRedisLimiter(client, 5, time.Minute)
	ok, err := l.Allow(context.Background(), "u1")
	assert.Error(t, err)
	assert.False(t, ok)

	_, err = Dial(context.Background(), addr)
	assert.Error(t, err)
}
