package server

import (
	"context"
	"os"
	"testing"
	"time"

	"oasis/code"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	l := NewMemoryLimiter(3, time.Minute)
	l.now = func() time.Time { return now }

	room := code.MustGenerate().Hint()
	for i := int64(1); i <= 3; i++ {
		locked, err := l.Locked(ctx, room)
		require.NoError(t, err)
		assert.False(t, locked)

		n, err := l.Fail(ctx, room)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	locked, err := l.Locked(ctx, room)
	require.NoError(t, err)
	assert.True(t, locked)

	other, err := l.Locked(ctx, code.MustGenerate().Hint())
	require.NoError(t, err)
	assert.False(t, other)

	// The window starts at the first failure and does not slide.
	now = now.Add(time.Minute)
	locked, err = l.Locked(ctx, room)
	require.NoError(t, err)
	assert.False(t, locked)

	n, err := l.Fail(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, l.Close())
}

// TestRedisLimiter needs a live Redis; set OASIS_REDIS_ADDR to run it.
func TestRedisLimiter(t *testing.T) {
	addr := os.Getenv("OASIS_REDIS_ADDR")
	if addr == "" {
		t.Skip("OASIS_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(ctx).Err())

	l := NewRedisLimiter(client, 2, time.Minute)
	t.Cleanup(func() { l.Close() })

	room := code.MustGenerate().Hint()
	t.Cleanup(func() { client.Del(ctx, l.key(room)) })

	locked, err := l.Locked(ctx, room)
	require.NoError(t, err)
	assert.False(t, locked)

	n, err := l.Fail(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ttl, err := client.TTL(ctx, l.key(room)).Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute)

	n, err = l.Fail(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	locked, err = l.Locked(ctx, room)
	require.NoError(t, err)
	assert.True(t, locked)
}
