package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"oasis/configs"

	"github.com/redis/go-redis/v9"
)

// AttemptLimiter counts rejected handshakes per room. A locked room accepts
// no new joiners until its window expires.
type AttemptLimiter interface {
	Fail(ctx context.Context, room string) (int64, error)
	Locked(ctx context.Context, room string) (bool, error)
	Close() error
}

// RedisLimiter keeps the counters in Redis so that they survive relay
// restarts and are shared between relays.
type RedisLimiter struct {
	redisClient *redis.Client
	max         int64
	window      time.Duration
}

func NewRedisLimiter(redisClient *redis.Client, max int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{redisClient: redisClient, max: int64(max), window: window}
}

func (l *RedisLimiter) key(room string) string {
	return fmt.Sprintf(configs.ServerFailedJoinsKey, room)
}

func (l *RedisLimiter) Fail(ctx context.Context, room string) (int64, error) {
	key := l.key(room)
	n, err := l.redisClient.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("error counting failed join for room %s: %w", room, err)
	}
	if n == 1 {
		if err := l.redisClient.Expire(ctx, key, l.window).Err(); err != nil {
			return n, fmt.Errorf("error setting expiry for room %s: %w", room, err)
		}
	}
	return n, nil
}

func (l *RedisLimiter) Locked(ctx context.Context, room string) (bool, error) {
	n, err := l.redisClient.Get(ctx, l.key(room)).Int64()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("error reading failed joins for room %s: %w", room, err)
	}
	return n >= l.max, nil
}

func (l *RedisLimiter) Close() error {
	return l.redisClient.Close()
}

// MemoryLimiter is the single-process AttemptLimiter used when no Redis
// address is configured.
type MemoryLimiter struct {
	max    int64
	window time.Duration
	now    func() time.Time

	mutex    sync.Mutex
	counters map[string]*attempts
}

type attempts struct {
	count   int64
	expires time.Time
}

func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		max:      int64(max),
		window:   window,
		now:      time.Now,
		counters: make(map[string]*attempts),
	}
}

func (l *MemoryLimiter) current(room string) *attempts {
	a, ok := l.counters[room]
	if ok && !l.now().Before(a.expires) {
		delete(l.counters, room)
		return nil
	}
	return a
}

func (l *MemoryLimiter) Fail(_ context.Context, room string) (int64, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	a := l.current(room)
	if a == nil {
		a = &attempts{expires: l.now().Add(l.window)}
		l.counters[room] = a
	}
	a.count++
	return a.count, nil
}

func (l *MemoryLimiter) Locked(_ context.Context, room string) (bool, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	a := l.current(room)
	return a != nil && a.count >= l.max, nil
}

func (l *MemoryLimiter) Close() error {
	return nil
}
