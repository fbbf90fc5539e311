// Package synclock serializes work on a single key, such as one mailbox sync.
package synclock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"brokercrm/internal/util"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when another holder owns the key.
var ErrHeld = errors.New("lock held")

// Locker acquires a named lock and returns its release function.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker uses SET NX with a TTL so a crashed holder cannot wedge the key.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{client: client, prefix: "crm:lock:", ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	owner := util.NewToken(24)
	ok, err := l.client.SetNX(ctx, l.prefix+key, owner, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{l.prefix + key}, owner).Err()
	}, nil
}

// LocalLocker is the in-process fallback when Redis is not configured.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, ErrHeld
	}
	l.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
