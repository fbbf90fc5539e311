package synclock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, time.Minute), s
}

func TestRedisLockerExcludesSecondHolder(t *testing.T) {
	locker, s := setupTestRedis(t)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "sync:acc_1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := locker.Acquire(ctx, "sync:acc_1"); !errors.Is(err, ErrHeld) {
		t.Fatalf("expected ErrHeld, got %v", err)
	}
	other, err := locker.Acquire(ctx, "sync:acc_2")
	if err != nil {
		t.Fatalf("expected independent key to lock, got %v", err)
	}
	other()

	release()
	if s.Exists("crm:lock:sync:acc_1") {
		t.Fatalf("expected key removed on release")
	}
	again, err := locker.Acquire(ctx, "sync:acc_1")
	if err != nil {
		t.Fatalf("expected reacquire after release, got %v", err)
	}
	again()
}

func TestRedisLockerExpires(t *testing.T) {
	locker, s := setupTestRedis(t)
	ctx := context.Background()

	if _, err := locker.Acquire(ctx, "sync:acc_1"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	s.FastForward(2 * time.Minute)
	release, err := locker.Acquire(ctx, "sync:acc_1")
	if err != nil {
		t.Fatalf("expected lock to expire, got %v", err)
	}
	release()
}

func TestRedisLockerReleaseKeepsNewOwner(t *testing.T) {
	locker, s := setupTestRedis(t)
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "k")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	s.FastForward(2 * time.Minute)
	if _, err := locker.Acquire(ctx, "k"); err != nil {
		t.Fatalf("Acquire() after expiry error = %v", err)
	}
	stale()
	if !s.Exists("crm:lock:k") {
		t.Fatalf("stale release must not delete the new owner's key")
	}
}

func TestLocalLocker(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "a")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := locker.Acquire(ctx, "a"); !errors.Is(err, ErrHeld) {
		t.Fatalf("expected ErrHeld, got %v", err)
	}
	release()
	release()
	if _, err := locker.Acquire(ctx, "a"); err != nil {
		t.Fatalf("expected reacquire, got %v", err)
	}
}
