package redislock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeRedis emulates SET NX PX and the compare-and-delete script.
type fakeRedis struct {
	mu      sync.Mutex
	values  map[string]string
	ttls    map[string]time.Duration
	setErr  error
	evalErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if _, exists := f.values[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.evalErr != nil {
		return redis.NewCmdResult(nil, f.evalErr)
	}
	if f.values[keys[0]] == args[0].(string) {
		delete(f.values, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestLocker_AcquireIsExclusiveUntilUnlock(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	locker, err := New(client)
	if err != nil {
		t.Fatalf("new locker: %v", err)
	}

	first, err := locker.Acquire(ctx, "salla:refresh:production:client-1:abcd", 5*time.Second)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if got := client.ttls[DefaultPrefix+"salla:refresh:production:client-1:abcd"]; got != 5*time.Second {
		t.Fatalf("expected ttl forwarded, got %s", got)
	}
	if _, err := locker.Acquire(ctx, "salla:refresh:production:client-1:abcd", 5*time.Second); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
	if err := first.Unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, err := locker.Acquire(ctx, "salla:refresh:production:client-1:abcd", 5*time.Second); err != nil {
		t.Fatalf("acquire after unlock: %v", err)
	}
}

func TestLocker_UnlockLeavesForeignHolderAlone(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	locker, _ := New(client, WithPrefix("test:"))

	stale, err := locker.Acquire(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	client.values["test:k"] = "someone-else"
	if err := stale.Unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if client.values["test:k"] != "someone-else" {
		t.Fatalf("expected foreign holder kept")
	}
}

func TestLocker_DefaultsAndErrors(t *testing.T) {
	ctx := context.Background()
	if _, err := New(nil); err == nil {
		t.Fatalf("expected nil client to fail")
	}

	client := newFakeRedis()
	locker, _ := New(client)
	if _, err := locker.Acquire(ctx, "  ", time.Second); err == nil {
		t.Fatalf("expected empty key to fail")
	}
	if _, err := locker.Acquire(ctx, "ttl", 0); err != nil {
		t.Fatalf("acquire with default ttl: %v", err)
	}
	if client.ttls[DefaultPrefix+"ttl"] != 30*time.Second {
		t.Fatalf("expected default ttl, got %s", client.ttls[DefaultPrefix+"ttl"])
	}

	client.setErr = errors.New("connection refused")
	if _, err := locker.Acquire(ctx, "down", time.Second); err == nil || errors.Is(err, ErrLockHeld) {
		t.Fatalf("expected transport error, got %v", err)
	}
}
