// Package redislock provides a Redis-backed core.RefreshLocker so several
// processes sharing credentials refresh each token once.
package redislock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-salla/core"
	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "go-salla:lock:"

// ErrLockHeld is returned by Acquire when another holder owns the key.
var ErrLockHeld = errors.New("redislock: lock is held")

// releaseScript deletes the key only while it still carries our token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Client is the subset of redis.UniversalClient the locker uses.
type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

type Locker struct {
	client Client
	prefix string
	token  func() (string, error)
}

type Option func(*Locker)

func WithPrefix(prefix string) Option {
	return func(l *Locker) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			l.prefix = trimmed
		}
	}
}

func New(client Client, opts ...Option) (*Locker, error) {
	if client == nil {
		return nil, fmt.Errorf("redislock: redis client is required")
	}
	l := &Locker{client: client, prefix: DefaultPrefix, token: randomToken}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

// NewFromURL parses a redis:// URL, pings the server and returns the locker
// with its client so the caller can close it.
func NewFromURL(ctx context.Context, rawURL string, opts ...Option) (*Locker, *redis.Client, error) {
	options, err := redis.ParseURL(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, nil, fmt.Errorf("redislock: parse url: %w", err)
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redislock: ping: %w", err)
	}
	locker, err := New(client, opts...)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return locker, client, nil
}

func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (core.LockHandle, error) {
	if l == nil || l.client == nil {
		return nil, fmt.Errorf("redislock: locker is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("redislock: lock key is required")
	}
	if ttl <= 0 {
		ttl = core.DefaultRefreshLockTTL
	}
	token, err := l.token()
	if err != nil {
		return nil, fmt.Errorf("redislock: token: %w", err)
	}
	fullKey := l.prefix + key
	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redislock: acquire %s: %w", fullKey, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &handle{client: l.client, key: fullKey, token: token}, nil
}

type handle struct {
	client Client
	key    string
	token  string
}

// Unlock is a no-op when the key expired or was taken over.
func (h *handle) Unlock(ctx context.Context) error {
	if h == nil || h.client == nil {
		return nil
	}
	err := h.client.Eval(ctx, releaseScript, []string{h.key}, h.token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redislock: release %s: %w", h.key, err)
	}
	return nil
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

var _ core.RefreshLocker = (*Locker)(nil)
