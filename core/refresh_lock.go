package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultRefreshInitialBackoff = 500 * time.Millisecond
	defaultRefreshMaxBackoff     = 10 * time.Second
)

type RefreshBackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

type ExponentialBackoffScheduler struct {
	Initial time.Duration
	Max     time.Duration
}

func (s ExponentialBackoffScheduler) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := s.Initial
	if initial <= 0 {
		initial = defaultRefreshInitialBackoff
	}
	maximum := s.Max
	if maximum <= 0 {
		maximum = defaultRefreshMaxBackoff
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

type MemoryRefreshLocker struct {
	mu    sync.Mutex
	locks map[string]memoryLock
	seq   uint64
	nowFn func() time.Time
}

// memoryLock ties an expiry to the acquire that set it, so a handle whose
// ttl lapsed cannot release a later holder.
type memoryLock struct {
	until time.Time
	token uint64
}

func NewMemoryRefreshLocker() *MemoryRefreshLocker {
	return &MemoryRefreshLocker{
		locks: make(map[string]memoryLock),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryRefreshLocker) Acquire(_ context.Context, key string, ttl time.Duration) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: refresh locker is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("core: lock key is required for refresh lock acquisition")
	}
	if ttl <= 0 {
		ttl = DefaultRefreshLockTTL
	}

	now := l.nowFn()
	l.mu.Lock()
	defer l.mu.Unlock()

	if held, ok := l.locks[key]; ok && now.Before(held.until) {
		return nil, fmt.Errorf("core: refresh lock already held for %q", key)
	}
	l.seq++
	l.locks[key] = memoryLock{until: now.Add(ttl), token: l.seq}
	return &memoryLockHandle{locker: l, key: key, token: l.seq}, nil
}

type memoryLockHandle struct {
	locker *MemoryRefreshLocker
	key    string
	token  uint64
	once   sync.Once
}

func (h *memoryLockHandle) Unlock(_ context.Context) error {
	if h == nil || h.locker == nil {
		return nil
	}
	h.once.Do(func() {
		h.locker.mu.Lock()
		if held, ok := h.locker.locks[h.key]; ok && held.token == h.token {
			delete(h.locker.locks, h.key)
		}
		h.locker.mu.Unlock()
	})
	return nil
}

// acquireRefreshLock polls the locker until it grants the lock, the ttl
// elapses or ctx is done. A nil handle with a nil error means the caller
// should proceed unlocked.
func acquireRefreshLock(
	ctx context.Context,
	locker RefreshLocker,
	key string,
	ttl time.Duration,
	poll time.Duration,
	sleep SleepFunc,
) (LockHandle, error) {
	if locker == nil {
		return nil, nil
	}
	if ttl <= 0 {
		ttl = DefaultRefreshLockTTL
	}
	if poll <= 0 {
		poll = DefaultRefreshLockPoll
	}
	if sleep == nil {
		sleep = WaitWithContext
	}

	var waited time.Duration
	for {
		handle, err := locker.Acquire(ctx, key, ttl)
		if err == nil {
			return handle, nil
		}
		if waited >= ttl {
			return nil, nil
		}
		if waitErr := sleep(ctx, poll); waitErr != nil {
			return nil, waitErr
		}
		waited += poll
	}
}

// refreshLockKey never embeds the raw refresh token.
func refreshLockKey(cred Credential) string {
	refreshToken := ""
	if cred.TokenData != nil {
		refreshToken = cred.TokenData.RefreshToken
	}
	sum := sha256.Sum256([]byte(refreshToken))
	return strings.Join([]string{
		"salla",
		"refresh",
		string(cred.Environment),
		cred.ClientID,
		hex.EncodeToString(sum[:8]),
	}, ":")
}

// WaitWithContext blocks only the calling goroutine.
func WaitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
