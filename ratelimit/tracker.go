package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-salla/core"
)

const (
	headerLimit     = "x-ratelimit-limit"
	headerRemaining = "x-ratelimit-remaining"
	headerReset     = "x-ratelimit-reset"
)

// Tracker records quota headers after each call and reports active throttle
// windows before the next one.
type Tracker struct {
	Store StateStore
	Now   func() time.Time
}

func NewTracker(store StateStore) *Tracker {
	if store == nil {
		store = NewMemoryStateStore()
	}
	return &Tracker{
		Store: store,
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// Check returns a ThrottledError while the key is inside a throttle window
// or has exhausted its quota before the reported reset.
func (t *Tracker) Check(ctx context.Context, key core.RateLimitKey) error {
	if t == nil || t.Store == nil {
		return nil
	}
	key = NormalizeKey(key)
	state, err := t.Store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil
		}
		return err
	}

	now := t.now()
	if until := state.ThrottledUntil; until != nil && now.Before(*until) {
		return throttled(key, until.Sub(now))
	}
	if state.Remaining == 0 && state.ResetAt != nil && now.Before(*state.ResetAt) {
		return throttled(key, state.ResetAt.Sub(now))
	}
	return nil
}

// Snapshot returns the stored state for key and whether one exists.
func (t *Tracker) Snapshot(ctx context.Context, key core.RateLimitKey) (State, bool, error) {
	if t == nil || t.Store == nil {
		return State{}, false, nil
	}
	state, err := t.Store.Get(ctx, NormalizeKey(key))
	if errors.Is(err, ErrStateNotFound) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}
	return state, true, nil
}

func (t *Tracker) AfterCall(ctx context.Context, key core.RateLimitKey, meta core.ResponseMeta) error {
	if t == nil || t.Store == nil {
		return nil
	}
	key = NormalizeKey(key)
	now := t.now()
	state, err := t.Store.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrStateNotFound) {
		return err
	}
	if errors.Is(err, ErrStateNotFound) {
		state = State{Key: key}
	}

	state.LastStatus = meta.StatusCode
	state.UpdatedAt = now
	state.Metadata = cloneMap(state.Metadata)
	for k, v := range meta.Metadata {
		state.Metadata[k] = v
	}

	limit, hasLimit := parseHeaderInt(meta.Headers, headerLimit)
	if hasLimit {
		state.Limit = limit
	}
	remaining, hasRemaining := parseHeaderInt(meta.Headers, headerRemaining)
	if hasRemaining {
		state.Remaining = remaining
	}
	if resetAt, ok := parseHeaderResetAt(meta.Headers, now); ok {
		state.ResetAt = &resetAt
	}

	if meta.StatusCode == 429 {
		delay := RetryWait(meta.Headers, now)
		if meta.RetryAfter != nil {
			delay = *meta.RetryAfter
		}
		state.Attempts++
		state.RetryAfter = &delay
		until := now.Add(delay)
		state.ThrottledUntil = &until
		return t.Store.Upsert(ctx, state)
	}

	state.RetryAfter = nil
	state.Attempts = 0
	state.ThrottledUntil = nil
	if hasRemaining && remaining == 0 && state.ResetAt != nil && now.Before(*state.ResetAt) {
		until := *state.ResetAt
		state.ThrottledUntil = &until
	}
	return t.Store.Upsert(ctx, state)
}

func (t *Tracker) now() time.Time {
	if t != nil && t.Now != nil {
		return t.Now().UTC()
	}
	return time.Now().UTC()
}

func throttled(key core.RateLimitKey, wait time.Duration) ThrottledError {
	return ThrottledError{
		Environment: key.Environment,
		ClientID:    key.ClientID,
		BucketKey:   key.BucketKey,
		RetryAfter:  wait,
	}
}

func parseHeaderInt(headers map[string]string, key string) (int, bool) {
	value := headerValue(headers, key)
	if value == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

// parseHeaderResetAt reads x-ratelimit-reset as a unix timestamp when it is
// longer than ten digits and as seconds from now otherwise.
func parseHeaderResetAt(headers map[string]string, now time.Time) (time.Time, bool) {
	value := headerValue(headers, headerReset)
	if value == "" {
		return time.Time{}, false
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || parsed < 0 {
		return time.Time{}, false
	}
	if len(value) > 10 {
		return time.Unix(parsed, 0).UTC(), true
	}
	return now.Add(time.Duration(parsed) * time.Second), true
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

var _ core.RateLimitObserver = (*Tracker)(nil)
