package sqlstore

import "github.com/goliatone/go-salla/ratelimit"

var (
	_ ratelimit.StateStore = (*RateLimitStateStore)(nil)
	_ ratelimit.StateStore = (*CachedRateLimitStateStore)(nil)
)
