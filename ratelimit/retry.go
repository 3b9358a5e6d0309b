package ratelimit

import (
	"time"

	"github.com/goliatone/go-salla/core"
)

// RetryWait returns how long to wait before retrying a throttled response,
// using the default 60s fallback and 1s minimum for absolute hints.
func RetryWait(headers map[string]string, now time.Time) time.Duration {
	return core.ParseRetryWait(headers, now, core.DefaultRetryWait, core.DefaultMinRetryWait)
}
