package core

import (
	"strconv"
	"strings"
	"time"
)

// unixTimestampDigits is the length above which a numeric retry hint is read
// as an absolute unix timestamp instead of a number of seconds.
const unixTimestampDigits = 10

// ParseRetryWait derives the wait before retrying a throttled call from the
// retry-after header, falling back to x-ratelimit-reset. Absolute hints are
// clamped to minimum; missing or unreadable hints yield fallback.
func ParseRetryWait(headers map[string]string, now time.Time, fallback time.Duration, minimum time.Duration) time.Duration {
	if fallback <= 0 {
		fallback = DefaultRetryWait
	}
	if minimum <= 0 {
		minimum = DefaultMinRetryWait
	}
	raw := headerLookup(headers, "retry-after")
	if raw == "" {
		raw = headerLookup(headers, "x-ratelimit-reset")
	}
	if raw == "" {
		return fallback
	}

	if isDigits(raw) {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fallback
		}
		if len(raw) > unixTimestampDigits {
			return clampWait(time.Unix(value, 0).Sub(now), minimum)
		}
		return time.Duration(value) * time.Second
	}

	if at, ok := parseHTTPDate(raw); ok {
		return clampWait(at.Sub(now), minimum)
	}
	return fallback
}

func clampWait(wait time.Duration, minimum time.Duration) time.Duration {
	wait = wait.Truncate(time.Second)
	if wait < minimum {
		return minimum
	}
	return wait
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func parseHTTPDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.RFC1123, time.RFC1123Z, time.RFC850, time.ANSIC} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}
