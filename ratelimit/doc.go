// Package ratelimit tracks the quota state the admin API reports in its
// response headers, keyed by environment, client and bucket.
//
// Tracker implements core.RateLimitObserver so the request executor feeds it
// after every call. Hosts that schedule background work can consult Check to
// avoid starting calls inside a known throttle window.
package ratelimit
