// Package sqlstore persists rate-limit quota state with bun and
// go-repository-bun, and offers a go-repository-cache read-through
// decorator for hot keys.
package sqlstore
