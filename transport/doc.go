// Package transport sends admin API requests over net/http.
package transport
