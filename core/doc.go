// Package core contains the Salla connector contracts and the request
// pipeline: token freshness, the retrying request executor and the page
// walker. Transport, rate-limit tracking and persistence adapters depend on
// this package; core never imports them.
package core
