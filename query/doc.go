// Package query exposes read-only connector operations as go-command
// queriers.
package query
