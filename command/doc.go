// Package command exposes the mutating connector operations as go-command
// commanders. Results are stored in the go-command result collector carried
// by the context.
package command
