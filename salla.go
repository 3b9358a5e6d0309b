// Package salla wires the Salla connector pieces behind one constructor.
package salla

import (
	"github.com/goliatone/go-salla/core"
	"github.com/goliatone/go-salla/webhooks"
)

type Config = core.Config

type Service = core.Service
type ServiceOption = core.Option
type ServiceDependencies = core.ServiceDependencies

type Credential = core.Credential
type TokenData = core.TokenData
type Request = core.Request
type ExecuteResult = core.ExecuteResult
type CollectResult = core.CollectResult

type WebhookConfig = webhooks.Config
type WebhookEvent = webhooks.Event

var (
	WithLogger            = core.WithLogger
	WithLoggerProvider    = core.WithLoggerProvider
	WithMetricsRecorder   = core.WithMetricsRecorder
	WithErrorMapper       = core.WithErrorMapper
	WithConfigProvider    = core.WithConfigProvider
	WithOptionsResolver   = core.WithOptionsResolver
	WithHTTPClient        = core.WithHTTPClient
	WithTransport         = core.WithTransport
	WithRefreshLocker     = core.WithRefreshLocker
	WithRateLimitObserver = core.WithRateLimitObserver
	WithSleep             = core.WithSleep
	WithNow               = core.WithNow
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// NewService builds only the request pipeline. Use New for the full client.
func NewService(cfg Config, opts ...ServiceOption) (*Service, error) {
	return core.NewService(cfg, opts...)
}
