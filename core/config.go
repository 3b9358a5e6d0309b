package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultPageSize             = 100
	DefaultMaxPages             = 10000
	DefaultRetryWait            = 60 * time.Second
	DefaultMinRetryWait         = time.Second
	DefaultHTTPTimeout          = 30 * time.Second
	DefaultMaxResponseBodyBytes = int64(10 << 20)
	DefaultWebhookMaxBodyBytes  = int64(5 << 20)
	DefaultRefreshLockTTL       = 30 * time.Second
	DefaultRefreshLockPoll      = 200 * time.Millisecond

	DefaultUserAgent = "go-salla"
)

type HTTPConfig struct {
	Timeout              time.Duration `koanf:"timeout" mapstructure:"timeout"`
	MaxResponseBodyBytes int64         `koanf:"max_response_body_bytes" mapstructure:"max_response_body_bytes"`
	UserAgent            string        `koanf:"user_agent" mapstructure:"user_agent"`
}

type RetryConfig struct {
	DefaultWait time.Duration `koanf:"default_wait" mapstructure:"default_wait"`
	MinWait     time.Duration `koanf:"min_wait" mapstructure:"min_wait"`
}

type PaginationConfig struct {
	PageSize int `koanf:"page_size" mapstructure:"page_size"`
	MaxPages int `koanf:"max_pages" mapstructure:"max_pages"`
}

type RefreshConfig struct {
	LockTTL  time.Duration `koanf:"lock_ttl" mapstructure:"lock_ttl"`
	LockPoll time.Duration `koanf:"lock_poll" mapstructure:"lock_poll"`
}

type WebhookConfig struct {
	MaxBodyBytes int64 `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`
}

type Config struct {
	ServiceName string           `koanf:"service_name" mapstructure:"service_name"`
	HTTP        HTTPConfig       `koanf:"http" mapstructure:"http"`
	Retry       RetryConfig      `koanf:"retry" mapstructure:"retry"`
	Pagination  PaginationConfig `koanf:"pagination" mapstructure:"pagination"`
	Refresh     RefreshConfig    `koanf:"refresh" mapstructure:"refresh"`
	Webhook     WebhookConfig    `koanf:"webhook" mapstructure:"webhook"`
	Endpoints   EndpointsConfig  `koanf:"endpoints" mapstructure:"endpoints"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "salla",
		HTTP: HTTPConfig{
			Timeout:              DefaultHTTPTimeout,
			MaxResponseBodyBytes: DefaultMaxResponseBodyBytes,
		},
		Retry: RetryConfig{
			DefaultWait: DefaultRetryWait,
			MinWait:     DefaultMinRetryWait,
		},
		Pagination: PaginationConfig{
			PageSize: DefaultPageSize,
			MaxPages: DefaultMaxPages,
		},
		Refresh: RefreshConfig{
			LockTTL:  DefaultRefreshLockTTL,
			LockPoll: DefaultRefreshLockPoll,
		},
		Webhook: WebhookConfig{
			MaxBodyBytes: DefaultWebhookMaxBodyBytes,
		},
		Endpoints: DefaultEndpoints(),
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Pagination.PageSize < 0 {
		return fmt.Errorf("core: pagination.page_size must not be negative")
	}
	if c.Pagination.MaxPages < 0 {
		return fmt.Errorf("core: pagination.max_pages must not be negative")
	}
	if c.Retry.MinWait < 0 || c.Retry.DefaultWait < 0 {
		return fmt.Errorf("core: retry waits must not be negative")
	}
	if c.HTTP.Timeout < 0 {
		return fmt.Errorf("core: http.timeout must not be negative")
	}
	return nil
}

func (c Config) pageSize() int {
	if c.Pagination.PageSize > 0 {
		return c.Pagination.PageSize
	}
	return DefaultPageSize
}

func (c Config) maxPages() int {
	if c.Pagination.MaxPages > 0 {
		return c.Pagination.MaxPages
	}
	return DefaultMaxPages
}
