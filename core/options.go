package core

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorMapper       ErrorMapper
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	httpClient        HTTPDoer
	transport         TransportAdapter
	refreshLocker     RefreshLocker
	rateLimitObserver RateLimitObserver
	credentialSource  CredentialSource
	credentialSink    CredentialSink
	sleep             SleepFunc
	now               func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

// WithHTTPClient sets the client used for token endpoint calls.
func WithHTTPClient(client HTTPDoer) Option {
	return func(b *serviceBuilder) {
		b.httpClient = client
	}
}

// WithTransport sets the adapter used for admin API calls.
func WithTransport(transport TransportAdapter) Option {
	return func(b *serviceBuilder) {
		b.transport = transport
	}
}

func WithRefreshLocker(locker RefreshLocker) Option {
	return func(b *serviceBuilder) {
		b.refreshLocker = locker
	}
}

func WithRateLimitObserver(observer RateLimitObserver) Option {
	return func(b *serviceBuilder) {
		b.rateLimitObserver = observer
	}
}

func WithCredentialSource(source CredentialSource) Option {
	return func(b *serviceBuilder) {
		b.credentialSource = source
	}
}

func WithCredentialSink(sink CredentialSink) Option {
	return func(b *serviceBuilder) {
		b.credentialSink = sink
	}
}

// WithSleep replaces the cancellable wait used between attempts.
func WithSleep(sleep SleepFunc) Option {
	return func(b *serviceBuilder) {
		b.sleep = sleep
	}
}

func WithNow(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("salla", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     MapError,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		refreshLocker:   NewMemoryRefreshLocker(),
		sleep:           WaitWithContext,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// StaticRawConfigLoader serves a fixed raw config map, typically decoded from
// a YAML file.
func StaticRawConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// configToLayerMap projects cfg onto the koanf key space. Zero values are
// skipped unless includeZero is set so that higher layers only override what
// they actually define.
func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	putSection(layer, "http", map[string]any{
		"timeout":                 durationValue(cfg.HTTP.Timeout, includeZero),
		"max_response_body_bytes": int64Value(cfg.HTTP.MaxResponseBodyBytes, includeZero),
		"user_agent":              stringValue(cfg.HTTP.UserAgent, includeZero),
	})
	putSection(layer, "retry", map[string]any{
		"default_wait": durationValue(cfg.Retry.DefaultWait, includeZero),
		"min_wait":     durationValue(cfg.Retry.MinWait, includeZero),
	})
	putSection(layer, "pagination", map[string]any{
		"page_size": intValue(cfg.Pagination.PageSize, includeZero),
		"max_pages": intValue(cfg.Pagination.MaxPages, includeZero),
	})
	putSection(layer, "refresh", map[string]any{
		"lock_ttl":  durationValue(cfg.Refresh.LockTTL, includeZero),
		"lock_poll": durationValue(cfg.Refresh.LockPoll, includeZero),
	})
	putSection(layer, "webhook", map[string]any{
		"max_body_bytes": int64Value(cfg.Webhook.MaxBodyBytes, includeZero),
	})
	putSection(layer, "endpoints", map[string]any{
		"api_production":      stringValue(cfg.Endpoints.APIProduction, includeZero),
		"api_sandbox":         stringValue(cfg.Endpoints.APISandbox, includeZero),
		"accounts_production": stringValue(cfg.Endpoints.AccountsProduction, includeZero),
		"accounts_sandbox":    stringValue(cfg.Endpoints.AccountsSandbox, includeZero),
	})
	return layer
}

func putSection(layer map[string]any, name string, values map[string]any) {
	section := map[string]any{}
	for key, value := range values {
		if value == nil {
			continue
		}
		section[key] = value
	}
	if len(section) > 0 {
		layer[name] = section
	}
}

func durationValue(value time.Duration, includeZero bool) any {
	if value == 0 && !includeZero {
		return nil
	}
	return value
}

func int64Value(value int64, includeZero bool) any {
	if value == 0 && !includeZero {
		return nil
	}
	return value
}

func intValue(value int, includeZero bool) any {
	if value == 0 && !includeZero {
		return nil
	}
	return value
}

func stringValue(value string, includeZero bool) any {
	if strings.TrimSpace(value) == "" && !includeZero {
		return nil
	}
	return value
}

func defaultHTTPClient(timeout time.Duration) HTTPDoer {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout}
}
