package cli

import (
	"context"
	"fmt"
	"strings"

	salla "github.com/goliatone/go-salla"
	promadapter "github.com/goliatone/go-salla/adapters/prometheus"
	"github.com/goliatone/go-salla/adapters/redislock"
	"github.com/goliatone/go-salla/adapters/zaplogger"
	"github.com/goliatone/go-salla/core"
	"github.com/goliatone/go-salla/webhooks"
	"github.com/prometheus/client_golang/prometheus"
)

// runtime is everything a command needs, built from the root flags.
type runtime struct {
	client   *salla.Client
	logger   *zaplogger.Logger
	registry *prometheus.Registry
	webhook  webhooks.Config
	database *stateDatabase
	closers  []func() error
}

type runtimeOverrides struct {
	webhook        func(*webhooks.Config)
	clientOptions  []salla.Option
	serviceOptions []core.Option
	lookupEnv      func(string) (string, bool)
}

func buildRuntime(ctx context.Context, opts *rootOptions, overrides runtimeOverrides) (*runtime, error) {
	if err := loadEnvFile(opts.envFile); err != nil {
		return nil, err
	}
	loaded, err := loadSettings(opts.configPath, overrides.lookupEnv)
	if err != nil {
		return nil, err
	}
	if overrides.webhook != nil {
		overrides.webhook(&loaded.webhook)
	}

	logger, err := zaplogger.NewWithLevel(opts.logLevel, false)
	if err != nil {
		return nil, err
	}
	rt := &runtime{
		logger:   logger,
		registry: prometheus.NewRegistry(),
		webhook:  loaded.webhook,
	}
	recorder := promadapter.NewRecorder(rt.registry, promadapter.WithErrorHandler(func(err error) {
		logger.Warn("salla metrics registration failed", "error", err)
	}))

	configProvider := core.NewCfgxConfigProvider(core.StaticRawConfigLoader(loaded.raw))
	// The transport is built before the service resolves its config, so the
	// http section is resolved here first.
	resolved, err := configProvider.Load(ctx, core.DefaultConfig())
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("cli: resolve config: %w", err)
	}
	serviceOpts := []core.Option{
		core.WithLogger(logger),
		core.WithLoggerProvider(zaplogger.NewProvider(logger)),
		core.WithMetricsRecorder(recorder),
		core.WithConfigProvider(configProvider),
	}
	clientOpts := []salla.Option{salla.WithWebhookConfig(loaded.webhook)}

	if dsn := strings.TrimSpace(opts.databaseDSN); dsn != "" {
		database, err := openStateStore(ctx, dsn, strings.EqualFold(opts.logLevel, "trace"))
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.database = database
		rt.closers = append(rt.closers, database.close)
		clientOpts = append(clientOpts, salla.WithRateLimitStore(database.store))
		logger.Info("salla rate limit state persisted", "driver", strings.SplitN(dsn, ":", 2)[0])
	}
	if redisURL := strings.TrimSpace(opts.redisURL); redisURL != "" {
		locker, redisClient, err := redislock.NewFromURL(ctx, redisURL)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, redisClient.Close)
		serviceOpts = append(serviceOpts, core.WithRefreshLocker(locker))
	}

	serviceOpts = append(serviceOpts, overrides.serviceOptions...)
	clientOpts = append(clientOpts, salla.WithServiceOptions(serviceOpts...))
	clientOpts = append(clientOpts, overrides.clientOptions...)
	client, err := salla.New(core.Config{HTTP: resolved.HTTP}, clientOpts...)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("cli: build client: %w", err)
	}
	rt.client = client
	return rt, nil
}

// Close releases the database and redis handles in reverse order and flushes
// the logger.
func (r *runtime) Close() {
	if r == nil {
		return
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.logger.Warn("salla shutdown close failed", "error", err)
		}
	}
	r.closers = nil
	if r.logger != nil {
		_ = r.logger.Sync()
	}
}
