package salla

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-salla/adapters/gocommand"
	"github.com/goliatone/go-salla/adapters/gologger"
	"github.com/goliatone/go-salla/core"
	"github.com/goliatone/go-salla/ratelimit"
	"github.com/goliatone/go-salla/resources"
	"github.com/goliatone/go-salla/transport"
	"github.com/goliatone/go-salla/webhooks"
)

// Client bundles the request service, the webhook receiver and the resource
// dispatcher built over one configuration.
type Client struct {
	service    *core.Service
	receiver   *webhooks.Receiver
	dispatcher *resources.Dispatcher
	tracker    *ratelimit.Tracker
	table      *resources.Table
}

type Option func(*clientOptions)

type clientOptions struct {
	serviceOpts    []core.Option
	webhook        webhooks.Config
	webhookOpts    []webhooks.Option
	stateStore     ratelimit.StateStore
	table          *resources.Table
	source         core.CredentialSource
	sink           core.CredentialSink
	secretKey      string
	hasTransport   bool
	hasRateLimiter bool
}

// WithServiceOptions forwards options to core.NewService. They run after the
// client defaults, so a transport or observer given here wins.
func WithServiceOptions(opts ...core.Option) Option {
	return func(o *clientOptions) {
		o.serviceOpts = append(o.serviceOpts, opts...)
	}
}

// WithTransportAdapter replaces the default REST adapter.
func WithTransportAdapter(adapter core.TransportAdapter) Option {
	return func(o *clientOptions) {
		if adapter == nil {
			return
		}
		o.hasTransport = true
		o.serviceOpts = append(o.serviceOpts, core.WithTransport(adapter))
	}
}

// WithRateLimitStore selects where the quota tracker keeps its state. The
// default is an in-process memory store.
func WithRateLimitStore(store ratelimit.StateStore) Option {
	return func(o *clientOptions) {
		o.stateStore = store
	}
}

// WithoutRateLimitTracking leaves the executor without a quota observer.
func WithoutRateLimitTracking() Option {
	return func(o *clientOptions) {
		o.hasRateLimiter = true
	}
}

// WithCredentialStore sets where credentials are loaded from and where
// refreshed ones are proposed. secretKey names the stored credential whose
// webhook secret the receiver falls back to.
func WithCredentialStore(source core.CredentialSource, sink core.CredentialSink, secretKey string) Option {
	return func(o *clientOptions) {
		o.source = source
		o.sink = sink
		o.secretKey = strings.TrimSpace(secretKey)
	}
}

func WithWebhookConfig(cfg webhooks.Config) Option {
	return func(o *clientOptions) {
		o.webhook = cfg
	}
}

func WithWebhookOptions(opts ...webhooks.Option) Option {
	return func(o *clientOptions) {
		o.webhookOpts = append(o.webhookOpts, opts...)
	}
}

func WithResourceTable(table *resources.Table) Option {
	return func(o *clientOptions) {
		o.table = table
	}
}

// New builds a Client. Without options it talks to Salla over net/http,
// tracks quota headers in memory and subscribes the receiver to every event.
func New(cfg Config, opts ...Option) (*Client, error) {
	options := clientOptions{
		webhook: webhooks.Config{Events: []string{webhooks.AllEvents}},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	var tracker *ratelimit.Tracker
	defaults := []core.Option{}
	if !options.hasTransport {
		httpCfg := cfg.HTTP
		if httpCfg.Timeout <= 0 {
			httpCfg.Timeout = core.DefaultHTTPTimeout
		}
		defaults = append(defaults, core.WithTransport(transport.NewRESTAdapterFromConfig(httpCfg)))
	}
	if !options.hasRateLimiter {
		store := options.stateStore
		if store == nil {
			store = ratelimit.NewMemoryStateStore()
		}
		tracker = ratelimit.NewTracker(store)
		defaults = append(defaults, core.WithRateLimitObserver(tracker))
	}
	if options.source != nil {
		defaults = append(defaults, core.WithCredentialSource(options.source))
	}
	if options.sink != nil {
		defaults = append(defaults, core.WithCredentialSink(options.sink))
	}

	service, err := core.NewService(cfg, append(defaults, options.serviceOpts...)...)
	if err != nil {
		return nil, err
	}
	deps := service.Dependencies()

	table := options.table
	if table == nil {
		table = resources.DefaultTable()
	}
	dispatcher, err := resources.NewDispatcher(service,
		resources.WithTable(table),
		resources.WithLogger(gologger.Component("resources", deps.LoggerProvider, deps.Logger)),
		resources.WithMetricsRecorder(deps.MetricsRecorder),
	)
	if err != nil {
		return nil, fmt.Errorf("salla: build dispatcher: %w", err)
	}

	webhookOpts := []webhooks.Option{
		webhooks.WithLogger(gologger.Component("webhooks", deps.LoggerProvider, deps.Logger)),
		webhooks.WithMetricsRecorder(deps.MetricsRecorder),
	}
	if options.source != nil && options.secretKey != "" {
		webhookOpts = append(webhookOpts, webhooks.WithSecretResolver(webhooks.CredentialSecretResolver{
			Source: options.source,
			Key:    options.secretKey,
		}))
	}
	receiver := webhooks.NewReceiver(options.webhook, append(webhookOpts, options.webhookOpts...)...)

	return &Client{
		service:    service,
		receiver:   receiver,
		dispatcher: dispatcher,
		tracker:    tracker,
		table:      table,
	}, nil
}

func (c *Client) Service() *core.Service {
	if c == nil {
		return nil
	}
	return c.service
}

func (c *Client) Webhooks() *webhooks.Receiver {
	if c == nil {
		return nil
	}
	return c.receiver
}

func (c *Client) Resources() *resources.Dispatcher {
	if c == nil {
		return nil
	}
	return c.dispatcher
}

// RateLimits returns nil when tracking was disabled.
func (c *Client) RateLimits() *ratelimit.Tracker {
	if c == nil {
		return nil
	}
	return c.tracker
}

// WebhookHandler mounts the receiver on net/http with the configured body
// limit.
func (c *Client) WebhookHandler() *webhooks.HTTPHandler {
	if c == nil {
		return nil
	}
	return webhooks.NewHTTPHandler(c.receiver, webhooks.WithMaxBodyBytes(c.service.Config().Webhook.MaxBodyBytes))
}

// RegisterCommands subscribes every salla command and query on adapter.
func (c *Client) RegisterCommands(adapter *gocommand.RegistryAdapter) (*gocommand.Registration, error) {
	if c == nil || c.service == nil {
		return nil, fmt.Errorf("salla: client is not configured")
	}
	bindings := gocommand.Bindings{
		Requests:    c.service,
		Credentials: c.service,
		Resources:   c.dispatcher,
		Webhooks:    c.receiver,
		Table:       c.table,
	}
	if c.tracker != nil {
		bindings.RateLimits = c.tracker
	}
	return gocommand.RegisterSalla(adapter, bindings)
}
