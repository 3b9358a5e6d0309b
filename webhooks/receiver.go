package webhooks

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-salla/core"
	"github.com/google/uuid"
)

const (
	MessageReceived  = "Webhook received successfully"
	MessageIgnored   = "Event ignored"
	MessageDuplicate = "Duplicate delivery ignored"

	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

type InboundRequest struct {
	Headers map[string]string
	RawBody []byte
	Body    map[string]any
}

// Event is the normalized payload handed to the sink.
type Event map[string]any

type Result struct {
	StatusCode    int
	Message       string
	Event         Event
	DeliveryID    string
	DispatchError error
}

// Config controls filtering, verification and output shape. Signature
// validation is on unless SkipSignatureValidation is set.
type Config struct {
	Events                  []string `koanf:"events" yaml:"events"`
	SkipSignatureValidation bool     `koanf:"skip_signature_validation" yaml:"skip_signature_validation"`
	Secret                  string   `koanf:"secret" yaml:"secret"`
	ReturnRawData           bool     `koanf:"return_raw_data" yaml:"return_raw_data"`
}

// SecretResolver supplies the credential-level webhook secret when Config has
// none.
type SecretResolver interface {
	WebhookSecret(ctx context.Context) (string, error)
}

type SecretResolverFunc func(ctx context.Context) (string, error)

func (f SecretResolverFunc) WebhookSecret(ctx context.Context) (string, error) {
	return f(ctx)
}

// CredentialSecretResolver reads WebhookSecret from a stored credential.
type CredentialSecretResolver struct {
	Source core.CredentialSource
	Key    string
}

func (r CredentialSecretResolver) WebhookSecret(ctx context.Context) (string, error) {
	if r.Source == nil {
		return "", nil
	}
	cred, err := r.Source.LoadCredential(ctx, r.Key)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(cred.WebhookSecret), nil
}

type EventSink interface {
	HandleEvent(ctx context.Context, deliveryID string, event Event) error
}

type EventSinkFunc func(ctx context.Context, deliveryID string, event Event) error

func (f EventSinkFunc) HandleEvent(ctx context.Context, deliveryID string, event Event) error {
	return f(ctx, deliveryID, event)
}

type Receiver struct {
	cfg        Config
	resolver   SecretResolver
	sink       EventSink
	duplicates DuplicateFilter
	logger     core.Logger
	metrics    core.MetricsRecorder
	now        func() time.Time
	newID      func() string
}

type Option func(*Receiver)

func WithSecretResolver(resolver SecretResolver) Option {
	return func(r *Receiver) { r.resolver = resolver }
}

func WithEventSink(sink EventSink) Option {
	return func(r *Receiver) { r.sink = sink }
}

func WithDuplicateFilter(filter DuplicateFilter) Option {
	return func(r *Receiver) { r.duplicates = filter }
}

func WithLogger(logger core.Logger) Option {
	return func(r *Receiver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMetricsRecorder(metrics core.MetricsRecorder) Option {
	return func(r *Receiver) {
		if metrics != nil {
			r.metrics = metrics
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(r *Receiver) {
		if now != nil {
			r.now = now
		}
	}
}

func NewReceiver(cfg Config, opts ...Option) *Receiver {
	r := &Receiver{
		cfg:     cfg,
		logger:  glog.Nop(),
		metrics: core.NopMetricsRecorder{},
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Receiver) Config() Config {
	return r.cfg
}

// Handle filters, verifies and normalizes one delivery. The only error it
// returns is an InvalidSignature failure; sink errors are reported in
// Result.DispatchError.
func (r *Receiver) Handle(ctx context.Context, req InboundRequest) (Result, error) {
	if req.Body == nil {
		req.Body = map[string]any{}
	}
	eventType := EventType(req)

	if !r.subscribed(eventType) {
		r.record(ctx, eventType, "ignored")
		return Result{StatusCode: http.StatusOK, Message: MessageIgnored}, nil
	}

	if !r.cfg.SkipSignatureValidation {
		if secret := r.resolveSecret(ctx); secret != "" {
			if err := NewHMACVerifier(secret).Verify(ctx, req); err != nil {
				r.record(ctx, eventType, "rejected")
				r.logger.Warn("salla webhook rejected", "event", eventType, "error", err.Error())
				return Result{StatusCode: http.StatusUnauthorized, Message: "Invalid webhook signature"}, err
			}
		}
	}

	if r.duplicates != nil && r.duplicates.Seen(req, eventType) {
		r.record(ctx, eventType, "duplicate")
		return Result{StatusCode: http.StatusOK, Message: MessageDuplicate}, nil
	}

	event := r.normalize(req, eventType)
	result := Result{
		StatusCode: http.StatusOK,
		Message:    MessageReceived,
		Event:      event,
		DeliveryID: r.newID(),
	}
	if r.sink != nil {
		if err := r.sink.HandleEvent(ctx, result.DeliveryID, event); err != nil {
			result.DispatchError = fmt.Errorf("webhooks: dispatch %s: %w", eventType, err)
			r.logger.Error("salla webhook dispatch failed",
				"event", eventType,
				"delivery_id", result.DeliveryID,
				"error", err.Error(),
			)
		}
	}
	r.record(ctx, eventType, "accepted")
	r.logger.Debug("salla webhook accepted", "event", eventType, "delivery_id", result.DeliveryID)
	return result, nil
}

// EventType reads x-salla-event-type, then body.event, then "unknown".
func EventType(req InboundRequest) string {
	if value := headerValue(req.Headers, HeaderEventType); value != "" {
		return value
	}
	if value, ok := req.Body["event"].(string); ok && strings.TrimSpace(value) != "" {
		return value
	}
	return eventUnknown
}

func (r *Receiver) subscribed(eventType string) bool {
	for _, candidate := range r.cfg.Events {
		candidate = strings.TrimSpace(candidate)
		if candidate == AllEvents || candidate == eventType {
			return true
		}
	}
	return false
}

func (r *Receiver) resolveSecret(ctx context.Context) string {
	if secret := strings.TrimSpace(r.cfg.Secret); secret != "" {
		return secret
	}
	if r.resolver == nil {
		return ""
	}
	secret, err := r.resolver.WebhookSecret(ctx)
	if err != nil {
		r.logger.Debug("salla webhook secret unavailable", "error", err.Error())
		return ""
	}
	return strings.TrimSpace(secret)
}

func (r *Receiver) normalize(req InboundRequest, eventType string) Event {
	now := r.now().UTC().Format(timestampLayout)
	if r.cfg.ReturnRawData {
		return Event{
			"headers":   cloneHeaders(req.Headers),
			"body":      req.Body,
			"event":     eventType,
			"timestamp": now,
		}
	}

	event := Event{
		"event":      eventType,
		"timestamp":  firstTruthy(headerValue(req.Headers, HeaderTimestamp), now),
		"merchantId": firstTruthy(headerValue(req.Headers, HeaderMerchant), req.Body["merchant_id"]),
		"data":       firstTruthy(req.Body["data"], req.Body),
	}
	if event["merchantId"] == nil {
		delete(event, "merchantId")
	}
	for key, value := range req.Body {
		event[key] = value
	}
	delete(event, "merchant_id")
	return event
}

func (r *Receiver) record(ctx context.Context, eventType string, status string) {
	r.metrics.IncCounter(ctx, core.MetricWebhookTotal, 1, map[string]string{
		"event":  eventType,
		"status": status,
	})
}

// firstTruthy returns the first value that is not nil, false, zero or empty.
func firstTruthy(values ...any) any {
	for _, value := range values {
		if truthy(value) {
			return value
		}
	}
	if len(values) == 0 {
		return nil
	}
	return values[len(values)-1]
}

func truthy(value any) bool {
	switch typed := value.(type) {
	case nil:
		return false
	case string:
		return typed != ""
	case bool:
		return typed
	case float64:
		return typed != 0
	case int:
		return typed != 0
	case int64:
		return typed != 0
	default:
		return true
	}
}

func cloneHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for key, value := range headers {
		out[key] = value
	}
	return out
}
