package gojob

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-salla/adapters/gologger"
	"github.com/goliatone/go-salla/core"
	"github.com/goliatone/go-salla/ratelimit"
)

// TokenRefresher is satisfied by *core.TokenManager.
type TokenRefresher interface {
	EnsureFresh(ctx context.Context, cred core.Credential, bufferMinutes int) (core.Credential, bool, error)
}

// attemptNacker is implemented by DeliveryAdapter so the retry policy sees the
// attempt number.
type attemptNacker interface {
	NackForAttempt(ctx context.Context, opts core.JobNackOptions, attempt int) error
}

// NewRefreshJobMessage builds a deduplicated token refresh job for the
// credential stored under key. A bufferMinutes of zero defers to the
// credential's own buffer.
func NewRefreshJobMessage(key string, bufferMinutes int) (*core.JobExecutionMessage, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("gojob: credential key is required")
	}
	params := map[string]any{ParamCredentialKey: key}
	if bufferMinutes > 0 {
		params[ParamBufferMinutes] = bufferMinutes
	}
	return &core.JobExecutionMessage{
		JobID:          JobIDTokenRefresh,
		ScriptPath:     JobIDTokenRefresh,
		Parameters:     params,
		IdempotencyKey: JobIDTokenRefresh + ":" + key,
		DedupPolicy:    "drop",
	}, nil
}

// ScheduleRefresh enqueues a refresh job for key.
func ScheduleRefresh(ctx context.Context, enqueuer core.JobEnqueuer, key string, bufferMinutes int) error {
	if enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is required")
	}
	msg, err := NewRefreshJobMessage(key, bufferMinutes)
	if err != nil {
		return err
	}
	return enqueuer.Enqueue(ctx, msg)
}

type RefreshJobRunner struct {
	Source  core.CredentialSource
	Sink    core.CredentialSink
	Tokens  TokenRefresher
	Backoff core.RefreshBackoffScheduler
	Logger  glog.Logger
}

func NewRefreshJobRunner(
	source core.CredentialSource,
	sink core.CredentialSink,
	tokens TokenRefresher,
	logger glog.Logger,
) *RefreshJobRunner {
	if logger == nil {
		logger = glog.Nop()
	}
	return &RefreshJobRunner{
		Source:  source,
		Sink:    sink,
		Tokens:  tokens,
		Backoff: core.ExponentialBackoffScheduler{},
		Logger:  logger,
	}
}

// Run processes one delivery. It always settles the delivery and returns the
// job error, if any, for worker hooks.
func (r *RefreshJobRunner) Run(ctx context.Context, delivery core.JobDelivery) error {
	if delivery == nil {
		return fmt.Errorf("gojob: delivery is required")
	}
	if r == nil || r.Source == nil || r.Tokens == nil {
		err := fmt.Errorf("gojob: refresh runner is not configured")
		r.settle(ctx, delivery, core.JobNackOptions{Requeue: true, Reason: err.Error()}, 0)
		return err
	}

	msg := delivery.Message()
	if msg == nil || msg.JobID != JobIDTokenRefresh {
		err := fmt.Errorf("gojob: unexpected job %q", jobIDOf(msg))
		r.settle(ctx, delivery, core.JobNackOptions{DeadLetter: true, Reason: err.Error()}, 0)
		return err
	}
	key := stringParam(msg.Parameters, ParamCredentialKey)
	attempt := intParam(msg.Parameters, ParamAttempt)
	if attempt < 1 {
		attempt = 1
	}
	if key == "" {
		err := fmt.Errorf("gojob: %s parameter is required", ParamCredentialKey)
		r.settle(ctx, delivery, core.JobNackOptions{DeadLetter: true, Reason: err.Error()}, attempt)
		return err
	}

	log := gologger.ForCredential(r.logger(), key)
	cred, err := r.Source.LoadCredential(ctx, key)
	if err != nil {
		log.Warn("salla refresh job could not load credential", "credential_key", key, "error", err)
		r.settle(ctx, delivery, r.retryOptions(err, attempt), attempt)
		return err
	}
	cred = cred.Normalize()
	buffer := intParam(msg.Parameters, ParamBufferMinutes)
	if buffer <= 0 {
		buffer = cred.RefreshBufferMinutes
	}

	updated, refreshed, err := r.Tokens.EnsureFresh(core.WithCredentialKey(ctx, key), cred, buffer)
	if err != nil {
		log.Error("salla refresh job failed", "credential_key", key, "attempt", attempt, "error", err)
		r.settle(ctx, delivery, r.retryOptions(err, attempt), attempt)
		return err
	}
	if refreshed && r.Sink != nil {
		if proposeErr := r.Sink.ProposeCredential(ctx, key, updated); proposeErr != nil {
			log.Warn("salla refresh job credential proposal failed", "credential_key", key, "error", proposeErr)
		}
	}
	log.Debug("salla refresh job done", "credential_key", key, "refreshed", refreshed)
	return delivery.Ack(ctx)
}

func (r *RefreshJobRunner) retryOptions(err error, attempt int) core.JobNackOptions {
	var throttled ratelimit.ThrottledError
	if errors.As(err, &throttled) && throttled.RetryAfter > 0 {
		return core.JobNackOptions{Delay: throttled.RetryAfter, Requeue: true, Reason: err.Error()}
	}
	var backoff core.RefreshBackoffScheduler = core.ExponentialBackoffScheduler{}
	if r != nil && r.Backoff != nil {
		backoff = r.Backoff
	}
	return core.JobNackOptions{Delay: backoff.NextDelay(attempt), Requeue: true, Reason: err.Error()}
}

func (r *RefreshJobRunner) settle(ctx context.Context, delivery core.JobDelivery, opts core.JobNackOptions, attempt int) {
	var err error
	if nacker, ok := delivery.(attemptNacker); ok {
		err = nacker.NackForAttempt(ctx, opts, attempt)
	} else {
		err = delivery.Nack(ctx, opts)
	}
	if err != nil {
		r.logger().Error("salla refresh job nack failed", "error", err)
	}
}

func (r *RefreshJobRunner) logger() glog.Logger {
	if r == nil || r.Logger == nil {
		return glog.Nop()
	}
	return r.Logger
}

func jobIDOf(msg *core.JobExecutionMessage) string {
	if msg == nil {
		return ""
	}
	return msg.JobID
}

func stringParam(params map[string]any, key string) string {
	value, ok := params[key]
	if !ok || value == nil {
		return ""
	}
	if typed, ok := value.(string); ok {
		return strings.TrimSpace(typed)
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func intParam(params map[string]any, key string) int {
	switch typed := params[key].(type) {
	case int:
		return typed
	case int64:
		return int(typed)
	case float64:
		return int(typed)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(typed))
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
