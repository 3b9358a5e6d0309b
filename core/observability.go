package core

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Outcome values used as the status label on operation counters.
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeRateLimited = "rate_limited"
	OutcomeAuthFailed  = "auth_failed"
	OutcomeCanceled    = "canceled"
)

// metricTagKeys are the log fields promoted to metric labels. Everything else
// stays in the log line only, keeping label cardinality bounded.
var metricTagKeys = []string{"environment", "method", "resource"}

// instrumentation is the logging and metrics surface shared by the token
// manager, executor and paginator.
type instrumentation struct {
	logger  Logger
	metrics MetricsRecorder
	now     func() time.Time
}

func newInstrumentation(logger Logger, metrics MetricsRecorder) instrumentation {
	if metrics == nil {
		metrics = NopMetricsRecorder{}
	}
	return instrumentation{logger: glog.Ensure(logger), metrics: metrics, now: time.Now}
}

// operationSpan times one connector operation. Fields set while it runs end
// up on the completion log line.
type operationSpan struct {
	obs       instrumentation
	ctx       context.Context
	name      string
	startedAt time.Time
	fields    map[string]any
}

func (o instrumentation) start(ctx context.Context, operation string, fields map[string]any) *operationSpan {
	name := normalizeOperation(operation)
	if name == "" {
		name = "unknown"
	}
	return &operationSpan{
		obs:       o,
		ctx:       ctx,
		name:      name,
		startedAt: o.clock(),
		fields:    maps.Clone(fields),
	}
}

func (s *operationSpan) set(key string, value any) {
	if s.fields == nil {
		s.fields = map[string]any{}
	}
	s.fields[key] = value
}

// end records salla.<operation>.total and .duration_ms and logs the result:
// info on success, warn on cancellation, error otherwise.
func (s *operationSpan) end(err error) {
	elapsed := s.obs.clock().Sub(s.startedAt)
	outcome := outcomeOf(err)

	fields := maps.Clone(s.fields)
	if fields == nil {
		fields = map[string]any{}
	}
	fields["event_type"] = s.name
	fields["status"] = outcome
	fields["duration_ms"] = elapsed.Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		if code := errorTextCode(err); code != "" {
			fields["error_code"] = code
		}
	}

	tags := map[string]string{"operation": s.name, "status": outcome}
	for _, key := range metricTagKeys {
		if value, ok := fields[key]; ok && value != nil {
			if text := strings.TrimSpace(fmt.Sprint(value)); text != "" {
				tags[key] = text
			}
		}
	}
	s.obs.recordCounter(s.ctx, OperationCounter(s.name), 1, tags)
	s.obs.recordHistogram(s.ctx, OperationHistogram(s.name), float64(elapsed.Milliseconds()), tags)

	switch outcome {
	case OutcomeSuccess:
		s.obs.logInfo(s.ctx, s.name+" succeeded", fields)
	case OutcomeCanceled:
		s.obs.logWarn(s.ctx, s.name+" canceled", fields)
	default:
		s.obs.logError(s.ctx, s.name+" failed", fields)
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	case IsErrorCode(err, ErrorRateLimited), IsErrorCode(err, ErrorRetryExhausted):
		return OutcomeRateLimited
	case IsErrorCode(err, ErrorMissingCredentials), IsErrorCode(err, ErrorRefreshFailed):
		return OutcomeAuthFailed
	default:
		return OutcomeFailure
	}
}

func (o instrumentation) clock() time.Time {
	if o.now != nil {
		return o.now()
	}
	return time.Now()
}

func (o instrumentation) logInfo(ctx context.Context, message string, fields map[string]any) {
	o.log(ctx, fields).Info(message, flattenFields(fields)...)
}

func (o instrumentation) logWarn(ctx context.Context, message string, fields map[string]any) {
	o.log(ctx, fields).Warn(message, flattenFields(fields)...)
}

func (o instrumentation) logError(ctx context.Context, message string, fields map[string]any) {
	o.log(ctx, fields).Error(message, flattenFields(fields)...)
}

// log returns the logger bound to ctx, with fields attached when the backend
// supports structured fields.
func (o instrumentation) log(ctx context.Context, fields map[string]any) Logger {
	logger := glog.Ensure(o.logger)
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(FieldsLogger); ok && len(fields) > 0 {
		logger = fieldsLogger.WithFields(maps.Clone(fields))
	}
	return logger
}

func (o instrumentation) recordCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if o.metrics == nil {
		return
	}
	o.metrics.IncCounter(ctx, strings.TrimSpace(name), value, maps.Clone(tags))
}

func (o instrumentation) recordHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if o.metrics == nil {
		return
	}
	o.metrics.ObserveHistogram(ctx, strings.TrimSpace(name), value, maps.Clone(tags))
}

// flattenFields turns fields into sorted key/value pairs for glog.
func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields)*2)
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		args = append(args, key, fields[key])
	}
	return args
}

// normalizeOperation turns "Token Refresh" or "token-refresh" into
// "token_refresh".
func normalizeOperation(operation string) string {
	operation = strings.TrimSpace(strings.ToLower(operation))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(operation)
}
