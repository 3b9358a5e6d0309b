package gojob

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	"github.com/goliatone/go-salla/core"
)

const (
	// JobNamespace prefixes every job id owned by this package.
	JobNamespace      = "salla."
	JobIDTokenRefresh = JobNamespace + "token.refresh"

	ParamCredentialKey = "credential_key"
	ParamBufferMinutes = "buffer_minutes"
	ParamAttempt       = "attempt"
)

// RetryPolicy caps how long and how often a failed refresh is requeued.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt applies the policy to a nack issued on attempt. A nack
// that neither requeues nor dead letters is turned into a requeue so the
// delivery is never silently dropped.
func (p RetryPolicy) NormalizeAttempt(opts core.JobNackOptions, attempt int) core.JobNackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	out.Delay = max(out.Delay, 0)
	if p.MaxDelay > 0 {
		out.Delay = min(out.Delay, p.MaxDelay)
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		out.DeadLetter = out.DeadLetter || p.DeadLetterOnMax
	}
	switch {
	case out.DeadLetter:
		out.Requeue = false
	case !out.Requeue:
		out.Requeue = true
	}
	return out
}

// ToExecutionMessage maps a salla job onto go-job. ScriptPath falls back to
// the job id since salla jobs run in-process.
func ToExecutionMessage(msg *core.JobExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	jobID := strings.TrimSpace(msg.JobID)
	scriptPath := strings.TrimSpace(msg.ScriptPath)
	if scriptPath == "" {
		scriptPath = jobID
	}
	return &job.ExecutionMessage{
		JobID:          jobID,
		ScriptPath:     scriptPath,
		Parameters:     cloneParams(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy(strings.TrimSpace(msg.DedupPolicy)),
	}
}

func FromExecutionMessage(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	return &core.JobExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     cloneParams(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    strings.TrimSpace(string(msg.DedupPolicy)),
	}
}

// EnqueuerAdapter publishes salla jobs on a go-job queue. Jobs outside the
// salla namespace are rejected, and a missing idempotency key is derived
// from the job id and credential key so repeated schedules collapse.
type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer}
}

func (a *EnqueuerAdapter) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	out := ToExecutionMessage(msg)
	if !strings.HasPrefix(out.JobID, JobNamespace) {
		return fmt.Errorf("gojob: job %q is outside the %q namespace", out.JobID, JobNamespace)
	}
	if out.IdempotencyKey == "" {
		if key := stringParam(out.Parameters, ParamCredentialKey); key != "" {
			out.IdempotencyKey = out.JobID + ":" + key
		}
	}
	_, err := a.enqueuer.Enqueue(ctx, out)
	return err
}

// DeliveryAdapter exposes a go-job delivery as a core.JobDelivery and runs
// every nack through the retry policy.
type DeliveryAdapter struct {
	delivery queue.Delivery
	policy   RetryPolicy
}

func NewDeliveryAdapter(delivery queue.Delivery, policy RetryPolicy) *DeliveryAdapter {
	return &DeliveryAdapter{delivery: delivery, policy: policy}
}

// attemptCounter is implemented by go-job deliveries that count their own
// redeliveries, such as the SQL queue.
type attemptCounter interface {
	Attempts() int
}

// Message converts the go-job message. When the delivery counts attempts the
// count replaces the attempt parameter so the retry policy sees redeliveries.
func (d *DeliveryAdapter) Message() *core.JobExecutionMessage {
	if d == nil || d.delivery == nil {
		return nil
	}
	msg := FromExecutionMessage(d.delivery.Message())
	if counter, ok := d.delivery.(attemptCounter); ok && msg != nil {
		if attempts := counter.Attempts(); attempts > 0 {
			if msg.Parameters == nil {
				msg.Parameters = map[string]any{}
			}
			msg.Parameters[ParamAttempt] = attempts
		}
	}
	return msg
}

func (d *DeliveryAdapter) Ack(ctx context.Context) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	return d.delivery.Ack(ctx)
}

// Nack reads the attempt from the message parameters.
func (d *DeliveryAdapter) Nack(ctx context.Context, opts core.JobNackOptions) error {
	attempt := 0
	if msg := d.Message(); msg != nil {
		attempt = intParam(msg.Parameters, ParamAttempt)
	}
	return d.NackForAttempt(ctx, opts, attempt)
}

func (d *DeliveryAdapter) NackForAttempt(ctx context.Context, opts core.JobNackOptions, attempt int) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	out := ToNackOptions(d.policy.NormalizeAttempt(opts, attempt))
	if err := queue.ValidateNackOptions(out); err != nil {
		return fmt.Errorf("gojob: %w", err)
	}
	return d.delivery.Nack(ctx, out)
}

// ToNackOptions maps a normalized nack onto a go-job disposition. Dead
// lettering wins over a requeue.
func ToNackOptions(opts core.JobNackOptions) queue.NackOptions {
	out := queue.NackOptions{Delay: opts.Delay, Reason: opts.Reason}
	switch {
	case opts.DeadLetter:
		out.Disposition = queue.NackDispositionDeadLetter
	case opts.Requeue:
		out.Disposition = queue.NackDispositionRetry
	default:
		out.Disposition = queue.NackDispositionFailed
	}
	return out
}

type DequeuerAdapter struct {
	dequeuer queue.Dequeuer
	policy   RetryPolicy
}

func NewDequeuerAdapter(dequeuer queue.Dequeuer, policy RetryPolicy) *DequeuerAdapter {
	return &DequeuerAdapter{dequeuer: dequeuer, policy: policy}
}

func (a *DequeuerAdapter) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if a == nil || a.dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := a.dequeuer.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	if delivery == nil {
		return nil, nil
	}
	return NewDeliveryAdapter(delivery, a.policy), nil
}

// WorkerHookAdapter forwards go-job worker events for salla jobs to a core
// hook. Events for other jobs sharing the worker are ignored.
type WorkerHookAdapter struct {
	hook core.JobWorkerHook
}

func NewWorkerHookAdapter(hook core.JobWorkerHook) *WorkerHookAdapter {
	return &WorkerHookAdapter{hook: hook}
}

func (a *WorkerHookAdapter) OnStart(ctx context.Context, event worker.Event) {
	a.forward(ctx, event, core.JobWorkerHook.OnStart)
}

func (a *WorkerHookAdapter) OnSuccess(ctx context.Context, event worker.Event) {
	a.forward(ctx, event, core.JobWorkerHook.OnSuccess)
}

func (a *WorkerHookAdapter) OnFailure(ctx context.Context, event worker.Event) {
	a.forward(ctx, event, core.JobWorkerHook.OnFailure)
}

func (a *WorkerHookAdapter) OnRetry(ctx context.Context, event worker.Event) {
	a.forward(ctx, event, core.JobWorkerHook.OnRetry)
}

func (a *WorkerHookAdapter) forward(
	ctx context.Context,
	event worker.Event,
	fn func(core.JobWorkerHook, context.Context, core.JobWorkerEvent),
) {
	if a == nil || a.hook == nil {
		return
	}
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	if message == nil || !strings.HasPrefix(strings.TrimSpace(message.JobID), JobNamespace) {
		return
	}
	fn(a.hook, ctx, core.JobWorkerEvent{
		Message:   FromExecutionMessage(message),
		Attempt:   event.Attempt,
		Delay:     event.Delay,
		Err:       event.Err,
		StartedAt: event.StartedAt,
		Duration:  event.Duration,
	})
}

func cloneParams(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	maps.Copy(out, in)
	return out
}

var (
	_ core.JobEnqueuer = (*EnqueuerAdapter)(nil)
	_ core.JobDelivery = (*DeliveryAdapter)(nil)
	_ core.JobDequeuer = (*DequeuerAdapter)(nil)
	_ worker.Hook      = (*WorkerHookAdapter)(nil)
)
