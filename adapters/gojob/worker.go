package gojob

import (
	"context"
	"errors"
	"fmt"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-salla/core"
)

// RefreshWorker pulls refresh jobs from a dequeuer and runs them one at a
// time until the context is cancelled.
type RefreshWorker struct {
	Dequeuer core.JobDequeuer
	Runner   *RefreshJobRunner
	Hook     core.JobWorkerHook
	Logger   glog.Logger

	// IdleDelay is the pause after an empty or failed dequeue.
	IdleDelay time.Duration
	Now       func() time.Time
	Sleep     core.SleepFunc
}

func NewRefreshWorker(dequeuer core.JobDequeuer, runner *RefreshJobRunner, hook core.JobWorkerHook) *RefreshWorker {
	return &RefreshWorker{
		Dequeuer:  dequeuer,
		Runner:    runner,
		Hook:      hook,
		IdleDelay: time.Second,
		Now:       time.Now,
		Sleep:     core.WaitWithContext,
	}
}

// Run blocks until ctx is done and returns ctx.Err().
func (w *RefreshWorker) Run(ctx context.Context) error {
	if w == nil || w.Dequeuer == nil || w.Runner == nil {
		return fmt.Errorf("gojob: refresh worker is not configured")
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		processed, err := w.step(ctx)
		if err != nil && !errors.Is(err, errJobFailed) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger().Warn("salla refresh worker dequeue failed", "error", err)
			processed = false
		}
		if processed {
			continue
		}
		if err := w.sleep(ctx, w.IdleDelay); err != nil {
			return err
		}
	}
}

var errJobFailed = errors.New("gojob: job failed")

// Step processes a single delivery. A failed job is reported through the
// hook and returned wrapped in errJobFailed; dequeue errors come back as is.
func (w *RefreshWorker) Step(ctx context.Context) error {
	_, err := w.step(ctx)
	return err
}

// step reports whether a delivery was taken off the queue.
func (w *RefreshWorker) step(ctx context.Context) (bool, error) {
	delivery, err := w.Dequeuer.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if delivery == nil {
		return false, nil
	}
	msg := delivery.Message()
	event := core.JobWorkerEvent{
		Message:   msg,
		Attempt:   max(intParam(paramsOf(msg), ParamAttempt), 1),
		StartedAt: w.now(),
	}
	w.fire(func(h core.JobWorkerHook) { h.OnStart(ctx, event) })

	runErr := w.Runner.Run(ctx, delivery)
	event.Duration = w.now().Sub(event.StartedAt)
	if runErr == nil {
		w.fire(func(h core.JobWorkerHook) { h.OnSuccess(ctx, event) })
		return true, nil
	}
	event.Err = runErr
	if msg != nil && msg.JobID == JobIDTokenRefresh && stringParam(msg.Parameters, ParamCredentialKey) != "" {
		event.Delay = w.Runner.retryOptions(runErr, event.Attempt).Delay
		w.fire(func(h core.JobWorkerHook) { h.OnRetry(ctx, event) })
	} else {
		w.fire(func(h core.JobWorkerHook) { h.OnFailure(ctx, event) })
	}
	return true, fmt.Errorf("%w: %w", errJobFailed, runErr)
}

func (w *RefreshWorker) fire(fn func(core.JobWorkerHook)) {
	if w.Hook != nil {
		fn(w.Hook)
	}
}

func (w *RefreshWorker) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		delay = time.Second
	}
	if w.Sleep != nil {
		return w.Sleep(ctx, delay)
	}
	return core.WaitWithContext(ctx, delay)
}

func (w *RefreshWorker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *RefreshWorker) logger() glog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return w.Runner.logger()
}

func paramsOf(msg *core.JobExecutionMessage) map[string]any {
	if msg == nil {
		return nil
	}
	return msg.Parameters
}
