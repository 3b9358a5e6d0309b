package resources

import (
	"context"
	"fmt"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-salla/core"
)

// Runner is the part of core.Service the dispatcher needs.
type Runner interface {
	Execute(ctx context.Context, cred *core.Credential, req core.Request) (core.ExecuteResult, error)
	CollectAll(ctx context.Context, cred *core.Credential, method string, endpoint string, body map[string]any, query map[string]any) (core.CollectResult, error)
}

type Outcome struct {
	Data              any
	Credential        core.Credential
	CredentialUpdated bool
}

type BatchOptions struct {
	ContinueOnFail bool
}

// BatchResult holds the flattened items of a batch. List outcomes contribute
// one item per element and failed calls contribute {"error": message} when
// ContinueOnFail is set.
type BatchResult struct {
	Items             []any
	Failed            int
	Credential        core.Credential
	CredentialUpdated bool
}

type Dispatcher struct {
	table   *Table
	runner  Runner
	logger  core.Logger
	metrics core.MetricsRecorder
}

type DispatcherOption func(*Dispatcher)

func WithTable(table *Table) DispatcherOption {
	return func(d *Dispatcher) {
		if table != nil {
			d.table = table
		}
	}
}

func WithLogger(logger core.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithMetricsRecorder(metrics core.MetricsRecorder) DispatcherOption {
	return func(d *Dispatcher) {
		if metrics != nil {
			d.metrics = metrics
		}
	}
}

func NewDispatcher(runner Runner, opts ...DispatcherOption) (*Dispatcher, error) {
	if runner == nil {
		return nil, fmt.Errorf("resources: runner is required")
	}
	d := &Dispatcher{
		table:   DefaultTable(),
		runner:  runner,
		logger:  glog.Nop(),
		metrics: core.NopMetricsRecorder{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d, nil
}

func (d *Dispatcher) Table() *Table {
	return d.table
}

// Invoke runs a single call. getAll with ReturnAll walks every page; getAll
// without it returns the data list of one page, or an empty list.
func (d *Dispatcher) Invoke(ctx context.Context, cred core.Credential, call Call) (Outcome, error) {
	outcome := Outcome{Credential: cred}
	req, endpoint, err := d.table.Build(call)
	if err != nil {
		return outcome, err
	}

	startedAt := time.Now()
	tags := map[string]string{
		"resource":  string(call.Resource),
		"operation": string(call.Operation),
	}
	defer func() {
		d.metrics.ObserveHistogram(ctx, core.MetricResourceDuration, float64(time.Since(startedAt).Milliseconds()), tags)
	}()

	if endpoint.Paginated && call.ReturnAll {
		collected, err := d.runner.CollectAll(ctx, &cred, req.Method, req.Endpoint, req.Body, req.Query)
		outcome.Credential = collected.Credential
		outcome.CredentialUpdated = collected.CredentialUpdated
		outcome.Data = collected.Items
		return outcome, d.finish(ctx, tags, err)
	}

	executed, err := d.runner.Execute(ctx, &cred, req)
	outcome.Credential = executed.Credential
	outcome.CredentialUpdated = executed.CredentialUpdated
	if err != nil {
		return outcome, d.finish(ctx, tags, err)
	}
	if endpoint.Paginated {
		outcome.Data = pageData(executed.Response.Body)
	} else {
		outcome.Data = executed.Response.Body
	}
	return outcome, d.finish(ctx, tags, nil)
}

// Batch runs calls in order, threading the latest credential through. It
// stops between calls when ctx is done.
func (d *Dispatcher) Batch(ctx context.Context, cred core.Credential, calls []Call, opts BatchOptions) (BatchResult, error) {
	result := BatchResult{Items: []any{}, Credential: cred}
	for index, call := range calls {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		outcome, err := d.Invoke(ctx, result.Credential, call)
		if outcome.CredentialUpdated {
			result.Credential = outcome.Credential
			result.CredentialUpdated = true
		}
		if err != nil {
			if !opts.ContinueOnFail {
				return result, err
			}
			result.Failed++
			result.Items = append(result.Items, map[string]any{"error": err.Error()})
			d.logger.Warn("salla batch item failed",
				"index", index,
				"resource", string(call.Resource),
				"operation", string(call.Operation),
				"error", err.Error(),
			)
			continue
		}
		switch data := outcome.Data.(type) {
		case []any:
			result.Items = append(result.Items, data...)
		case nil:
		default:
			result.Items = append(result.Items, data)
		}
	}
	return result, nil
}

func (d *Dispatcher) finish(ctx context.Context, tags map[string]string, err error) error {
	status := "success"
	if err != nil {
		status = "failure"
	}
	counterTags := map[string]string{"status": status}
	for key, value := range tags {
		counterTags[key] = value
	}
	d.metrics.IncCounter(ctx, core.MetricResourceTotal, 1, counterTags)
	return err
}

func pageData(body any) []any {
	payload, ok := body.(map[string]any)
	if !ok {
		return []any{}
	}
	items, ok := payload["data"].([]any)
	if !ok {
		return []any{}
	}
	return items
}
