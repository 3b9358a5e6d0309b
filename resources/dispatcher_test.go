package resources

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/goliatone/go-salla/core"
)

type recordedCall struct {
	kind string
	req  core.Request
	cred core.Credential
}

type stubRunner struct {
	mu        sync.Mutex
	calls     []recordedCall
	responses map[string]any
	failOn    map[string]error
	refreshed *core.Credential
}

func (r *stubRunner) Execute(_ context.Context, cred *core.Credential, req core.Request) (core.ExecuteResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{kind: "execute", req: req, cred: *cred})
	result := core.ExecuteResult{Credential: *cred}
	if r.refreshed != nil {
		result.Credential = *r.refreshed
		result.CredentialUpdated = true
		r.refreshed = nil
	}
	if err := r.failOn[req.Endpoint]; err != nil {
		return result, err
	}
	result.Response = core.Response{StatusCode: http.StatusOK, Body: r.responses[req.Endpoint]}
	return result, nil
}

func (r *stubRunner) CollectAll(_ context.Context, cred *core.Credential, method string, endpoint string, body map[string]any, query map[string]any) (core.CollectResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{kind: "collect", req: core.Request{Method: method, Endpoint: endpoint, Body: body, Query: query}, cred: *cred})
	items, _ := r.responses[endpoint].([]any)
	return core.CollectResult{Items: items, Credential: *cred}, nil
}

func credentialWithToken(token string) core.Credential {
	return core.Credential{ClientID: "c", ClientSecret: "s", TokenData: &core.TokenData{AccessToken: token}}
}

func TestDispatcher_InvokeRoutesGetAll(t *testing.T) {
	runner := &stubRunner{responses: map[string]any{
		"/orders": map[string]any{"data": []any{map[string]any{"id": 1.0}}},
	}}
	dispatcher, err := NewDispatcher(runner)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	outcome, err := dispatcher.Invoke(context.Background(), credentialWithToken("t"), Call{Resource: ResourceOrder, Operation: OperationGetAll, Limit: 10})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	items, ok := outcome.Data.([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("expected one item from data, got %#v", outcome.Data)
	}
	if runner.calls[0].kind != "execute" || runner.calls[0].req.Query["per_page"] != 10 {
		t.Fatalf("expected single page request with limit, got %+v", runner.calls[0])
	}

	runner.responses["/products"] = map[string]any{"message": "no data"}
	outcome, err = dispatcher.Invoke(context.Background(), credentialWithToken("t"), Call{Resource: ResourceProduct, Operation: OperationGetAll})
	if err != nil {
		t.Fatalf("invoke products: %v", err)
	}
	if items, ok := outcome.Data.([]any); !ok || len(items) != 0 {
		t.Fatalf("expected empty list without data, got %#v", outcome.Data)
	}

	runner.responses["/coupons"] = []any{"a", "b", "c"}
	outcome, err = dispatcher.Invoke(context.Background(), credentialWithToken("t"), Call{Resource: ResourceCoupon, Operation: OperationGetAll, ReturnAll: true})
	if err != nil {
		t.Fatalf("invoke return all: %v", err)
	}
	if items := outcome.Data.([]any); len(items) != 3 {
		t.Fatalf("expected walker items, got %#v", outcome.Data)
	}
	if runner.calls[2].kind != "collect" {
		t.Fatalf("expected return all to use the walker")
	}
}

func TestDispatcher_InvokeUnsupported(t *testing.T) {
	dispatcher, _ := NewDispatcher(&stubRunner{})
	_, err := dispatcher.Invoke(context.Background(), credentialWithToken("t"), Call{Resource: ResourceOrder, Operation: OperationDelete, ID: "1"})
	if !core.IsErrorCode(err, core.ErrorUnsupportedOperation) {
		t.Fatalf("expected unsupported operation, got %v", err)
	}
}

func TestDispatcher_BatchContinueOnFail(t *testing.T) {
	refreshed := credentialWithToken("fresh")
	runner := &stubRunner{
		responses: map[string]any{
			"/orders/1": map[string]any{"data": map[string]any{"id": 1.0}},
			"/orders/3": map[string]any{"data": map[string]any{"id": 3.0}},
		},
		failOn:    map[string]error{"/orders/2": errors.New("salla: not found")},
		refreshed: &refreshed,
	}
	dispatcher, _ := NewDispatcher(runner)
	calls := []Call{
		{Resource: ResourceOrder, Operation: OperationGet, ID: "1"},
		{Resource: ResourceOrder, Operation: OperationGet, ID: "2"},
		{Resource: ResourceOrder, Operation: OperationGet, ID: "3"},
	}

	result, err := dispatcher.Batch(context.Background(), credentialWithToken("stale"), calls, BatchOptions{ContinueOnFail: true})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(result.Items) != 3 || result.Failed != 1 {
		t.Fatalf("expected 3 items with 1 failure, got %d/%d", len(result.Items), result.Failed)
	}
	failed, ok := result.Items[1].(map[string]any)
	if !ok || failed["error"] != "salla: not found" {
		t.Fatalf("expected error item, got %#v", result.Items[1])
	}
	if !result.CredentialUpdated || result.Credential.AccessToken() != "fresh" {
		t.Fatalf("expected refreshed credential returned")
	}
	for _, call := range runner.calls[1:] {
		if call.cred.AccessToken() != "fresh" {
			t.Fatalf("expected refreshed credential threaded through later calls")
		}
	}
}

func TestDispatcher_BatchAbortsWithoutContinueOnFail(t *testing.T) {
	runner := &stubRunner{failOn: map[string]error{"/orders/1": errors.New("boom")}}
	dispatcher, _ := NewDispatcher(runner)
	calls := []Call{
		{Resource: ResourceOrder, Operation: OperationGet, ID: "1"},
		{Resource: ResourceOrder, Operation: OperationGet, ID: "2"},
	}

	if _, err := dispatcher.Batch(context.Background(), credentialWithToken("t"), calls, BatchOptions{}); err == nil {
		t.Fatalf("expected batch to abort")
	}
	if len(runner.calls) != 1 {
		t.Fatalf("expected batch to stop after the failure, got %d calls", len(runner.calls))
	}
}

func TestDispatcher_BatchStopsOnCancelledContext(t *testing.T) {
	runner := &stubRunner{}
	dispatcher, _ := NewDispatcher(runner)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := dispatcher.Batch(ctx, credentialWithToken("t"), []Call{{Resource: ResourceOrder, Operation: OperationGet, ID: "1"}}, BatchOptions{ContinueOnFail: true})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("expected no calls after cancellation")
	}
}
