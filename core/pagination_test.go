package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func pageBody(t *testing.T, from int, count int, pagination map[string]any) string {
	t.Helper()
	items := make([]any, 0, count)
	for i := 0; i < count; i++ {
		items = append(items, map[string]any{"id": from + i})
	}
	body := map[string]any{"data": items}
	if pagination != nil {
		body["pagination"] = pagination
	}
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal page: %v", err)
	}
	return string(raw)
}

func newTestPaginator(t *testing.T, transport TransportAdapter, now time.Time, tokens *TokenManager) *Paginator {
	t.Helper()
	executor := newTestExecutor(t, transport, now, &recordedSleep{}, tokens)
	return NewPaginator(executor, 0, 0, nil, nil)
}

func TestPaginator_FollowsLastPage(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	transport := (&scriptedTransport{}).
		push(http.StatusOK, nil, pageBody(t, 0, 100, map[string]any{"current_page": 1, "last_page": 3})).
		push(http.StatusOK, nil, pageBody(t, 100, 100, map[string]any{"current_page": 2, "last_page": 3})).
		push(http.StatusOK, nil, pageBody(t, 200, 50, map[string]any{"current_page": 3, "last_page": 3}))
	paginator := newTestPaginator(t, transport, now, nil)

	cred := testCredential(now, 24*time.Hour)
	result, err := paginator.CollectAll(context.Background(), &cred, "GET", "/orders", nil, map[string]any{"status": "completed"})
	if err != nil {
		t.Fatalf("collect all: %v", err)
	}
	if len(result.Items) != 250 {
		t.Fatalf("expected 250 items, got %d", len(result.Items))
	}
	calls := transport.calls()
	if len(calls) != 3 || result.Pages != 3 {
		t.Fatalf("expected 3 requests, got %d", len(calls))
	}
	for index, call := range calls {
		if call.Query["page"] != fmt.Sprint(index+1) || call.Query["per_page"] != "100" {
			t.Fatalf("unexpected page query on request %d: %+v", index+1, call.Query)
		}
		if call.Query["status"] != "completed" {
			t.Fatalf("expected base query preserved, got %+v", call.Query)
		}
	}
	last := result.Items[249].(map[string]any)
	if last["id"] != float64(249) {
		t.Fatalf("expected page order preserved, got %v", last["id"])
	}
}

func TestPaginator_StopsOnShortPageWithoutPagination(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	transport := (&scriptedTransport{}).
		push(http.StatusOK, nil, pageBody(t, 0, 100, nil)).
		push(http.StatusOK, nil, pageBody(t, 100, 40, nil))
	paginator := newTestPaginator(t, transport, now, nil)

	cred := testCredential(now, 24*time.Hour)
	result, err := paginator.CollectAll(context.Background(), &cred, "GET", "/products", nil, nil)
	if err != nil {
		t.Fatalf("collect all: %v", err)
	}
	if len(result.Items) != 140 || len(transport.calls()) != 2 {
		t.Fatalf("expected 140 items over 2 requests, got %d over %d", len(result.Items), len(transport.calls()))
	}
}

func TestPaginator_AcceptsTopLevelArrays(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	transport := (&scriptedTransport{}).push(http.StatusOK, nil, `[{"id":1},{"id":2}]`)
	paginator := newTestPaginator(t, transport, now, nil)

	cred := testCredential(now, 24*time.Hour)
	result, err := paginator.CollectAll(context.Background(), &cred, "GET", "/coupons", nil, nil)
	if err != nil {
		t.Fatalf("collect all: %v", err)
	}
	if len(result.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(result.Items))
	}
}

func TestPaginator_StopsWithoutList(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	transport := (&scriptedTransport{}).push(http.StatusOK, nil, `{"data":{"id":1}}`)
	paginator := newTestPaginator(t, transport, now, nil)

	cred := testCredential(now, 24*time.Hour)
	result, err := paginator.CollectAll(context.Background(), &cred, "GET", "/orders", nil, nil)
	if err != nil {
		t.Fatalf("expected no error for a response without a list, got %v", err)
	}
	if len(result.Items) != 0 || len(transport.calls()) != 1 {
		t.Fatalf("expected empty result after one call")
	}
}

func TestPaginator_ThreadsRefreshedCredential(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	server := newTokenServer(t, http.StatusOK, map[string]any{"access_token": "access-new", "expires_in": 3600})
	tokens := NewTokenManager(TokenManagerConfig{Endpoints: server.endpoints(), Now: fixedClock(now)})
	transport := (&scriptedTransport{}).
		push(http.StatusOK, nil, pageBody(t, 0, 100, nil)).
		push(http.StatusOK, nil, pageBody(t, 100, 10, nil))
	paginator := newTestPaginator(t, transport, now, tokens)

	cred := testCredential(now, 5*time.Minute)
	result, err := paginator.CollectAll(context.Background(), &cred, "GET", "/customers", nil, nil)
	if err != nil {
		t.Fatalf("collect all: %v", err)
	}
	if got := server.calls.Load(); got != 1 {
		t.Fatalf("expected one refresh across pages, got %d", got)
	}
	for _, call := range transport.calls() {
		if bearerOf(call) != "access-new" {
			t.Fatalf("expected every page sent with the refreshed token")
		}
	}
	if !result.CredentialUpdated || result.Credential.AccessToken() != "access-new" {
		t.Fatalf("expected final credential returned")
	}
}

func TestPaginator_PageCapReturnsCollectedItems(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	transport := &scriptedTransport{}
	for i := 0; i < 3; i++ {
		transport.push(http.StatusOK, nil, pageBody(t, i*2, 2, map[string]any{"current_page": i + 1, "last_page": 100}))
	}
	executor := newTestExecutor(t, transport, now, &recordedSleep{}, nil)
	logger := newCaptureLogger()
	paginator := NewPaginator(executor, 2, 2, logger, nil)

	cred := testCredential(now, 24*time.Hour)
	result, err := paginator.CollectAll(context.Background(), &cred, "GET", "/orders", nil, nil)
	if err != nil {
		t.Fatalf("collect all: %v", err)
	}
	if len(result.Items) != 4 || len(transport.calls()) != 2 {
		t.Fatalf("expected cap at 2 pages, got %d items over %d calls", len(result.Items), len(transport.calls()))
	}
	if !hasLog(logger.snapshot(), "warn", "salla pagination stopped at page cap") {
		t.Fatalf("expected page cap warning")
	}
}

func TestPaginator_PropagatesErrors(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	transport := (&scriptedTransport{}).
		push(http.StatusOK, nil, pageBody(t, 0, 100, nil)).
		push(http.StatusInternalServerError, nil, `{"message":"boom"}`)
	paginator := newTestPaginator(t, transport, now, nil)

	cred := testCredential(now, 24*time.Hour)
	result, err := paginator.CollectAll(context.Background(), &cred, "GET", "/orders", nil, nil)
	if !IsErrorCode(err, ErrorAPI) {
		t.Fatalf("expected api error, got %v", err)
	}
	if len(result.Items) != 100 {
		t.Fatalf("expected partial items kept, got %d", len(result.Items))
	}
}
