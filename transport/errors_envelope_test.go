package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-salla/core"
)

func TestRESTAdapter_ResponseLimitReturnsRichError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("12345"))
	}))
	defer server.Close()

	adapter := NewRESTAdapter(server.Client())
	adapter.MaxResponseBodyBytes = 4

	_, err := adapter.Do(context.Background(), core.TransportRequest{Method: http.MethodGet, URL: server.URL})
	if err == nil {
		t.Fatalf("expected response body limit error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryExternal {
		t.Fatalf("expected external category, got %q", rich.Category)
	}
	if rich.TextCode != core.ErrorAPI {
		t.Fatalf("expected text code %q, got %q", core.ErrorAPI, rich.TextCode)
	}
	if rich.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rich.Code)
	}
	if rich.Metadata["adapter"] != KindREST || rich.Metadata["response_limit_bytes"] != int64(4) {
		t.Fatalf("unexpected metadata %+v", rich.Metadata)
	}
}

func TestRESTAdapter_TimeoutIsGatewayTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	_, err := NewRESTAdapter(server.Client()).Do(context.Background(), core.TransportRequest{
		URL:     server.URL + "/admin/v2/orders?access_token=secret",
		Timeout: 20 * time.Millisecond,
	})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T %v", err, err)
	}
	if rich.Code != http.StatusGatewayTimeout || rich.TextCode != core.ErrorAPI {
		t.Fatalf("expected api 504, got %q %d", rich.TextCode, rich.Code)
	}
	if url, _ := rich.Metadata["url"].(string); strings.Contains(url, "secret") {
		t.Fatalf("expected query redacted from metadata, got %q", url)
	}
}

func TestRESTAdapter_CanceledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRESTAdapter(server.Client()).Do(ctx, core.TransportRequest{URL: server.URL})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Code != statusClientClosedRequest || rich.TextCode != core.ErrorInternal {
		t.Fatalf("expected internal 499, got %q %d", rich.TextCode, rich.Code)
	}
}

func TestRESTAdapter_MissingURL(t *testing.T) {
	_, err := NewRESTAdapter(nil).Do(context.Background(), core.TransportRequest{URL: "  "})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != core.ErrorBadInput {
		t.Fatalf("expected bad input, got %v", err)
	}
}

func TestRESTAdapter_NilClientReturnsRichError(t *testing.T) {
	adapter := &RESTAdapter{}
	_, err := adapter.Do(context.Background(), core.TransportRequest{URL: "https://api.salla.dev/admin/v2/orders"})

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.TextCode != core.ErrorInternal {
		t.Fatalf("expected internal text code, got %q", rich.TextCode)
	}
}

func TestRESTAdapter_InvalidURLIsBadInput(t *testing.T) {
	adapter := NewRESTAdapter(nil)
	_, err := adapter.Do(context.Background(), core.TransportRequest{URL: "://bad"})

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.TextCode != core.ErrorBadInput || rich.Code != http.StatusBadRequest {
		t.Fatalf("expected bad input 400, got %q %d", rich.TextCode, rich.Code)
	}
}
