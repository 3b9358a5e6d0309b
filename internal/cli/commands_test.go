package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-salla/core"
	"github.com/goliatone/go-salla/webhooks"
)

func credentialFile(t *testing.T, cred core.Credential) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credential.json")
	if err := writeCredential(path, cred); err != nil {
		t.Fatalf("write credential: %v", err)
	}
	return path
}

func liveCredential(expiresIn time.Duration) core.Credential {
	expiresAt := time.Now().Add(expiresIn).UTC().Truncate(time.Second)
	return core.Credential{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		TokenData: &core.TokenData{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			ExpiresAt:    &expiresAt,
		},
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCredentialFileRoundTrip(t *testing.T) {
	cred := liveCredential(time.Hour)
	path := credentialFile(t, cred)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat credential: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 credential file, got %v", info.Mode().Perm())
	}
	loaded, err := readCredential(path)
	if err != nil {
		t.Fatalf("read credential: %v", err)
	}
	if loaded.ClientID != "client-1" || loaded.AccessToken() != "access-1" {
		t.Fatalf("unexpected credential %+v", loaded)
	}
	if _, err := readCredential(""); err == nil {
		t.Fatalf("expected missing path error")
	}
}

func TestRequestCommand_CollectsAllPages(t *testing.T) {
	var calls atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/admin/v2/orders" || r.Header.Get("Authorization") != "Bearer access-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		page := r.URL.Query().Get("page")
		w.Header().Set("Content-Type", "application/json")
		if page == "2" {
			_, _ = w.Write([]byte(`{"data":[{"id":3}],"pagination":{"current_page":2,"last_page":2}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":1},{"id":2}],"pagination":{"current_page":1,"last_page":2}}`))
	}))
	defer api.Close()
	t.Setenv("SALLA_API_PRODUCTION_URL", api.URL)
	t.Setenv("SALLA_PAGINATION_PAGE_SIZE", "2")

	path := credentialFile(t, liveCredential(24*time.Hour))
	before, _ := os.ReadFile(path)

	out, err := runCLI(t, "request", "--credential", path, "--endpoint", "/orders", "--all")
	if err != nil {
		t.Fatalf("request --all: %v", err)
	}
	var decoded requestOutput
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if decoded.Pages != 2 || len(decoded.Items) != 3 {
		t.Fatalf("expected 3 items over 2 pages, got %+v", decoded)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected two api calls, got %d", calls.Load())
	}
	after, _ := os.ReadFile(path)
	if !bytes.Equal(before, after) {
		t.Fatalf("expected credential file untouched without a refresh")
	}
}

func TestRequestCommand_RejectsBadPayload(t *testing.T) {
	path := credentialFile(t, liveCredential(time.Hour))
	if _, err := runCLI(t, "request", "--credential", path, "--endpoint", "/orders", "--body", "[1,2]"); err == nil {
		t.Fatalf("expected body error")
	}
	if _, err := runCLI(t, "request", "--credential", path, "--endpoint", "/orders", "--query", "novalue"); err == nil {
		t.Fatalf("expected query error")
	}
}

func TestRefreshCommand_WritesUpdatedCredential(t *testing.T) {
	accounts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/token" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("refresh_token") != "refresh-1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"access-2","refresh_token":"refresh-2","expires_in":3600}`))
	}))
	defer accounts.Close()
	t.Setenv("SALLA_ACCOUNTS_PRODUCTION_URL", accounts.URL)

	path := credentialFile(t, liveCredential(time.Minute))
	out, err := runCLI(t, "refresh", "--credential", path)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !strings.Contains(out, "access-2") {
		t.Fatalf("expected refreshed credential printed, got %s", out)
	}
	saved, err := readCredential(path)
	if err != nil {
		t.Fatalf("read saved credential: %v", err)
	}
	if saved.AccessToken() != "access-2" || saved.TokenData.RefreshToken != "refresh-2" {
		t.Fatalf("expected refreshed credential saved, got %+v", saved.TokenData)
	}
}

func TestRouter_WebhookHealthAndMetrics(t *testing.T) {
	var sinkOut bytes.Buffer
	rt, err := buildRuntime(context.Background(), &rootOptions{logLevel: "error"}, runtimeOverrides{
		lookupEnv: mapLookup(nil),
		webhook: func(cfg *webhooks.Config) {
			cfg.Events = []string{"order.created"}
			cfg.Secret = "s3cr3t"
		},
		clientOptions: (&serveOptions{}).sinkOptions(&sinkOut),
	})
	if err != nil {
		t.Fatalf("build runtime: %v", err)
	}
	defer rt.Close()
	server := httptest.NewServer(newRouter(rt))
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %v %v", resp, err)
	}
	resp.Body.Close()

	body := []byte(`{"event":"order.created","merchant":99,"created_at":"2026-03-01","data":{"id":5}}`)
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Salla-Signature", webhooks.SignatureHeader("s3cr3t", body))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post webhook: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected accepted webhook, got %d", resp.StatusCode)
	}
	var line sinkLine
	if err := json.Unmarshal(sinkOut.Bytes(), &line); err != nil {
		t.Fatalf("decode sink line %q: %v", sinkOut.String(), err)
	}
	if line.DeliveryID == "" || line.Event["event"] != "order.created" {
		t.Fatalf("unexpected sink line %+v", line)
	}

	forged, _ := http.NewRequest(http.MethodPost, server.URL+"/webhook", bytes.NewReader(body))
	forged.Header.Set("X-Salla-Signature", "sha256=00")
	resp, err = http.DefaultClient.Do(forged)
	if err != nil {
		t.Fatalf("post forged webhook: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	metrics, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(metrics), `salla_webhook_total{event="order.created",status="accepted"} 1`) {
		t.Fatalf("expected webhook counter in metrics, got:\n%s", metrics)
	}
}

func TestServeUntil_ShutsDownOnCancel(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveUntil(ctx, srv, listener, time.Second) }()

	resp, err := http.Get(fmt.Sprintf("http://%s/", listener.Addr()))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve until: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not shut down")
	}
}

func TestJSONLinesSink(t *testing.T) {
	var out bytes.Buffer
	sink := newJSONLinesSink(&out)
	sink.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	_ = sink.HandleEvent(context.Background(), "d-1", webhooks.Event{"event": "order.created"})
	_ = sink.HandleEvent(context.Background(), "d-2", webhooks.Event{"event": "order.updated"})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two lines, got %q", out.String())
	}
	if !strings.Contains(lines[0], `"delivery_id":"d-1"`) || !strings.Contains(lines[0], `"received_at":"2026-03-01T00:00:00Z"`) {
		t.Fatalf("unexpected first line %s", lines[0])
	}
}
