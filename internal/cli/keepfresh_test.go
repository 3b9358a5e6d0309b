package cli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-salla/core"
)

func TestCredentialFiles_OnlyServesKnownPaths(t *testing.T) {
	path := credentialFile(t, liveCredential(time.Hour))
	files, err := newCredentialFiles([]string{" " + path + " ", ""})
	if err != nil {
		t.Fatalf("new credential files: %v", err)
	}
	if keys := files.keys(); len(keys) != 1 || keys[0] != filepath.Clean(path) {
		t.Fatalf("unexpected keys %v", keys)
	}

	cred, err := files.LoadCredential(context.Background(), path)
	if err != nil || cred.AccessToken() != "access-1" {
		t.Fatalf("load credential: %+v %v", cred, err)
	}
	other := filepath.Join(t.TempDir(), "other.json")
	if _, err := files.LoadCredential(context.Background(), other); err == nil {
		t.Fatalf("expected unknown path rejected")
	}
	if err := files.ProposeCredential(context.Background(), other, cred); err == nil {
		t.Fatalf("expected write to unknown path rejected")
	}

	if _, err := newCredentialFiles([]string{" "}); err == nil {
		t.Fatalf("expected empty file list rejected")
	}
}

func TestServeCommand_KeepFreshNeedsDatabase(t *testing.T) {
	path := credentialFile(t, liveCredential(time.Hour))
	_, err := runCLI(t, "serve", "--addr", "127.0.0.1:0", "--keep-fresh", path)
	if err == nil || !strings.Contains(err.Error(), "--database-dsn") {
		t.Fatalf("expected database requirement, got %v", err)
	}
}

func TestKeepFresh_RefreshesCredentialFilesThroughQueue(t *testing.T) {
	var tokenCalls atomic.Int32
	accounts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/token" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"access-2","refresh_token":"refresh-2","expires_in":3600}`))
	}))
	defer accounts.Close()
	t.Setenv("SALLA_ACCOUNTS_PRODUCTION_URL", accounts.URL)

	path := credentialFile(t, liveCredential(time.Minute))
	files, err := newCredentialFiles([]string{path})
	if err != nil {
		t.Fatalf("credential files: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := buildRuntime(ctx, &rootOptions{
		logLevel:    "error",
		databaseDSN: "sqlite3:" + filepath.Join(t.TempDir(), "salla.db"),
	}, runtimeOverrides{serviceOptions: []core.Option{core.WithCredentialSource(files)}})
	if err != nil {
		t.Fatalf("build runtime: %v", err)
	}
	defer rt.Close()

	refresher, err := newKeepFresh(ctx, rt, files, time.Hour, 30)
	if err != nil {
		t.Fatalf("keep fresh: %v", err)
	}
	refresher.worker.IdleDelay = 10 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- refresher.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		saved, err := readCredential(path)
		if err == nil && saved.AccessToken() == "access-2" {
			if saved.TokenData.RefreshToken != "refresh-2" {
				t.Fatalf("expected rotated refresh token saved, got %+v", saved.TokenData)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("credential file was not refreshed, last read %+v %v", saved.TokenData, err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("refresher did not stop")
	}
	if got := tokenCalls.Load(); got != 1 {
		t.Fatalf("expected one token call, got %d", got)
	}
}
