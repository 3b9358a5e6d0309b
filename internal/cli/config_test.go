package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goliatone/go-salla/webhooks"
)

func writeFile(t *testing.T, name string, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func mapLookup(values map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		value, ok := values[name]
		return value, ok
	}
}

func TestLoadSettings_YAMLWithEnvOverrides(t *testing.T) {
	path := writeFile(t, "salla.yaml", `
service_name: salla-test
http:
  timeout: 5s
retry:
  default_wait: 1m
endpoints:
  api_production: https://yaml.example
  api_sandbox: https://sandbox.example
webhook:
  max_body_bytes: 1024
  events: [order.created, order.updated]
  secret: from-yaml
  return_raw_data: true
`)
	loaded, err := loadSettings(path, mapLookup(map[string]string{
		"SALLA_API_PRODUCTION_URL": "https://env.example",
		"SALLA_WEBHOOK_SECRET":     "from-env",
		"SALLA_REFRESH_LOCK_TTL":   "45s",
	}))
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}

	if got, _ := getPath(loaded.raw, []string{"http", "timeout"}); got != 5*time.Second {
		t.Fatalf("expected parsed http.timeout, got %#v", got)
	}
	if got, _ := getPath(loaded.raw, []string{"refresh", "lock_ttl"}); got != 45*time.Second {
		t.Fatalf("expected env lock ttl, got %#v", got)
	}
	if got, _ := getPath(loaded.raw, []string{"endpoints", "api_production"}); got != "https://env.example" {
		t.Fatalf("expected env endpoint to win, got %#v", got)
	}
	if got, _ := getPath(loaded.raw, []string{"endpoints", "api_sandbox"}); got != "https://sandbox.example" {
		t.Fatalf("expected yaml sandbox endpoint, got %#v", got)
	}
	if got, _ := getPath(loaded.raw, []string{"webhook", "max_body_bytes"}); got != 1024 {
		t.Fatalf("expected webhook body limit kept for core config, got %#v", got)
	}
	if _, ok := getPath(loaded.raw, []string{"webhook", "secret"}); ok {
		t.Fatalf("expected receiver keys removed from core config")
	}

	hook := loaded.webhook
	if hook.Secret != "from-env" || !hook.ReturnRawData {
		t.Fatalf("unexpected webhook settings %+v", hook)
	}
	if len(hook.Events) != 2 || hook.Events[0] != "order.created" {
		t.Fatalf("unexpected webhook events %v", hook.Events)
	}
}

func TestLoadSettings_Defaults(t *testing.T) {
	loaded, err := loadSettings("", mapLookup(nil))
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if len(loaded.raw) != 0 {
		t.Fatalf("expected empty raw config, got %v", loaded.raw)
	}
	if len(loaded.webhook.Events) != 1 || loaded.webhook.Events[0] != webhooks.AllEvents {
		t.Fatalf("expected wildcard subscription, got %v", loaded.webhook.Events)
	}
}

func TestLoadSettings_EnvEventsAndFlags(t *testing.T) {
	loaded, err := loadSettings("", mapLookup(map[string]string{
		"SALLA_WEBHOOK_EVENTS":         "order.created, product.created ,",
		"SALLA_WEBHOOK_SKIP_SIGNATURE": "true",
		"SALLA_PAGINATION_MAX_PAGES":   "7",
	}))
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if got := loaded.webhook.Events; len(got) != 2 || got[1] != "product.created" {
		t.Fatalf("unexpected events %v", got)
	}
	if !loaded.webhook.SkipSignatureValidation {
		t.Fatalf("expected signature validation skipped")
	}
	if got, _ := getPath(loaded.raw, []string{"pagination", "max_pages"}); got != int64(7) {
		t.Fatalf("expected numeric max pages, got %#v", got)
	}
}

func TestLoadSettings_Errors(t *testing.T) {
	if _, err := loadSettings(filepath.Join(t.TempDir(), "missing.yaml"), mapLookup(nil)); err == nil {
		t.Fatalf("expected missing file error")
	}
	bad := writeFile(t, "bad.yaml", "http:\n  timeout: soon\n")
	if _, err := loadSettings(bad, mapLookup(nil)); err == nil {
		t.Fatalf("expected invalid duration error")
	}
	if _, err := loadSettings("", mapLookup(map[string]string{"SALLA_WEBHOOK_RETURN_RAW_DATA": "maybe"})); err == nil {
		t.Fatalf("expected invalid boolean error")
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := writeFile(t, ".env", "SALLA_CLI_TEST_VALUE=loaded\n")
	t.Setenv("SALLA_CLI_TEST_VALUE", "")
	os.Unsetenv("SALLA_CLI_TEST_VALUE")
	if err := loadEnvFile(path); err != nil {
		t.Fatalf("load env file: %v", err)
	}
	if got := os.Getenv("SALLA_CLI_TEST_VALUE"); got != "loaded" {
		t.Fatalf("expected value from env file, got %q", got)
	}
	if err := loadEnvFile(filepath.Join(t.TempDir(), "nope.env")); err == nil {
		t.Fatalf("expected missing env file error")
	}
}
