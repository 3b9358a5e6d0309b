package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-salla/webhooks"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envKeys maps SALLA_* variables onto config paths. Environment wins over the
// YAML file.
var envKeys = map[string][]string{
	"SALLA_SERVICE_NAME":            {"service_name"},
	"SALLA_HTTP_TIMEOUT":            {"http", "timeout"},
	"SALLA_RETRY_DEFAULT_WAIT":      {"retry", "default_wait"},
	"SALLA_PAGINATION_MAX_PAGES":    {"pagination", "max_pages"},
	"SALLA_API_PRODUCTION_URL":      {"endpoints", "api_production"},
	"SALLA_API_SANDBOX_URL":         {"endpoints", "api_sandbox"},
	"SALLA_ACCOUNTS_PRODUCTION_URL": {"endpoints", "accounts_production"},
	"SALLA_ACCOUNTS_SANDBOX_URL":    {"endpoints", "accounts_sandbox"},
	"SALLA_WEBHOOK_MAX_BODY_BYTES":  {"webhook", "max_body_bytes"},
	"SALLA_WEBHOOK_SECRET":          {"webhook", "secret"},
	"SALLA_WEBHOOK_EVENTS":          {"webhook", "events"},
	"SALLA_WEBHOOK_RETURN_RAW_DATA": {"webhook", "return_raw_data"},
	"SALLA_WEBHOOK_SKIP_SIGNATURE":  {"webhook", "skip_signature_validation"},
	"SALLA_REFRESH_LOCK_TTL":        {"refresh", "lock_ttl"},
	"SALLA_RETRY_MIN_WAIT":          {"retry", "min_wait"},
	"SALLA_PAGINATION_PAGE_SIZE":    {"pagination", "page_size"},
	"SALLA_HTTP_MAX_RESPONSE_BYTES": {"http", "max_response_body_bytes"},
	"SALLA_HTTP_USER_AGENT":         {"http", "user_agent"},
	"SALLA_REFRESH_LOCK_POLL":       {"refresh", "lock_poll"},
}

var durationKeys = [][]string{
	{"http", "timeout"},
	{"retry", "default_wait"},
	{"retry", "min_wait"},
	{"refresh", "lock_ttl"},
	{"refresh", "lock_poll"},
}

var integerKeys = [][]string{
	{"http", "max_response_body_bytes"},
	{"pagination", "page_size"},
	{"pagination", "max_pages"},
	{"webhook", "max_body_bytes"},
}

// settings is the decoded configuration: raw feeds core.Config through cfgx,
// webhook holds the receiver settings which core.Config does not carry.
type settings struct {
	raw     map[string]any
	webhook webhooks.Config
}

func loadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("cli: load env file %s: %w", path, err)
	}
	return nil
}

func loadSettings(path string, lookup func(string) (string, bool)) (settings, error) {
	raw := map[string]any{}
	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return settings{}, fmt.Errorf("cli: read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return settings{}, fmt.Errorf("cli: parse config %s: %w", path, err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for name, keyPath := range envKeys {
		if value, ok := lookup(name); ok && strings.TrimSpace(value) != "" {
			setPath(raw, keyPath, strings.TrimSpace(value))
		}
	}
	if err := normalizeDurations(raw); err != nil {
		return settings{}, err
	}
	if err := normalizeIntegers(raw); err != nil {
		return settings{}, err
	}
	webhook, err := splitWebhookSettings(raw)
	if err != nil {
		return settings{}, err
	}
	return settings{raw: raw, webhook: webhook}, nil
}

// splitWebhookSettings removes the receiver keys from raw["webhook"] so only
// core.Config fields remain for cfgx.
func splitWebhookSettings(raw map[string]any) (webhooks.Config, error) {
	cfg := webhooks.Config{Events: []string{webhooks.AllEvents}}
	section, ok := raw["webhook"].(map[string]any)
	if !ok {
		return cfg, nil
	}
	if value, ok := section["events"]; ok {
		cfg.Events = stringList(value)
		delete(section, "events")
	}
	if value, ok := section["secret"]; ok {
		cfg.Secret = strings.TrimSpace(fmt.Sprint(value))
		delete(section, "secret")
	}
	for key, target := range map[string]*bool{
		"return_raw_data":           &cfg.ReturnRawData,
		"skip_signature_validation": &cfg.SkipSignatureValidation,
	} {
		value, ok := section[key]
		if !ok {
			continue
		}
		parsed, err := boolValue(value)
		if err != nil {
			return webhooks.Config{}, fmt.Errorf("cli: webhook.%s: %w", key, err)
		}
		*target = parsed
		delete(section, key)
	}
	if len(section) == 0 {
		delete(raw, "webhook")
	}
	return cfg, nil
}

func normalizeDurations(raw map[string]any) error {
	for _, keyPath := range durationKeys {
		value, ok := getPath(raw, keyPath)
		if !ok {
			continue
		}
		text, isString := value.(string)
		if !isString {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(text))
		if err != nil {
			return fmt.Errorf("cli: %s: %w", strings.Join(keyPath, "."), err)
		}
		setPath(raw, keyPath, parsed)
	}
	return nil
}

func normalizeIntegers(raw map[string]any) error {
	for _, keyPath := range integerKeys {
		value, ok := getPath(raw, keyPath)
		if !ok {
			continue
		}
		text, isString := value.(string)
		if !isString {
			continue
		}
		parsed, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return fmt.Errorf("cli: %s: %w", strings.Join(keyPath, "."), err)
		}
		setPath(raw, keyPath, parsed)
	}
	return nil
}

func getPath(raw map[string]any, keyPath []string) (any, bool) {
	current := raw
	for i, key := range keyPath {
		value, ok := current[key]
		if !ok {
			return nil, false
		}
		if i == len(keyPath)-1 {
			return value, true
		}
		next, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}
	return nil, false
}

func setPath(raw map[string]any, keyPath []string, value any) {
	current := raw
	for _, key := range keyPath[:len(keyPath)-1] {
		next, ok := current[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[key] = next
		}
		current = next
	}
	current[keyPath[len(keyPath)-1]] = value
}

func stringList(value any) []string {
	var items []string
	switch typed := value.(type) {
	case string:
		items = strings.Split(typed, ",")
	case []any:
		for _, item := range typed {
			items = append(items, fmt.Sprint(item))
		}
	case []string:
		items = typed
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func boolValue(value any) (bool, error) {
	switch typed := value.(type) {
	case bool:
		return typed, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(typed))
	default:
		return false, fmt.Errorf("expected a boolean, got %T", value)
	}
}
