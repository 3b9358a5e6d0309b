package core

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
)

type stubLoggerProvider struct {
	logger Logger
}

func (p stubLoggerProvider) GetLogger(string) Logger {
	return p.logger
}

type fixedConfigProvider struct {
	cfg Config
}

func (p *fixedConfigProvider) Load(context.Context, Config) (Config, error) {
	return p.cfg, nil
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	return l.values, nil
}

type memoryCredentials struct {
	mu         sync.Mutex
	items      map[string]Credential
	proposals  map[string]Credential
	proposeErr error
}

func newMemoryCredentials(items map[string]Credential) *memoryCredentials {
	return &memoryCredentials{items: items, proposals: map[string]Credential{}}
}

func (m *memoryCredentials) LoadCredential(_ context.Context, key string) (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.items[key]
	if !ok {
		return Credential{}, NewMissingCredentialsError()
	}
	return cred.Clone(), nil
}

func (m *memoryCredentials) ProposeCredential(_ context.Context, key string, cred Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proposals[key] = cred.Clone()
	return m.proposeErr
}

func TestNewService_RequiresTransport(t *testing.T) {
	if _, err := NewService(Config{}); err == nil {
		t.Fatalf("expected error without transport")
	}
}

func TestNewService_DefaultDependencies(t *testing.T) {
	svc, err := NewService(Config{}, WithTransport(&scriptedTransport{}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	deps := svc.Dependencies()
	if deps.Logger == nil || deps.LoggerProvider == nil {
		t.Fatalf("expected default logger and provider")
	}
	if deps.ErrorMapper == nil || deps.ConfigProvider == nil || deps.OptionsResolver == nil {
		t.Fatalf("expected default error mapper, config provider and options resolver")
	}
	if deps.RefreshLocker == nil {
		t.Fatalf("expected memory refresh locker by default")
	}
	if deps.Tokens == nil || deps.Executor == nil || deps.Paginator == nil {
		t.Fatalf("expected pipeline components")
	}
	cfg := svc.Config()
	if cfg.ServiceName != "salla" || cfg.Pagination.PageSize != DefaultPageSize {
		t.Fatalf("unexpected default config %+v", cfg)
	}
	if cfg.Endpoints.APIProduction != DefaultAPIProductionHost {
		t.Fatalf("expected default endpoints, got %+v", cfg.Endpoints)
	}
}

func TestNewService_WithOverrides(t *testing.T) {
	logger := newCaptureLogger()
	optionsResolver := &fixedOptionsResolver{cfg: DefaultConfig()}
	optionsResolver.cfg.ServiceName = "resolved"
	configProvider := &fixedConfigProvider{cfg: Config{ServiceName: "from-provider"}}

	svc, err := NewService(Config{ServiceName: "runtime"},
		WithTransport(&scriptedTransport{}),
		WithLogger(logger),
		WithLoggerProvider(stubLoggerProvider{logger: logger}),
		WithConfigProvider(configProvider),
		WithOptionsResolver(optionsResolver),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	deps := svc.Dependencies()
	if deps.Logger != logger {
		t.Fatalf("expected custom logger override")
	}
	if deps.ConfigProvider != configProvider || deps.OptionsResolver != optionsResolver {
		t.Fatalf("expected custom config provider and resolver")
	}
	if got := svc.Config().ServiceName; got != "resolved" {
		t.Fatalf("expected resolver output, got %q", got)
	}
}

type fixedOptionsResolver struct {
	cfg Config
}

func (r *fixedOptionsResolver) Resolve(Config, Config, Config) (Config, error) {
	return r.cfg, nil
}

func TestNewService_ConfigLayeringPrecedence(t *testing.T) {
	provider := NewCfgxConfigProvider(mapRawLoader{values: map[string]any{
		"service_name": "from-config",
		"pagination": map[string]any{
			"max_pages": 50,
		},
		"endpoints": map[string]any{
			"api_sandbox": "http://sandbox.local",
		},
	}})

	svc, err := NewService(Config{ServiceName: "from-runtime"},
		WithTransport(&scriptedTransport{}),
		WithConfigProvider(provider),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	cfg := svc.Config()
	if cfg.ServiceName != "from-runtime" {
		t.Fatalf("expected runtime to win, got %q", cfg.ServiceName)
	}
	if cfg.Pagination.MaxPages != 50 || cfg.Pagination.PageSize != DefaultPageSize {
		t.Fatalf("expected config layer merged over defaults, got %+v", cfg.Pagination)
	}
	if cfg.Endpoints.APISandbox != "http://sandbox.local" || cfg.Endpoints.APIProduction != DefaultAPIProductionHost {
		t.Fatalf("unexpected endpoints %+v", cfg.Endpoints)
	}
}

func TestService_ExecuteForProposesRefreshedCredential(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	server := newTokenServer(t, http.StatusOK, map[string]any{"access_token": "access-new", "expires_in": 3600})
	transport := (&scriptedTransport{}).push(http.StatusOK, nil, `{"data":[]}`)
	store := newMemoryCredentials(map[string]Credential{"store-1": testCredential(now, time.Minute)})
	store.proposeErr = errors.New("host is read only")
	logger := newCaptureLogger()

	svc, err := NewService(Config{Endpoints: server.endpoints()},
		WithTransport(transport),
		WithCredentialSource(store),
		WithCredentialSink(store),
		WithNow(fixedClock(now)),
		WithLogger(logger),
		WithLoggerProvider(stubLoggerProvider{logger: logger}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	result, err := svc.ExecuteFor(context.Background(), "store-1", Request{Endpoint: "/orders"})
	if err != nil {
		t.Fatalf("execute for: %v", err)
	}
	if !result.CredentialUpdated {
		t.Fatalf("expected refreshed credential")
	}
	proposed, ok := store.proposals["store-1"]
	if !ok || proposed.AccessToken() != "access-new" {
		t.Fatalf("expected refreshed credential proposed to sink")
	}
	if !hasLog(logger.snapshot(), "warn", "salla credential proposal failed") {
		t.Fatalf("expected proposal failure logged, not returned")
	}

	if _, err := svc.ExecuteFor(context.Background(), "missing", Request{Endpoint: "/orders"}); !IsErrorCode(err, ErrorMissingCredentials) {
		t.Fatalf("expected missing credentials, got %v", err)
	}
}

func TestService_CollectAllForWithoutSourceFails(t *testing.T) {
	svc, err := NewService(Config{}, WithTransport(&scriptedTransport{}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := svc.CollectAllFor(context.Background(), "k", "GET", "/orders", nil, nil); err == nil {
		t.Fatalf("expected error without credential source")
	}
}

func TestService_TestCredential(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewService(Config{}, WithTransport(&scriptedTransport{}), WithNow(fixedClock(now)))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	expired := testCredential(now, -time.Minute)
	valid := testCredential(now, time.Hour)
	noToken := testCredential(now, time.Hour)
	noToken.TokenData.AccessToken = ""
	obtained := now.Add(-2 * time.Hour)
	derivedExpired := testCredential(now, time.Hour)
	derivedExpired.TokenData.ExpiresAt = nil
	derivedExpired.TokenData.ObtainedAt = &obtained
	derivedExpired.TokenData.ExpiresIn = 3600
	derivedValid := testCredential(now, time.Hour)
	derivedValid.TokenData.ExpiresAt = nil
	derivedValid.TokenData.ObtainedAt = &obtained
	derivedValid.TokenData.ExpiresIn = 3 * 3600

	cases := []struct {
		cred    Credential
		status  CredentialTestStatus
		message string
	}{
		{Credential{ClientID: "c"}, CredentialTestError, "Client ID and Client Secret are required"},
		{Credential{ClientID: "c", ClientSecret: "s"}, CredentialTestError, "OAuth authentication required. Please complete the OAuth flow."},
		{noToken, CredentialTestError, "No access token found. Please re-authenticate."},
		{expired, CredentialTestError, "Access token has expired. Please re-authenticate."},
		{derivedExpired, CredentialTestError, "Access token has expired. Please re-authenticate."},
		{valid, CredentialTestOK, "Authentication successful"},
		{derivedValid, CredentialTestOK, "Authentication successful"},
	}
	for _, tc := range cases {
		got := svc.TestCredential(tc.cred)
		if got.Status != tc.status || got.Message != tc.message {
			t.Fatalf("expected %s %q, got %s %q", tc.status, tc.message, got.Status, got.Message)
		}
	}
}

func TestService_AuthorizationRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	server := newTokenServer(t, http.StatusOK, map[string]any{"access_token": "a", "refresh_token": "r", "expires_in": 60})
	svc, err := NewService(Config{Endpoints: server.endpoints()}, WithTransport(&scriptedTransport{}), WithNow(fixedClock(now)))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	cred := Credential{ClientID: "c", ClientSecret: "s"}
	auth, err := svc.AuthorizationURL(cred, "https://app.example/cb", "")
	if err != nil || auth.State == "" || auth.URL == "" {
		t.Fatalf("authorization url: %+v %v", auth, err)
	}
	out, err := svc.CompleteAuthorization(context.Background(), cred, "code", "https://app.example/cb")
	if err != nil {
		t.Fatalf("complete authorization: %v", err)
	}
	if out.AccessToken() != "a" || out.TokenData.RefreshToken != "r" {
		t.Fatalf("unexpected token data %+v", out.TokenData)
	}
}

func TestService_ObservesExecuteMetricsAndLogs(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	transport := (&scriptedTransport{}).push(http.StatusInternalServerError, nil, `{"message":"boom"}`)
	svc, err := NewService(DefaultConfig(),
		WithTransport(transport),
		WithMetricsRecorder(metrics),
		WithLogger(logger),
		WithLoggerProvider(stubLoggerProvider{logger: logger}),
		WithNow(fixedClock(now)),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	cred := testCredential(now, time.Hour)
	if _, err := svc.Execute(context.Background(), &cred, Request{Endpoint: "/orders"}); !IsErrorCode(err, ErrorAPI) {
		t.Fatalf("expected api error, got %v", err)
	}
	if !metrics.hasCounter("salla.execute.total", "status", "failure") {
		t.Fatalf("expected failure counter")
	}
	if !hasLog(logger.snapshot(), "error", "execute failed") {
		t.Fatalf("expected execute failure log")
	}
}
