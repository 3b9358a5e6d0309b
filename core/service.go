package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type CredentialTestStatus string

const (
	CredentialTestOK    CredentialTestStatus = "OK"
	CredentialTestError CredentialTestStatus = "Error"
)

type CredentialTestResult struct {
	Status  CredentialTestStatus `json:"status"`
	Message string               `json:"message"`
}

type AuthorizationRequest struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorMapper       ErrorMapper
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	refreshLocker     RefreshLocker
	rateLimitObserver RateLimitObserver
	credentialSource  CredentialSource
	credentialSink    CredentialSink
	now               func() time.Time

	tokens    *TokenManager
	executor  *RequestExecutor
	paginator *Paginator
	obs       instrumentation
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorMapper       ErrorMapper
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	RefreshLocker     RefreshLocker
	RateLimitObserver RateLimitObserver
	CredentialSource  CredentialSource
	CredentialSink    CredentialSink
	Tokens            *TokenManager
	Executor          *RequestExecutor
	Paginator         *Paginator
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("salla", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("salla"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = MapError
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.sleep == nil {
		builder.sleep = WaitWithContext
	}
	if builder.now == nil {
		builder.now = func() time.Time { return time.Now().UTC() }
	}
	if builder.transport == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: transport adapter is required"))
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	httpClient := builder.httpClient
	if httpClient == nil {
		httpClient = defaultHTTPClient(finalConfig.HTTP.Timeout)
	}

	tokens := NewTokenManager(TokenManagerConfig{
		Endpoints:      finalConfig.Endpoints,
		HTTPClient:     httpClient,
		RequestTimeout: finalConfig.HTTP.Timeout,
		UserAgent:      finalConfig.HTTP.UserAgent,
		Source:         builder.credentialSource,
		Locker:         builder.refreshLocker,
		LockTTL:        finalConfig.Refresh.LockTTL,
		LockPoll:       finalConfig.Refresh.LockPoll,
		Now:            builder.now,
		Sleep:          builder.sleep,
		Logger:         logger,
		Metrics:        builder.metricsRecorder,
	})
	executor, err := NewRequestExecutor(ExecutorConfig{
		Endpoints:            finalConfig.Endpoints,
		Transport:            builder.transport,
		Tokens:               tokens,
		RateLimit:            builder.rateLimitObserver,
		Sleep:                builder.sleep,
		Now:                  builder.now,
		DefaultRetryWait:     finalConfig.Retry.DefaultWait,
		MinRetryWait:         finalConfig.Retry.MinWait,
		RequestTimeout:       finalConfig.HTTP.Timeout,
		MaxResponseBodyBytes: finalConfig.HTTP.MaxResponseBodyBytes,
		Logger:               logger,
		Metrics:              builder.metricsRecorder,
	})
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	paginator := NewPaginator(
		executor,
		finalConfig.pageSize(),
		finalConfig.maxPages(),
		logger,
		builder.metricsRecorder,
	)

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorMapper:       builder.errorMapper,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		refreshLocker:     builder.refreshLocker,
		rateLimitObserver: builder.rateLimitObserver,
		credentialSource:  builder.credentialSource,
		credentialSink:    builder.credentialSink,
		now:               builder.now,
		tokens:            tokens,
		executor:          executor,
		paginator:         paginator,
		obs:               newInstrumentation(logger, builder.metricsRecorder),
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorMapper:       s.errorMapper,
		ConfigProvider:    s.configProvider,
		OptionsResolver:   s.optionsResolver,
		RefreshLocker:     s.refreshLocker,
		RateLimitObserver: s.rateLimitObserver,
		CredentialSource:  s.credentialSource,
		CredentialSink:    s.credentialSink,
		Tokens:            s.tokens,
		Executor:          s.executor,
		Paginator:         s.paginator,
	}
}

func (s *Service) Tokens() *TokenManager {
	if s == nil {
		return nil
	}
	return s.tokens
}

// Execute runs one request chain for cred. The returned credential must be
// persisted by the caller when CredentialUpdated is set.
func (s *Service) Execute(ctx context.Context, cred *Credential, req Request) (ExecuteResult, error) {
	if s == nil || s.executor == nil {
		return ExecuteResult{}, fmt.Errorf("core: service is not configured")
	}
	result, err := s.executor.Execute(ctx, cred, req)
	if err != nil {
		return result, s.mapError(err)
	}
	return result, nil
}

func (s *Service) CollectAll(
	ctx context.Context,
	cred *Credential,
	method string,
	endpoint string,
	body map[string]any,
	query map[string]any,
) (CollectResult, error) {
	if s == nil || s.paginator == nil {
		return CollectResult{}, fmt.Errorf("core: service is not configured")
	}
	result, err := s.paginator.CollectAll(ctx, cred, method, endpoint, body, query)
	if err != nil {
		return result, s.mapError(err)
	}
	return result, nil
}

// ExecuteFor loads the credential by key, runs the request and proposes any
// refreshed credential back to the sink.
func (s *Service) ExecuteFor(ctx context.Context, key string, req Request) (ExecuteResult, error) {
	cred, err := s.loadCredential(ctx, key)
	if err != nil {
		return ExecuteResult{}, err
	}
	ctx = WithCredentialKey(ctx, key)
	result, err := s.Execute(ctx, &cred, req)
	if result.CredentialUpdated {
		s.proposeCredential(ctx, key, result.Credential)
	}
	return result, err
}

func (s *Service) CollectAllFor(
	ctx context.Context,
	key string,
	method string,
	endpoint string,
	body map[string]any,
	query map[string]any,
) (CollectResult, error) {
	cred, err := s.loadCredential(ctx, key)
	if err != nil {
		return CollectResult{}, err
	}
	ctx = WithCredentialKey(ctx, key)
	result, err := s.CollectAll(ctx, &cred, method, endpoint, body, query)
	if result.CredentialUpdated {
		s.proposeCredential(ctx, key, result.Credential)
	}
	return result, err
}

// EnsureFresh refreshes cred when it is inside its configured buffer.
func (s *Service) EnsureFresh(ctx context.Context, cred Credential) (Credential, bool, error) {
	if s == nil || s.tokens == nil {
		return cred, false, fmt.Errorf("core: service is not configured")
	}
	normalized := cred.Normalize()
	out, refreshed, err := s.tokens.EnsureFresh(ctx, normalized, normalized.RefreshBufferMinutes)
	if err != nil {
		return cred, false, s.mapError(err)
	}
	return out, refreshed, nil
}

func (s *Service) Refresh(ctx context.Context, cred Credential) (Credential, error) {
	if s == nil || s.tokens == nil {
		return cred, fmt.Errorf("core: service is not configured")
	}
	out, err := s.tokens.Refresh(ctx, cred.Normalize())
	if err != nil {
		return cred, s.mapError(err)
	}
	return out, nil
}

func (s *Service) AuthorizationURL(cred Credential, redirectURI string, state string) (AuthorizationRequest, error) {
	if s == nil || s.tokens == nil {
		return AuthorizationRequest{}, fmt.Errorf("core: service is not configured")
	}
	authURL, resolvedState, err := s.tokens.AuthorizationURL(cred.Normalize(), redirectURI, state)
	if err != nil {
		return AuthorizationRequest{}, s.mapError(err)
	}
	return AuthorizationRequest{URL: authURL, State: resolvedState}, nil
}

func (s *Service) CompleteAuthorization(ctx context.Context, cred Credential, code string, redirectURI string) (Credential, error) {
	if s == nil || s.tokens == nil {
		return cred, fmt.Errorf("core: service is not configured")
	}
	out, err := s.tokens.Exchange(ctx, cred.Normalize(), code, redirectURI)
	if err != nil {
		return cred, s.mapError(err)
	}
	return out, nil
}

// TestCredential checks a credential locally without calling the API.
func (s *Service) TestCredential(cred Credential) CredentialTestResult {
	now := time.Now().UTC()
	if s != nil && s.now != nil {
		now = s.now()
	}
	if strings.TrimSpace(cred.ClientID) == "" || strings.TrimSpace(cred.ClientSecret) == "" {
		return CredentialTestResult{Status: CredentialTestError, Message: "Client ID and Client Secret are required"}
	}
	if cred.TokenData == nil {
		return CredentialTestResult{Status: CredentialTestError, Message: "OAuth authentication required. Please complete the OAuth flow."}
	}
	if cred.AccessToken() == "" {
		return CredentialTestResult{Status: CredentialTestError, Message: "No access token found. Please re-authenticate."}
	}
	if expiresAt, ok := cred.TokenData.ResolveExpiresAt(); ok && !expiresAt.After(now) {
		return CredentialTestResult{Status: CredentialTestError, Message: "Access token has expired. Please re-authenticate."}
	}
	return CredentialTestResult{Status: CredentialTestOK, Message: "Authentication successful"}
}

func (s *Service) loadCredential(ctx context.Context, key string) (Credential, error) {
	if s == nil {
		return Credential{}, fmt.Errorf("core: service is not configured")
	}
	if s.credentialSource == nil {
		return Credential{}, s.mapError(fmt.Errorf("core: credential source is required"))
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return Credential{}, s.mapError(NewValidationError("key", "credential key is required"))
	}
	cred, err := s.credentialSource.LoadCredential(ctx, key)
	if err != nil {
		return Credential{}, s.mapError(err)
	}
	return cred, nil
}

// proposeCredential never fails the surrounding call; the host decides
// whether the proposal is stored.
func (s *Service) proposeCredential(ctx context.Context, key string, cred Credential) {
	if s == nil || s.credentialSink == nil {
		return
	}
	if err := s.credentialSink.ProposeCredential(ctx, key, cred); err != nil {
		s.obs.logWarn(ctx, "salla credential proposal failed", map[string]any{
			"credential_key": key,
			"error":          err.Error(),
		})
	}
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	if mapped := s.errorMapper(err); mapped != nil {
		return mapped
	}
	return err
}
