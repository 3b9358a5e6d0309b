package core

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const maxTokenResponseBodyBytes = 1 << 20 // 1 MiB

type TokenManagerConfig struct {
	Endpoints      EndpointsConfig
	HTTPClient     HTTPDoer
	RequestTimeout time.Duration
	UserAgent      string
	// Source, when set, is re-read after the refresh lock is taken so a token
	// already rotated by another process is adopted instead of refreshed
	// again. It needs the credential key on the context, see WithCredentialKey.
	Source   CredentialSource
	Locker   RefreshLocker
	LockTTL  time.Duration
	LockPoll time.Duration
	Now      func() time.Time
	Sleep    SleepFunc
	Logger   Logger
	Metrics  MetricsRecorder
}

// TokenManager decides when an access token is due and performs the
// refresh_token grant. It returns updated credentials and holds no
// per-credential state between calls.
type TokenManager struct {
	cfg        TokenManagerConfig
	httpClient HTTPDoer
	group      singleflight.Group
	obs        instrumentation
}

func NewTokenManager(cfg TokenManagerConfig) *TokenManager {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Sleep == nil {
		cfg.Sleep = WaitWithContext
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultHTTPTimeout
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Endpoints == (EndpointsConfig{}) {
		cfg.Endpoints = DefaultEndpoints()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &TokenManager{
		cfg:        cfg,
		httpClient: client,
		obs:        newInstrumentation(cfg.Logger, cfg.Metrics),
	}
}

// NeedsRefresh reports whether the token expires in fewer than bufferMinutes
// whole minutes. Credentials without an expiry never need a refresh.
func (m *TokenManager) NeedsRefresh(cred Credential, bufferMinutes int) bool {
	if cred.TokenData == nil {
		return false
	}
	expiresAt, ok := cred.TokenData.ResolveExpiresAt()
	if !ok {
		return false
	}
	minutesUntilExpiry := int64(expiresAt.Sub(m.now()) / time.Minute)
	return minutesUntilExpiry < int64(bufferMinutes)
}

// EnsureFresh refreshes the token when it is within bufferMinutes of expiry.
// The boolean result reports whether a refresh happened.
func (m *TokenManager) EnsureFresh(ctx context.Context, cred Credential, bufferMinutes int) (Credential, bool, error) {
	if m == nil {
		return cred, false, fmt.Errorf("core: token manager is nil")
	}
	if !m.NeedsRefresh(cred, bufferMinutes) {
		return cred, false, nil
	}
	refreshed, err := m.Refresh(ctx, cred)
	if err != nil {
		return cred, false, err
	}
	return refreshed, true, nil
}

// Refresh exchanges the stored refresh token for a new access token.
// Concurrent refreshes of the same token share a single token call, which
// runs detached from any one caller: a caller whose ctx ends stops waiting
// without failing the others.
func (m *TokenManager) Refresh(ctx context.Context, cred Credential) (Credential, error) {
	if m == nil {
		return cred, fmt.Errorf("core: token manager is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if cred.TokenData == nil {
		return cred, NewRefreshError("salla: no OAuth token data found", nil)
	}
	if strings.TrimSpace(cred.TokenData.RefreshToken) == "" {
		return cred, NewRefreshError("salla: no refresh token found", nil)
	}

	span := m.obs.start(ctx, "token.refresh", map[string]any{
		"environment": string(cred.Environment),
		"client_id":   cred.ClientID,
	})
	key := refreshLockKey(cred)
	detached := context.WithoutCancel(ctx)
	pending := m.group.DoChan(key, func() (any, error) {
		return m.refreshShared(detached, cred, key)
	})

	var result singleflight.Result
	select {
	case <-ctx.Done():
		span.end(ctx.Err())
		return cred, ctx.Err()
	case result = <-pending:
	}

	span.set("shared", result.Shared)
	if result.Err != nil {
		err := asRefreshError(result.Err)
		span.end(err)
		return cred, err
	}

	outcome, _ := result.Val.(refreshOutcome)
	out := cred.Clone()
	var token TokenData
	if outcome.reloaded != nil {
		span.set("reloaded", true)
		token = outcome.reloaded.Clone()
	} else {
		token = m.mergeToken(*cred.TokenData, outcome.payload, cred.Environment)
	}
	out.TokenData = &token
	span.end(nil)
	return out, nil
}

// refreshOutcome is shared by every caller of one refresh. reloaded is set
// when another process had already rotated the token.
type refreshOutcome struct {
	payload  tokenEndpointPayload
	reloaded *TokenData
}

func (m *TokenManager) refreshShared(ctx context.Context, cred Credential, lockKey string) (refreshOutcome, error) {
	handle, err := acquireRefreshLock(ctx, m.cfg.Locker, lockKey, m.cfg.LockTTL, m.cfg.LockPoll, m.cfg.Sleep)
	if err != nil {
		return refreshOutcome{}, err
	}
	if handle != nil {
		defer func() { _ = handle.Unlock(ctx) }()
		if current, ok := m.rotatedElsewhere(ctx, cred); ok {
			return refreshOutcome{reloaded: current}, nil
		}
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", cred.TokenData.RefreshToken)
	payload, err := m.fetchToken(ctx, cred, form)
	if err != nil {
		return refreshOutcome{}, err
	}
	return refreshOutcome{payload: payload}, nil
}

// rotatedElsewhere re-reads the stored credential and returns its token when
// it differs from cred's, has not expired and outlives cred's token.
func (m *TokenManager) rotatedElsewhere(ctx context.Context, cred Credential) (*TokenData, bool) {
	key, ok := CredentialKeyFrom(ctx)
	if !ok || m.cfg.Source == nil {
		return nil, false
	}
	current, err := m.cfg.Source.LoadCredential(ctx, key)
	if err != nil {
		m.obs.logWarn(ctx, "salla credential reload failed", map[string]any{
			"credential_key": key,
			"error":          err.Error(),
		})
		return nil, false
	}
	if current.TokenData == nil || current.AccessToken() == "" {
		return nil, false
	}
	if current.AccessToken() == cred.AccessToken() &&
		strings.TrimSpace(current.TokenData.RefreshToken) == strings.TrimSpace(cred.TokenData.RefreshToken) {
		return nil, false
	}
	storedExpiry, storedOK := current.TokenData.ResolveExpiresAt()
	if storedOK && !storedExpiry.After(m.now()) {
		return nil, false
	}
	// A stale stored copy never replaces a newer token in hand.
	if heldExpiry, ok := cred.TokenData.ResolveExpiresAt(); ok && (!storedOK || !storedExpiry.After(heldExpiry)) {
		return nil, false
	}
	token := current.TokenData.Clone()
	return &token, true
}

// Exchange completes the authorization_code grant and stamps the resulting
// token data with its derived expiry, issue time and environment.
func (m *TokenManager) Exchange(ctx context.Context, cred Credential, code string, redirectURI string) (Credential, error) {
	if m == nil {
		return cred, fmt.Errorf("core: token manager is nil")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return cred, NewValidationError("code", "authorization code is required")
	}

	span := m.obs.start(ctx, "token.exchange", map[string]any{
		"environment": string(cred.Environment),
		"client_id":   cred.ClientID,
	})
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	if redirectURI = strings.TrimSpace(redirectURI); redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}

	payload, err := m.fetchToken(ctx, cred, form)
	if err != nil {
		err = asRefreshError(err)
		span.end(err)
		return cred, err
	}

	out := cred.Clone()
	token := m.mergeToken(TokenData{}, payload, cred.Environment)
	out.TokenData = &token
	span.end(nil)
	return out, nil
}

// AuthorizationURL builds the consent URL for the credential's environment.
// An empty state is replaced with a random one, which is returned.
func (m *TokenManager) AuthorizationURL(cred Credential, redirectURI string, state string) (string, string, error) {
	if m == nil {
		return "", "", fmt.Errorf("core: token manager is nil")
	}
	if strings.TrimSpace(cred.ClientID) == "" {
		return "", "", NewValidationError("clientId", "client id is required")
	}
	state = strings.TrimSpace(state)
	if state == "" {
		generated, err := generateOAuthState()
		if err != nil {
			return "", "", err
		}
		state = generated
	}
	scope := strings.TrimSpace(cred.Scopes)
	if scope == "" {
		scope = DefaultOAuthScope
	}

	values := url.Values{}
	values.Set("response_type", "code")
	values.Set("client_id", strings.TrimSpace(cred.ClientID))
	if redirectURI = strings.TrimSpace(redirectURI); redirectURI != "" {
		values.Set("redirect_uri", redirectURI)
	}
	values.Set("scope", scope)
	values.Set("state", state)

	return m.cfg.Endpoints.AuthURL(cred.Environment) + "?" + values.Encode(), state, nil
}

func (m *TokenManager) mergeToken(previous TokenData, payload tokenEndpointPayload, env Environment) TokenData {
	now := m.now()
	token := previous.Clone()
	token.AccessToken = strings.TrimSpace(payload.AccessToken)
	if next := strings.TrimSpace(payload.RefreshToken); next != "" {
		token.RefreshToken = next
	}
	if payload.TokenType != "" {
		token.TokenType = payload.TokenType
	}
	if payload.Scope != "" {
		token.Scope = payload.Scope
	}
	token.ExpiresIn = payload.ExpiresIn
	token.ExpiresAt = nil
	if payload.ExpiresIn > 0 {
		expiresAt := now.Add(time.Duration(payload.ExpiresIn) * time.Second)
		token.ExpiresAt = &expiresAt
	}
	obtainedAt := now
	token.ObtainedAt = &obtainedAt
	token.Environment = env
	for key, value := range payload.Extra {
		if token.Extra == nil {
			token.Extra = map[string]any{}
		}
		token.Extra[key] = value
	}
	return token
}

type tokenEndpointPayload struct {
	AccessToken      string
	TokenType        string
	RefreshToken     string
	Scope            string
	ExpiresIn        int64
	ErrorCode        string
	ErrorDescription string
	Extra            map[string]any
}

func (m *TokenManager) fetchToken(ctx context.Context, cred Credential, form url.Values) (tokenEndpointPayload, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	values := url.Values{}
	for key, items := range form {
		for _, item := range items {
			values.Add(key, strings.TrimSpace(item))
		}
	}
	values.Set("client_id", strings.TrimSpace(cred.ClientID))
	values.Set("client_secret", cred.ClientSecret)

	requestCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout)
	defer cancel()

	tokenURL := m.cfg.Endpoints.TokenURL(cred.Environment)
	httpReq, err := http.NewRequestWithContext(requestCtx, http.MethodPost, tokenURL, strings.NewReader(values.Encode()))
	if err != nil {
		return tokenEndpointPayload{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", m.cfg.UserAgent)

	response, err := m.httpClient.Do(httpReq)
	if err != nil {
		return tokenEndpointPayload{}, fmt.Errorf("salla: token request failed: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxTokenResponseBodyBytes+1))
	if err != nil {
		return tokenEndpointPayload{}, fmt.Errorf("salla: read token response: %w", err)
	}
	if int64(len(body)) > maxTokenResponseBodyBytes {
		return tokenEndpointPayload{}, fmt.Errorf("salla: token response exceeds %d bytes", maxTokenResponseBodyBytes)
	}

	payload, parseErr := parseTokenPayload(body, response.Header.Get("Content-Type"))
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		detail := "unknown error"
		if parseErr == nil {
			detail = describeTokenError(payload)
		}
		return tokenEndpointPayload{}, fmt.Errorf("salla: token endpoint error (%d): %s", response.StatusCode, detail)
	}
	if parseErr != nil {
		return tokenEndpointPayload{}, fmt.Errorf("salla: decode token response: %w", parseErr)
	}
	if payload.ErrorCode != "" {
		return tokenEndpointPayload{}, fmt.Errorf("salla: token endpoint error: %s", describeTokenError(payload))
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return tokenEndpointPayload{}, fmt.Errorf("salla: token endpoint response missing access token")
	}
	return payload, nil
}

func (m *TokenManager) now() time.Time {
	if m != nil && m.cfg.Now != nil {
		return m.cfg.Now().UTC()
	}
	return time.Now().UTC()
}

func asRefreshError(err error) error {
	if err == nil || IsErrorCode(err, ErrorRefreshFailed) {
		return err
	}
	return NewRefreshError("salla: failed to refresh access token: "+err.Error(), err)
}

func describeTokenError(payload tokenEndpointPayload) string {
	if strings.TrimSpace(payload.ErrorDescription) != "" {
		return strings.TrimSpace(payload.ErrorDescription)
	}
	if strings.TrimSpace(payload.ErrorCode) != "" {
		return strings.TrimSpace(payload.ErrorCode)
	}
	return "unknown error"
}

var tokenPayloadKnownKeys = map[string]struct{}{
	"access_token":      {},
	"token_type":        {},
	"refresh_token":     {},
	"scope":             {},
	"expires_in":        {},
	"error":             {},
	"error_description": {},
}

func parseTokenPayload(body []byte, contentType string) (tokenEndpointPayload, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if strings.Contains(contentType, "json") {
		return parseTokenPayloadJSON(body)
	}
	if strings.Contains(contentType, "x-www-form-urlencoded") || strings.Contains(contentType, "text/plain") {
		return parseTokenPayloadForm(body)
	}
	if payload, err := parseTokenPayloadJSON(body); err == nil {
		return payload, nil
	}
	return parseTokenPayloadForm(body)
}

func parseTokenPayloadJSON(body []byte) (tokenEndpointPayload, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return tokenEndpointPayload{}, err
	}
	// Some gateways wrap the token under "data".
	if nested, ok := decoded["data"].(map[string]any); ok && readString(decoded, "access_token") == "" {
		decoded = nested
	}
	payload := tokenEndpointPayload{
		AccessToken:      readString(decoded, "access_token"),
		TokenType:        readString(decoded, "token_type"),
		RefreshToken:     readString(decoded, "refresh_token"),
		Scope:            readString(decoded, "scope"),
		ExpiresIn:        readInt64(decoded["expires_in"]),
		ErrorCode:        readString(decoded, "error"),
		ErrorDescription: readString(decoded, "error_description"),
	}
	for key, value := range decoded {
		if _, known := tokenPayloadKnownKeys[key]; known {
			continue
		}
		if payload.Extra == nil {
			payload.Extra = map[string]any{}
		}
		payload.Extra[key] = value
	}
	return payload, nil
}

func parseTokenPayloadForm(body []byte) (tokenEndpointPayload, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return tokenEndpointPayload{}, err
	}
	expiresIn, _ := strconv.ParseInt(strings.TrimSpace(values.Get("expires_in")), 10, 64)
	return tokenEndpointPayload{
		AccessToken:      strings.TrimSpace(values.Get("access_token")),
		TokenType:        strings.TrimSpace(values.Get("token_type")),
		RefreshToken:     strings.TrimSpace(values.Get("refresh_token")),
		Scope:            strings.TrimSpace(values.Get("scope")),
		ExpiresIn:        expiresIn,
		ErrorCode:        strings.TrimSpace(values.Get("error")),
		ErrorDescription: strings.TrimSpace(values.Get("error_description")),
	}, nil
}

func generateOAuthState() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("core: generate oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
