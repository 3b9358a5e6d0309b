package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Request describes one admin API call. The executor never mutates it.
type Request struct {
	Method   string
	Endpoint string
	Body     map[string]any
	Query    map[string]any
	Headers  map[string]string
}

type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       any
	Raw        []byte
}

// ExecuteResult carries the response together with the credential that
// produced it. CredentialUpdated is true when a refresh happened on the way.
type ExecuteResult struct {
	Response          Response
	Credential        Credential
	CredentialUpdated bool
	Attempts          int
}

type ExecutorConfig struct {
	Endpoints            EndpointsConfig
	Transport            TransportAdapter
	Tokens               *TokenManager
	RateLimit            RateLimitObserver
	Sleep                SleepFunc
	Now                  func() time.Time
	DefaultRetryWait     time.Duration
	MinRetryWait         time.Duration
	RequestTimeout       time.Duration
	MaxResponseBodyBytes int64
	Logger               Logger
	Metrics              MetricsRecorder
}

// RequestExecutor runs the attempt loop: token freshness, the HTTP call,
// rate-limit waits and the one-shot refresh on an initial 401.
type RequestExecutor struct {
	cfg ExecutorConfig
	obs instrumentation
}

func NewRequestExecutor(cfg ExecutorConfig) (*RequestExecutor, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("core: transport adapter is required")
	}
	if cfg.Endpoints == (EndpointsConfig{}) {
		cfg.Endpoints = DefaultEndpoints()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Sleep == nil {
		cfg.Sleep = WaitWithContext
	}
	if cfg.DefaultRetryWait <= 0 {
		cfg.DefaultRetryWait = DefaultRetryWait
	}
	if cfg.MinRetryWait <= 0 {
		cfg.MinRetryWait = DefaultMinRetryWait
	}
	if cfg.Tokens == nil {
		cfg.Tokens = NewTokenManager(TokenManagerConfig{
			Endpoints: cfg.Endpoints,
			Now:       cfg.Now,
			Sleep:     cfg.Sleep,
			Logger:    cfg.Logger,
			Metrics:   cfg.Metrics,
		})
	}
	return &RequestExecutor{cfg: cfg, obs: newInstrumentation(cfg.Logger, cfg.Metrics)}, nil
}

func (e *RequestExecutor) Execute(ctx context.Context, cred *Credential, req Request) (ExecuteResult, error) {
	if e == nil {
		return ExecuteResult{}, fmt.Errorf("core: request executor is nil")
	}
	if cred == nil {
		return ExecuteResult{}, NewMissingCredentialsError()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	current := cred.Normalize()
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	endpoint := strings.TrimSpace(req.Endpoint)
	maxAttempts := current.MaxAttempts()
	autoRefresh := current.AutoRefreshEnabled()

	result := ExecuteResult{Credential: current}
	span := e.obs.start(ctx, "execute", map[string]any{
		"method":      method,
		"endpoint":    endpoint,
		"environment": string(current.Environment),
	})
	finish := func(err error) (ExecuteResult, error) {
		span.set("attempts", result.Attempts)
		span.set("credential_updated", result.CredentialUpdated)
		if result.Response.StatusCode > 0 {
			span.set("status_code", result.Response.StatusCode)
		}
		result.Credential = current
		span.end(err)
		return result, err
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}
		result.Attempts = attempt

		if autoRefresh {
			next, refreshed, err := e.cfg.Tokens.EnsureFresh(ctx, current, current.RefreshBufferMinutes)
			if err != nil {
				return finish(err)
			}
			if refreshed {
				current = next
				result.CredentialUpdated = true
			}
		}

		transportReq, err := e.buildTransportRequest(current, method, req)
		if err != nil {
			return finish(err)
		}
		transportRes, err := e.cfg.Transport.Do(ctx, transportReq)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return finish(ctxErr)
			}
			return finish(NewAPIError(APIFailure{
				Method:   method,
				Endpoint: endpoint,
				Attempts: attempt,
				Cause:    err,
			}))
		}

		result.Response = Response{
			StatusCode: transportRes.StatusCode,
			Headers:    transportRes.Headers,
			Raw:        transportRes.Body,
		}

		if transportRes.StatusCode >= 200 && transportRes.StatusCode < 300 {
			e.observeRateLimit(ctx, current, transportRes, nil)
			result.Response.Body = decodeResponseBody(transportRes.Body)
			return finish(nil)
		}

		canRetry := attempt < maxAttempts && current.RateLimitHandling == RateLimitRetry
		if transportRes.StatusCode == http.StatusTooManyRequests {
			wait := ParseRetryWait(transportRes.Headers, e.cfg.Now(), e.cfg.DefaultRetryWait, e.cfg.MinRetryWait)
			e.observeRateLimit(ctx, current, transportRes, &wait)
			if canRetry {
				e.recordRetry(ctx, current, method, "rate_limited")
				e.obs.logWarn(ctx, "salla rate limited, waiting before retry", map[string]any{
					"method":   method,
					"endpoint": endpoint,
					"attempt":  attempt,
					"wait_ms":  wait.Milliseconds(),
				})
				if err := e.cfg.Sleep(ctx, wait); err != nil {
					return finish(err)
				}
				continue
			}
		} else {
			e.observeRateLimit(ctx, current, transportRes, nil)
		}

		if transportRes.StatusCode == http.StatusUnauthorized && attempt == 1 && autoRefresh {
			e.recordRetry(ctx, current, method, "unauthorized")
			refreshed, err := e.cfg.Tokens.Refresh(ctx, current)
			if err != nil {
				return finish(err)
			}
			current = refreshed
			result.CredentialUpdated = true
			continue
		}

		return finish(NewAPIError(APIFailure{
			Method:     method,
			Endpoint:   endpoint,
			StatusCode: transportRes.StatusCode,
			Body:       transportRes.Body,
			Headers:    transportRes.Headers,
			Attempts:   attempt,
		}))
	}

	return finish(NewRetryExhaustedError(method, endpoint, result.Attempts))
}

func (e *RequestExecutor) buildTransportRequest(cred Credential, method string, req Request) (TransportRequest, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + cred.AccessToken(),
		"Accept":        "application/json",
		"Content-Type":  "application/json",
	}
	for key, value := range req.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		headers[key] = value
	}

	var body []byte
	if len(req.Body) > 0 {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return TransportRequest{}, NewValidationError("body", "request body is not JSON encodable: "+err.Error())
		}
		body = encoded
	}

	var query map[string]string
	if len(req.Query) > 0 {
		query = make(map[string]string, len(req.Query))
		for key, value := range req.Query {
			if strings.TrimSpace(key) == "" || value == nil {
				continue
			}
			query[key] = readAnyString(value)
		}
	}

	return TransportRequest{
		Method:               method,
		URL:                  joinEndpoint(e.cfg.Endpoints.BaseURL(cred.Environment, cred.APIVersion), req.Endpoint),
		Headers:              headers,
		Query:                query,
		Body:                 body,
		Timeout:              e.cfg.RequestTimeout,
		MaxResponseBodyBytes: e.cfg.MaxResponseBodyBytes,
	}, nil
}

func (e *RequestExecutor) observeRateLimit(ctx context.Context, cred Credential, res TransportResponse, retryAfter *time.Duration) {
	if e.cfg.RateLimit == nil {
		return
	}
	key := RateLimitKey{
		Environment: string(cred.Environment),
		ClientID:    cred.ClientID,
		BucketKey:   "admin",
	}
	err := e.cfg.RateLimit.AfterCall(ctx, key, ResponseMeta{
		StatusCode: res.StatusCode,
		Headers:    res.Headers,
		RetryAfter: retryAfter,
		Metadata:   cloneAnyMap(res.Metadata),
	})
	if err != nil {
		e.obs.logWarn(ctx, "salla rate limit observer failed", map[string]any{
			"environment": key.Environment,
			"error":       err.Error(),
		})
	}
}

func (e *RequestExecutor) recordRetry(ctx context.Context, cred Credential, method string, reason string) {
	e.obs.recordCounter(ctx, MetricExecuteRetry, 1, map[string]string{
		"reason":      reason,
		"method":      method,
		"environment": string(cred.Environment),
	})
}

// decodeResponseBody returns nil for an empty body and the raw text when the
// body is not JSON.
func decodeResponseBody(raw []byte) any {
	decoded, err := decodeJSONBody(raw)
	if err != nil {
		return string(raw)
	}
	return decoded
}
