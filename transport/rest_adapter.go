package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-salla/core"
)

const (
	KindREST         = "rest"
	DefaultUserAgent = core.DefaultUserAgent
)

// RESTAdapter sends admin API requests through an HTTPDoer. OAuth token
// calls do not pass through it; core.TokenManager posts those with its own
// HTTPDoer and the same User-Agent.
// Request query values are merged over any query already in the URL, and
// response header names come back lower-cased the way Salla documents them
// (x-ratelimit-remaining, retry-after).
type RESTAdapter struct {
	Client               core.HTTPDoer
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
	Now                  func() time.Time
}

func NewRESTAdapter(client core.HTTPDoer) *RESTAdapter {
	if client == nil {
		client = &http.Client{Timeout: core.DefaultHTTPTimeout}
	}
	return &RESTAdapter{
		Client:               client,
		DefaultHeaders:       map[string]string{"User-Agent": DefaultUserAgent},
		MaxResponseBodyBytes: core.DefaultMaxResponseBodyBytes,
		Now:                  time.Now,
	}
}

// NewRESTAdapterFromConfig applies the http section of the connector config.
func NewRESTAdapterFromConfig(cfg core.HTTPConfig) *RESTAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = core.DefaultHTTPTimeout
	}
	adapter := NewRESTAdapter(&http.Client{Timeout: timeout})
	if cfg.MaxResponseBodyBytes > 0 {
		adapter.MaxResponseBodyBytes = cfg.MaxResponseBodyBytes
	}
	if agent := strings.TrimSpace(cfg.UserAgent); agent != "" {
		adapter.DefaultHeaders["User-Agent"] = agent
	}
	return adapter
}

func (*RESTAdapter) Kind() string {
	return KindREST
}

func (a *RESTAdapter) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if a == nil || a.Client == nil {
		return core.TransportResponse{}, failMissingClient.errorf(nil, nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := a.newRequest(ctx, req)
	if err != nil {
		return core.TransportResponse{}, err
	}
	meta := map[string]any{"method": httpReq.Method, "url": redactedURL(httpReq.URL)}

	startedAt := a.now()
	httpRes, err := a.Client.Do(httpReq)
	if err != nil {
		return core.TransportResponse{}, executeFailure(ctx, err).errorf(err, meta)
	}
	defer httpRes.Body.Close()

	limit := firstPositive(req.MaxResponseBodyBytes, a.MaxResponseBodyBytes, core.DefaultMaxResponseBodyBytes)
	meta["status_code"] = httpRes.StatusCode
	body, err := io.ReadAll(io.LimitReader(httpRes.Body, limit+1))
	if err != nil {
		return core.TransportResponse{}, executeFailure(ctx, err).withReadFallback().errorf(err, meta)
	}
	if int64(len(body)) > limit {
		meta["response_limit_bytes"] = limit
		return core.TransportResponse{}, failBodyTooLarge.errorf(nil, meta)
	}

	return core.TransportResponse{
		StatusCode: httpRes.StatusCode,
		Headers:    lowerHeaders(httpRes.Header),
		Body:       body,
		Metadata: map[string]any{
			"duration_ms": a.now().Sub(startedAt).Milliseconds(),
			"kind":        KindREST,
		},
	}, nil
}

func (a *RESTAdapter) newRequest(ctx context.Context, req core.TransportRequest) (*http.Request, error) {
	rawURL := strings.TrimSpace(req.URL)
	if rawURL == "" {
		return nil, failMissingURL.errorf(nil, nil)
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, failInvalidURL.errorf(err, map[string]any{"url": rawURL})
	}
	if len(req.Query) > 0 {
		query := target.Query()
		for key, value := range req.Query {
			if key = strings.TrimSpace(key); key != "" {
				query.Set(key, strings.TrimSpace(value))
			}
		}
		target.RawQuery = query.Encode()
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, failBuildRequest.errorf(err, map[string]any{"method": method, "url": redactedURL(target)})
	}
	setHeaders(httpReq.Header, a.DefaultHeaders)
	setHeaders(httpReq.Header, req.Headers)
	return httpReq, nil
}

func (a *RESTAdapter) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// withReadFallback keeps timeouts and cancellations but reports any other
// failure while reading as a body read error.
func (f restFailure) withReadFallback() restFailure {
	if f == failExecute {
		return failReadBody
	}
	return f
}

func setHeaders(dst http.Header, src map[string]string) {
	for key, value := range src {
		if key = strings.TrimSpace(key); key != "" {
			dst.Set(key, strings.TrimSpace(value))
		}
	}
}

// lowerHeaders joins repeated values with a comma.
func lowerHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		flat[strings.ToLower(key)] = strings.Join(values, ",")
	}
	return flat
}

// redactedURL drops query values, which may carry OAuth codes or secrets.
func redactedURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	clean := *u
	clean.RawQuery = ""
	clean.User = nil
	return clean.String()
}

func firstPositive(values ...int64) int64 {
	for _, value := range values {
		if value > 0 {
			return value
		}
	}
	return 0
}

var _ core.TransportAdapter = (*RESTAdapter)(nil)
