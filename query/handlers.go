package query

import (
	"context"
	"errors"
	"time"

	"github.com/goliatone/go-salla/core"
	"github.com/goliatone/go-salla/ratelimit"
	"github.com/goliatone/go-salla/resources"
)

type CredentialService interface {
	TestCredential(cred core.Credential) core.CredentialTestResult
	AuthorizationURL(cred core.Credential, redirectURI string, state string) (core.AuthorizationRequest, error)
}

type RateLimitReader interface {
	Snapshot(ctx context.Context, key core.RateLimitKey) (ratelimit.State, bool, error)
	Check(ctx context.Context, key core.RateLimitKey) error
}

// RateLimitStatus reports the stored quota snapshot and any active wait.
type RateLimitStatus struct {
	State     ratelimit.State
	Found     bool
	Throttled bool
	WaitFor   time.Duration
}

type TestCredentialQuery struct {
	service CredentialService
}

func NewTestCredentialQuery(service CredentialService) *TestCredentialQuery {
	return &TestCredentialQuery{service: service}
}

func (q *TestCredentialQuery) Query(_ context.Context, msg TestCredentialMessage) (core.CredentialTestResult, error) {
	if q == nil || q.service == nil {
		return core.CredentialTestResult{}, missingDependency("credential service")
	}
	return q.service.TestCredential(msg.Credential), nil
}

type AuthorizationURLQuery struct {
	service CredentialService
}

func NewAuthorizationURLQuery(service CredentialService) *AuthorizationURLQuery {
	return &AuthorizationURLQuery{service: service}
}

func (q *AuthorizationURLQuery) Query(_ context.Context, msg AuthorizationURLMessage) (core.AuthorizationRequest, error) {
	if q == nil || q.service == nil {
		return core.AuthorizationRequest{}, missingDependency("credential service")
	}
	return q.service.AuthorizationURL(msg.Credential, msg.RedirectURI, msg.State)
}

type RateLimitStateQuery struct {
	reader RateLimitReader
}

func NewRateLimitStateQuery(reader RateLimitReader) *RateLimitStateQuery {
	return &RateLimitStateQuery{reader: reader}
}

func (q *RateLimitStateQuery) Query(ctx context.Context, msg RateLimitStateMessage) (RateLimitStatus, error) {
	if q == nil || q.reader == nil {
		return RateLimitStatus{}, missingDependency("rate limit reader")
	}
	state, found, err := q.reader.Snapshot(ctx, msg.Key)
	if err != nil {
		return RateLimitStatus{}, err
	}
	status := RateLimitStatus{State: state, Found: found}
	if err := q.reader.Check(ctx, msg.Key); err != nil {
		var throttled ratelimit.ThrottledError
		if !errors.As(err, &throttled) {
			return status, err
		}
		status.Throttled = true
		status.WaitFor = throttled.RetryAfter
	}
	return status, nil
}

type ResourceOperationsQuery struct {
	table *resources.Table
}

func NewResourceOperationsQuery(table *resources.Table) *ResourceOperationsQuery {
	if table == nil {
		table = resources.DefaultTable()
	}
	return &ResourceOperationsQuery{table: table}
}

func (q *ResourceOperationsQuery) Query(_ context.Context, msg ResourceOperationsMessage) ([]resources.Operation, error) {
	if q == nil || q.table == nil {
		return nil, missingDependency("resource table")
	}
	ops := q.table.Operations(msg.Resource)
	if len(ops) == 0 {
		return nil, invalidField("resource", "unknown resource "+string(msg.Resource))
	}
	return ops, nil
}
