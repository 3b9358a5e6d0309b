package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-salla/core"
	"github.com/goliatone/go-salla/resources"
)

var (
	_ gocmd.Querier[TestCredentialMessage, core.CredentialTestResult]   = (*TestCredentialQuery)(nil)
	_ gocmd.Querier[AuthorizationURLMessage, core.AuthorizationRequest] = (*AuthorizationURLQuery)(nil)
	_ gocmd.Querier[RateLimitStateMessage, RateLimitStatus]             = (*RateLimitStateQuery)(nil)
	_ gocmd.Querier[ResourceOperationsMessage, []resources.Operation]   = (*ResourceOperationsQuery)(nil)
)
