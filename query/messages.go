package query

import (
	"strings"

	"github.com/goliatone/go-salla/core"
	"github.com/goliatone/go-salla/resources"
)

const (
	TypeTestCredential     = "salla.query.credential.test"
	TypeAuthorizationURL   = "salla.query.authorization.url"
	TypeRateLimitState     = "salla.query.rate_limit.state"
	TypeResourceOperations = "salla.query.resource.operations"
)

type TestCredentialMessage struct {
	Credential core.Credential
}

func (TestCredentialMessage) Type() string { return TypeTestCredential }

func (TestCredentialMessage) Validate() error { return nil }

type AuthorizationURLMessage struct {
	Credential  core.Credential
	RedirectURI string
	State       string
}

func (AuthorizationURLMessage) Type() string { return TypeAuthorizationURL }

func (m AuthorizationURLMessage) Validate() error {
	if strings.TrimSpace(m.Credential.ClientID) == "" {
		return invalidField("client_id", "is required")
	}
	if strings.TrimSpace(m.RedirectURI) == "" {
		return invalidField("redirect_uri", "is required")
	}
	return nil
}

type RateLimitStateMessage struct {
	Key core.RateLimitKey
}

func (RateLimitStateMessage) Type() string { return TypeRateLimitState }

func (m RateLimitStateMessage) Validate() error {
	if strings.TrimSpace(m.Key.ClientID) == "" {
		return invalidField("client_id", "is required")
	}
	return nil
}

type ResourceOperationsMessage struct {
	Resource resources.Resource
}

func (ResourceOperationsMessage) Type() string { return TypeResourceOperations }

func (m ResourceOperationsMessage) Validate() error {
	if strings.TrimSpace(string(m.Resource)) == "" {
		return invalidField("resource", "is required")
	}
	return nil
}
