package command

import (
	"strings"

	"github.com/goliatone/go-salla/core"
	"github.com/goliatone/go-salla/resources"
	"github.com/goliatone/go-salla/webhooks"
)

const (
	TypeExecuteRequest        = "salla.command.request.execute"
	TypeCollectAll            = "salla.command.request.collect_all"
	TypeRefreshCredential     = "salla.command.credential.refresh"
	TypeCompleteAuthorization = "salla.command.authorization.complete"
	TypeInvokeResource        = "salla.command.resource.invoke"
	TypeBatchResources        = "salla.command.resource.batch"
	TypeHandleWebhook         = "salla.command.webhook.handle"
)

type ExecuteRequestMessage struct {
	CredentialKey string
	Request       core.Request
}

func (ExecuteRequestMessage) Type() string { return TypeExecuteRequest }

func (m ExecuteRequestMessage) Validate() error {
	if strings.TrimSpace(m.CredentialKey) == "" {
		return invalidField("credential_key", "is required")
	}
	if strings.TrimSpace(m.Request.Endpoint) == "" {
		return invalidField("endpoint", "is required")
	}
	return nil
}

type CollectAllMessage struct {
	CredentialKey string
	Method        string
	Endpoint      string
	Body          map[string]any
	Query         map[string]any
}

func (CollectAllMessage) Type() string { return TypeCollectAll }

func (m CollectAllMessage) Validate() error {
	if strings.TrimSpace(m.CredentialKey) == "" {
		return invalidField("credential_key", "is required")
	}
	if strings.TrimSpace(m.Endpoint) == "" {
		return invalidField("endpoint", "is required")
	}
	return nil
}

type RefreshCredentialMessage struct {
	Credential core.Credential
}

func (RefreshCredentialMessage) Type() string { return TypeRefreshCredential }

func (m RefreshCredentialMessage) Validate() error {
	if m.Credential.TokenData == nil || strings.TrimSpace(m.Credential.TokenData.RefreshToken) == "" {
		return invalidField("refresh_token", "is required")
	}
	return invalidCredential(m.Credential.Normalize().Validate())
}

type CompleteAuthorizationMessage struct {
	Credential  core.Credential
	Code        string
	RedirectURI string
}

func (CompleteAuthorizationMessage) Type() string { return TypeCompleteAuthorization }

func (m CompleteAuthorizationMessage) Validate() error {
	if strings.TrimSpace(m.Code) == "" {
		return invalidField("code", "is required")
	}
	if strings.TrimSpace(m.RedirectURI) == "" {
		return invalidField("redirect_uri", "is required")
	}
	return nil
}

type InvokeResourceMessage struct {
	Credential core.Credential
	Call       resources.Call
}

func (InvokeResourceMessage) Type() string { return TypeInvokeResource }

func (m InvokeResourceMessage) Validate() error {
	return validateCall(m.Call)
}

type BatchResourcesMessage struct {
	Credential core.Credential
	Calls      []resources.Call
	Options    resources.BatchOptions
}

func (BatchResourcesMessage) Type() string { return TypeBatchResources }

func (m BatchResourcesMessage) Validate() error {
	if len(m.Calls) == 0 {
		return invalidField("calls", "at least one call is required")
	}
	for _, call := range m.Calls {
		if err := validateCall(call); err != nil {
			return err
		}
	}
	return nil
}

type HandleWebhookMessage struct {
	Request webhooks.InboundRequest
}

func (HandleWebhookMessage) Type() string { return TypeHandleWebhook }

func (m HandleWebhookMessage) Validate() error {
	return nil
}

func validateCall(call resources.Call) error {
	if strings.TrimSpace(string(call.Resource)) == "" {
		return invalidField("resource", "is required")
	}
	if strings.TrimSpace(string(call.Operation)) == "" {
		return invalidField("operation", "is required")
	}
	return nil
}
