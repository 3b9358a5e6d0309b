package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-salla/core"
	"github.com/goliatone/go-salla/resources"
	"github.com/goliatone/go-salla/webhooks"
)

// RequestService is the part of core.Service the request commands need.
type RequestService interface {
	ExecuteFor(ctx context.Context, key string, req core.Request) (core.ExecuteResult, error)
	CollectAllFor(ctx context.Context, key string, method string, endpoint string, body map[string]any, query map[string]any) (core.CollectResult, error)
	Refresh(ctx context.Context, cred core.Credential) (core.Credential, error)
	CompleteAuthorization(ctx context.Context, cred core.Credential, code string, redirectURI string) (core.Credential, error)
}

type ResourceDispatcher interface {
	Invoke(ctx context.Context, cred core.Credential, call resources.Call) (resources.Outcome, error)
	Batch(ctx context.Context, cred core.Credential, calls []resources.Call, opts resources.BatchOptions) (resources.BatchResult, error)
}

type WebhookReceiver interface {
	Handle(ctx context.Context, req webhooks.InboundRequest) (webhooks.Result, error)
}

type ExecuteRequestCommand struct {
	service RequestService
}

func NewExecuteRequestCommand(service RequestService) *ExecuteRequestCommand {
	return &ExecuteRequestCommand{service: service}
}

func (c *ExecuteRequestCommand) Execute(ctx context.Context, msg ExecuteRequestMessage) error {
	if c == nil || c.service == nil {
		return missingDependency("request service")
	}
	out, err := c.service.ExecuteFor(ctx, msg.CredentialKey, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CollectAllCommand struct {
	service RequestService
}

func NewCollectAllCommand(service RequestService) *CollectAllCommand {
	return &CollectAllCommand{service: service}
}

func (c *CollectAllCommand) Execute(ctx context.Context, msg CollectAllMessage) error {
	if c == nil || c.service == nil {
		return missingDependency("request service")
	}
	out, err := c.service.CollectAllFor(ctx, msg.CredentialKey, msg.Method, msg.Endpoint, msg.Body, msg.Query)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RefreshCredentialCommand struct {
	service RequestService
}

func NewRefreshCredentialCommand(service RequestService) *RefreshCredentialCommand {
	return &RefreshCredentialCommand{service: service}
}

func (c *RefreshCredentialCommand) Execute(ctx context.Context, msg RefreshCredentialMessage) error {
	if c == nil || c.service == nil {
		return missingDependency("refresh service")
	}
	out, err := c.service.Refresh(ctx, msg.Credential)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CompleteAuthorizationCommand struct {
	service RequestService
}

func NewCompleteAuthorizationCommand(service RequestService) *CompleteAuthorizationCommand {
	return &CompleteAuthorizationCommand{service: service}
}

func (c *CompleteAuthorizationCommand) Execute(ctx context.Context, msg CompleteAuthorizationMessage) error {
	if c == nil || c.service == nil {
		return missingDependency("authorization service")
	}
	out, err := c.service.CompleteAuthorization(ctx, msg.Credential, msg.Code, msg.RedirectURI)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type InvokeResourceCommand struct {
	dispatcher ResourceDispatcher
}

func NewInvokeResourceCommand(dispatcher ResourceDispatcher) *InvokeResourceCommand {
	return &InvokeResourceCommand{dispatcher: dispatcher}
}

// Execute stores the outcome even on failure so callers keep any refreshed
// credential.
func (c *InvokeResourceCommand) Execute(ctx context.Context, msg InvokeResourceMessage) error {
	if c == nil || c.dispatcher == nil {
		return missingDependency("resource dispatcher")
	}
	out, err := c.dispatcher.Invoke(ctx, msg.Credential, msg.Call)
	storeResult(ctx, out)
	return err
}

type BatchResourcesCommand struct {
	dispatcher ResourceDispatcher
}

func NewBatchResourcesCommand(dispatcher ResourceDispatcher) *BatchResourcesCommand {
	return &BatchResourcesCommand{dispatcher: dispatcher}
}

func (c *BatchResourcesCommand) Execute(ctx context.Context, msg BatchResourcesMessage) error {
	if c == nil || c.dispatcher == nil {
		return missingDependency("resource dispatcher")
	}
	out, err := c.dispatcher.Batch(ctx, msg.Credential, msg.Calls, msg.Options)
	storeResult(ctx, out)
	return err
}

type HandleWebhookCommand struct {
	receiver WebhookReceiver
}

func NewHandleWebhookCommand(receiver WebhookReceiver) *HandleWebhookCommand {
	return &HandleWebhookCommand{receiver: receiver}
}

func (c *HandleWebhookCommand) Execute(ctx context.Context, msg HandleWebhookMessage) error {
	if c == nil || c.receiver == nil {
		return missingDependency("webhook receiver")
	}
	out, err := c.receiver.Handle(ctx, msg.Request)
	storeResult(ctx, out)
	return err
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
