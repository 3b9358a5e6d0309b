package gocommand

import (
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	sallacommand "github.com/goliatone/go-salla/command"
	sallaquery "github.com/goliatone/go-salla/query"
	"github.com/goliatone/go-salla/resources"
)

// Bindings lists the collaborators behind the salla commands and queries.
// Handlers whose collaborator is nil are not registered.
type Bindings struct {
	Requests    sallacommand.RequestService
	Credentials sallaquery.CredentialService
	Resources   sallacommand.ResourceDispatcher
	Webhooks    sallacommand.WebhookReceiver
	RateLimits  sallaquery.RateLimitReader
	Table       *resources.Table
	RunnerOpts  []runner.Option
}

// Registration keeps the subscriptions created by RegisterSalla.
type Registration struct {
	Subscriptions []commanddispatcher.Subscription
}

// Unsubscribe removes every handler added by RegisterSalla.
func (r *Registration) Unsubscribe() {
	if r == nil {
		return
	}
	for _, sub := range r.Subscriptions {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
	r.Subscriptions = nil
}

// RegisterSalla registers and subscribes every available salla handler. On
// error the subscriptions made so far are removed.
func RegisterSalla(adapter *RegistryAdapter, bindings Bindings) (*Registration, error) {
	if err := adapter.ready(); err != nil {
		return nil, err
	}
	reg := &Registration{}
	add := func(sub commanddispatcher.Subscription, err error) error {
		if err != nil {
			reg.Unsubscribe()
			return err
		}
		reg.Subscriptions = append(reg.Subscriptions, sub)
		return nil
	}
	opts := bindings.RunnerOpts

	if bindings.Requests != nil {
		if err := add(RegisterAndSubscribe(adapter, sallacommand.NewExecuteRequestCommand(bindings.Requests), opts...)); err != nil {
			return nil, err
		}
		if err := add(RegisterAndSubscribe(adapter, sallacommand.NewCollectAllCommand(bindings.Requests), opts...)); err != nil {
			return nil, err
		}
		if err := add(RegisterAndSubscribe(adapter, sallacommand.NewRefreshCredentialCommand(bindings.Requests), opts...)); err != nil {
			return nil, err
		}
		if err := add(RegisterAndSubscribe(adapter, sallacommand.NewCompleteAuthorizationCommand(bindings.Requests), opts...)); err != nil {
			return nil, err
		}
	}
	if bindings.Resources != nil {
		if err := add(RegisterAndSubscribe(adapter, sallacommand.NewInvokeResourceCommand(bindings.Resources), opts...)); err != nil {
			return nil, err
		}
		if err := add(RegisterAndSubscribe(adapter, sallacommand.NewBatchResourcesCommand(bindings.Resources), opts...)); err != nil {
			return nil, err
		}
	}
	if bindings.Webhooks != nil {
		if err := add(RegisterAndSubscribe(adapter, sallacommand.NewHandleWebhookCommand(bindings.Webhooks), opts...)); err != nil {
			return nil, err
		}
	}
	if bindings.Credentials != nil {
		if err := add(RegisterAndSubscribeQuery(adapter, sallaquery.NewTestCredentialQuery(bindings.Credentials), opts...)); err != nil {
			return nil, err
		}
		if err := add(RegisterAndSubscribeQuery(adapter, sallaquery.NewAuthorizationURLQuery(bindings.Credentials), opts...)); err != nil {
			return nil, err
		}
	}
	if bindings.RateLimits != nil {
		if err := add(RegisterAndSubscribeQuery(adapter, sallaquery.NewRateLimitStateQuery(bindings.RateLimits), opts...)); err != nil {
			return nil, err
		}
	}
	if err := add(RegisterAndSubscribeQuery(adapter, sallaquery.NewResourceOperationsQuery(bindings.Table), opts...)); err != nil {
		return nil, err
	}
	return reg, nil
}
