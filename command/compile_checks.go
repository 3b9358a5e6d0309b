package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[ExecuteRequestMessage]        = (*ExecuteRequestCommand)(nil)
	_ gocmd.Commander[CollectAllMessage]            = (*CollectAllCommand)(nil)
	_ gocmd.Commander[RefreshCredentialMessage]     = (*RefreshCredentialCommand)(nil)
	_ gocmd.Commander[CompleteAuthorizationMessage] = (*CompleteAuthorizationCommand)(nil)
	_ gocmd.Commander[InvokeResourceMessage]        = (*InvokeResourceCommand)(nil)
	_ gocmd.Commander[BatchResourcesMessage]        = (*BatchResourcesCommand)(nil)
	_ gocmd.Commander[HandleWebhookMessage]         = (*HandleWebhookCommand)(nil)
)
