// Package webhooks receives Salla webhook deliveries.
//
// A delivery is filtered by event type, verified against the
// x-salla-signature HMAC when a secret is available, normalized into an
// Event and handed to an EventSink. Every accepted or ignored delivery is
// acknowledged with 200; only a bad signature is rejected.
package webhooks
