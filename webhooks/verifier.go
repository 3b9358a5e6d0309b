package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/goliatone/go-salla/core"
)

const (
	HeaderEventType = "x-salla-event-type"
	HeaderSignature = "x-salla-signature"
	HeaderTimestamp = "x-salla-timestamp"
	HeaderMerchant  = "x-salla-merchant"

	signaturePrefix = "sha256="
)

type Verifier interface {
	Verify(ctx context.Context, req InboundRequest) error
}

// HMACVerifier checks a "sha256=<hex>" header against the HMAC-SHA256 of the
// raw body. Failures are InvalidSignature errors.
type HMACVerifier struct {
	Header string
	Prefix string
	Secret string
}

// NewHMACVerifier returns a verifier for the x-salla-signature header.
func NewHMACVerifier(secret string) HMACVerifier {
	return HMACVerifier{Header: HeaderSignature, Prefix: signaturePrefix, Secret: secret}
}

func (v HMACVerifier) Verify(_ context.Context, req InboundRequest) error {
	headerName := strings.TrimSpace(v.Header)
	if headerName == "" {
		headerName = HeaderSignature
	}
	header := headerValue(req.Headers, headerName)
	if header == "" {
		return core.NewInvalidSignatureError(fmt.Errorf("webhooks: %s signature header is required", headerName))
	}
	if v.Secret == "" {
		return core.NewInvalidSignatureError(fmt.Errorf("webhooks: signature secret is required"))
	}
	if !strings.HasPrefix(header, v.Prefix) {
		return core.NewInvalidSignatureError(fmt.Errorf("webhooks: signature must start with %q", v.Prefix))
	}
	signature := strings.TrimSpace(strings.TrimPrefix(header, v.Prefix))
	if signature == "" {
		return core.NewInvalidSignatureError(fmt.Errorf("webhooks: signature value is required"))
	}
	decoded, err := hex.DecodeString(signature)
	if err != nil {
		return core.NewInvalidSignatureError(fmt.Errorf("webhooks: decode hex signature: %w", err))
	}
	if subtle.ConstantTimeCompare(decoded, Sign(v.Secret, req.RawBody)) != 1 {
		return core.NewInvalidSignatureError(fmt.Errorf("webhooks: signature verification failed"))
	}
	return nil
}

// Sign returns the HMAC-SHA256 of body keyed by secret.
func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

// SignatureHeader formats the x-salla-signature value for body.
func SignatureHeader(secret string, body []byte) string {
	return signaturePrefix + hex.EncodeToString(Sign(secret, body))
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
