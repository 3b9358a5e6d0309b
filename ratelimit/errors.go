package ratelimit

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-salla/core"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

type ThrottledError struct {
	Environment string
	ClientID    string
	BucketKey   string
	RetryAfter  time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf(
		"ratelimit: %s client %q bucket %q throttled for %s",
		strings.TrimSpace(e.Environment),
		strings.TrimSpace(e.ClientID),
		strings.TrimSpace(e.BucketKey),
		e.RetryAfter,
	)
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"environment": strings.TrimSpace(e.Environment),
		"client_id":   strings.TrimSpace(e.ClientID),
		"bucket_key":  strings.TrimSpace(e.BucketKey),
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ErrorRateLimited).
		WithMetadata(metadata)
}
